package repository

import "errors"

var (
	// ErrInvalidImageURL indicates an invalid image URL
	ErrInvalidImageURL = errors.New("invalid image URL")

	// ErrImageNotFound indicates the source answered 404 for the image
	ErrImageNotFound = errors.New("image not found")

	// ErrEmptyImage indicates the source answered successfully with no bytes
	ErrEmptyImage = errors.New("image body is empty")
)
