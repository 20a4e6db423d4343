package repository

import (
	"context"

	"github.com/anime-shed/image-predictor-go/internal/storage"
)

// ImageRepository defines the interface for image data access operations
type ImageRepository interface {
	// FetchImage retrieves the raw bytes behind a locator
	FetchImage(ctx context.Context, locator string) (*storage.Object, error)

	// ValidateImageURL validates if the provided locator is acceptable
	ValidateImageURL(locator string) error
}
