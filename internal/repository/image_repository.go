package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anime-shed/image-predictor-go/internal/storage"
	"github.com/anime-shed/image-predictor-go/pkg/validation"
)

// URLImageRepository implements ImageRepository for network locators
type URLImageRepository struct {
	fetcher   storage.ImageFetcher
	validator *validation.URLValidator
}

// NewURLImageRepository creates a repository that validates URLs before fetching
func NewURLImageRepository(fetcher storage.ImageFetcher, validator *validation.URLValidator) ImageRepository {
	return &URLImageRepository{
		fetcher:   fetcher,
		validator: validator,
	}
}

// FetchImage retrieves an image from a URL
func (r *URLImageRepository) FetchImage(ctx context.Context, imageURL string) (*storage.Object, error) {
	return fetch(ctx, r.fetcher, imageURL)
}

// ValidateImageURL validates if the provided URL is acceptable
func (r *URLImageRepository) ValidateImageURL(imageURL string) error {
	return r.validator.ValidateImageURL(imageURL)
}

// LocalImageRepository implements ImageRepository for files in a data directory
type LocalImageRepository struct {
	fetcher storage.ImageFetcher
}

// NewLocalImageRepository creates a repository over a local file fetcher
func NewLocalImageRepository(fetcher storage.ImageFetcher) ImageRepository {
	return &LocalImageRepository{fetcher: fetcher}
}

// FetchImage reads a file by name
func (r *LocalImageRepository) FetchImage(ctx context.Context, name string) (*storage.Object, error) {
	return fetch(ctx, r.fetcher, name)
}

// ValidateImageURL only rejects empty names; the fetcher enforces the directory boundary
func (r *LocalImageRepository) ValidateImageURL(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidImageURL
	}
	return nil
}

func fetch(ctx context.Context, fetcher storage.ImageFetcher, locator string) (*storage.Object, error) {
	obj, err := fetcher.Fetch(ctx, locator)
	if err != nil {
		var fetchErr *storage.FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrImageNotFound, err)
		}
		return nil, err
	}
	if len(obj.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyImage, locator)
	}
	return obj, nil
}
