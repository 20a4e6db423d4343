package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrImageTooLarge is returned when a source holds more bytes than the configured limit
var ErrImageTooLarge = errors.New("image exceeds size limit")

// ImageFetcher retrieves raw image bytes for a locator
type ImageFetcher interface {
	Fetch(ctx context.Context, locator string) (*Object, error)
}

// Object is a fetched, still undecoded image
type Object struct {
	Data        []byte
	ContentType string
	Source      string
}

// FetchError reports a source that answered but refused to hand over the image
type FetchError struct {
	Locator    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Locator, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.Locator, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// readLimited reads at most limit bytes from r and fails if more are available
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrImageTooLarge, limit)
	}
	return data, nil
}
