package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileImageFetcher reads images from a local data directory
type FileImageFetcher struct {
	baseDir string
	maxSize int64
}

func NewFileImageFetcher(baseDir string, maxSize int64) *FileImageFetcher {
	return &FileImageFetcher{baseDir: baseDir, maxSize: maxSize}
}

// Fetch reads name relative to the data directory. Paths leaving it are rejected.
func (f *FileImageFetcher) Fetch(ctx context.Context, name string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.resolve(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	data, err := readLimited(file, f.maxSize)
	if err != nil {
		return nil, err
	}

	return &Object{
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Source:      path,
	}, nil
}

func (f *FileImageFetcher) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("file name %q must be relative to the data directory", name)
	}

	base, err := filepath.Abs(f.baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid data directory: %w", err)
	}
	path := filepath.Join(base, name)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file name %q escapes the data directory", name)
	}
	return path, nil
}
