package factory

import (
	"fmt"

	"github.com/anime-shed/image-predictor-go/internal/config"
	"github.com/anime-shed/image-predictor-go/internal/storage"
)

// SourceType represents the different places an image can be read from
type SourceType string

const (
	// HTTPSource fetches plain http(s) URLs
	HTTPSource SourceType = "http"
	// AzureSource fetches blobs of the configured storage account
	AzureSource SourceType = "azure"
	// LocalSource reads files below the image data directory
	LocalSource SourceType = "local"
	// AutoSource routes Azure blob URLs to AzureSource and the rest to HTTPSource
	AutoSource SourceType = "auto"
)

// SourceFactory creates image fetchers
type SourceFactory interface {
	CreateFetcher(sourceType SourceType) (storage.ImageFetcher, error)
}

type sourceFactory struct {
	cfg *config.Config
}

// NewSourceFactory creates a factory that builds fetchers from cfg
func NewSourceFactory(cfg *config.Config) SourceFactory {
	return &sourceFactory{cfg: cfg}
}

// CreateFetcher creates a fetcher based on the specified source type
func (f *sourceFactory) CreateFetcher(sourceType SourceType) (storage.ImageFetcher, error) {
	switch sourceType {
	case HTTPSource:
		return f.httpFetcher(), nil
	case AzureSource:
		return f.azureFetcher()
	case LocalSource:
		return storage.NewFileImageFetcher(f.cfg.ImageDataDir, f.cfg.MaxImageSize), nil
	case AutoSource:
		var azure *storage.AzureBlobFetcher
		if f.cfg.AzureEnabled() {
			var err error
			if azure, err = f.azureFetcher(); err != nil {
				return nil, err
			}
		}
		return storage.NewRoutingFetcher(f.httpFetcher(), azure), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

func (f *sourceFactory) httpFetcher() *storage.HTTPImageFetcher {
	return storage.NewHTTPImageFetcher(f.cfg.ImageFetchTimeout, f.cfg.MaxImageSize)
}

func (f *sourceFactory) azureFetcher() (*storage.AzureBlobFetcher, error) {
	if !f.cfg.AzureEnabled() {
		return nil, fmt.Errorf("azure storage requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
	}
	return storage.NewAzureBlobFetcher(f.cfg.AzureStorageAccount, f.cfg.AzureStorageKey, f.cfg.MaxImageSize)
}
