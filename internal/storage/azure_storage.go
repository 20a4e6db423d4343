package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type blobStreamer interface {
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// AzureBlobFetcher downloads blobs from one storage account with shared key auth
type AzureBlobFetcher struct {
	client  blobStreamer
	host    string
	maxSize int64
}

func NewAzureBlobFetcher(accountName, accountKey string, maxSize int64) (*AzureBlobFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	host := fmt.Sprintf("%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential("https://"+host, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}

	return &AzureBlobFetcher{client: client, host: host, maxSize: maxSize}, nil
}

// Handles reports whether blobURL points at this fetcher's storage account
func (s *AzureBlobFetcher) Handles(blobURL string) bool {
	u, err := url.Parse(blobURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), s.host)
}

// Fetch downloads https://<account>.blob.core.windows.net/<container>/<blob>
func (s *AzureBlobFetcher) Fetch(ctx context.Context, blobURL string) (*Object, error) {
	if !s.Handles(blobURL) {
		return nil, fmt.Errorf("blob URL %q is not on account host %s", blobURL, s.host)
	}

	parts, err := azblob.ParseURL(blobURL)
	if err != nil {
		return nil, fmt.Errorf("invalid blob URL: %w", err)
	}
	if parts.ContainerName == "" || parts.BlobName == "" {
		return nil, fmt.Errorf("blob URL %q must name a container and a blob", blobURL)
	}

	resp, err := s.client.DownloadStream(ctx, parts.ContainerName, parts.BlobName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return nil, &FetchError{Locator: blobURL, StatusCode: respErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, s.maxSize)
	if err != nil {
		return nil, err
	}

	obj := &Object{Data: data, Source: blobURL}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	return obj, nil
}
