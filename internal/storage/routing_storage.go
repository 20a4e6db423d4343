package storage

import "context"

// RoutingFetcher sends blob URLs of the configured Azure account to the blob
// fetcher and every other URL to the HTTP fetcher.
type RoutingFetcher struct {
	http  ImageFetcher
	azure *AzureBlobFetcher
}

func NewRoutingFetcher(http ImageFetcher, azure *AzureBlobFetcher) *RoutingFetcher {
	return &RoutingFetcher{http: http, azure: azure}
}

func (r *RoutingFetcher) Fetch(ctx context.Context, locator string) (*Object, error) {
	if r.azure != nil && r.azure.Handles(locator) {
		return r.azure.Fetch(ctx, locator)
	}
	return r.http.Fetch(ctx, locator)
}
