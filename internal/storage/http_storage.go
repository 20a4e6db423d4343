package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const maxRedirects = 3

// HTTPImageFetcher downloads images over HTTP(S) in a single attempt
type HTTPImageFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPImageFetcher creates an HTTP image fetcher bounded by timeout and maxSize
func NewHTTPImageFetcher(timeout time.Duration, maxSize int64) *HTTPImageFetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		// Connection pooling sized for one image per request
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 16 << 10,
	}

	return &HTTPImageFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (limit: %d)", maxRedirects)
				}
				return nil
			},
		},
		maxSize: maxSize,
	}
}

// Fetch downloads imageURL. Any non-2xx answer is a *FetchError.
func (h *HTTPImageFetcher) Fetch(ctx context.Context, imageURL string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/gif, image/bmp, image/tiff, */*;q=0.8")
	req.Header.Set("User-Agent", "Go-Image-Predictor/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Locator: imageURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > h.maxSize {
		return nil, fmt.Errorf("%w (content length %d)", ErrImageTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, h.maxSize)
	if err != nil {
		return nil, err
	}

	return &Object{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Source:      imageURL,
	}, nil
}
