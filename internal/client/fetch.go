package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AssetFetcher downloads generated assets by URL. Generation services host
// results on their own CDNs, so this is plain HTTP rather than the R2 API.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher implements AssetFetcher over a shared HTTP client
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher with a generous download timeout
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Fetch downloads url and returns the body stream. The caller must close it.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, transportError("fetch", "download", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, statusError("fetch", "download", resp.StatusCode, url)
	}

	return resp.Body, nil
}
