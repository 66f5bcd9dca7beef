// Package fetcher retrieves upstream pages as normalized UTF-8 text.
package fetcher

import (
	"context"
	"net/http"
)

// PageFetcher defines the interface for fetching remote pages as text.
type PageFetcher interface {
	// Fetch performs a GET against url and returns the body as valid UTF-8.
	// Headers override the browser defaults. Transport failures and non-2xx
	// responses are returned as errors; encoding problems never are.
	Fetch(ctx context.Context, url string, headers http.Header) (string, error)
}
