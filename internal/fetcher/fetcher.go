// Package fetcher downloads remote shard files and streams their records
// from JSON, JSON Lines and CSV encodings.
package fetcher

import (
	"context"
	"fmt"
	"io"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError is returned for a non-200 final response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: unexpected status %d from %s", e.Code, e.URL)
}
