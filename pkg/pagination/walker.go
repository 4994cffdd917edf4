package pagination

import (
	"context"
	"fmt"
)

// Page is one fetched slice of the result set.
type Page struct {
	// Index is the position of the page within the crawl, starting at 0.
	Index int
	// Offset is the offset query parameter the page was requested with.
	Offset int
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Body is the raw response body.
	Body []byte
}

// PageFetcher is the interface the API client implements for single-page fetching.
type PageFetcher interface {
	// FetchPage fetches the page starting at offset. A non-2xx response is
	// not an error; only transport and read failures are.
	FetchPage(ctx context.Context, offset int) (Page, error)
}

// PageFunc consumes one page. Returning an error stops the walk.
type PageFunc func(Page) error

// PageError reports which page stopped a walk.
type PageError struct {
	Index  int
	Offset int
	Err    error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("page %d (offset %d): %v", e.Index, e.Offset, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// Offsets returns the offset parameter of each page: 0, limit, 2*limit, ...
func Offsets(pages, limit int) []int {
	if pages <= 0 {
		return nil
	}
	offsets := make([]int, pages)
	for i := range offsets {
		offsets[i] = i * limit
	}
	return offsets
}

// Walk fetches pages sequentially in offset order and hands each to fn.
// It returns a *PageError for the first failure, or the context error if ctx
// is done before a page is requested.
func Walk(ctx context.Context, fetcher PageFetcher, pages, limit int, fn PageFunc) error {
	for i, offset := range Offsets(pages, limit) {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetcher.FetchPage(ctx, offset)
		if err != nil {
			return &PageError{Index: i, Offset: offset, Err: err}
		}
		page.Index = i
		page.Offset = offset

		if err := fn(page); err != nil {
			return &PageError{Index: i, Offset: offset, Err: err}
		}
	}
	return nil
}
