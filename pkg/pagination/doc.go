// Package pagination walks an offset-paginated endpoint page by page.
//
// The bookingproposals endpoint takes an offset and a limit and does not
// report a total, so a crawl asks for a fixed number of pages. Pages are
// requested strictly in offset order, one at a time:
//
//	err := pagination.Walk(ctx, apiClient, 10, 50, func(p pagination.Page) error {
//		return store(p)
//	})
//
// Walk stops at the first fetch or handler error; pages after the failing
// one are never requested.
package pagination
