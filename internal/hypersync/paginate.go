package hypersync

import "context"

// Client executes a single indexer query page
type Client interface {
	Get(ctx context.Context, q *Query) (*QueryResponse, error)
}

// PageFunc handles one page. Returning stop=true terminates pagination
// immediately; an error aborts it and propagates
type PageFunc func(resp *QueryResponse) (stop bool, err error)

// Paginate drives q against client until the backend stops advancing, the
// handler asks to stop, or the query's ToBlock is reached. Backend errors
// propagate as-is: retries belong to the transport underneath, not here.
// Zero-result pages are passed to onPage like any other
func Paginate(ctx context.Context, client Client, q Query, onPage PageFunc) error {
	fromBlock := q.FromBlock

	for {
		page := q
		page.FromBlock = fromBlock

		resp, err := client.Get(ctx, &page)
		if err != nil {
			return err
		}

		stop, err := onPage(resp)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		// no progress -> the backend has exhausted the range
		if resp.NextBlock == fromBlock {
			return nil
		}
		fromBlock = resp.NextBlock

		if q.ToBlock != nil && fromBlock >= *q.ToBlock {
			return nil
		}
	}
}
