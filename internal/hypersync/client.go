package hypersync

import (
	"context"
	"divvi/internal/domain"
	"divvi/pkg/httputil"
	"fmt"

	"gitlab.com/nevasik7/alerting/logger"
)

// HTTPClient talks to one network's indexer endpoint
type HTTPClient struct {
	log     logger.Logger
	fetcher *httputil.Client
	baseURL string
}

func NewHTTPClient(log logger.Logger, fetcher *httputil.Client, baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("indexer base url is required")
	}
	return &HTTPClient{
		log:     log,
		fetcher: fetcher,
		baseURL: baseURL,
	}, nil
}

func (c *HTTPClient) Get(ctx context.Context, q *Query) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.fetcher.PostJSON(ctx, c.baseURL+"/query", q, &resp); err != nil {
		return nil, fmt.Errorf("indexer query from block %d: %w", q.FromBlock, err)
	}

	c.log.Debugf("Indexer page: from=%d next=%d logs=%d txs=%d blocks=%d",
		q.FromBlock, resp.NextBlock, len(resp.Data.Logs), len(resp.Data.Transactions), len(resp.Data.Blocks))

	return &resp, nil
}

// Pool keeps one client per network, constructed lazily from config
type Pool struct {
	log     logger.Logger
	fetcher *httputil.Client
	urls    map[domain.NetworkID]string
}

func NewPool(log logger.Logger, fetcher *httputil.Client, urls map[string]string) *Pool {
	byNetwork := make(map[domain.NetworkID]string, len(urls))
	for network, url := range urls {
		byNetwork[domain.NetworkID(network)] = url
	}
	return &Pool{log: log, fetcher: fetcher, urls: byNetwork}
}

func (p *Pool) ForNetwork(network domain.NetworkID) (Client, error) {
	url, ok := p.urls[network]
	if !ok {
		return nil, fmt.Errorf("no indexer endpoint configured for network %s", network)
	}
	return NewHTTPClient(p.log, p.fetcher, url)
}
