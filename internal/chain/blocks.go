package chain

import (
	"context"
	"divvi/internal/cache"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"divvi/pkg/httputil"
	"fmt"
	"strconv"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type blockTimestampData struct {
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// ClientSource hands out an indexer client per network
type ClientSource interface {
	ForNetwork(network domain.NetworkID) (hypersync.Client, error)
}

// Index resolves wall-clock instants to block heights and back. Both lookups
// are memoized through the injected cache: protocol adapters re-derive the
// same (network, timestamp) and (network, height) pairs for every user, and
// the upstreams rate-limit by request count, not by distinct parameters
type Index struct {
	log           logger.Logger
	fetcher       *httputil.Client
	cache         cache.Cache
	pool          ClientSource
	blockIndexURL string
}

func NewIndex(log logger.Logger, fetcher *httputil.Client, c cache.Cache, pool ClientSource, blockIndexURL string) (*Index, error) {
	if blockIndexURL == "" {
		return nil, fmt.Errorf("block index url is required")
	}
	return &Index{
		log:           log,
		fetcher:       fetcher,
		cache:         c,
		pool:          pool,
		blockIndexURL: blockIndexURL,
	}, nil
}

// NearestBlock returns the block height closest to t on the given network
func (i *Index) NearestBlock(ctx context.Context, network domain.NetworkID, t time.Time) (uint64, error) {
	key := cache.Key("nearest_block", string(network), strconv.FormatInt(t.Unix(), 10))

	return cache.Memoize(ctx, i.cache, key, func(ctx context.Context) (uint64, error) {
		slug, err := network.ChainSlug()
		if err != nil {
			return 0, err
		}

		var data blockTimestampData
		url := fmt.Sprintf("%s/block/%s/%d", i.blockIndexURL, slug, t.Unix())
		if err = i.fetcher.GetJSON(ctx, url, nil, &data); err != nil {
			return 0, fmt.Errorf("fetch nearest block for %s at %d: %w", network, t.Unix(), err)
		}

		return data.Height, nil
	})
}

// BlockTimestamp returns the timestamp of a block, via the network's indexer
func (i *Index) BlockTimestamp(ctx context.Context, network domain.NetworkID, height uint64) (time.Time, error) {
	key := cache.Key("block_ts", string(network), strconv.FormatUint(height, 10))

	unix, err := cache.Memoize(ctx, i.cache, key, func(ctx context.Context) (uint64, error) {
		client, err := i.pool.ForNetwork(network)
		if err != nil {
			return 0, err
		}

		to := height + 1
		q := &hypersync.Query{
			FromBlock: height,
			ToBlock:   &to,
			FieldSelection: hypersync.FieldSelection{
				Block: []string{hypersync.BlockFieldNumber, hypersync.BlockFieldTimestamp},
			},
		}

		resp, err := client.Get(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("fetch block %d on %s: %w", height, network, err)
		}

		for _, b := range resp.Data.Blocks {
			if b.Number == height {
				return b.Timestamp, nil
			}
		}
		return 0, fmt.Errorf("block %d not found on %s", height, network)
	})
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(int64(unix), 0).UTC(), nil
}
