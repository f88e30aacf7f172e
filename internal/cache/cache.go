package cache

import (
	"context"
	"strings"
)

// General contract for memoizing upstream lookups (redis, in-memory, etc.).
// Entries are immutable once written: historical block and price data never
// changes, so last-write-wins under concurrent population is safe
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Key builds a cache key from a parameter tuple, e.g.
// Key("nearest_block", "celo-mainnet", "1735689600")
func Key(parts ...string) string {
	return strings.Join(parts, ",")
}
