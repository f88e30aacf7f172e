package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Memoize runs fetch only when key is absent from c, storing the result as
// JSON. Cache read/write failures are reported by the returned error; a
// decode failure on a stored entry falls through to fetch rather than
// poisoning the caller forever
func Memoize[T any](ctx context.Context, c Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		var cached T
		if err = json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err = c.Set(ctx, key, encoded); err != nil {
		return zero, fmt.Errorf("cache set %s: %w", key, err)
	}

	return value, nil
}
