package yieldvault

import (
	"context"
	"divvi/internal/domain"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"divvi/pkg/httputil"

	"github.com/shopspring/decimal"
)

const tvlChunk = 7 * 24 * time.Hour

// TimelineTx is one entry of an investor's per-vault transaction history.
// USDBalance is the position value right after the transaction; the
// analytics API reports null for vaults it cannot price
type TimelineTx struct {
	Datetime   time.Time        `json:"datetime"`
	ProductKey string           `json:"product_key"`
	Chain      string           `json:"chain"`
	USDBalance *decimal.Decimal `json:"usd_balance"`
}

// TVLPoint is one sample of a vault's total value locked. The analytics API
// encodes samples as ["<RFC3339>", <tvl>] pairs
type TVLPoint struct {
	Timestamp time.Time
	TVL       decimal.Decimal
}

func (p *TVLPoint) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("tvl point: expected [timestamp, tvl] pair, got %d elements", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &p.Timestamp); err != nil {
		return fmt.Errorf("tvl point timestamp: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &p.TVL); err != nil {
		return fmt.Errorf("tvl point value: %w", err)
	}
	return nil
}

// Timeline returns the investor's full transaction history across every
// vault. An address the analytics API has never seen yields an empty history
func (a *Adapter) Timeline(ctx context.Context, address string) ([]TimelineTx, error) {
	query := url.Values{"address": {address}}

	var txs []TimelineTx
	err := a.fetcher.GetJSON(ctx, a.analyticsURL+"/timeline", query, &txs)
	if err != nil {
		var upstream *httputil.UpstreamError
		if errors.As(err, &upstream) && upstream.IsNotFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch investor timeline: %w", err)
	}
	return txs, nil
}

// VaultTVLHistory fetches the vault's TVL samples over the window. The
// analytics API caps one request at a week, so longer windows are stitched
// from week-long sections
func (a *Adapter) VaultTVLHistory(ctx context.Context, chain string, vaultAddr string, w domain.Window) ([]TVLPoint, error) {
	var points []TVLPoint

	for from := w.Start; from.Before(w.End); {
		to := from.Add(tvlChunk)
		if to.After(w.End) {
			to = w.End
		}

		query := url.Values{
			"from_date_utc": {from.UTC().Format(time.RFC3339)},
			"to_date_utc":   {to.UTC().Format(time.RFC3339)},
		}
		endpoint := fmt.Sprintf("%s/product/%s/%s/tvl", a.analyticsURL, chain, vaultAddr)

		var section []TVLPoint
		if err := a.fetcher.GetJSON(ctx, endpoint, query, &section); err != nil {
			return nil, fmt.Errorf("fetch vault tvl %s [%s, %s]: %w", vaultAddr, from, to, err)
		}
		points = append(points, section...)

		from = to
	}

	return points, nil
}
