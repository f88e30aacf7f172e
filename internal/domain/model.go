package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Signed step change to a tracked magnitude (shares deposited/withdrawn).
// Amount is in whole token units, not raw wei
type BalanceEvent struct {
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"` // RFC3339/UTC
}

// Point sample of a token's USD price from the price history API
type PricePoint struct {
	PriceUSD  decimal.Decimal `json:"priceUsd"`
	FetchedAt time.Time       `json:"priceFetchedAt"`
}

// One snapshot per UTC day taken at midnight; price and share ratio are
// constant for 24 hours after Timestamp. Series must be contiguous
type DailySnapshot struct {
	PriceUSD   decimal.Decimal `json:"price_usd"`
	SharePrice decimal.Decimal `json:"share_price"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Half-open-ish query window [Start, End]
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Validate() error {
	if w.Start.After(w.End) {
		return ErrInvalidWindow
	}
	return nil
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Referral registration read from the on-chain registry
type ReferralEvent struct {
	UserAddress common.Address `json:"user_address"`
	Timestamp   time.Time      `json:"timestamp"`
	ReferrerID  string         `json:"referrer_id"`
	Protocol    Protocol       `json:"protocol"`
}

// Per-network, per-token revenue attribution. Used by adapters that pay out
// in each chain's native/reward token rather than a single USD scalar
type RevenueByToken map[NetworkID]map[TokenID]decimal.Decimal

func (r RevenueByToken) Add(network NetworkID, token TokenID, amount decimal.Decimal) {
	byToken, ok := r[network]
	if !ok {
		byToken = make(map[TokenID]decimal.Decimal, 1)
		r[network] = byToken
	}
	byToken[token] = byToken[token].Add(amount)
}

// Row shipped to the ClickHouse results table
type RevenueRow struct {
	ComputedAt  time.Time
	Protocol    string
	UserAddress string
	WindowStart time.Time
	WindowEnd   time.Time
	RevenueUSD  string // Decimal(38,18) as string
}
