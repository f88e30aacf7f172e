// Package yieldvault computes auto-compounding vault revenue: the share of
// each on-chain fee-harvest attributable to the user, prorated by the
// user's USD balance against the vault's TVL at harvest time. Fees are
// charged in the strategy's native token, so revenue is accumulated per
// token and valued in USD at the end of the window
package yieldvault

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"divvi/internal/prices"
	"divvi/pkg/httputil"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

var chargedFeesTopic = chain.EventTopic("ChargedFees(uint256,uint256,uint256)")

// Analytics-API chain names we can resolve to a network
var chainNetworks = map[string]domain.NetworkID{
	"ethereum": domain.NetworkEthereum,
	"arbitrum": domain.NetworkArbitrumOne,
	"optimism": domain.NetworkOpMainnet,
	"polygon":  domain.NetworkPolygonPoS,
	"base":     domain.NetworkBaseMainnet,
}

// FeeEvent is one fee harvest on a vault strategy
type FeeEvent struct {
	Fee       decimal.Decimal // raw native-token units
	Timestamp time.Time
}

type eventSource interface {
	FetchEvents(ctx context.Context, network domain.NetworkID, address common.Address, topic0 common.Hash, startTs, endTs time.Time) ([]chain.Event, error)
}

type stateSource interface {
	VaultStrategy(ctx context.Context, network domain.NetworkID, vault common.Address) (common.Address, error)
	StrategyNative(ctx context.Context, network domain.NetworkID, strategy common.Address) (common.Address, error)
	ERC20Decimals(ctx context.Context, network domain.NetworkID, token common.Address) (uint8, error)
}

type priceSource interface {
	History(ctx context.Context, tokenID domain.TokenID, w domain.Window) ([]domain.PricePoint, error)
}

type Adapter struct {
	log          logger.Logger
	fetcher      *httputil.Client
	events       eventSource
	state        stateSource
	prices       priceSource
	analyticsURL string
}

func New(log logger.Logger, fetcher *httputil.Client, events eventSource, state stateSource, p priceSource, analyticsURL string) (*Adapter, error) {
	if analyticsURL == "" {
		return nil, fmt.Errorf("vault analytics url is required")
	}
	return &Adapter{
		log:          log,
		fetcher:      fetcher,
		events:       events,
		state:        state,
		prices:       p,
		analyticsURL: analyticsURL,
	}, nil
}

// vaultPosition is one vault the user holds, with the transaction history
// that tracks their USD balance in it
type vaultPosition struct {
	network domain.NetworkID
	chain   string
	address common.Address
	history []TimelineTx // ascending by Datetime, usd_balance present
}

// positions groups the investor timeline by vault. The history is not
// clipped to the window: a user with funds locked before the window and no
// transactions inside it still holds a position
func (a *Adapter) positions(ctx context.Context, address common.Address) ([]vaultPosition, error) {
	timeline, err := a.Timeline(ctx, strings.ToLower(address.Hex()))
	if err != nil {
		return nil, err
	}

	byVault := make(map[string][]TimelineTx)
	for _, tx := range timeline {
		if tx.USDBalance == nil {
			continue
		}
		byVault[tx.ProductKey] = append(byVault[tx.ProductKey], tx)
	}

	keys := make([]string, 0, len(byVault))
	for key := range byVault {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []vaultPosition
	for _, key := range keys {
		history := byVault[key]
		sort.Slice(history, func(i, j int) bool {
			return history[i].Datetime.Before(history[j].Datetime)
		})

		network, ok := chainNetworks[history[0].Chain]
		if !ok {
			a.log.Warnf("Skipping vault %s on unsupported chain %s", key, history[0].Chain)
			continue
		}

		// product keys look like "beefy:vault:<chain>:<address>"
		parts := strings.Split(key, ":")
		vaultAddr := parts[len(parts)-1]
		if !common.IsHexAddress(vaultAddr) {
			return nil, fmt.Errorf("product key %s: %w", key, domain.ErrInvalidAddress)
		}

		out = append(out, vaultPosition{
			network: network,
			chain:   history[0].Chain,
			address: common.HexToAddress(vaultAddr),
			history: history,
		})
	}
	return out, nil
}

// FeeEvents lists the fee harvests charged on the vault's strategy over the
// window. The second data word of ChargedFees is the platform's cut
func (a *Adapter) FeeEvents(ctx context.Context, network domain.NetworkID, vault common.Address, w domain.Window) ([]FeeEvent, error) {
	strategy, err := a.state.VaultStrategy(ctx, network, vault)
	if err != nil {
		return nil, fmt.Errorf("resolve strategy for %s: %w", vault.Hex(), err)
	}

	logs, err := a.events.FetchEvents(ctx, network, strategy, chargedFeesTopic, w.Start, w.End)
	if err != nil {
		return nil, err
	}

	out := make([]FeeEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Data) < 96 {
			return nil, fmt.Errorf("fee event at block %d: short data", l.BlockNumber)
		}
		fee := new(big.Int).SetBytes(l.Data[32:64])
		out = append(out, FeeEvent{
			Fee:       decimal.NewFromBigInt(fee, 0),
			Timestamp: l.Timestamp,
		})
	}
	return out, nil
}

type tokenShare struct {
	network domain.NetworkID
	token   domain.TokenID
	amount  decimal.Decimal
}

// ByToken returns the user's share of every fee harvest over the window,
// grouped by network and native fee token, in raw token units
func (a *Adapter) ByToken(ctx context.Context, address common.Address, w domain.Window) (domain.RevenueByToken, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	vaults, err := a.positions(ctx, address)
	if err != nil {
		return nil, err
	}

	results := make([]tokenShare, len(vaults))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range vaults {
		g.Go(func() error {
			share, err := a.vaultShare(ctx, v, w)
			if err != nil {
				return fmt.Errorf("vault %s on %s: %w", v.address.Hex(), v.network, err)
			}
			results[i] = share
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(domain.RevenueByToken)
	for _, share := range results {
		if share.amount.IsZero() {
			continue
		}
		out.Add(share.network, share.token, share.amount)
	}
	return out, nil
}

func (a *Adapter) vaultShare(ctx context.Context, v vaultPosition, w domain.Window) (tokenShare, error) {
	strategy, err := a.state.VaultStrategy(ctx, v.network, v.address)
	if err != nil {
		return tokenShare{}, fmt.Errorf("resolve strategy: %w", err)
	}
	native, err := a.state.StrategyNative(ctx, v.network, strategy)
	if err != nil {
		return tokenShare{}, fmt.Errorf("resolve native token: %w", err)
	}

	fees, err := a.FeeEvents(ctx, v.network, v.address, w)
	if err != nil {
		return tokenShare{}, err
	}

	share := tokenShare{network: v.network, token: domain.MakeTokenID(v.network, native)}
	if len(fees) == 0 {
		return share, nil
	}

	tvlHistory, err := a.VaultTVLHistory(ctx, v.chain, strings.ToLower(v.address.Hex()), w)
	if err != nil {
		return tokenShare{}, err
	}
	sort.Slice(tvlHistory, func(i, j int) bool {
		return tvlHistory[i].Timestamp.Before(tvlHistory[j].Timestamp)
	})

	for _, fee := range fees {
		balance := balanceAt(v.history, fee.Timestamp)
		if balance.IsZero() {
			continue
		}
		tvl, ok := tvlAt(tvlHistory, fee.Timestamp)
		if !ok {
			continue
		}
		if tvl.IsZero() {
			return tokenShare{}, fmt.Errorf("zero vault tvl at %s", fee.Timestamp)
		}
		share.amount = share.amount.Add(balance.Div(tvl).Mul(fee.Fee))
	}
	return share, nil
}

// balanceAt is the user's USD balance as of the most recent transaction at
// or before t; zero before the first transaction
func balanceAt(history []TimelineTx, t time.Time) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range history {
		if tx.Datetime.After(t) {
			break
		}
		balance = *tx.USDBalance
	}
	return balance
}

// tvlAt is the vault TVL as of the most recent sample at or before t
func tvlAt(points []TVLPoint, t time.Time) (decimal.Decimal, bool) {
	found := false
	tvl := decimal.Zero
	for _, p := range points {
		if p.Timestamp.After(t) {
			break
		}
		tvl = p.TVL
		found = true
	}
	return tvl, found
}

// Revenue values the per-token fee shares in USD at the end of the window
func (a *Adapter) Revenue(ctx context.Context, address common.Address, w domain.Window) (decimal.Decimal, error) {
	byToken, err := a.ByToken(ctx, address, w)
	if err != nil {
		return decimal.Decimal{}, err
	}

	total := decimal.Zero
	for network, tokens := range byToken {
		for tokenID, raw := range tokens {
			parsed, err := domain.ParseTokenID(tokenID)
			if err != nil {
				return decimal.Decimal{}, err
			}
			decimals, err := a.state.ERC20Decimals(ctx, network, parsed.Address)
			if err != nil {
				return decimal.Decimal{}, err
			}

			history, err := a.prices.History(ctx, tokenID, w)
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("price history for %s: %w", tokenID, err)
			}
			price, err := prices.PriceAt(history, w.End)
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("price for %s: %w", tokenID, err)
			}

			total = total.Add(raw.Shift(-int32(decimals)).Mul(price))
		}
	}
	return total, nil
}
