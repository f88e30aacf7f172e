// Package vault computes yield-vault revenue as the user's time-weighted
// mean USD value locked: historical LP balance reconstructed from share
// events, weighted by the vault's daily price over share ratio
package vault

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"divvi/internal/integrate"
	"divvi/pkg/httputil"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

var (
	depositTopic  = chain.EventTopic("Deposit(address,address,uint256,uint256)")
	withdrawTopic = chain.EventTopic("Withdraw(address,address,address,uint256,uint256)")
)

// Vault registry suffixes we can resolve to a network. A bare address means
// Ethereum mainnet
var suffixNetworks = map[string]domain.NetworkID{
	"":         domain.NetworkEthereum,
	"arbitrum": domain.NetworkArbitrumOne,
	"optimism": domain.NetworkOpMainnet,
}

// Info identifies one vault in the registry
type Info struct {
	NetworkID domain.NetworkID
	Address   common.Address
}

type tvlResponse struct {
	Response map[string]float64 `json:"Response"`
}

type eventSource interface {
	FetchEvents(ctx context.Context, network domain.NetworkID, address common.Address, topic0 common.Hash, startTs, endTs time.Time) ([]chain.Event, error)
}

type stateSource interface {
	ERC20BalanceOf(ctx context.Context, network domain.NetworkID, token, holder common.Address) (*big.Int, error)
	ERC20Decimals(ctx context.Context, network domain.NetworkID, token common.Address) (uint8, error)
}

type Adapter struct {
	log         logger.Logger
	fetcher     *httputil.Client
	events      eventSource
	state       stateSource
	registryURL string
	now         func() time.Time
}

func New(log logger.Logger, fetcher *httputil.Client, events eventSource, state stateSource, registryURL string) (*Adapter, error) {
	if registryURL == "" {
		return nil, fmt.Errorf("vault registry url is required")
	}
	return &Adapter{
		log:         log,
		fetcher:     fetcher,
		events:      events,
		state:       state,
		registryURL: registryURL,
		now:         time.Now,
	}, nil
}

// Vaults lists every vault the registry tracks on networks we support.
// Registry keys are "<address>" or "<address>-<network suffix>"; anything
// else is skipped
func (a *Adapter) Vaults(ctx context.Context) ([]Info, error) {
	var resp tvlResponse
	if err := a.fetcher.GetJSON(ctx, a.registryURL+"/tvl", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch vault registry: %w", err)
	}

	var vaults []Info
	for key := range resp.Response {
		base, suffix, _ := strings.Cut(key, "-")
		if !common.IsHexAddress(base) {
			continue
		}
		network, ok := suffixNetworks[suffix]
		if !ok {
			continue
		}
		vaults = append(vaults, Info{NetworkID: network, Address: common.HexToAddress(base)})
	}
	return vaults, nil
}

// Revenue is the sum of the user's mean USD value locked across all vaults
// over the window. Vaults are independent and computed concurrently
func (a *Adapter) Revenue(ctx context.Context, address common.Address, w domain.Window) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	vaults, err := a.Vaults(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	results := make([]decimal.Decimal, len(vaults))
	g, ctx := errgroup.WithContext(ctx)
	for i, info := range vaults {
		g.Go(func() error {
			rev, err := a.vaultRevenue(ctx, info, address, w)
			if err != nil {
				return fmt.Errorf("vault %s on %s: %w", info.Address.Hex(), info.NetworkID, err)
			}
			results[i] = rev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Decimal{}, err
	}

	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r)
	}
	return total, nil
}

func (a *Adapter) vaultRevenue(ctx context.Context, info Info, address common.Address, w domain.Window) (decimal.Decimal, error) {
	now := a.now()

	tokenDecimals, err := a.state.ERC20Decimals(ctx, info.NetworkID, info.Address)
	if err != nil {
		return decimal.Decimal{}, err
	}

	rawBalance, err := a.state.ERC20BalanceOf(ctx, info.NetworkID, info.Address, address)
	if err != nil {
		return decimal.Decimal{}, err
	}
	current := decimal.NewFromBigInt(rawBalance, -int32(tokenDecimals))

	events, err := a.ShareEvents(ctx, info, address, tokenDecimals, domain.Window{Start: w.Start, End: now})
	if err != nil {
		return decimal.Decimal{}, err
	}

	// user never touched this vault
	if current.IsZero() && len(events) == 0 {
		return decimal.Zero, nil
	}

	snapshots, err := a.DailySnapshots(ctx, info.NetworkID, info.Address, w)
	if err != nil {
		return decimal.Decimal{}, err
	}

	samples := make([]integrate.Sample, 0, len(snapshots))
	for _, s := range snapshots {
		if s.SharePrice.IsZero() {
			return decimal.Decimal{}, fmt.Errorf("zero share price in snapshot at %s", s.Timestamp)
		}
		samples = append(samples, integrate.Sample{
			Value:     s.PriceUSD.Div(s.SharePrice),
			Timestamp: s.Timestamp,
		})
	}

	price := func(sub domain.Window) (decimal.Decimal, error) {
		return integrate.WeightedAverage(samples, snapshotPeriod, sub)
	}

	return integrate.MeanBalanceUSD(current, events, w, now, price)
}

// ShareEvents returns the user's signed LP share changes in the window:
// deposits positive, withdrawals negative. The depositor/withdrawer is the
// first indexed argument on both events
func (a *Adapter) ShareEvents(ctx context.Context, info Info, address common.Address, tokenDecimals uint8, w domain.Window) ([]domain.BalanceEvent, error) {
	var out []domain.BalanceEvent

	collect := func(topic0 common.Hash, negate bool) error {
		logs, err := a.events.FetchEvents(ctx, info.NetworkID, info.Address, topic0, w.Start, w.End)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if len(l.Topics) < 2 || common.BytesToAddress(l.Topics[1].Bytes()) != address {
				continue
			}
			if len(l.Data) < 64 {
				return fmt.Errorf("share event at block %d: short data", l.BlockNumber)
			}
			// data words are (assets, shares)
			shares := decimal.NewFromBigInt(new(big.Int).SetBytes(l.Data[32:64]), -int32(tokenDecimals))
			if negate {
				shares = shares.Neg()
			}
			out = append(out, domain.BalanceEvent{Amount: shares, Timestamp: l.Timestamp})
		}
		return nil
	}

	if err := collect(depositTopic, false); err != nil {
		return nil, fmt.Errorf("deposits: %w", err)
	}
	if err := collect(withdrawTopic, true); err != nil {
		return nil, fmt.Errorf("withdrawals: %w", err)
	}

	return out, nil
}
