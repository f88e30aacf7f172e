// Package transfervolume values ERC-20 transfers from a provider's payout
// wallets to the user, the on-ramp flavor of revenue
package transfervolume

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"divvi/internal/integrate"
	"divvi/internal/prices"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

var transferTopic = chain.EventTopic("Transfer(address,address,uint256)")

// Payout networks as the provider names them
var payoutNetworks = map[string]domain.NetworkID{
	"CELO":     domain.NetworkCeloMainnet,
	"ETHEREUM": domain.NetworkEthereum,
	"ARBITRUM": domain.NetworkArbitrumOne,
	"OPTIMISM": domain.NetworkOpMainnet,
	"POLYGON":  domain.NetworkPolygonPoS,
	"BASE":     domain.NetworkBaseMainnet,
}

type transfer struct {
	amount    *big.Int
	token     common.Address
	timestamp time.Time
}

type walletSource interface {
	Assets(ctx context.Context) ([]Asset, error)
	PayoutWallets(ctx context.Context, network, asset string) ([]common.Address, error)
}

type timestampSource interface {
	BlockTimestamp(ctx context.Context, network domain.NetworkID, height uint64) (time.Time, error)
}

type priceSource interface {
	History(ctx context.Context, tokenID domain.TokenID, w domain.Window) ([]domain.PricePoint, error)
}

type decimalsSource interface {
	ERC20Decimals(ctx context.Context, network domain.NetworkID, token common.Address) (uint8, error)
}

type Adapter struct {
	log     logger.Logger
	wallets walletSource
	source  chain.ClientSource
	blocks  timestampSource
	state   decimalsSource
	prices  priceSource
}

func New(log logger.Logger, wallets walletSource, source chain.ClientSource, blocks timestampSource, state decimalsSource, p priceSource) *Adapter {
	return &Adapter{log: log, wallets: wallets, source: source, blocks: blocks, state: state, prices: p}
}

// Revenue totals the USD value of payout-wallet transfers to the user inside
// the window, across every network the provider pays out on. Networks are
// independent and processed concurrently
func (a *Adapter) Revenue(ctx context.Context, address common.Address, w domain.Window) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	byNetwork, err := a.PayoutWalletsByNetwork(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	networks := make([]domain.NetworkID, 0, len(byNetwork))
	for network := range byNetwork {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })

	results := make([]decimal.Decimal, len(networks))
	g, ctx := errgroup.WithContext(ctx)
	for i, network := range networks {
		g.Go(func() error {
			rev, err := a.networkRevenue(ctx, network, byNetwork[network], address, w)
			if err != nil {
				return fmt.Errorf("network %s: %w", network, err)
			}
			results[i] = rev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Decimal{}, err
	}

	total := decimal.Zero
	for _, rev := range results {
		total = total.Add(rev)
	}
	return total, nil
}

// PayoutWalletsByNetwork resolves the provider's payout wallets on every
// supported network, deduplicated per network. Assets on networks we do not
// index are skipped
func (a *Adapter) PayoutWalletsByNetwork(ctx context.Context) (map[domain.NetworkID][]common.Address, error) {
	assets, err := a.wallets.Assets(ctx)
	if err != nil {
		return nil, err
	}

	unique := make(map[domain.NetworkID]map[common.Address]struct{})
	for _, asset := range assets {
		network, ok := payoutNetworks[asset.Network]
		if !ok {
			continue
		}
		wallets, err := a.wallets.PayoutWallets(ctx, asset.Network, asset.Asset)
		if err != nil {
			return nil, err
		}
		if unique[network] == nil {
			unique[network] = make(map[common.Address]struct{})
		}
		for _, wallet := range wallets {
			unique[network][wallet] = struct{}{}
		}
	}

	// deterministic order keeps retries and cache hits aligned
	out := make(map[domain.NetworkID][]common.Address, len(unique))
	for network, set := range unique {
		wallets := make([]common.Address, 0, len(set))
		for wallet := range set {
			wallets = append(wallets, wallet)
		}
		sort.Slice(wallets, func(i, j int) bool {
			return wallets[i].Cmp(wallets[j]) < 0
		})
		out[network] = wallets
	}
	return out, nil
}

func (a *Adapter) networkRevenue(ctx context.Context, network domain.NetworkID, wallets []common.Address, address common.Address, w domain.Window) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, wallet := range wallets {
		transfers, err := a.userTransfers(ctx, network, wallet, address, w)
		if err != nil {
			return decimal.Decimal{}, err
		}
		rev, err := a.valueTransfers(ctx, network, transfers, w)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(rev)
	}
	return total, nil
}

// userTransfers scans the full chain for transfers wallet -> user and keeps
// the ones inside the window. The transfer topic carries both addresses, so
// the indexer does the heavy filtering
func (a *Adapter) userTransfers(ctx context.Context, network domain.NetworkID, wallet, address common.Address, w domain.Window) ([]transfer, error) {
	client, err := a.source.ForNetwork(network)
	if err != nil {
		return nil, err
	}

	q := hypersync.Query{
		FromBlock: 0,
		Logs: []hypersync.LogFilter{{
			Topics: [][]string{
				{transferTopic.Hex()},
				{common.BytesToHash(wallet.Bytes()).Hex()},
				{common.BytesToHash(address.Bytes()).Hex()},
			},
		}},
		Transactions: []hypersync.TxFilter{{From: []string{wallet.Hex()}}},
		FieldSelection: hypersync.FieldSelection{
			Log: []string{hypersync.LogFieldBlockNumber, hypersync.LogFieldAddress, hypersync.LogFieldData},
		},
	}

	var transfers []transfer
	err = hypersync.Paginate(ctx, client, q, func(resp *hypersync.QueryResponse) (bool, error) {
		for _, l := range resp.Data.Logs {
			if l.Data == "" || l.Address == "" {
				a.log.Warnf("payout transfer log at block %d missing fields, skipping", l.BlockNumber)
				continue
			}
			ts, err := a.blocks.BlockTimestamp(ctx, network, l.BlockNumber)
			if err != nil {
				return false, err
			}
			if ts.Before(w.Start) || ts.After(w.End) {
				continue
			}
			transfers = append(transfers, transfer{
				amount:    new(big.Int).SetBytes(common.FromHex(l.Data)),
				token:     common.HexToAddress(l.Address),
				timestamp: ts,
			})
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch payout transfers on %s: %w", network, err)
	}
	return transfers, nil
}

func (a *Adapter) valueTransfers(ctx context.Context, network domain.NetworkID, transfers []transfer, w domain.Window) (decimal.Decimal, error) {
	if len(transfers) == 0 {
		return decimal.Zero, nil
	}

	token := transfers[0].token
	tokenDecimals, err := a.state.ERC20Decimals(ctx, network, token)
	if err != nil {
		return decimal.Decimal{}, err
	}

	history, err := a.prices.History(ctx, domain.MakeTokenID(network, token), w)
	if err != nil {
		return decimal.Decimal{}, err
	}

	scaled := make([]integrate.Transfer, 0, len(transfers))
	for _, tr := range transfers {
		scaled = append(scaled, integrate.Transfer{
			Amount:    tr.amount,
			Decimals:  tokenDecimals,
			Timestamp: tr.timestamp,
		})
	}

	return integrate.VolumeUSD(scaled, func(t time.Time) (decimal.Decimal, error) {
		return prices.PriceAt(history, t)
	})
}
