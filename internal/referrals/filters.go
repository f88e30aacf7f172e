package referrals

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"divvi/internal/protocols/yieldvault"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/nevasik7/alerting/logger"
)

var transferTopic = chain.EventTopic("Transfer(address,address,uint256)")

type timestampSource interface {
	BlockTimestamp(ctx context.Context, network domain.NetworkID, height uint64) (time.Time, error)
}

// TimelineFilter qualifies users by their vault analytics timeline: at
// least one transaction, all strictly after the referral
type TimelineFilter struct {
	log      logger.Logger
	timeline timelineSource
}

type timelineSource interface {
	Timeline(ctx context.Context, address string) ([]yieldvault.TimelineTx, error)
}

func NewTimelineFilter(log logger.Logger, timeline timelineSource) *TimelineFilter {
	return &TimelineFilter{log: log, timeline: timeline}
}

func (f *TimelineFilter) Eligible(ctx context.Context, event Event) (bool, error) {
	txs, err := f.timeline.Timeline(ctx, strings.ToLower(event.UserAddress.Hex()))
	if err != nil {
		return false, err
	}
	if len(txs) == 0 {
		return false, nil
	}
	for _, tx := range txs {
		if !tx.Datetime.After(event.Timestamp) {
			return false, nil
		}
	}
	return true, nil
}

// RouterFilter qualifies users by their first transaction to the protocol
// router: it must exist and must not predate the referral. Scanning stops at
// the first transaction found
type RouterFilter struct {
	log     logger.Logger
	source  chain.ClientSource
	blocks  timestampSource
	network domain.NetworkID
	router  common.Address
}

func NewRouterFilter(log logger.Logger, source chain.ClientSource, blocks timestampSource, network domain.NetworkID, routerAddress string) (*RouterFilter, error) {
	router, err := domain.ParseAddress(routerAddress)
	if err != nil {
		return nil, fmt.Errorf("router address: %w", err)
	}
	return &RouterFilter{log: log, source: source, blocks: blocks, network: network, router: router}, nil
}

func (f *RouterFilter) Eligible(ctx context.Context, event Event) (bool, error) {
	client, err := f.source.ForNetwork(f.network)
	if err != nil {
		return false, err
	}

	q := hypersync.Query{
		FromBlock: 0,
		Transactions: []hypersync.TxFilter{{
			From: []string{strings.ToLower(event.UserAddress.Hex())},
			To:   []string{strings.ToLower(f.router.Hex())},
		}},
		FieldSelection: hypersync.FieldSelection{
			Transaction: []string{hypersync.TxFieldBlockNumber},
		},
	}

	var firstBlock uint64
	found := false
	err = hypersync.Paginate(ctx, client, q, func(resp *hypersync.QueryResponse) (bool, error) {
		if len(resp.Data.Transactions) == 0 {
			return false, nil
		}
		firstBlock = resp.Data.Transactions[0].BlockNumber
		found = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("scan router transactions on %s: %w", f.network, err)
	}
	if !found {
		return false, nil
	}

	ts, err := f.blocks.BlockTimestamp(ctx, f.network, firstBlock)
	if err != nil {
		return false, err
	}
	return !ts.Before(event.Timestamp), nil
}

// PayoutFilter qualifies users by payout-wallet transfers: at least one
// transfer received, none before the referral. A pre-referral transfer
// disqualifies immediately, remaining wallets are not scanned
type PayoutFilter struct {
	log     logger.Logger
	wallets payoutSource
	source  chain.ClientSource
	blocks  timestampSource
}

type payoutSource interface {
	PayoutWalletsByNetwork(ctx context.Context) (map[domain.NetworkID][]common.Address, error)
}

func NewPayoutFilter(log logger.Logger, wallets payoutSource, source chain.ClientSource, blocks timestampSource) *PayoutFilter {
	return &PayoutFilter{log: log, wallets: wallets, source: source, blocks: blocks}
}

func (f *PayoutFilter) Eligible(ctx context.Context, event Event) (bool, error) {
	byNetwork, err := f.wallets.PayoutWalletsByNetwork(ctx)
	if err != nil {
		return false, err
	}

	networks := make([]domain.NetworkID, 0, len(byNetwork))
	for network := range byNetwork {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })

	found := false
	for _, network := range networks {
		for _, wallet := range byNetwork[network] {
			first, ok, err := f.firstTransfer(ctx, network, wallet, event.UserAddress)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			if first.Before(event.Timestamp) {
				return false, nil
			}
			found = true
		}
	}
	return found, nil
}

// firstTransfer is the timestamp of the earliest transfer wallet -> user,
// if any
func (f *PayoutFilter) firstTransfer(ctx context.Context, network domain.NetworkID, wallet, user common.Address) (time.Time, bool, error) {
	client, err := f.source.ForNetwork(network)
	if err != nil {
		return time.Time{}, false, err
	}

	q := hypersync.Query{
		FromBlock: 0,
		Logs: []hypersync.LogFilter{{
			Topics: [][]string{
				{transferTopic.Hex()},
				{common.BytesToHash(wallet.Bytes()).Hex()},
				{common.BytesToHash(user.Bytes()).Hex()},
			},
		}},
		Transactions: []hypersync.TxFilter{{From: []string{strings.ToLower(wallet.Hex())}}},
		FieldSelection: hypersync.FieldSelection{
			Log: []string{hypersync.LogFieldBlockNumber},
		},
	}

	var firstBlock uint64
	found := false
	err = hypersync.Paginate(ctx, client, q, func(resp *hypersync.QueryResponse) (bool, error) {
		if len(resp.Data.Logs) == 0 {
			return false, nil
		}
		firstBlock = resp.Data.Logs[0].BlockNumber
		found = true
		return true, nil
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scan payout transfers on %s: %w", network, err)
	}
	if !found {
		return time.Time{}, false, nil
	}

	ts, err := f.blocks.BlockTimestamp(ctx, network, firstBlock)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}
