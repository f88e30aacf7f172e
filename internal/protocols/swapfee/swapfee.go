// Package swapfee computes AMM trading-fee revenue: the USD volume a user
// swapped through supported pools, times each pool's fee rate. Aerodrome and
// Velodrome share this adapter and differ only in configuration
package swapfee

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/config"
	"divvi/internal/domain"
	"divvi/internal/integrate"
	"divvi/internal/prices"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

// Pool fee rates are fixed-point with 6 decimals
const feeDecimals = 6

var swapTopic = chain.EventTopic("Swap(address,address,int256,int256,uint160,uint128,int24)")

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

type eventSource interface {
	FetchEvents(ctx context.Context, network domain.NetworkID, address common.Address, topic0 common.Hash, startTs, endTs time.Time) ([]chain.Event, error)
}

type priceSource interface {
	History(ctx context.Context, tokenID domain.TokenID, w domain.Window) ([]domain.PricePoint, error)
}

type Adapter struct {
	log     logger.Logger
	events  eventSource
	state   chain.StateReader
	prices  priceSource
	network domain.NetworkID
	pools   []common.Address
}

func New(log logger.Logger, events eventSource, state chain.StateReader, p priceSource, cfg config.DromeConfig) (*Adapter, error) {
	if cfg.NetworkID == "" {
		return nil, fmt.Errorf("network id is required")
	}

	pools := make([]common.Address, 0, len(cfg.PoolAddresses))
	for _, raw := range cfg.PoolAddresses {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("pool address: %w", err)
		}
		pools = append(pools, addr)
	}

	return &Adapter{
		log:     log,
		events:  events,
		state:   state,
		prices:  p,
		network: domain.NetworkID(cfg.NetworkID),
		pools:   pools,
	}, nil
}

// Revenue sums trading fees the user generated across all supported pools
// in the window. Pools are independent and fetched concurrently
func (a *Adapter) Revenue(ctx context.Context, address common.Address, w domain.Window) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	results := make([]decimal.Decimal, len(a.pools))

	g, ctx := errgroup.WithContext(ctx)
	for i, pool := range a.pools {
		g.Go(func() error {
			fees, err := a.poolRevenue(ctx, address, pool, w)
			if err != nil {
				return fmt.Errorf("pool %s: %w", pool.Hex(), err)
			}
			results[i] = fees
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

func (a *Adapter) poolRevenue(ctx context.Context, address common.Address, pool common.Address, w domain.Window) (decimal.Decimal, error) {
	all, err := a.events.FetchEvents(ctx, a.network, pool, swapTopic, w.Start, w.End)
	if err != nil {
		return decimal.Decimal{}, err
	}

	// recipient is the second indexed argument
	var swaps []chain.Event
	for _, ev := range all {
		if len(ev.Topics) >= 3 && common.BytesToAddress(ev.Topics[2].Bytes()) == address {
			swaps = append(swaps, ev)
		}
	}
	if len(swaps) == 0 {
		return decimal.Zero, nil
	}

	token0, err := a.state.PoolToken0(ctx, a.network, pool)
	if err != nil {
		return decimal.Decimal{}, err
	}
	tokenDecimals, err := a.state.ERC20Decimals(ctx, a.network, token0)
	if err != nil {
		return decimal.Decimal{}, err
	}

	transfers := make([]integrate.Transfer, 0, len(swaps))
	for _, ev := range swaps {
		if len(ev.Data) < 32 {
			return decimal.Decimal{}, fmt.Errorf("swap log at block %d: short data", ev.BlockNumber)
		}
		transfers = append(transfers, integrate.Transfer{
			Amount:    absInt256(ev.Data[:32]),
			Decimals:  tokenDecimals,
			Timestamp: ev.Timestamp,
		})
	}

	tokenID := domain.MakeTokenID(a.network, token0)
	history, err := a.prices.History(ctx, tokenID, domain.Window{
		Start: swaps[0].Timestamp,
		End:   swaps[len(swaps)-1].Timestamp,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	volume, err := integrate.VolumeUSD(transfers, func(t time.Time) (decimal.Decimal, error) {
		return prices.PriceAt(history, t)
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	feeRate, err := a.state.PoolFee(ctx, a.network, pool)
	if err != nil {
		return decimal.Decimal{}, err
	}

	fee := decimal.NewFromBigInt(feeRate, -feeDecimals)
	return volume.Mul(fee), nil
}

// absInt256 reads a two's-complement int256 word and returns its magnitude
func absInt256(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if v.Bit(255) == 1 {
		v.Sub(v, twoPow256)
		v.Neg(v)
	}
	return v
}
