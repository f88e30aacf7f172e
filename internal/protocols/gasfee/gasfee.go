// Package gasfee sums the transaction fees a user paid on one network, the
// degenerate case of revenue that needs no integration at all
package gasfee

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

type blockResolver interface {
	NearestBlock(ctx context.Context, network domain.NetworkID, t time.Time) (uint64, error)
}

type Adapter struct {
	log     logger.Logger
	blocks  blockResolver
	source  chain.ClientSource
	network domain.NetworkID
}

func New(log logger.Logger, blocks blockResolver, source chain.ClientSource, network domain.NetworkID) *Adapter {
	return &Adapter{log: log, blocks: blocks, source: source, network: network}
}

// Revenue is the total gasUsed*gasPrice over the user's transactions in the
// window, in wei of the network's native token
func (a *Adapter) Revenue(ctx context.Context, address common.Address, w domain.Window) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}

	startBlock, err := a.blocks.NearestBlock(ctx, a.network, w.Start)
	if err != nil {
		return decimal.Decimal{}, err
	}
	endBlock, err := a.blocks.NearestBlock(ctx, a.network, w.End)
	if err != nil {
		return decimal.Decimal{}, err
	}

	client, err := a.source.ForNetwork(a.network)
	if err != nil {
		return decimal.Decimal{}, err
	}

	q := hypersync.Query{
		FromBlock:    startBlock,
		ToBlock:      &endBlock,
		Transactions: []hypersync.TxFilter{{From: []string{strings.ToLower(address.Hex())}}},
		FieldSelection: hypersync.FieldSelection{
			Transaction: []string{hypersync.TxFieldGasUsed, hypersync.TxFieldGasPrice},
		},
	}

	total := new(big.Int)
	err = hypersync.Paginate(ctx, client, q, func(resp *hypersync.QueryResponse) (bool, error) {
		for _, tx := range resp.Data.Transactions {
			gasUsed, err := parseQuantity(tx.GasUsed)
			if err != nil {
				return false, fmt.Errorf("gas_used: %w", err)
			}
			gasPrice, err := parseQuantity(tx.GasPrice)
			if err != nil {
				return false, fmt.Errorf("gas_price: %w", err)
			}
			total.Add(total, gasUsed.Mul(gasUsed, gasPrice))
		}
		return false, nil
	})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch transaction fees for %s on %s: %w", address.Hex(), a.network, err)
	}

	return decimal.NewFromBigInt(total, 0), nil
}

// parseQuantity accepts hex (0x-prefixed) or decimal strings; backends emit
// both. Missing fields count as zero
func parseQuantity(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}
