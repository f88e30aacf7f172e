package transfervolume

import (
	"context"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/nevasik7/alerting/logger"
)

type noopLogger struct{}

func (n *noopLogger) Debug(msg string)                          {}
func (n *noopLogger) Debugf(format string, args ...interface{}) {}
func (n *noopLogger) Info(msg string)                           {}
func (n *noopLogger) Infof(format string, args ...interface{})  {}
func (n *noopLogger) Warn(msg string)                           {}
func (n *noopLogger) Warnf(format string, args ...interface{})  {}
func (n *noopLogger) Error(msg string)                          {}
func (n *noopLogger) Errorf(format string, args ...interface{}) {}
func (n *noopLogger) Fatal(msg string)                          {}
func (n *noopLogger) Fatalf(format string, args ...interface{}) {}
func (n *noopLogger) Panic(msg string)                          {}
func (n *noopLogger) Panicf(format string, args ...interface{}) {}
func (n *noopLogger) WithField(key string, value interface{}) logger.Logger  { return n }
func (n *noopLogger) WithFields(fields map[string]interface{}) logger.Logger { return n }

var (
	user   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	wallet = common.HexToAddress("0x4444444444444444444444444444444444444444")
	cusd   = common.HexToAddress("0x765de816845861e75a25fca122bb6898b8b1282a")
)

type fakeWallets struct {
	assets  []Asset
	wallets map[string][]common.Address // asset -> wallets
}

func (f *fakeWallets) Assets(context.Context) ([]Asset, error) {
	return f.assets, nil
}

func (f *fakeWallets) PayoutWallets(_ context.Context, _, asset string) ([]common.Address, error) {
	return f.wallets[asset], nil
}

type fakeIndexer struct {
	logs []hypersync.Log
}

func (f *fakeIndexer) Get(_ context.Context, q *hypersync.Query) (*hypersync.QueryResponse, error) {
	return &hypersync.QueryResponse{
		Data:      hypersync.QueryData{Logs: f.logs},
		NextBlock: q.FromBlock, // single page
	}, nil
}

type fakeSource struct {
	client hypersync.Client
}

func (f *fakeSource) ForNetwork(domain.NetworkID) (hypersync.Client, error) {
	return f.client, nil
}

// block timestamps are just block number * 1000 seconds
type fakeBlocks struct{}

func (fakeBlocks) BlockTimestamp(_ context.Context, _ domain.NetworkID, height uint64) (time.Time, error) {
	return time.Unix(int64(height)*1000, 0).UTC(), nil
}

type fakeState struct{}

func (fakeState) ERC20Decimals(context.Context, domain.NetworkID, common.Address) (uint8, error) {
	return 18, nil
}

type fakePrices struct {
	points []domain.PricePoint
}

func (f *fakePrices) History(context.Context, domain.TokenID, domain.Window) ([]domain.PricePoint, error) {
	return f.points, nil
}

func transferLog(block uint64, amountHex string) hypersync.Log {
	return hypersync.Log{
		BlockNumber: block,
		Address:     cusd.Hex(),
		Data:        amountHex,
	}
}

func TestRevenue(t *testing.T) {
	t.Parallel()

	wallets := &fakeWallets{
		assets:  []Asset{{Network: "CELO", Asset: "CUSD"}},
		wallets: map[string][]common.Address{"CUSD": {wallet}},
	}
	indexer := &fakeIndexer{logs: []hypersync.Log{
		transferLog(5, "0x29a2241af62c0000"),  // 3 tokens at block 5 (t=5000)
		transferLog(50, "0x1bc16d674ec80000"), // 2 tokens at block 50 (t=50000), outside window
	}}
	priceSeries := &fakePrices{points: []domain.PricePoint{
		{PriceUSD: decimal.RequireFromString("4"), FetchedAt: time.Unix(0, 0)},
	}}

	a := New(&noopLogger{}, wallets, &fakeSource{client: indexer}, fakeBlocks{}, fakeState{}, priceSeries)

	got, err := a.Revenue(context.Background(), user, domain.Window{
		Start: time.Unix(1_000, 0),
		End:   time.Unix(10_000, 0),
	})
	require.NoError(t, err)

	// only the in-window 3-token transfer counts, at $4
	assert.True(t, decimal.RequireFromString("12").Equal(got), "got %s", got)
}

func TestRevenue_NoAssetsIsZero(t *testing.T) {
	t.Parallel()

	a := New(&noopLogger{}, &fakeWallets{}, &fakeSource{}, fakeBlocks{}, fakeState{}, &fakePrices{})

	got, err := a.Revenue(context.Background(), user, domain.Window{
		Start: time.Unix(0, 0),
		End:   time.Unix(1000, 0),
	})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRevenue_DuplicateWalletsCountedOnce(t *testing.T) {
	t.Parallel()

	// two assets paying from the same wallet
	wallets := &fakeWallets{
		assets: []Asset{
			{Network: "CELO", Asset: "CUSD"},
			{Network: "CELO", Asset: "USDT"},
		},
		wallets: map[string][]common.Address{
			"CUSD": {wallet},
			"USDT": {wallet},
		},
	}
	indexer := &fakeIndexer{logs: []hypersync.Log{
		transferLog(5, "0xde0b6b3a7640000"), // 1 token
	}}
	priceSeries := &fakePrices{points: []domain.PricePoint{
		{PriceUSD: decimal.RequireFromString("2"), FetchedAt: time.Unix(0, 0)},
	}}

	a := New(&noopLogger{}, wallets, &fakeSource{client: indexer}, fakeBlocks{}, fakeState{}, priceSeries)

	got, err := a.Revenue(context.Background(), user, domain.Window{
		Start: time.Unix(1_000, 0),
		End:   time.Unix(10_000, 0),
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2").Equal(got), "got %s", got)
}
