package chain

import (
	"context"
	"divvi/internal/cache"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"divvi/pkg/httputil"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
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

// fakeIndexer serves scripted logs/blocks and records the block ranges of
// log queries
type fakeIndexer struct {
	logs   []hypersync.Log
	ranges [][2]uint64
}

func (f *fakeIndexer) Get(_ context.Context, q *hypersync.Query) (*hypersync.QueryResponse, error) {
	to := q.FromBlock
	if q.ToBlock != nil {
		to = *q.ToBlock
	}

	// block timestamp lookup
	if len(q.FieldSelection.Block) > 0 && len(q.Logs) == 0 {
		return &hypersync.QueryResponse{
			Data: hypersync.QueryData{
				Blocks: []hypersync.Block{{Number: q.FromBlock, Timestamp: 1_700_000_000 + q.FromBlock}},
			},
			NextBlock: to,
		}, nil
	}

	f.ranges = append(f.ranges, [2]uint64{q.FromBlock, to})

	var matched []hypersync.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock && l.BlockNumber < to {
			matched = append(matched, l)
		}
	}

	return &hypersync.QueryResponse{
		Data:      hypersync.QueryData{Logs: matched},
		NextBlock: to,
	}, nil
}

// selectiveIndexer behaves like the real backend: a field absent from the
// query's selection is absent from the response, topics included (each one
// is selected individually as topic0..topic3)
type selectiveIndexer struct {
	logs []hypersync.Log
}

func (f *selectiveIndexer) Get(_ context.Context, q *hypersync.Query) (*hypersync.QueryResponse, error) {
	to := q.FromBlock
	if q.ToBlock != nil {
		to = *q.ToBlock
	}

	if len(q.FieldSelection.Block) > 0 && len(q.Logs) == 0 {
		return &hypersync.QueryResponse{
			Data: hypersync.QueryData{
				Blocks: []hypersync.Block{{Number: q.FromBlock, Timestamp: 1_700_000_000 + q.FromBlock}},
			},
			NextBlock: to,
		}, nil
	}

	selected := make(map[string]bool, len(q.FieldSelection.Log))
	for _, field := range q.FieldSelection.Log {
		selected[field] = true
	}

	var matched []hypersync.Log
	for _, l := range f.logs {
		if l.BlockNumber < q.FromBlock || l.BlockNumber >= to {
			continue
		}

		var out hypersync.Log
		if selected[hypersync.LogFieldBlockNumber] {
			out.BlockNumber = l.BlockNumber
		}
		if selected[hypersync.LogFieldAddress] {
			out.Address = l.Address
		}
		if selected[hypersync.LogFieldData] {
			out.Data = l.Data
		}
		topicFields := []string{
			hypersync.LogFieldTopic0,
			hypersync.LogFieldTopic1,
			hypersync.LogFieldTopic2,
			hypersync.LogFieldTopic3,
		}
		for i, field := range topicFields {
			if i >= len(l.Topics) {
				break
			}
			if selected[field] {
				out.Topics = append(out.Topics, l.Topics[i])
			}
		}
		matched = append(matched, out)
	}

	return &hypersync.QueryResponse{
		Data:      hypersync.QueryData{Logs: matched},
		NextBlock: to,
	}, nil
}

type fakeSource struct {
	client hypersync.Client
}

func (f *fakeSource) ForNetwork(domain.NetworkID) (hypersync.Client, error) {
	return f.client, nil
}

func blockIndexServer(t *testing.T, heights map[int64]uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		ts := parts[len(parts)-1]
		var unix int64
		fmt.Sscanf(ts, "%d", &unix)
		h, ok := heights[unix]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"height": %d, "timestamp": %d}`, h, unix)
	}))
}

func newTestIndex(t *testing.T, indexer hypersync.Client, blockIndexURL string) *Index {
	t.Helper()
	idx, err := NewIndex(&noopLogger{}, httputil.NewClient(), cache.NewMemory(&noopLogger{}, 0, 0), &fakeSource{client: indexer}, blockIndexURL)
	require.NoError(t, err)
	return idx
}

func TestFetchEvents_ChunksBlockRange(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_000, 0)
	end := time.Unix(2_000, 0)
	srv := blockIndexServer(t, map[int64]uint64{1_000: 0, 2_000: 25_000})
	defer srv.Close()

	indexer := &fakeIndexer{logs: []hypersync.Log{
		{BlockNumber: 5_000, Address: "0xaaa0000000000000000000000000000000000aaa", Data: "0x01"},
		{BlockNumber: 15_000, Address: "0xaaa0000000000000000000000000000000000aaa", Data: "0x02"},
		{BlockNumber: 24_999, Address: "0xaaa0000000000000000000000000000000000aaa", Data: "0x03"},
	}}

	idx := newTestIndex(t, indexer, srv.URL)

	events, err := idx.FetchEvents(
		context.Background(),
		domain.NetworkCeloMainnet,
		common.HexToAddress("0xaaa0000000000000000000000000000000000aaa"),
		common.HexToHash("0x01"),
		start, end,
	)

	require.NoError(t, err)
	require.Len(t, events, 3)

	// 25_000 blocks -> three bounded requests
	require.Len(t, indexer.ranges, 3)
	assert.Equal(t, [2]uint64{0, 10_001}, indexer.ranges[0])
	assert.Equal(t, [2]uint64{10_001, 20_002}, indexer.ranges[1])
	assert.Equal(t, [2]uint64{20_002, 25_001}, indexer.ranges[2])

	// timestamps resolved per block
	assert.Equal(t, time.Unix(1_700_005_000, 0).UTC(), events[0].Timestamp)
}

// Indexed arguments land in Topics even against a backend that strips
// unselected fields. Yield and swap consumers match on Topics[1]/Topics[2],
// so a selection of topic0 alone would silently drop every event
func TestFetchEvents_ReturnsIndexedTopics(t *testing.T) {
	t.Parallel()

	srv := blockIndexServer(t, map[int64]uint64{1_000: 0, 2_000: 5_000})
	defer srv.Close()

	topic0 := common.HexToHash("0x01")
	user := common.HexToHash("0x000000000000000000000000c0ffee0000000000000000000000000000c0ffee")
	recipient := common.HexToHash("0x000000000000000000000000deadbeef00000000000000000000000000000000")

	indexer := &selectiveIndexer{logs: []hypersync.Log{{
		BlockNumber: 3_000,
		Address:     "0xaaa0000000000000000000000000000000000aaa",
		Data:        "0x01",
		Topics:      []string{topic0.Hex(), user.Hex(), recipient.Hex()},
	}}}

	idx := newTestIndex(t, indexer, srv.URL)

	events, err := idx.FetchEvents(
		context.Background(),
		domain.NetworkCeloMainnet,
		common.HexToAddress("0xaaa0000000000000000000000000000000000aaa"),
		topic0,
		time.Unix(1_000, 0), time.Unix(2_000, 0),
	)

	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, events[0].Topics, 3)
	assert.Equal(t, user, events[0].Topics[1])
	assert.Equal(t, recipient, events[0].Topics[2])
}

func TestFetchEvents_EmptyRangeIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := blockIndexServer(t, map[int64]uint64{1_000: 100, 2_000: 200})
	defer srv.Close()

	indexer := &fakeIndexer{} // contract not deployed yet: no logs at all

	idx := newTestIndex(t, indexer, srv.URL)

	events, err := idx.FetchEvents(
		context.Background(),
		domain.NetworkCeloMainnet,
		common.HexToAddress("0xbbb0000000000000000000000000000000000bbb"),
		common.HexToHash("0x01"),
		time.Unix(1_000, 0), time.Unix(2_000, 0),
	)

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNearestBlock_Memoized(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"height": 42, "timestamp": 1000}`)
	}))
	defer srv.Close()

	idx := newTestIndex(t, &fakeIndexer{}, srv.URL)

	for i := 0; i < 3; i++ {
		h, err := idx.NearestBlock(context.Background(), domain.NetworkCeloMainnet, time.Unix(1_000, 0))
		require.NoError(t, err)
		assert.Equal(t, uint64(42), h)
	}

	assert.Equal(t, 1, calls)
}
