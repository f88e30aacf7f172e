package clickhouse

import (
	"context"
	"divvi/internal/config"
	"divvi/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
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

// fakeConn records every row the writer sends. Unused driver.Conn methods
// come from the embedded interface and panic if called
type fakeConn struct {
	driver.Conn

	mu   sync.Mutex
	rows [][]any
}

func (c *fakeConn) PrepareBatch(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	return &fakeBatch{conn: c}, nil
}

func (c *fakeConn) sent() [][]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]any, len(c.rows))
	copy(out, c.rows)
	return out
}

type fakeBatch struct {
	driver.Batch

	conn *fakeConn
	rows [][]any
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	b.conn.rows = append(b.conn.rows, b.rows...)
	return nil
}

func (b *fakeBatch) Abort() error { return nil }

func testWriterConfig() config.ClickHouseConfig {
	return config.ClickHouseConfig{
		Writer: config.ClickHouseWriterConfig{
			BatchMaxRows:     100,
			BatchMaxInterval: 10 * time.Millisecond,
			MaxRetries:       0,
			RetryBackoff:     time.Millisecond,
		},
	}
}

func TestWriter_FlushesEnqueuedRows(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	w := NewWriter(&noopLogger{}, conn, testWriterConfig())

	row := domain.RevenueRow{
		ComputedAt:  time.Unix(1_700_000_000, 0).UTC(),
		Protocol:    "aerodrome",
		UserAddress: "0x1111111111111111111111111111111111111111",
		WindowStart: time.Unix(1_699_000_000, 0).UTC(),
		WindowEnd:   time.Unix(1_700_000_000, 0).UTC(),
		RevenueUSD:  "0.03",
	}
	require.NoError(t, w.Enqueue(row))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "aerodrome", sent[0][1])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", sent[0][2])
	assert.Equal(t, "0.03", sent[0][5])
}

// Close is idempotent and Enqueue after Close reports the writer closed
func TestWriter_CloseTwice(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	w := NewWriter(&noopLogger{}, conn, testWriterConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))

	err := w.Enqueue(domain.RevenueRow{Protocol: "beefy"})
	require.Error(t, err)
}
