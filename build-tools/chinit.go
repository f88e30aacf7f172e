//go:build ignore

// Run: go run ./build-tools/chinit.go -dsn "clickhouse://default:@localhost:9000/divvi" -ttl-days 0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

const createTable = `
CREATE TABLE IF NOT EXISTS revenue_results (
    computed_at   DateTime64(3, 'UTC'),
    protocol      LowCardinality(String),
    user_address  String,
    window_start  DateTime('UTC'),
    window_end    DateTime('UTC'),
    revenue_usd   Decimal(38, 18)
)
ENGINE = ReplacingMergeTree(computed_at)
PARTITION BY toYYYYMM(window_start)
ORDER BY (protocol, user_address, window_start, window_end)
%s
`

func main() {
	var (
		dsn     = flag.String("dsn", "clickhouse://default:@localhost:9000/divvi", "clickhouse dsn")
		ttlDays = flag.Int("ttl-days", 0, "drop rows this many days after computed_at, 0 keeps forever")
	)
	flag.Parse()

	opts, err := ch.ParseDSN(*dsn)
	if err != nil {
		fmt.Printf("parse dsn: %v\n", err)
		os.Exit(1)
	}

	conn, err := ch.Open(opts)
	if err != nil {
		fmt.Printf("open clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err = conn.Ping(ctx); err != nil {
		fmt.Printf("ping clickhouse: %v\n", err)
		os.Exit(1)
	}

	ttlClause := ""
	if *ttlDays > 0 {
		ttlClause = fmt.Sprintf("TTL toDateTime(computed_at) + INTERVAL %d DAY", *ttlDays)
	}

	if err = conn.Exec(ctx, fmt.Sprintf(createTable, ttlClause)); err != nil {
		fmt.Printf("create revenue_results: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("revenue_results is ready")
}
