package main

import (
	"context"
	"divvi/internal/app"
	"divvi/internal/cache"
	"divvi/internal/config"
	"divvi/internal/domain"
	"divvi/internal/referrals"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// Batch referral runner: reads every referral registered for --protocol from
// the on-chain registry, keeps the qualified ones (or all with --all) and
// writes CSV or JSON to --output depending on extension
func main() {
	var (
		cfgPath  string
		protocol string
		output   string
		all      bool
	)

	flag.StringVar(&cfgPath, "config", "cmd/server/config.yaml", "path to config file")
	flag.StringVar(&protocol, "protocol", "", "protocol to list referrals for")
	flag.StringVar(&output, "output", "", "result file, .csv or .json")
	flag.BoolVar(&all, "all", false, "list every registration instead of only qualified ones")
	flag.Parse()

	if err := run(cfgPath, protocol, output, all); err != nil {
		log.Fatalf("referrals run failed, error=%v", err)
	}
}

type resultRow struct {
	UserAddress string `json:"user_address"`
	ReferrerID  string `json:"referrer_id"`
	Timestamp   int64  `json:"timestamp"`
}

func run(cfgPath, protocol, output string, all bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	p, err := domain.ParseProtocol(protocol)
	if err != nil {
		return err
	}

	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	adapters, err := app.BuildAdapters(lg, cfg, cache.NewMemory(lg, 0, 0))
	if err != nil {
		return err
	}

	ctx := context.Background()

	var events []referrals.Event
	if all {
		events, err = adapters.Referrals.FetchEvents(ctx, p)
		if err == nil {
			events = referrals.Dedupe(events)
		}
	} else {
		events, err = adapters.Referrals.Qualified(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("referrals for %s: %w", p, err)
	}

	rows := make([]resultRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, resultRow{
			UserAddress: strings.ToLower(ev.UserAddress.Hex()),
			ReferrerID:  ev.ReferrerID,
			Timestamp:   ev.Timestamp.Unix(),
		})
	}
	lg.Infof("collected %d referrals for %s", len(rows), p)

	return writeResults(output, rows)
}

func writeResults(path string, rows []resultRow) error {
	if path == "" {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch filepath.Ext(path) {
	case ".csv":
		w := csv.NewWriter(f)
		if err = w.Write([]string{"user_address", "referrer_id", "timestamp"}); err != nil {
			return err
		}
		for _, row := range rows {
			record := []string{
				row.UserAddress,
				row.ReferrerID,
				strconv.FormatInt(row.Timestamp, 10),
			}
			if err = w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	case ".json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unsupported output extension %q, want .csv or .json", filepath.Ext(path))
	}
}
