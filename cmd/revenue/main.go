package main

import (
	"bufio"
	"context"
	"divvi/internal/app"
	"divvi/internal/cache"
	"divvi/internal/config"
	"divvi/internal/domain"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// Batch revenue runner: reads addresses from --input (one per line), computes
// each address's revenue for --protocol over [--start-timestamp,
// --end-timestamp] and writes CSV or JSON to --output depending on extension
func main() {
	var (
		cfgPath  string
		protocol string
		start    string
		end      string
		input    string
		output   string
	)

	flag.StringVar(&cfgPath, "config", "cmd/server/config.yaml", "path to config file")
	flag.StringVar(&protocol, "protocol", "", "protocol to compute revenue for")
	flag.StringVar(&start, "start-timestamp", "", "window start, RFC3339 or unix seconds")
	flag.StringVar(&end, "end-timestamp", "", "window end, RFC3339 or unix seconds")
	flag.StringVar(&input, "input", "", "file with one user address per line")
	flag.StringVar(&output, "output", "", "result file, .csv or .json")
	flag.Parse()

	if err := run(cfgPath, protocol, start, end, input, output); err != nil {
		log.Fatalf("revenue run failed, error=%v", err)
	}
}

type resultRow struct {
	Address    string `json:"address"`
	RevenueUSD string `json:"revenue_usd"`
}

func run(cfgPath, protocol, start, end, input, output string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	p, err := domain.ParseProtocol(protocol)
	if err != nil {
		return err
	}

	window, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	addresses, err := readAddresses(input)
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
	rows := make([]resultRow, 0, len(addresses))
	for _, address := range addresses {
		revenue, err := adapters.Protocols.CalculateRevenue(ctx, p, address, window)
		if err != nil {
			return fmt.Errorf("revenue for %s: %w", address.Hex(), err)
		}
		rows = append(rows, resultRow{
			Address:    strings.ToLower(address.Hex()),
			RevenueUSD: revenue.String(),
		})
		lg.Infof("computed %s: %s USD", address.Hex(), revenue.String())
	}

	return writeResults(output, rows)
}

func parseWindow(start, end string) (domain.Window, error) {
	s, err := parseInstant(start)
	if err != nil {
		return domain.Window{}, fmt.Errorf("start-timestamp: %w", err)
	}
	e, err := parseInstant(end)
	if err != nil {
		return domain.Window{}, fmt.Errorf("end-timestamp: %w", err)
	}

	w := domain.Window{Start: s, End: e}
	return w, w.Validate()
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not RFC3339 or unix seconds: %q", s)
	}
	return t.UTC(), nil
}

func readAddresses(path string) ([]common.Address, error) {
	if path == "" {
		return nil, fmt.Errorf("input file is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []common.Address
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		address, err := domain.ParseAddress(line)
		if err != nil {
			return nil, err
		}
		out = append(out, address)
	}
	return out, scanner.Err()
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
		if err = w.Write([]string{"address", "revenue_usd"}); err != nil {
			return err
		}
		for _, row := range rows {
			if err = w.Write([]string{row.Address, row.RevenueUSD}); err != nil {
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
