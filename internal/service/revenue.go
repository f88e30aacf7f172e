package service

import (
	"context"
	"divvi/internal/domain"
	"divvi/internal/pubsub"
	"divvi/internal/stores/clickhouse"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// Encapsulates the business logic for revenue requests;
// It is the only orchestration point: calculate → persist → broadcast;
// Serves HTTP, CLI and whatever other surface needs a revenue number
type RevenueService struct {
	log         logger.Logger
	calculator  Calculator
	sink        ResultSink
	broadcaster pubsub.Broadcaster
	checks      map[string]func(ctx context.Context) error
	now         func() time.Time
}

// Calculator dispatches a revenue computation to the protocol's adapter
type Calculator interface {
	CalculateRevenue(ctx context.Context, protocol domain.Protocol, address common.Address, w domain.Window) (decimal.Decimal, error)
}

// ResultSink persists computed results for reporting
type ResultSink interface {
	Enqueue(row clickhouse.RevenueRow) error
}

// RevenueResult is what one computation returns to the caller and what
// gets fanned out to subscribers
type RevenueResult struct {
	Protocol    domain.Protocol `json:"protocol"`
	UserAddress string          `json:"user_address"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	RevenueUSD  decimal.Decimal `json:"revenue_usd"`
	ComputedAt  time.Time       `json:"computed_at"`
}

func NewRevenueService(
	log logger.Logger,
	calculator Calculator,
	sink ResultSink,
	broadcaster pubsub.Broadcaster,
	checks map[string]func(ctx context.Context) error,
) *RevenueService {
	if calculator == nil {
		panic("revenue calculator cannot be nil")
	}

	return &RevenueService{
		log:         log,
		calculator:  calculator,
		sink:        sink,
		broadcaster: broadcaster,
		checks:      checks,
		now:         time.Now,
	}
}

func (s *RevenueService) Calculate(ctx context.Context, protocol domain.Protocol, address common.Address, w domain.Window) (RevenueResult, error) {
	if err := w.Validate(); err != nil {
		return RevenueResult{}, err
	}

	revenue, err := s.calculator.CalculateRevenue(ctx, protocol, address, w)
	if err != nil {
		return RevenueResult{}, fmt.Errorf("revenue for %s user %s: %w", protocol, address.Hex(), err)
	}

	result := RevenueResult{
		Protocol:    protocol,
		UserAddress: strings.ToLower(address.Hex()),
		WindowStart: w.Start,
		WindowEnd:   w.End,
		RevenueUSD:  revenue,
		ComputedAt:  s.now().UTC(),
	}

	// Persist for reporting
	if s.sink != nil {
		row := clickhouse.RevenueRow{
			ComputedAt:  result.ComputedAt,
			Protocol:    string(result.Protocol),
			UserAddress: result.UserAddress,
			WindowStart: result.WindowStart,
			WindowEnd:   result.WindowEnd,
			RevenueUSD:  result.RevenueUSD.String(),
		}
		if err = s.sink.Enqueue(row); err != nil {
			return RevenueResult{}, fmt.Errorf("persist result for %s user %s: %w", protocol, result.UserAddress, err)
		}
	}

	// Fan out to subscribers. Broadcast errors are not critical, the
	// result is already persisted and returned to the caller
	if s.broadcaster != nil {
		if err = s.broadcaster.Publish(ctx, string(protocol), result); err != nil {
			s.log.Errorf("failed to broadcast result for %s user %s: %v", protocol, result.UserAddress, err)
		}
	}

	s.log.Debugf("revenue computed: protocol=%s user=%s usd=%s", protocol, result.UserAddress, revenue.String())
	return result, nil
}

// CheckDependency pings the external collaborators; used by the readiness probe
func (s *RevenueService) CheckDependency(ctx context.Context) error {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := make([]string, 0, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("dependency check failed: %s", strings.Join(failed, "; "))
	}

	s.log.Debugf("all dependency checks passed")
	return nil
}
