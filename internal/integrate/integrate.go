// Package integrate holds the time-weighted integration engine every revenue
// adapter composes with. All functions are pure; callers bring the events,
// prices and live balances
package integrate

import (
	"divvi/internal/domain"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoSamples   = errors.New("no samples provided")
	ErrNoOverlap   = errors.New("no samples in range")
	ErrEndInFuture = errors.New("cannot have a window end in the future")
)

// Sample is a scalar assumed constant for a fixed validity duration after
// its timestamp. The scalar may itself be a ratio, the engine does not care
type Sample struct {
	Value     decimal.Decimal
	Timestamp time.Time
}

// WeightedAverage computes the overlap-weighted mean of samples over w. Each
// sample holds its value for `validity` after its timestamp; a sample whose
// validity interval misses the window entirely carries no weight. Zero total
// weight is ErrNoOverlap
func WeightedAverage(samples []Sample, validity time.Duration, w domain.Window) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}
	if len(samples) == 0 {
		return decimal.Decimal{}, ErrNoSamples
	}

	sorted := slices.Clone(samples)
	slices.SortFunc(sorted, func(a, b Sample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	totalWeight := decimal.Zero
	weighted := decimal.Zero

	for _, s := range sorted {
		from := maxTime(s.Timestamp, w.Start)
		to := minTime(s.Timestamp.Add(validity), w.End)
		if !to.After(from) {
			continue
		}

		weight := decimal.NewFromInt(to.Sub(from).Milliseconds())
		totalWeight = totalWeight.Add(weight)
		weighted = weighted.Add(weight.Mul(s.Value))
	}

	if totalWeight.IsZero() {
		return decimal.Decimal{}, ErrNoOverlap
	}

	return weighted.Div(totalWeight), nil
}

// PriceFn weights a sub-interval of the sweep, typically with the average
// USD price over it
type PriceFn func(w domain.Window) (decimal.Decimal, error)

// MeanBalance reconstructs the time-weighted mean of a balance over w from
// its live value at now and the signed change events in [w.Start, now].
// Events are walked newest-first, subtracting each amount to recover the
// balance that held before it
func MeanBalance(current decimal.Decimal, events []domain.BalanceEvent, w domain.Window, now time.Time) (decimal.Decimal, error) {
	return sweep(current, events, w, now, nil)
}

// MeanBalanceUSD is MeanBalance with each sub-interval additionally weighted
// by price, yielding a time-weighted mean USD value
func MeanBalanceUSD(current decimal.Decimal, events []domain.BalanceEvent, w domain.Window, now time.Time, price PriceFn) (decimal.Decimal, error) {
	if price == nil {
		return decimal.Decimal{}, fmt.Errorf("price weight is required")
	}
	return sweep(current, events, w, now, price)
}

func sweep(current decimal.Decimal, events []domain.BalanceEvent, w domain.Window, now time.Time, price PriceFn) (decimal.Decimal, error) {
	if err := w.Validate(); err != nil {
		return decimal.Decimal{}, err
	}
	if w.Duration() <= 0 {
		return decimal.Decimal{}, domain.ErrInvalidWindow
	}
	if w.End.After(now) {
		return decimal.Decimal{}, ErrEndInFuture
	}

	desc := slices.Clone(events)
	slices.SortFunc(desc, func(a, b domain.BalanceEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	cursor := now
	value := current
	acc := decimal.Zero

	add := func(from, to time.Time) error {
		if !to.After(from) {
			return nil
		}
		contribution := decimal.NewFromInt(to.Sub(from).Milliseconds()).Mul(value)
		if price != nil {
			p, err := price(domain.Window{Start: from, End: to})
			if err != nil {
				return err
			}
			contribution = contribution.Mul(p)
		}
		acc = acc.Add(contribution)
		return nil
	}

	for _, ev := range desc {
		switch {
		case !cursor.Before(w.End) && ev.Timestamp.Before(w.End):
			// crossing the window's right edge
			if err := add(ev.Timestamp, w.End); err != nil {
				return decimal.Decimal{}, err
			}
		case ev.Timestamp.Before(w.End):
			if err := add(ev.Timestamp, cursor); err != nil {
				return decimal.Decimal{}, err
			}
		}
		// the balance before this event was lower by its amount
		value = value.Sub(ev.Amount)
		cursor = ev.Timestamp
	}

	if err := add(w.Start, minTime(cursor, w.End)); err != nil {
		return decimal.Decimal{}, err
	}

	return acc.Div(decimal.NewFromInt(w.Duration().Milliseconds())), nil
}

// BalanceAt reconstructs the balance at instant `at` from the live balance
// and the signed events since. Events at or before `at` have already
// happened and are part of the live balance's history
func BalanceAt(current decimal.Decimal, events []domain.BalanceEvent, at time.Time) decimal.Decimal {
	v := current
	for _, ev := range events {
		if ev.Timestamp.After(at) {
			v = v.Sub(ev.Amount)
		}
	}
	return v
}

// Digits of fixed-point precision carried through the integer volume math
const volumePrecision = 8

// Transfer is a discrete raw-amount token movement
type Transfer struct {
	Amount    *big.Int
	Decimals  uint8
	Timestamp time.Time
}

// VolumeUSD values each transfer at the price in effect at its timestamp and
// sums. Token amounts routinely exceed 2^53, so the amount stays in big.Int:
// the price is lifted to an 8-digit fixed-point integer, multiplied in, and
// only the final quotient is brought back to decimal
func VolumeUSD(transfers []Transfer, priceAt func(t time.Time) (decimal.Decimal, error)) (decimal.Decimal, error) {
	total := decimal.Zero
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(volumePrecision), nil)

	for _, tr := range transfers {
		price, err := priceAt(tr.Timestamp)
		if err != nil {
			return decimal.Decimal{}, err
		}

		scaledPrice := price.Mul(decimal.NewFromBigInt(scale, 0)).BigInt()
		num := new(big.Int).Mul(tr.Amount, scaledPrice)
		den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tr.Decimals)), nil)

		total = total.Add(decimal.NewFromBigInt(num.Div(num, den), -volumePrecision))
	}

	return total, nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
