package prices

import (
	"context"
	"divvi/internal/cache"
	"divvi/internal/domain"
	"divvi/pkg/httputil"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// ErrNoPrices marks a token with no price samples in the requested window
var ErrNoPrices = errors.New("no price samples for token")

type pricePointData struct {
	PriceUSD       string `json:"priceUsd"`
	PriceFetchedAt int64  `json:"priceFetchedAt"` // unix ms
}

// Service fetches historical token prices from the price API. Histories are
// memoized per (token, window): every user of the same pool re-requests the
// same series
type Service struct {
	log     logger.Logger
	fetcher *httputil.Client
	cache   cache.Cache
	baseURL string
}

func NewService(log logger.Logger, fetcher *httputil.Client, c cache.Cache, baseURL string) (*Service, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("price history url is required")
	}
	return &Service{log: log, fetcher: fetcher, cache: c, baseURL: baseURL}, nil
}

// History returns the price samples for tokenID within w, ascending by
// fetch time
func (s *Service) History(ctx context.Context, tokenID domain.TokenID, w domain.Window) ([]domain.PricePoint, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	key := cache.Key("price_history",
		string(tokenID),
		strconv.FormatInt(w.Start.UnixMilli(), 10),
		strconv.FormatInt(w.End.UnixMilli(), 10),
	)

	return cache.Memoize(ctx, s.cache, key, func(ctx context.Context) ([]domain.PricePoint, error) {
		query := url.Values{
			"tokenId":        {string(tokenID)},
			"startTimestamp": {strconv.FormatInt(w.Start.UnixMilli(), 10)},
			"endTimestamp":   {strconv.FormatInt(w.End.UnixMilli(), 10)},
		}

		var raw []pricePointData
		if err := s.fetcher.GetJSON(ctx, s.baseURL, query, &raw); err != nil {
			return nil, fmt.Errorf("fetch price history for %s: %w", tokenID, err)
		}

		points := make([]domain.PricePoint, 0, len(raw))
		for _, p := range raw {
			priceUSD, err := decimal.NewFromString(p.PriceUSD)
			if err != nil {
				return nil, fmt.Errorf("parse price %q for %s: %w", p.PriceUSD, tokenID, err)
			}
			points = append(points, domain.PricePoint{
				PriceUSD:  priceUSD,
				FetchedAt: time.UnixMilli(p.PriceFetchedAt).UTC(),
			})
		}

		sort.Slice(points, func(i, j int) bool {
			return points[i].FetchedAt.Before(points[j].FetchedAt)
		})

		return points, nil
	})
}

// PriceAt returns the last sample fetched at or before t. An instant earlier
// than every sample gets the earliest one: the series is already clamped to
// the requested window, so the first sample is the closest estimate we have
func PriceAt(points []domain.PricePoint, t time.Time) (decimal.Decimal, error) {
	if len(points) == 0 {
		return decimal.Decimal{}, ErrNoPrices
	}

	// first index with FetchedAt > t
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].FetchedAt.After(t)
	})
	if idx == 0 {
		return points[0].PriceUSD, nil
	}

	return points[idx-1].PriceUSD, nil
}
