// Package referrals reads referral registrations from the on-chain registry
// and decides, per protocol, which referred users qualify: the user must
// have protocol activity and none of it may predate their registration
package referrals

import (
	"context"
	"divvi/internal/domain"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

// Event is one referral registration read from the registry
type Event struct {
	Protocol    domain.Protocol
	UserAddress common.Address
	ReferrerID  string
	Timestamp   time.Time
}

// RegistryReader is the on-chain registry surface the service needs
type RegistryReader interface {
	Networks() []domain.NetworkID
	Referrers(ctx context.Context, network domain.NetworkID, protocol domain.Protocol) ([]string, error)
	Users(ctx context.Context, network domain.NetworkID, protocol domain.Protocol, referrer string) ([]common.Address, []time.Time, error)
}

// Filter decides whether one referred user qualifies for the protocol
type Filter interface {
	Eligible(ctx context.Context, event Event) (bool, error)
}

type Service struct {
	log      logger.Logger
	registry RegistryReader
	filters  map[domain.Protocol]Filter
}

func NewService(log logger.Logger, registry RegistryReader, filters map[domain.Protocol]Filter) *Service {
	return &Service{log: log, registry: registry, filters: filters}
}

// FetchEvents reads every referral registered for the protocol across all
// registry networks. Networks and referrers are independent reads, fanned
// out concurrently
func (s *Service) FetchEvents(ctx context.Context, protocol domain.Protocol) ([]Event, error) {
	networks := s.registry.Networks()

	perNetwork := make([][]Event, len(networks))
	g, ctx := errgroup.WithContext(ctx)
	for i, network := range networks {
		g.Go(func() error {
			events, err := s.fetchNetwork(ctx, network, protocol)
			if err != nil {
				return fmt.Errorf("network %s: %w", network, err)
			}
			perNetwork[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Event
	for _, events := range perNetwork {
		out = append(out, events...)
	}
	return out, nil
}

func (s *Service) fetchNetwork(ctx context.Context, network domain.NetworkID, protocol domain.Protocol) ([]Event, error) {
	referrers, err := s.registry.Referrers(ctx, network, protocol)
	if err != nil {
		return nil, err
	}

	perReferrer := make([][]Event, len(referrers))
	g, ctx := errgroup.WithContext(ctx)
	for i, referrer := range referrers {
		g.Go(func() error {
			users, timestamps, err := s.registry.Users(ctx, network, protocol, referrer)
			if err != nil {
				return fmt.Errorf("referrer %s: %w", referrer, err)
			}
			events := make([]Event, len(users))
			for j, user := range users {
				events[j] = Event{
					Protocol:    protocol,
					UserAddress: user,
					ReferrerID:  referrer,
					Timestamp:   timestamps[j],
				}
			}
			perReferrer[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Event
	for _, events := range perReferrer {
		out = append(out, events...)
	}
	return out, nil
}

// Dedupe keeps only the earliest registration per user. Output is ordered by
// timestamp, then address, so runs are reproducible
func Dedupe(events []Event) []Event {
	earliest := make(map[common.Address]Event)
	for _, event := range events {
		existing, ok := earliest[event.UserAddress]
		if !ok || event.Timestamp.Before(existing.Timestamp) {
			earliest[event.UserAddress] = event
		}
	}

	out := make([]Event, 0, len(earliest))
	for _, event := range earliest {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].UserAddress.Cmp(out[j].UserAddress) < 0
	})
	return out
}

// Qualified fetches, deduplicates, and filters the protocol's referrals
// down to the users that pass the eligibility rules
func (s *Service) Qualified(ctx context.Context, protocol domain.Protocol) ([]Event, error) {
	filter, ok := s.filters[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: no eligibility filter for %q", domain.ErrUnknownProtocol, protocol)
	}

	events, err := s.FetchEvents(ctx, protocol)
	if err != nil {
		return nil, err
	}
	unique := Dedupe(events)

	eligible := make([]bool, len(unique))
	g, ctx := errgroup.WithContext(ctx)
	for i, event := range unique {
		g.Go(func() error {
			ok, err := filter.Eligible(ctx, event)
			if err != nil {
				return fmt.Errorf("user %s: %w", event.UserAddress.Hex(), err)
			}
			eligible[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(unique))
	for i, event := range unique {
		if eligible[i] {
			out = append(out, event)
		}
	}
	s.log.Infof("Protocol %s: %d of %d unique referrals qualified", protocol, len(out), len(unique))
	return out, nil
}
