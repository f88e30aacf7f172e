package service

import (
	"context"
	"divvi/internal/domain"
	"divvi/internal/referrals"

	"gitlab.com/nevasik7/alerting/logger"
)

// ReferralSource yields the deduplicated, eligibility-filtered referrals
// for a protocol
type ReferralSource interface {
	Qualified(ctx context.Context, protocol domain.Protocol) ([]referrals.Event, error)
	FetchEvents(ctx context.Context, protocol domain.Protocol) ([]referrals.Event, error)
}

type ReferralService struct {
	log    logger.Logger
	source ReferralSource
}

func NewReferralService(log logger.Logger, source ReferralSource) *ReferralService {
	if source == nil {
		panic("referral source cannot be nil")
	}
	return &ReferralService{log: log, source: source}
}

// Qualified returns the referred users that pass the protocol's
// eligibility rules, earliest referral per user
func (s *ReferralService) Qualified(ctx context.Context, protocol domain.Protocol) ([]referrals.Event, error) {
	return s.source.Qualified(ctx, protocol)
}

// Registered returns every raw referral event for the protocol, duplicates
// included; useful for auditing what the registry holds
func (s *ReferralService) Registered(ctx context.Context, protocol domain.Protocol) ([]referrals.Event, error) {
	return s.source.FetchEvents(ctx, protocol)
}
