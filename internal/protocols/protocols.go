// Package protocols wires the per-protocol revenue adapters behind a single
// dispatcher. The protocol set is closed; adding one means adding a case
package protocols

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/config"
	"divvi/internal/domain"
	"divvi/internal/prices"
	"divvi/internal/protocols/gasfee"
	"divvi/internal/protocols/swapfee"
	"divvi/internal/protocols/transfervolume"
	"divvi/internal/protocols/vault"
	"divvi/internal/protocols/yieldvault"
	"divvi/pkg/httputil"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// Dependencies are the shared collaborators every adapter draws from
type Dependencies struct {
	Fetcher *httputil.Client
	Index   *chain.Index        // event fetch + block/timestamp resolution
	Pool    chain.ClientSource  // raw indexer clients, for adapters that paginate themselves
	State   chain.StateReader
	Prices  *prices.Service
}

type Registry struct {
	log logger.Logger

	beefy     *yieldvault.Adapter
	somm      *vault.Adapter
	aerodrome *swapfee.Adapter
	velodrome *swapfee.Adapter
	fonbnk    *transfervolume.Adapter
	celo      *gasfee.Adapter
	arbitrum  *gasfee.Adapter
}

func New(log logger.Logger, deps Dependencies, cfg *config.Config) (*Registry, error) {
	beefy, err := yieldvault.New(log, deps.Fetcher, deps.Index, deps.State, deps.Prices, cfg.Sources.VaultAnalyticsURL)
	if err != nil {
		return nil, fmt.Errorf("yieldvault adapter: %w", err)
	}

	somm, err := vault.New(log, deps.Fetcher, deps.Index, deps.State, cfg.Sources.VaultRegistryURL)
	if err != nil {
		return nil, fmt.Errorf("vault adapter: %w", err)
	}

	aerodrome, err := swapfee.New(log, deps.Index, deps.State, deps.Prices, cfg.Protocols.Aerodrome)
	if err != nil {
		return nil, fmt.Errorf("aerodrome adapter: %w", err)
	}
	velodrome, err := swapfee.New(log, deps.Index, deps.State, deps.Prices, cfg.Protocols.Velodrome)
	if err != nil {
		return nil, fmt.Errorf("velodrome adapter: %w", err)
	}

	wallets, err := transfervolume.NewPayoutClient(log, deps.Fetcher, cfg.Sources.FonbnkURL,
		cfg.Protocols.Fonbnk.ClientID, cfg.Protocols.Fonbnk.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("payout client: %w", err)
	}
	fonbnk := transfervolume.New(log, wallets, deps.Pool, deps.Index, deps.State, deps.Prices)

	return &Registry{
		log:       log,
		beefy:     beefy,
		somm:      somm,
		aerodrome: aerodrome,
		velodrome: velodrome,
		fonbnk:    fonbnk,
		celo:      gasfee.New(log, deps.Index, deps.Pool, domain.NetworkCeloMainnet),
		arbitrum:  gasfee.New(log, deps.Index, deps.Pool, domain.NetworkArbitrumOne),
	}, nil
}

// CalculateRevenue runs the adapter for the protocol over the user's window
func (r *Registry) CalculateRevenue(ctx context.Context, protocol domain.Protocol, address common.Address, w domain.Window) (decimal.Decimal, error) {
	switch protocol {
	case domain.ProtocolBeefy:
		return r.beefy.Revenue(ctx, address, w)
	case domain.ProtocolSomm:
		return r.somm.Revenue(ctx, address, w)
	case domain.ProtocolAerodrome:
		return r.aerodrome.Revenue(ctx, address, w)
	case domain.ProtocolVelodrome:
		return r.velodrome.Revenue(ctx, address, w)
	case domain.ProtocolFonbnk:
		return r.fonbnk.Revenue(ctx, address, w)
	case domain.ProtocolCelo:
		return r.celo.Revenue(ctx, address, w)
	case domain.ProtocolArbitrum:
		return r.arbitrum.Revenue(ctx, address, w)
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q", domain.ErrUnknownProtocol, protocol)
	}
}

// Beefy exposes the yield-vault adapter; the referral eligibility filter
// reuses its timeline lookups
func (r *Registry) Beefy() *yieldvault.Adapter { return r.beefy }

// Fonbnk exposes the transfer-volume adapter; the referral eligibility
// filter reuses its payout-wallet discovery
func (r *Registry) Fonbnk() *transfervolume.Adapter { return r.fonbnk }
