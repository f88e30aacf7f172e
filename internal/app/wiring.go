package app

import (
	"context"
	"divvi/internal/api/http"
	"divvi/internal/api/http/handlers"
	"divvi/internal/cache"
	cacheredis "divvi/internal/cache/redis"
	"divvi/internal/chain"
	"divvi/internal/config"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"divvi/internal/metrics"
	"divvi/internal/prices"
	"divvi/internal/protocols"
	"divvi/internal/pubsub/nats"
	"divvi/internal/referrals"
	"divvi/internal/security"
	"divvi/internal/service"
	"divvi/internal/stores/clickhouse"
	"divvi/internal/stores/redis"
	"divvi/pkg/httputil"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *nats.Client

	chWriter *clickhouse.Writer

	// servers
	httpSrv *http.Server

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Adapters bundles the computation core shared by the server and the CLI:
// everything needed to turn (protocol, address, window) into a USD amount
// and to read the referral registry
type Adapters struct {
	Fetcher   *httputil.Client
	Indexers  *hypersync.Pool
	Index     *chain.Index
	RPC       *chain.RPCPool
	Prices    *prices.Service
	Protocols *protocols.Registry
	Referrals *referrals.Service
}

func BuildAdapters(lg logger.Logger, cfg *config.Config, c cache.Cache) (*Adapters, error) {
	opts := make([]httputil.Option, 0, 2)
	if cfg.Sources.HTTP.Timeout > 0 {
		opts = append(opts, httputil.WithTimeout(cfg.Sources.HTTP.Timeout))
	}
	if cfg.Sources.HTTP.MaxRetries > 0 {
		opts = append(opts, httputil.WithRetries(cfg.Sources.HTTP.MaxRetries, cfg.Sources.HTTP.RetryBackoff))
	}
	fetcher := httputil.NewClient(opts...)

	indexers := hypersync.NewPool(lg, fetcher, cfg.Sources.HyperSync)

	index, err := chain.NewIndex(lg, fetcher, c, indexers, cfg.Sources.BlockIndexURL)
	if err != nil {
		return nil, fmt.Errorf("block index: %w", err)
	}

	rpc, err := chain.DialRPCPool(lg, cfg.Sources.RPC)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}

	priceSvc, err := prices.NewService(lg, fetcher, c, cfg.Sources.PriceHistoryURL)
	if err != nil {
		return nil, fmt.Errorf("price service: %w", err)
	}

	registry, err := protocols.New(lg, protocols.Dependencies{
		Fetcher: fetcher,
		Index:   index,
		Pool:    indexers,
		State:   rpc,
		Prices:  priceSvc,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("protocol registry: %w", err)
	}

	contractRegistry, err := referrals.NewContractRegistry(lg, rpc, cfg.Protocols.Registry)
	if err != nil {
		return nil, fmt.Errorf("referral registry: %w", err)
	}

	filters := map[domain.Protocol]referrals.Filter{
		domain.ProtocolBeefy:  referrals.NewTimelineFilter(lg, registry.Beefy()),
		domain.ProtocolFonbnk: referrals.NewPayoutFilter(lg, registry.Fonbnk(), indexers, index),
	}
	if cfg.Protocols.Aerodrome.RouterAddress != "" {
		f, err := referrals.NewRouterFilter(lg, indexers, index,
			domain.NetworkID(cfg.Protocols.Aerodrome.NetworkID), cfg.Protocols.Aerodrome.RouterAddress)
		if err != nil {
			return nil, fmt.Errorf("aerodrome router filter: %w", err)
		}
		filters[domain.ProtocolAerodrome] = f
	}
	if cfg.Protocols.Velodrome.RouterAddress != "" {
		f, err := referrals.NewRouterFilter(lg, indexers, index,
			domain.NetworkID(cfg.Protocols.Velodrome.NetworkID), cfg.Protocols.Velodrome.RouterAddress)
		if err != nil {
			return nil, fmt.Errorf("velodrome router filter: %w", err)
		}
		filters[domain.ProtocolVelodrome] = f
	}

	return &Adapters{
		Fetcher:   fetcher,
		Indexers:  indexers,
		Index:     index,
		RPC:       rpc,
		Prices:    priceSvc,
		Protocols: registry,
		Referrals: referrals.NewService(lg, contractRegistry, filters),
	}, nil
}

// Build constructs the whole server image: infra clients, the computation
// core, the service layer and the HTTP server
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		Enabled:       cfg.Metrics.Pyroscope.Enabled,
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Metrics.Pyroscope.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope.ServerAddr,
		AuthToken:     cfg.Metrics.Pyroscope.AuthToken,
		Tags:          cfg.Metrics.Pyroscope.Tags,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize pyroscope: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	rdb, err := redis.New(ctx, &cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)

	// Memoization cache
	var memo cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		memo, err = cacheredis.NewCache(lg, &cfg.Cache, rdb)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
	default:
		memo = cache.NewMemory(lg, cfg.Cache.TTL, 0)
	}
	lg.Infof("Successfully initialize memoization cache, backend=%s", cfg.Cache.Backend)

	// Computation core
	adapters, err := BuildAdapters(lg, cfg, memo)
	if err != nil {
		return nil, nil, err
	}
	lg.Info("Successfully initialize protocol adapters")

	// NATS Broadcaster
	natsCl, err := nats.New(lg, &cfg.PubSub.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize nats client: %w", err)
	}
	lg.Infof("Successfully initialize nats client, url=%s", cfg.PubSub.NATS.URL)

	// ClickHouse Client
	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
	}
	url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
	lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

	// ClickHouse Writer
	chWriter := clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
	lg.Info("Successfully initialize clickhouse writer")

	// Service Layer
	checks := map[string]func(ctx context.Context) error{
		"redis":      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"clickhouse": func(ctx context.Context) error { return ch.Native.Ping(ctx) },
		"nats":       natsCl.Health,
	}
	revenueSvc := service.NewRevenueService(lg, adapters.Protocols, chWriter, natsCl, checks)
	referralSvc := service.NewReferralService(lg, adapters.Referrals)

	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		if verifier, err = security.NewRS256Verifier(&cfg.Security.JWT); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize jwt verifier: %w", err)
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	// HTTP Server
	httpSrv := http.NewServer(&http.ServerDeps{
		Logger:   lg,
		Cfg:      cfg,
		Rdb:      rdb,
		Handler:  handlers.NewHandler(lg, revenueSvc, referralSvc),
		Verifier: verifier,
	})
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		app:      NewApp(lg, httpSrv),
		redis:    rdb,
		ch:       ch,
		nc:       natsCl,
		chWriter: chWriter,
		httpSrv:  httpSrv,
		profiler: profiler,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err = c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		if err = httpSrv.Shutdown(ctxClean); err != nil {
			lg.Errorf("Failed to shutdown by cleanupF HTTP server: %v", err)
		}

		if err = chWriter.Close(ctxClean); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
		}

		if err = ch.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
		}

		if err = natsCl.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF nats client: %v", err)
		}

		if err = rdb.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF redis client: %v", err)
		}

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}
