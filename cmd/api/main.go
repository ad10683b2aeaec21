package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/leafsii/eusd-engine/internal/api"
	"github.com/leafsii/eusd-engine/internal/config"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/jobs"
	"github.com/leafsii/eusd-engine/internal/log"
	"github.com/leafsii/eusd-engine/internal/metrics"
	"github.com/leafsii/eusd-engine/internal/oracle"
	"github.com/leafsii/eusd-engine/internal/prices"
	"github.com/leafsii/eusd-engine/internal/repository"
	"github.com/leafsii/eusd-engine/internal/service"
	"github.com/leafsii/eusd-engine/internal/staking"
	"github.com/leafsii/eusd-engine/internal/store"
	"github.com/leafsii/eusd-engine/internal/treasury"
	"github.com/leafsii/eusd-engine/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting EUSD engine",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("eusd-engine")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	params, err := cfg.Params()
	if err != nil {
		logger.Fatalw("Invalid protocol parameters", "error", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer bootCancel()

	// Redis cache, falling back to memory
	cache, err := store.NewCache(cfg.Cache.RedisAddr, log.Named(logger, "cache"), metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	// Postgres journal and snapshots are optional in dev
	var repo *repository.Repository
	if cfg.Database.PostgresDSN != "" {
		db, err := repository.Open(bootCtx, cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to connect to database", "error", err)
		}
		repo = repository.NewRepository(db, log.Named(logger, "repository"))
		defer repo.Close()
		logger.Infow("Database connection established")
	} else {
		logger.Warnw("EUSD_POSTGRES_DSN not set; events and snapshots will not be persisted")
	}

	var (
		eventStore jobs.EventStore
		durable    jobs.SnapshotStore
		events     api.EventLister
	)
	if repo != nil {
		eventStore, durable, events = repo, repo, repo
	}

	// Collaborators
	stakingSvc, err := staking.New(cfg.StakingRate(), cfg.Staking.APY, nil, log.Named(logger, "staking"))
	if err != nil {
		logger.Fatalw("Failed to setup staking service", "error", err)
	}
	treasurySvc := treasury.New(1000, log.Named(logger, "treasury"))
	journal := jobs.NewJournal(eventStore, cache, 0, log.Named(logger, "journal"))

	eng, authority, err := engine.New(engine.Options{
		Params:   params,
		Secret:   []byte(cfg.Security.CapabilitySecret),
		Treasury: treasurySvc,
		Staking:  stakingSvc,
		Logger:   log.Named(logger, "engine"),
		Recorder: metricsObj,
		Sink:     journal,
	})
	if err != nil {
		logger.Fatalw("Failed to create engine", "error", err)
	}
	if cfg.Security.CapabilitySecret == "" {
		logger.Warnw("EUSD_CAPABILITY_SECRET not set; position tokens will not survive a restart")
	}

	if err := restoreLedger(bootCtx, eng, cache, repo, logger); err != nil {
		logger.Fatalw("Failed to restore ledger", "error", err)
	}

	if err := metricsObj.ObserveTCR(func() (float64, bool) {
		tcr, err := eng.TotalCollateralizationRatio()
		if err != nil {
			return 0, false
		}
		f, _ := tcr.Float64()
		return f, true
	}); err != nil {
		logger.Warnw("Failed to register TCR gauge", "error", err)
	}

	// EUSD_PRICE_SYMBOL may name a display pair such as XRD/USD
	symbol := prices.NewRegistry().Resolve(cfg.Prices.Symbol)

	// Oracle gateway and its signers
	gateway := oracle.NewGateway(eng, symbol, params.OracleStaleness, log.Named(logger, "oracle"),
		oracle.WithRecorder(metricsObj),
	)
	feederKey, err := registerOracleSigners(eng, authority, gateway, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to register oracle signers", "error", err)
	}

	// Read side and live updates
	protocolSvc := service.NewProtocolService(eng, cache, log.Named(logger, "protocol"))
	wsHub := ws.NewHub(cache,
		[]string{
			store.ChannelEvents,
			store.ChannelState,
			fmt.Sprintf("%s:%s", store.ChannelPrices, symbol),
		},
		cfg.Security.CORSAllowedOrigins,
		log.Named(logger, "ws"),
		metricsObj,
	)
	sseHandler := ws.NewSSEHandler(cache, log.Named(logger, "sse"))

	// Setup API handler and middleware
	opts := []api.HandlerOption{api.WithReadinessCheck("cache", cache)}
	if repo != nil {
		opts = append(opts, api.WithReadinessCheck("postgres", repo))
	}
	if cfg.Security.AdminToken != "" {
		opts = append(opts, api.WithAuthority(authority))
	} else {
		logger.Infow("EUSD_ADMIN_TOKEN not set; admin endpoints disabled")
	}
	handler := api.NewHandler(eng, protocolSvc, gateway, events, wsHub, sseHandler, log.Named(logger, "api"), opts...)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, api.RouteConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		AdminToken:     cfg.Security.AdminToken,
		MetricsHandler: metricsHandler,
	})

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Background jobs
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	g, gctx := errgroup.WithContext(bgCtx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(journal.Run(gctx))
	})

	snapshotter := jobs.NewSnapshotter(eng, cache, durable, jobs.SnapshotterConfig{
		Interval: cfg.Cache.SnapshotInterval,
		Keep:     jobs.DefaultSnapshotterConfig().Keep,
	}, log.Named(logger, "snapshotter"))
	g.Go(func() error {
		return ignoreCanceled(snapshotter.Start(gctx))
	})

	if feederKey != nil {
		feederConfig := jobs.DefaultOracleFeederConfig()
		feederConfig.ProviderType = cfg.Prices.Provider
		feederConfig.Symbol = symbol
		feederConfig.RetryInterval = cfg.Prices.RetryInterval
		feederConfig.MockVolatility = cfg.Prices.MockVolatility
		feederConfig.MockBasePrice = cfg.Prices.MockBasePrice
		// post well inside the staleness window
		if window := params.OracleStaleness / 4; window > 0 && window < feederConfig.PublishInterval {
			feederConfig.PublishInterval = window
		}

		feeder := jobs.NewOracleFeeder(gateway, feederKey, cache, log.Named(logger, "feeder"), feederConfig)
		g.Go(func() error {
			return ignoreCanceled(feeder.Start(gctx))
		})
	} else {
		logger.Infow("EUSD_ORACLE_FEEDER_KEY not set; expecting reports from external feeders")
	}

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket and SSE streams stay open; REST routes carry their own timeout
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorw("Server startup failed", "error", err)
	case err := <-waitErr(g):
		logger.Errorw("Background job failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("Graceful shutdown failed", "error", err)
		server.Close()
	}

	// Stop jobs after the server so the journal and last snapshot see every write
	bgCancel()
	if err := g.Wait(); err != nil {
		logger.Errorw("Background job stopped with error", "error", err)
	}

	logger.Infow("Server stopped")
}

// restoreLedger loads the newest snapshot, trying the cache before Postgres.
// An empty store leaves the engine waiting for bootstrap.
func restoreLedger(ctx context.Context, eng *engine.Engine, cache *store.Cache, repo *repository.Repository, logger *zap.SugaredLogger) error {
	snap, err := cache.LoadSnapshot(ctx)
	source := "cache"
	if err != nil && repo != nil {
		snap, err = repo.LatestSnapshot(ctx)
		source = "postgres"
	}
	switch {
	case errors.Is(err, store.ErrCacheMiss), errors.Is(err, repository.ErrNoSnapshot):
		logger.Infow("No ledger snapshot found; waiting for bootstrap")
		return nil
	case err != nil:
		return fmt.Errorf("load snapshot from %s: %w", source, err)
	}

	if err := eng.Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot from %s: %w", source, err)
	}
	logger.Infow("Ledger restored",
		"source", source,
		"positions", len(snap.Positions),
		"taken_at", snap.TakenAt,
	)
	return nil
}

// registerOracleSigners binds the configured feeder keys to oracle sources.
// Without a configured primary key the local feeder key signs as primary.
func registerOracleSigners(eng *engine.Engine, auth engine.Authority, gateway *oracle.Gateway, cfg *config.Config, logger *zap.SugaredLogger) (*secp256k1.PrivateKey, error) {
	var feederKey *secp256k1.PrivateKey
	if cfg.Oracle.FeederKey != "" {
		key, err := oracle.ParsePrivateKey(cfg.Oracle.FeederKey)
		if err != nil {
			return nil, fmt.Errorf("EUSD_ORACLE_FEEDER_KEY: %w", err)
		}
		feederKey = key
	}

	bind := func(rank engine.SourceRank, pub *secp256k1.PublicKey) error {
		src, err := eng.IssueOracleSource(auth, rank)
		if err != nil {
			return err
		}
		gateway.Register(pub, src)
		return nil
	}

	switch {
	case cfg.Oracle.PrimaryPubKey != "":
		pub, err := oracle.ParsePublicKey(cfg.Oracle.PrimaryPubKey)
		if err != nil {
			return nil, fmt.Errorf("EUSD_ORACLE_PRIMARY_PUBKEY: %w", err)
		}
		if err := bind(engine.SourcePrimary, pub); err != nil {
			return nil, err
		}
	case feederKey != nil:
		if err := bind(engine.SourcePrimary, feederKey.PubKey()); err != nil {
			return nil, err
		}
	}

	if cfg.Oracle.SecondaryPubKey != "" {
		pub, err := oracle.ParsePublicKey(cfg.Oracle.SecondaryPubKey)
		if err != nil {
			return nil, fmt.Errorf("EUSD_ORACLE_SECONDARY_PUBKEY: %w", err)
		}
		if err := bind(engine.SourceSecondary, pub); err != nil {
			return nil, err
		}
	}

	if gateway.Signers() == 0 {
		logger.Warnw("No oracle signers registered; the oracle will stay stale")
	}
	return feederKey, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// waitErr reports the first job failure. A clean stop never fires.
func waitErr(g *errgroup.Group) <-chan error {
	ch := make(chan error, 1)
	go func() {
		if err := g.Wait(); err != nil {
			ch <- err
		}
	}()
	return ch
}
