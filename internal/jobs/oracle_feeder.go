package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/leafsii/eusd-engine/internal/oracle"
	"github.com/leafsii/eusd-engine/internal/prices"
	"github.com/leafsii/eusd-engine/internal/prices/binance"
	"github.com/leafsii/eusd-engine/internal/prices/mock"
	"github.com/leafsii/eusd-engine/internal/store"
	"go.uber.org/zap"
)

// ReportSubmitter accepts signed oracle reports. oracle.Gateway satisfies it.
type ReportSubmitter interface {
	Submit(ctx context.Context, report oracle.SignedReport) error
}

type OracleFeederConfig struct {
	ProviderType    string        // "binance" or "mock"
	Symbol          string        // provider symbol, e.g. XRDUSDT
	RetryInterval   time.Duration // wait before resubscribing or probing the primary provider
	PublishInterval time.Duration // minimum spacing between signed reports
	TTL             time.Duration // cache TTL for the latest tick
	MockVolatility  float64
	MockBasePrice   float64
}

func DefaultOracleFeederConfig() OracleFeederConfig {
	return OracleFeederConfig{
		ProviderType:    "binance",
		Symbol:          "XRDUSDT",
		RetryInterval:   5 * time.Second,
		PublishInterval: 30 * time.Second,
		TTL:             time.Minute,
		MockVolatility:  0.002,
		MockBasePrice:   0.05,
	}
}

// OracleFeeder follows a venue price, signs it as an oracle report and
// submits it. When the venue fails it falls back to the mock walk seeded
// with the last real price, and switches back once the venue answers again.
type OracleFeeder struct {
	provider     prices.Provider
	mockProvider *mock.Generator
	submitter    ReportSubmitter
	key          *secp256k1.PrivateKey
	cache        *store.Cache
	logger       *zap.SugaredLogger
	config       OracleFeederConfig

	mu         sync.RWMutex
	usingMock  bool
	lastPosted time.Time
	lastTick   prices.Tick
	restart    chan struct{}
}

func NewOracleFeeder(submitter ReportSubmitter, key *secp256k1.PrivateKey, cache *store.Cache, logger *zap.SugaredLogger, config OracleFeederConfig) *OracleFeeder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mockProvider := mock.NewGenerator(logger, config.MockBasePrice, config.MockVolatility)

	var provider prices.Provider
	switch config.ProviderType {
	case "mock":
		provider = mockProvider
	default:
		provider = binance.NewProvider(logger)
	}

	return NewOracleFeederWithProvider(provider, mockProvider, submitter, key, cache, logger, config)
}

// NewOracleFeederWithProvider wires explicit providers
func NewOracleFeederWithProvider(provider prices.Provider, fallback *mock.Generator, submitter ReportSubmitter, key *secp256k1.PrivateKey, cache *store.Cache, logger *zap.SugaredLogger, config OracleFeederConfig) *OracleFeeder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &OracleFeeder{
		provider:     provider,
		mockProvider: fallback,
		submitter:    submitter,
		key:          key,
		cache:        cache,
		logger:       logger,
		config:       config,
		restart:      make(chan struct{}, 1),
	}
}

func (f *OracleFeeder) Start(ctx context.Context) error {
	f.logger.Infow("Starting oracle feeder",
		"provider", f.provider.Name(),
		"symbol", f.config.Symbol,
		"publishInterval", f.config.PublishInterval,
	)

	ticks := make(chan prices.Tick, 100)
	go f.subscribeLoop(ctx, ticks)

	retryTicker := time.NewTicker(f.config.RetryInterval)
	defer retryTicker.Stop()
	publishTicker := time.NewTicker(f.config.PublishInterval)
	defer publishTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Infow("Oracle feeder stopping")
			return ctx.Err()

		case tick := <-ticks:
			f.processTick(ctx, tick)

		case <-publishTicker.C:
			// keep the oracle fresh when the venue is quiet
			f.pollLatest(ctx)

		case <-retryTicker.C:
			f.checkProviderHealth(ctx)
		}
	}
}

func (f *OracleFeeder) subscribeLoop(ctx context.Context, out chan<- prices.Tick) {
	for {
		subCtx, cancel := context.WithCancel(ctx)
		provider := f.currentProvider()
		done := make(chan error, 1)
		go func() { done <- provider.SubscribeLive(subCtx, f.config.Symbol, out) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-f.restart:
			cancel()
			<-done
			continue
		case err := <-done:
			cancel()
			f.logger.Warnw("Live subscription failed", "symbol", f.config.Symbol, "provider", provider.Name(), "error", err)
			if provider.Name() != "mock" {
				f.switchToMock("live subscription failed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.config.RetryInterval):
		}
	}
}

func (f *OracleFeeder) processTick(ctx context.Context, tick prices.Tick) {
	f.mu.Lock()
	f.lastTick = tick
	due := f.lastPosted.IsZero() || time.Since(f.lastPosted) >= f.config.PublishInterval
	f.mu.Unlock()

	if f.cache != nil {
		channel := fmt.Sprintf("%s:%s", store.ChannelPrices, tick.Symbol)
		if err := f.cache.Set(ctx, channel, tick, f.config.TTL); err != nil {
			f.logger.Warnw("Failed to cache tick", "symbol", tick.Symbol, "error", err)
		}
		if err := f.cache.Publish(ctx, channel, tick); err != nil {
			f.logger.Warnw("Failed to publish tick", "symbol", tick.Symbol, "error", err)
		}
	}

	if due {
		f.post(ctx, tick)
	}
}

func (f *OracleFeeder) pollLatest(ctx context.Context) {
	f.mu.RLock()
	fresh := !f.lastPosted.IsZero() && time.Since(f.lastPosted) < f.config.PublishInterval
	f.mu.RUnlock()
	if fresh {
		return
	}

	tick, err := f.currentProvider().LatestPrice(ctx, f.config.Symbol)
	if err != nil {
		f.logger.Warnw("Failed to poll latest price", "symbol", f.config.Symbol, "error", err)
		return
	}
	f.processTick(ctx, tick)
}

// post signs the tick with the current time so a venue clock that lags
// ours never makes the report look stale
func (f *OracleFeeder) post(ctx context.Context, tick prices.Tick) {
	report, err := oracle.Sign(oracle.Report{
		Symbol:    f.config.Symbol,
		Price:     tick.Price,
		Timestamp: time.Now(),
	}, f.key)
	if err != nil {
		f.logger.Warnw("Failed to sign oracle report", "error", err)
		return
	}

	if err := f.submitter.Submit(ctx, report); err != nil {
		f.logger.Warnw("Oracle report not accepted", "price", tick.Price.String(), "error", err)
		return
	}

	f.mu.Lock()
	f.lastPosted = time.Now()
	f.mu.Unlock()
	f.logger.Debugw("Oracle report posted", "price", tick.Price.String())
}

func (f *OracleFeeder) currentProvider() prices.Provider {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.usingMock {
		return f.mockProvider
	}
	return f.provider
}

func (f *OracleFeeder) UsingMock() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.usingMock
}

func (f *OracleFeeder) switchToMock(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingMock || f.provider == prices.Provider(f.mockProvider) {
		return
	}

	f.usingMock = true
	f.logger.Warnw("Switching to mock provider", "reason", reason, "provider", f.provider.Name())
	if f.lastTick.Price.IsPositive() {
		f.mockProvider.SetBasePrice(f.lastTick.Price.InexactFloat64())
	}
}

func (f *OracleFeeder) checkProviderHealth(ctx context.Context) {
	if !f.UsingMock() {
		if health := f.provider.Health(); !health.Healthy {
			f.logger.Warnw("Primary provider unhealthy",
				"provider", f.provider.Name(),
				"lastError", health.LastError,
				"reconnects", health.Reconnects,
			)
			f.switchToMock("provider health check failed")
			f.requestRestart()
		}
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, f.config.RetryInterval)
	defer cancel()
	if _, err := f.provider.LatestPrice(probeCtx, f.config.Symbol); err != nil {
		return
	}

	f.mu.Lock()
	f.usingMock = false
	f.mu.Unlock()
	f.logger.Infow("Primary provider recovered, switching back", "provider", f.provider.Name())
	f.requestRestart()
}

func (f *OracleFeeder) requestRestart() {
	select {
	case f.restart <- struct{}{}:
	default:
	}
}
