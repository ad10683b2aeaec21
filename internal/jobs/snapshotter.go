package jobs

import (
	"context"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the read side of the engine the snapshotter needs
type Ledger interface {
	Snapshot() engine.Snapshot
	State() engine.State
	TotalCollateralizationRatio() (decimal.Decimal, error)
}

// SnapshotCache is the fast-path store. store.Cache satisfies it.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, s engine.Snapshot) error
	SetState(ctx context.Context, s engine.State) error
	Publish(ctx context.Context, channel string, message interface{}) error
}

// SnapshotStore is the durable store. repository.Repository satisfies it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s engine.Snapshot, tcr *decimal.Decimal) error
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

type SnapshotterConfig struct {
	Interval time.Duration
	Keep     int // durable snapshots retained
}

func DefaultSnapshotterConfig() SnapshotterConfig {
	return SnapshotterConfig{
		Interval: 30 * time.Second,
		Keep:     2880,
	}
}

// Snapshotter periodically exports the ledger to the cache and Postgres
// and publishes the current state view.
type Snapshotter struct {
	ledger  Ledger
	cache   SnapshotCache
	durable SnapshotStore
	config  SnapshotterConfig
	logger  *zap.SugaredLogger
}

// NewSnapshotter builds a snapshotter. cache or durable may be nil.
func NewSnapshotter(ledger Ledger, cache SnapshotCache, durable SnapshotStore, config SnapshotterConfig, logger *zap.SugaredLogger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSnapshotterConfig().Interval
	}
	return &Snapshotter{
		ledger:  ledger,
		cache:   cache,
		durable: durable,
		config:  config,
		logger:  logger,
	}
}

func (s *Snapshotter) Start(ctx context.Context) error {
	s.logger.Infow("Starting snapshotter", "interval", s.config.Interval)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// one last export so a restart loses nothing committed
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.RunOnce(flushCtx)
			cancel()
			s.logger.Infow("Snapshotter stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce exports one snapshot. Failures are logged; the next tick retries.
func (s *Snapshotter) RunOnce(ctx context.Context) {
	snap := s.ledger.Snapshot()
	state := s.ledger.State()

	if s.cache != nil {
		if err := s.cache.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warnw("Failed to cache snapshot", "error", err)
		}
		if err := s.cache.SetState(ctx, state); err != nil {
			s.logger.Warnw("Failed to cache state", "error", err)
		}
		if err := s.cache.Publish(ctx, store.ChannelState, state); err != nil {
			s.logger.Warnw("Failed to publish state", "error", err)
		}
	}

	if s.durable == nil {
		return
	}

	var tcr *decimal.Decimal
	if v, err := s.ledger.TotalCollateralizationRatio(); err == nil {
		tcr = &v
	}
	if err := s.durable.SaveSnapshot(ctx, snap, tcr); err != nil {
		s.logger.Errorw("Failed to persist snapshot", "error", err)
		return
	}
	if s.config.Keep > 0 {
		pruned, err := s.durable.PruneSnapshots(ctx, s.config.Keep)
		if err != nil {
			s.logger.Warnw("Failed to prune snapshots", "error", err)
		} else if pruned > 0 {
			s.logger.Debugw("Pruned snapshots", "count", pruned)
		}
	}
}
