package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/store"
	"go.uber.org/zap"
)

// EventStore persists journal entries. repository.Repository satisfies it.
type EventStore interface {
	StoreEvents(ctx context.Context, events []engine.Event) error
}

// Publisher fans messages out to live subscribers. store.Cache satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Journal is the engine's event sink. Publish only enqueues; Run drains the
// queue into Postgres and the events channel. When the queue is full the
// batch is dropped and counted.
type Journal struct {
	queue     chan []engine.Event
	store     EventStore
	publisher Publisher
	logger    *zap.SugaredLogger
	dropped   atomic.Int64
}

var _ engine.EventSink = (*Journal)(nil)

// NewJournal buffers up to depth batches. store or publisher may be nil.
func NewJournal(store EventStore, publisher Publisher, depth int, logger *zap.SugaredLogger) *Journal {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if depth <= 0 {
		depth = 1024
	}
	return &Journal{
		queue:     make(chan []engine.Event, depth),
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

func (j *Journal) Publish(_ context.Context, events []engine.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case j.queue <- events:
	default:
		j.dropped.Add(int64(len(events)))
		j.logger.Warnw("Journal queue full, dropping events", "events", len(events))
	}
}

// Dropped reports how many events were lost to a full queue
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) Run(ctx context.Context) error {
	j.logger.Infow("Journal started")
	for {
		select {
		case <-ctx.Done():
			j.drain()
			j.logger.Infow("Journal stopped")
			return ctx.Err()
		case events := <-j.queue:
			j.write(ctx, events)
		}
	}
}

// drain flushes what is already queued on shutdown
func (j *Journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case events := <-j.queue:
			j.write(ctx, events)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, events []engine.Event) {
	if j.store != nil {
		if err := j.store.StoreEvents(ctx, events); err != nil {
			j.logger.Errorw("Failed to persist events", "events", len(events), "txn", events[0].TxnID, "error", err)
		}
	}
	if j.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := j.publisher.Publish(ctx, store.ChannelEvents, ev); err != nil {
			j.logger.Warnw("Failed to publish event", "id", ev.ID, "kind", ev.Kind, "error", err)
		}
	}
}
