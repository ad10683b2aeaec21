package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single trade or quote observed at a venue
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TsMs   int64           `json:"ts"` // milliseconds since epoch
}

func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TsMs).UTC()
}

// Provider is a source of base-asset USD prices for the oracle feeder
type Provider interface {
	// LatestPrice returns the most recent price and when it was observed
	LatestPrice(ctx context.Context, symbol string) (Tick, error)

	// SubscribeLive streams ticks into out until ctx ends or the feed breaks.
	// Sends never block; a full channel drops the tick.
	SubscribeLive(ctx context.Context, symbol string, out chan<- Tick) error

	Name() string

	Health() ProviderHealth
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Reconnects  int       `json:"reconnects"`
}
