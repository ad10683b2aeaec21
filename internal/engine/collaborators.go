package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// Treasury receives arbitrage profit forwarded by choke
type Treasury interface {
	AcceptProfit(ctx context.Context, profit Bucket) error
}

// Staking is the liquid-staking service behind the derivative asset
type Staking interface {
	ConvertBaseToDerivative(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	CurrentRedemptionRate(ctx context.Context) (decimal.Decimal, error)
}

// Recorder receives operational measurements. metrics.Metrics satisfies it.
type Recorder interface {
	RecordOperation(ctx context.Context, op string, err error)
	RecordLiquidation(ctx context.Context, seized, writtenOff decimal.Decimal)
	RecordCorrection(ctx context.Context, direction Direction, amount decimal.Decimal)
	RecordFlash(ctx context.Context, kind FlashKind, size decimal.Decimal)
}

// EventSink receives the journal of every committed operation.
// Publish must not block on slow consumers.
type EventSink interface {
	Publish(ctx context.Context, events []Event)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(context.Context, string, error) {}

func (nopRecorder) RecordLiquidation(context.Context, decimal.Decimal, decimal.Decimal) {}

func (nopRecorder) RecordCorrection(context.Context, Direction, decimal.Decimal) {}

func (nopRecorder) RecordFlash(context.Context, FlashKind, decimal.Decimal) {}
