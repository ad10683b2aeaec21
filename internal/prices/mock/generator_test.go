package mock

import (
	"context"
	"testing"
	"time"

	"github.com/leafsii/eusd-engine/internal/prices"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestPrice_StaysInBand(t *testing.T) {
	g := NewGenerator(nil, 0.05, 0.2, WithSeed(7))
	low, high := decimal.NewFromFloat(0.025), decimal.NewFromFloat(0.075)

	for i := 0; i < 500; i++ {
		tick, err := g.LatestPrice(context.Background(), "xrdusdt")
		require.NoError(t, err)
		assert.Equal(t, "XRDUSDT", tick.Symbol)
		assert.True(t, tick.Price.GreaterThanOrEqual(low) && tick.Price.LessThanOrEqual(high), tick.Price.String())
	}
	assert.True(t, g.Health().Healthy)
}

func TestLatestPrice_Reproducible(t *testing.T) {
	a := NewGenerator(nil, 1, 0.01, WithSeed(42))
	b := NewGenerator(nil, 1, 0.01, WithSeed(42))
	for i := 0; i < 10; i++ {
		ta, _ := a.LatestPrice(context.Background(), "X")
		tb, _ := b.LatestPrice(context.Background(), "X")
		assert.True(t, ta.Price.Equal(tb.Price))
	}
}

func TestSubscribeLive(t *testing.T) {
	g := NewGenerator(nil, 0.05, 0.002, WithSeed(1), WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan prices.Tick, 8)
	done := make(chan error, 1)
	go func() { done <- g.SubscribeLive(ctx, "XRDUSDT", out) }()

	tick := <-out
	assert.True(t, tick.Price.IsPositive())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
