package mock

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/leafsii/eusd-engine/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Generator is a random-walk price source for local runs and tests
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.Mutex
	basePrice  float64
	current    float64
	volatility float64
	interval   time.Duration
	health     prices.ProviderHealth
	rng        *rand.Rand
}

type Option func(*Generator)

// WithSeed makes the walk reproducible
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithInterval sets the live tick period
func WithInterval(d time.Duration) Option {
	return func(g *Generator) { g.interval = d }
}

func NewGenerator(logger *zap.SugaredLogger, basePrice, volatility float64, opts ...Option) *Generator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if basePrice <= 0 {
		basePrice = 0.05
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% per tick
	}

	g := &Generator{
		logger:     logger,
		basePrice:  basePrice,
		current:    basePrice,
		volatility: volatility,
		interval:   1500 * time.Millisecond,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Name() string {
	return "mock"
}

func (g *Generator) Health() prices.ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// LatestPrice advances the walk by one step
func (g *Generator) LatestPrice(_ context.Context, symbol string) (prices.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.step(symbol), nil
}

func (g *Generator) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Tick) error {
	g.logger.Infow("Starting mock live price feed", "symbol", symbol, "basePrice", g.basePrice)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.mu.Lock()
			tick := g.step(symbol)
			g.mu.Unlock()

			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}

// step must be called with mu held
func (g *Generator) step(symbol string) prices.Tick {
	g.current *= 1 + g.priceChange()

	// stay within ±50% of base
	if minPrice := g.basePrice * 0.5; g.current < minPrice {
		g.current = minPrice
	} else if maxPrice := g.basePrice * 1.5; g.current > maxPrice {
		g.current = maxPrice
	}

	g.health.LastSuccess = time.Now()
	return prices.Tick{
		Symbol: strings.ToUpper(symbol),
		Price:  decimal.NewFromFloat(g.current).Round(8),
		TsMs:   time.Now().UnixMilli(),
	}
}

func (g *Generator) priceChange() float64 {
	change := g.rng.NormFloat64() * g.volatility

	// occasional drift
	if g.rng.Float64() < 0.1 {
		change += (g.rng.Float64() - 0.5) * g.volatility * 2
	}

	maxChange := g.volatility * 5
	if change > maxChange {
		change = maxChange
	} else if change < -maxChange {
		change = -maxChange
	}
	return change
}

func (g *Generator) SetBasePrice(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price > 0 {
		g.basePrice = price
		g.current = price
	}
}
