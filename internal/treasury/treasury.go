package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidProfit = errors.New("invalid profit bucket")

// Deposit is one profit bundle received from a peg correction
type Deposit struct {
	Bucket engine.Bucket `json:"bucket"`
	At     time.Time     `json:"at"`
}

// Treasury accumulates arbitrage profit per asset
type Treasury struct {
	mu       sync.RWMutex
	balances map[engine.Asset]decimal.Decimal
	history  []Deposit
	limit    int

	clock  func() time.Time
	logger *zap.SugaredLogger
}

var _ engine.Treasury = (*Treasury)(nil)

// New keeps at most historyLimit deposits; older ones drop off the front
func New(historyLimit int, logger *zap.SugaredLogger) *Treasury {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Treasury{
		balances: make(map[engine.Asset]decimal.Decimal),
		limit:    historyLimit,
		clock:    time.Now,
		logger:   logger,
	}
}

func (t *Treasury) AcceptProfit(_ context.Context, profit engine.Bucket) error {
	switch {
	case profit.Asset != engine.AssetBase && profit.Asset != engine.AssetDerivative && profit.Asset != engine.AssetStable:
		return fmt.Errorf("%w: unknown asset %q", ErrInvalidProfit, profit.Asset)
	case !profit.Amount.IsPositive():
		return fmt.Errorf("%w: amount %s", ErrInvalidProfit, profit.Amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[profit.Asset] = t.balances[profit.Asset].Add(profit.Amount)
	t.history = append(t.history, Deposit{Bucket: profit, At: t.clock()})
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}

	t.logger.Infow("Profit received", "asset", profit.Asset, "amount", profit.Amount.String())
	return nil
}

func (t *Treasury) Balance(asset engine.Asset) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[asset]
}

func (t *Treasury) Balances() map[engine.Asset]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[engine.Asset]decimal.Decimal, len(t.balances))
	for k, v := range t.balances {
		out[k] = v
	}
	return out
}

// History returns the most recent deposits, newest last
func (t *Treasury) History() []Deposit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Deposit(nil), t.history...)
}
