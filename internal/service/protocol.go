package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Health reasons
const (
	ReasonOracleStale      = "ORACLE_STALE"
	ReasonTCRBelowMCR      = "TCR_BELOW_MCR"
	ReasonHalted           = "HALTED"
	ReasonPegDeviationHigh = "PEG_DEVIATION_HIGH"
)

// Ledger is the read side of the engine
type Ledger interface {
	State() engine.State
	Position(id uuid.UUID) (engine.Position, error)
}

type ProtocolHealth struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons"`
}

// PositionView is a position with its current valuation. Values are zero
// and Priced is false while the oracle is stale.
type PositionView struct {
	engine.Position
	CollateralValue decimal.Decimal `json:"collateral_value_usd"`
	DebtValue       decimal.Decimal `json:"debt_value"`
	Ratio           decimal.Decimal `json:"ratio"`
	Priced          bool            `json:"priced"`
}

type spotObservation struct {
	price decimal.Decimal
	at    time.Time
}

// ProtocolService serves ledger reads through the cache and dedupes
// concurrent misses.
type ProtocolService struct {
	ledger Ledger
	cache  *store.Cache
	logger *zap.SugaredLogger
	sf     singleflight.Group

	mu       sync.Mutex
	lastSpot spotObservation
	spotTTL  time.Duration
}

func NewProtocolService(ledger Ledger, cache *store.Cache, logger *zap.SugaredLogger) *ProtocolService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ProtocolService{
		ledger:  ledger,
		cache:   cache,
		logger:  logger,
		spotTTL: 5 * time.Minute,
	}
}

func (s *ProtocolService) GetState(ctx context.Context) (*engine.State, error) {
	result, err, _ := s.sf.Do("ledger-state", func() (interface{}, error) {
		return s.getStateInternal(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*engine.State), nil
}

func (s *ProtocolService) getStateInternal(ctx context.Context) (*engine.State, error) {
	if s.cache != nil {
		var cached engine.State
		if err := s.cache.GetState(ctx, &cached); err == nil {
			return &cached, nil
		}
	}

	state := s.ledger.State()
	if s.cache != nil {
		if err := s.cache.SetState(ctx, state); err != nil {
			s.logger.Warnw("Failed to cache ledger state", "error", err)
		}
	}
	return &state, nil
}

// ObserveSpot remembers the last venue price seen by a peg check
func (s *ProtocolService) ObserveSpot(spot decimal.Decimal) {
	s.mu.Lock()
	s.lastSpot = spotObservation{price: spot, at: time.Now()}
	s.mu.Unlock()
}

func (s *ProtocolService) GetHealth(ctx context.Context) (*ProtocolHealth, error) {
	state, err := s.GetState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger state for health check: %w", err)
	}

	reasons := []string{}
	if state.Halted {
		reasons = append(reasons, ReasonHalted)
	}
	if !state.OracleFresh {
		reasons = append(reasons, ReasonOracleStale)
	} else if state.LiabilitiesValueTotal.IsPositive() && state.TCR.LessThan(state.Params.MCR) {
		reasons = append(reasons, ReasonTCRBelowMCR)
	}
	if s.pegDeviationHigh(state) {
		reasons = append(reasons, ReasonPegDeviationHigh)
	}

	status := "ok"
	for _, reason := range reasons {
		switch reason {
		case ReasonOracleStale, ReasonTCRBelowMCR, ReasonHalted:
			status = "danger"
		default:
			if status == "ok" {
				status = "warn"
			}
		}
	}
	return &ProtocolHealth{Status: status, Reasons: reasons}, nil
}

// pegDeviationHigh compares the last venue spot, expressed in USD per
// stablecoin, against the upper tolerance band
func (s *ProtocolService) pegDeviationHigh(state *engine.State) bool {
	s.mu.Lock()
	spot := s.lastSpot
	s.mu.Unlock()

	if spot.at.IsZero() || time.Since(spot.at) > s.spotTTL || !state.OracleFresh {
		return false
	}
	pair := calc.PairOraclePrice(state.OraclePrice, state.RedemptionRate)
	if !pair.IsPositive() || !spot.price.IsPositive() {
		return false
	}
	stablePrice := pair.Div(spot.price)
	tolerance := state.Params.UpperBound.Sub(decimal.NewFromInt(1))
	return calc.PegDeviation(stablePrice).GreaterThan(tolerance)
}

func (s *ProtocolService) GetPosition(ctx context.Context, id uuid.UUID) (*PositionView, error) {
	var pos engine.Position
	cached := false
	if s.cache != nil {
		if err := s.cache.GetPosition(ctx, id.String(), &pos); err == nil {
			cached = true
		}
	}
	if !cached {
		var err error
		if pos, err = s.ledger.Position(id); err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetPosition(ctx, pos); err != nil {
				s.logger.Warnw("Failed to cache position", "id", id, "error", err)
			}
		}
	}

	state, err := s.GetState(ctx)
	if err != nil {
		return nil, err
	}

	view := &PositionView{Position: pos}
	view.DebtValue = calc.ValueOf(pos.DebtShares, state.DebtSharePrice)
	if state.OracleFresh {
		view.CollateralValue = calc.ValueOf(pos.CollateralShares, state.CollateralSharePriceUSD)
		view.Ratio = calc.CollateralRatio(view.CollateralValue, view.DebtValue)
		view.Priced = true
	}
	return view, nil
}

// Invalidate drops cached reads after a write. Positions are the ones the
// write touched; the ledger state is always dropped.
func (s *ProtocolService) Invalidate(ctx context.Context, positions ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	keys := []string{store.KeyLedgerState}
	for _, id := range positions {
		if id != uuid.Nil {
			keys = append(keys, fmt.Sprintf("%s:%s", store.KeyPosition, id))
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warnw("Failed to invalidate cache", "keys", keys, "error", err)
	}
}
