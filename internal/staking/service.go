package staking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const year = 365 * 24 * time.Hour

var ErrInvalidStake = errors.New("invalid stake amount")

// Service stands in for the liquid-staking validator. The redemption rate
// compounds the configured APY from the moment the service starts, so it
// never decreases.
type Service struct {
	mu     sync.Mutex
	start  decimal.Decimal
	apy    float64
	anchor time.Time
	clock  func() time.Time
	logger *zap.SugaredLogger

	staked   decimal.Decimal
	issued   decimal.Decimal
	lastRate decimal.Decimal
}

func New(rate decimal.Decimal, apy float64, clock func() time.Time, logger *zap.SugaredLogger) (*Service, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("staking: redemption rate must be positive, got %s", rate)
	}
	if apy < 0 || math.IsNaN(apy) || math.IsInf(apy, 0) {
		return nil, fmt.Errorf("staking: apy must be a non-negative number, got %v", apy)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		start:    rate,
		apy:      apy,
		anchor:   clock(),
		clock:    clock,
		logger:   logger,
		staked:   decimal.Zero,
		issued:   decimal.Zero,
		lastRate: rate,
	}, nil
}

func (s *Service) rate() decimal.Decimal {
	elapsed := s.clock().Sub(s.anchor)
	if elapsed <= 0 || s.apy == 0 {
		return s.lastRate
	}
	growth := math.Pow(1+s.apy, elapsed.Hours()/year.Hours())
	r := s.start.Mul(decimal.NewFromFloat(growth)).Round(12)
	// float rounding must not move the rate backwards
	if r.GreaterThan(s.lastRate) {
		s.lastRate = r
	}
	return s.lastRate
}

// CurrentRedemptionRate is the base asset one derivative unit redeems for
func (s *Service) CurrentRedemptionRate(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate(), nil
}

// ConvertBaseToDerivative stakes base and returns the derivative minted for it
func (s *Service) ConvertBaseToDerivative(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidStake, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rate := s.rate()
	out := amount.Div(rate)
	s.staked = s.staked.Add(amount)
	s.issued = s.issued.Add(out)

	s.logger.Debugw("Base staked", "amount", amount.String(), "derivative", out.String(), "rate", rate.String())
	return out, nil
}

// Totals reports the base staked and derivative issued since start
func (s *Service) Totals() (staked, issued decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staked, s.issued
}
