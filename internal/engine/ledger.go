package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

type oracleState struct {
	price     decimal.Decimal
	updatedAt time.Time
	source    SourceRank
}

// ledger is the single state record every component reads and writes.
// It is only touched under Engine.mu.
type ledger struct {
	base       decimal.Decimal
	derivative decimal.Decimal

	assetsShares    decimal.Decimal
	liabilityShares decimal.Decimal
	liabilityValue  decimal.Decimal
	supply          decimal.Decimal

	rate   decimal.Decimal
	oracle oracleState
	params Params

	halted     bool
	loanActive bool
	mintActive bool

	positions map[uuid.UUID]*Position
}

func newLedger(params Params) *ledger {
	return &ledger{
		rate:      one,
		params:    params,
		positions: make(map[uuid.UUID]*Position),
	}
}

func (l *ledger) clone() *ledger {
	c := *l
	c.positions = make(map[uuid.UUID]*Position, len(l.positions))
	for id, p := range l.positions {
		cp := *p
		c.positions[id] = &cp
	}
	return &c
}

func (l *ledger) bootstrapped() bool {
	return l.assetsShares.IsPositive() || l.liabilityShares.IsPositive()
}

func (l *ledger) position(id uuid.UUID) (*Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
	}
	return p, nil
}

func (l *ledger) guardedOracle(now time.Time) (decimal.Decimal, bool) {
	if l.oracle.updatedAt.IsZero() {
		return decimal.Zero, false
	}
	if err := calc.ValidateOracleAge(l.oracle.updatedAt, now, l.params.OracleStaleness); err != nil {
		return decimal.Zero, false
	}
	return l.oracle.price, true
}

func (l *ledger) freshOracle(now time.Time) (decimal.Decimal, error) {
	price, ok := l.guardedOracle(now)
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle last updated %s: %w", l.oracle.updatedAt.Format(time.RFC3339), ErrStaleOracle)
	}
	return price, nil
}

func (l *ledger) collateralValueBase() decimal.Decimal {
	return calc.CollateralValueBase(l.base, l.derivative, l.rate)
}

func (l *ledger) collateralValueUSD(now time.Time) (decimal.Decimal, error) {
	price, err := l.freshOracle(now)
	if err != nil {
		return decimal.Zero, err
	}
	return l.collateralValueBase().Mul(price), nil
}

func (l *ledger) collateralSharePriceBase() decimal.Decimal {
	return calc.SharePrice(l.collateralValueBase(), l.assetsShares, one)
}

func (l *ledger) collateralSharePriceUSD(now time.Time) (decimal.Decimal, error) {
	price, err := l.freshOracle(now)
	if err != nil {
		return decimal.Zero, err
	}
	if l.assetsShares.IsZero() {
		return price, nil
	}
	return l.collateralValueBase().Mul(price).Div(l.assetsShares), nil
}

func (l *ledger) debtSharePrice() decimal.Decimal {
	return calc.SharePrice(l.liabilityValue, l.liabilityShares, one)
}

func (l *ledger) totalCollateralizationRatio(now time.Time) (decimal.Decimal, error) {
	value, err := l.collateralValueUSD(now)
	if err != nil {
		return decimal.Zero, err
	}
	return calc.CollateralRatio(value, l.liabilityValue), nil
}

// positionValues returns a position's collateral USD value and debt value at live prices
func (l *ledger) positionValues(p *Position, now time.Time) (collateral, debt decimal.Decimal, err error) {
	csp, err := l.collateralSharePriceUSD(now)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return calc.ValueOf(p.CollateralShares, csp), calc.ValueOf(p.DebtShares, l.debtSharePrice()), nil
}

func (l *ledger) checkSolvent(collateralShares, debtShares decimal.Decimal, now time.Time) error {
	if debtShares.IsZero() {
		return nil
	}
	csp, err := l.collateralSharePriceUSD(now)
	if err != nil {
		return err
	}
	collateral := calc.ValueOf(collateralShares, csp)
	debt := calc.ValueOf(debtShares, l.debtSharePrice())
	if !calc.MeetsRatio(collateral, debt, l.params.MCR) {
		ratio := calc.CollateralRatio(collateral, debt)
		return fmt.Errorf("%w: %v", ErrBelowMinimumCollateralization, calc.ValidateCRConstraint(ratio, l.params.MCR))
	}
	return nil
}

func (l *ledger) state(now time.Time) State {
	s := State{
		BasePool:                 l.base,
		DerivativePool:           l.derivative,
		AssetsShareTotal:         l.assetsShares,
		LiabilitiesShareTotal:    l.liabilityShares,
		LiabilitiesValueTotal:    l.liabilityValue,
		Supply:                   l.supply,
		RedemptionRate:           l.rate,
		OraclePrice:              l.oracle.price,
		OracleUpdatedAt:          l.oracle.updatedAt,
		CollateralValueBase:      l.collateralValueBase(),
		CollateralSharePriceBase: l.collateralSharePriceBase(),
		DebtSharePrice:           l.debtSharePrice(),
		Params:                   l.params,
		Halted:                   l.halted,
		LoanActive:               l.loanActive,
		MintActive:               l.mintActive,
		Positions:                len(l.positions),
		AsOf:                     now,
	}

	if _, ok := l.guardedOracle(now); ok {
		s.OracleFresh = true
		s.CollateralValueUSD, _ = l.collateralValueUSD(now)
		s.CollateralSharePriceUSD, _ = l.collateralSharePriceUSD(now)
		s.TCR, _ = l.totalCollateralizationRatio(now)
	}
	return s
}

// retireDebt takes shares and their value out of the liability pool.
// The last shares out take whatever value is left.
func (l *ledger) retireDebt(shares, value decimal.Decimal) {
	l.liabilityShares = sub("liabilities_share_total", l.liabilityShares, shares)
	if l.liabilityShares.IsZero() || value.GreaterThan(l.liabilityValue) {
		l.liabilityValue = decimal.Zero
		return
	}
	l.liabilityValue = l.liabilityValue.Sub(value)
}

// sub subtracts b from a and treats a negative result as ledger corruption
func sub(what string, a, b decimal.Decimal) decimal.Decimal {
	r := a.Sub(b)
	if r.IsNegative() {
		panic(fmt.Sprintf("%s underflow: %s - %s", what, a, b))
	}
	return r
}
