package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is the persisted form of the ledger. Flash state is never part of
// it since no flash outlives an operation.
type Snapshot struct {
	BasePool              decimal.Decimal `json:"base_pool"`
	DerivativePool        decimal.Decimal `json:"derivative_pool"`
	AssetsShareTotal      decimal.Decimal `json:"assets_share_total"`
	LiabilitiesShareTotal decimal.Decimal `json:"liabilities_share_total"`
	LiabilitiesValueTotal decimal.Decimal `json:"liabilities_value_total"`
	Supply                decimal.Decimal `json:"supply"`
	RedemptionRate        decimal.Decimal `json:"redemption_rate"`

	OraclePrice     decimal.Decimal `json:"oracle_price"`
	OracleUpdatedAt time.Time       `json:"oracle_updated_at"`
	OracleSource    SourceRank      `json:"oracle_source"`

	Params    Params     `json:"params"`
	Halted    bool       `json:"halted"`
	Positions []Position `json:"positions"`
	TakenAt   time.Time  `json:"taken_at"`
}

func (e *Engine) Snapshot() Snapshot {
	var s Snapshot
	e.read(func(l *ledger, now time.Time) {
		s = Snapshot{
			BasePool:              l.base,
			DerivativePool:        l.derivative,
			AssetsShareTotal:      l.assetsShares,
			LiabilitiesShareTotal: l.liabilityShares,
			LiabilitiesValueTotal: l.liabilityValue,
			Supply:                l.supply,
			RedemptionRate:        l.rate,
			OraclePrice:           l.oracle.price,
			OracleUpdatedAt:       l.oracle.updatedAt,
			OracleSource:          l.oracle.source,
			Params:                l.params,
			Halted:                l.halted,
			Positions:             make([]Position, 0, len(l.positions)),
			TakenAt:               now,
		}
		for _, p := range l.positions {
			s.Positions = append(s.Positions, *p)
		}
	})
	return s
}

// Restore loads a snapshot into an engine that has not been bootstrapped.
// Position shares must add up to the pool totals.
func (e *Engine) Restore(s Snapshot) error {
	if err := s.Params.Validate(); err != nil {
		return err
	}
	if !s.RedemptionRate.IsPositive() {
		return fmt.Errorf("snapshot redemption rate %s: %w", s.RedemptionRate, ErrInvalidAmount)
	}

	l := newLedger(s.Params)
	l.base = s.BasePool
	l.derivative = s.DerivativePool
	l.assetsShares = s.AssetsShareTotal
	l.liabilityShares = s.LiabilitiesShareTotal
	l.liabilityValue = s.LiabilitiesValueTotal
	l.supply = s.Supply
	l.rate = s.RedemptionRate
	l.oracle = oracleState{price: s.OraclePrice, updatedAt: s.OracleUpdatedAt, source: s.OracleSource}
	l.halted = s.Halted

	collateral, debt := decimal.Zero, decimal.Zero
	for i := range s.Positions {
		p := s.Positions[i]
		if p.ID == uuid.Nil {
			return fmt.Errorf("snapshot position %d has no id: %w", i, ErrLedgerCorrupted)
		}
		if p.CollateralShares.IsNegative() || p.DebtShares.IsNegative() {
			return fmt.Errorf("snapshot position %s has negative shares: %w", p.ID, ErrLedgerCorrupted)
		}
		collateral = collateral.Add(p.CollateralShares)
		debt = debt.Add(p.DebtShares)
		l.positions[p.ID] = &p
	}
	if !collateral.Equal(l.assetsShares) || !debt.Equal(l.liabilityShares) {
		return fmt.Errorf("position shares %s/%s do not match totals %s/%s: %w",
			collateral, debt, l.assetsShares, l.liabilityShares, ErrLedgerCorrupted)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.bootstrapped() {
		return ErrAlreadyBootstrapped
	}
	e.st = l
	e.logger.Infow("Ledger restored from snapshot", "positions", len(l.positions), "taken_at", s.TakenAt)
	return nil
}
