package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

// Validate rejects parameter sets the ledger cannot operate under
func (p Params) Validate() error {
	checks := []error{
		calc.ValidateRatio("ep", p.EP),
		calc.ValidateRatio("mcr", p.MCR),
		calc.ValidateRatio("bp", p.BP),
		calc.ValidatePegBounds(p.LowerBound, p.UpperBound),
		calc.ValidateFlashFee(p.FlashFee),
	}
	for _, err := range checks {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParam, err)
		}
	}

	if !p.MaxMint.IsPositive() {
		return fmt.Errorf("%w: max_mint must be positive", ErrInvalidParam)
	}
	if !p.BootstrapDebt.IsPositive() {
		return fmt.Errorf("%w: bootstrap_debt must be positive", ErrInvalidParam)
	}
	if p.OpenFee.IsNegative() || p.DustFloor.IsNegative() {
		return fmt.Errorf("%w: open_fee and dust_floor cannot be negative", ErrInvalidParam)
	}
	if p.Incentive.IsNegative() || p.Incentive.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: incentive must be in [0, 1)", ErrInvalidParam)
	}
	if p.OracleStaleness <= 0 || p.OracleFailover <= 0 {
		return fmt.Errorf("%w: oracle windows must be positive", ErrInvalidParam)
	}
	return nil
}

func (p *Params) set(idx ParamIndex, value decimal.Decimal) error {
	switch idx {
	case ParamEP:
		p.EP = value
	case ParamMCR:
		p.MCR = value
	case ParamBP:
		p.BP = value
	case ParamLowerBound:
		p.LowerBound = value
	case ParamUpperBound:
		p.UpperBound = value
	case ParamMaxMint:
		p.MaxMint = value
	case ParamFlashFee:
		p.FlashFee = value
	default:
		return fmt.Errorf("%w: unknown index %d", ErrInvalidParam, int(idx))
	}
	return nil
}

// SetParam changes one adjustable parameter. The full set is re-validated.
func (tx *Txn) SetParam(auth Authority, idx ParamIndex, value decimal.Decimal) error {
	if err := tx.open(); err != nil {
		return err
	}
	if err := tx.e.keys.checkAuthority(auth); err != nil {
		return err
	}

	next := tx.l.params
	if err := next.set(idx, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	tx.l.params = next

	tx.emit(EventParam, uuid.Nil, "", value, decimal.Zero, idx.String())
	tx.e.logger.Infow("Parameter changed", "param", idx.String(), "value", value.String())
	return nil
}

// StartStop sets the circuit breaker
func (tx *Txn) StartStop(auth Authority, halted bool) error {
	if err := tx.open(); err != nil {
		return err
	}
	if err := tx.e.keys.checkAuthority(auth); err != nil {
		return err
	}

	tx.l.halted = halted
	tx.emit(EventHalt, uuid.Nil, "", decimal.Zero, decimal.Zero, fmt.Sprintf("halted=%t", halted))
	tx.e.logger.Infow("Circuit breaker toggled", "halted", halted)
	return nil
}

func (e *Engine) SetParam(ctx context.Context, auth Authority, idx ParamIndex, value decimal.Decimal) error {
	return e.atomic(ctx, "set_param", func(tx *Txn) error {
		return tx.SetParam(auth, idx, value)
	})
}

func (e *Engine) StartStop(ctx context.Context, auth Authority, halted bool) error {
	return e.atomic(ctx, "start_stop", func(tx *Txn) error {
		return tx.StartStop(auth, halted)
	})
}

// IssueOracleSource hands out the capability for one of the two oracle writers
func (e *Engine) IssueOracleSource(auth Authority, rank SourceRank) (OracleSource, error) {
	if err := e.keys.checkAuthority(auth); err != nil {
		return OracleSource{}, err
	}
	if rank != SourcePrimary && rank != SourceSecondary {
		return OracleSource{}, fmt.Errorf("%w: unknown oracle rank %d", ErrInvalidParam, int(rank))
	}
	return e.keys.oracleSource(rank), nil
}

// IssueVenueToken hands out the capability a trading venue uses for peg corrections
func (e *Engine) IssueVenueToken(auth Authority, name string) (VenueToken, error) {
	if err := e.keys.checkAuthority(auth); err != nil {
		return VenueToken{}, err
	}
	if name == "" {
		return VenueToken{}, fmt.Errorf("%w: venue name required", ErrInvalidParam)
	}
	return e.keys.venueToken(name), nil
}

// Refresh pulls the current redemption rate from the staking service
func (e *Engine) Refresh(ctx context.Context) error {
	return e.atomic(ctx, "refresh", func(tx *Txn) error { return nil })
}
