package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

// Liquidate closes out target when it is below mcr or holds less than the
// dust floor. The liquidator position is credited the incentive share of the
// target's collateral; whatever collateral covers the debt is retired from
// the pool together with the debt, and any surplus stays with the target.
// A safe or debt-free target is left untouched.
func (tx *Txn) Liquidate(target uuid.UUID, liquidator PositionToken) (LiquidationResult, error) {
	liq, err := tx.authorized(liquidator)
	if err != nil {
		return LiquidationResult{}, err
	}
	if target == liq.ID {
		return LiquidationResult{}, ErrSelfLiquidation
	}
	if tx.l.loanActive || tx.l.mintActive {
		return LiquidationResult{}, fmt.Errorf("liquidation during flash: %w", ErrFlashAlreadyActive)
	}

	pos, err := tx.l.position(target)
	if err != nil {
		return LiquidationResult{}, err
	}
	if pos.DebtShares.IsZero() {
		return LiquidationResult{}, nil
	}

	collateral, debt, err := tx.l.positionValues(pos, tx.now)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !calc.IsLiquidatable(collateral, debt, tx.l.params.MCR, tx.l.params.DustFloor) {
		return LiquidationResult{}, nil
	}

	csp, err := tx.l.collateralSharePriceUSD(tx.now)
	if err != nil {
		return LiquidationResult{}, err
	}
	split := calc.SplitLiquidation(pos.CollateralShares, csp, debt, tx.l.params.Incentive)

	tx.l.assetsShares = sub("assets_share_total", tx.l.assetsShares, split.Seized)
	tx.l.retireDebt(pos.DebtShares, debt)

	pos.DebtShares = decimal.Zero
	pos.CollateralShares = split.Remainder
	liq.CollateralShares = liq.CollateralShares.Add(split.Incentive)

	writtenOff := debt.Sub(calc.ValueOf(split.Seized, csp))
	if writtenOff.IsNegative() {
		writtenOff = decimal.Zero
	}

	res := LiquidationResult{
		Liquidated:  true,
		Incentive:   split.Incentive,
		Remainder:   split.Remainder,
		Seized:      split.Seized,
		WrittenOff:  writtenOff,
		DebtCleared: debt,
	}

	tx.emit(EventLiquidate, pos.ID, AssetStable, debt, split.Seized, fmt.Sprintf("liquidator=%s", liq.ID))
	tx.e.recorder.RecordLiquidation(tx.ctx, split.Seized, writtenOff)
	tx.e.logger.Infow("Position liquidated",
		"position", pos.ID,
		"liquidator", liq.ID,
		"collateral_usd", collateral.String(),
		"debt", debt.String(),
		"seized_shares", split.Seized.String(),
		"written_off", writtenOff.String(),
	)
	return res, nil
}

func (e *Engine) Liquidate(ctx context.Context, target uuid.UUID, liquidator PositionToken) (res LiquidationResult, err error) {
	err = e.atomic(ctx, "liquidate", func(tx *Txn) error {
		res, err = tx.Liquidate(target, liquidator)
		return err
	})
	return res, err
}
