package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/calc"
	"github.com/shopspring/decimal"
)

// pendingCorrection is a woke that still waits for its choke
type pendingCorrection struct {
	direction Direction
	amount    decimal.Decimal
}

// pendingStake is base collateral to convert once the operation commits
type pendingStake struct {
	base   decimal.Decimal
	booked decimal.Decimal
}

// Poke compares the venue's spot price (stablecoin per derivative) against
// the oracle band and reports the correction to run, if any. A direction
// already corrected in this operation is not reported again, and a stale
// oracle reports nothing.
func (tx *Txn) Poke(spot decimal.Decimal) (Correction, bool, error) {
	if err := tx.open(); err != nil {
		return Correction{}, false, err
	}
	if err := requirePositive("spot", spot); err != nil {
		return Correction{}, false, err
	}
	if tx.l.halted {
		return Correction{}, false, nil
	}

	price, ok := tx.l.guardedOracle(tx.now)
	if !ok {
		tx.e.logger.Warnw("Skipping peg check on stale oracle", "spot", spot.String(), "oracle_updated_at", tx.l.oracle.updatedAt)
		return Correction{}, false, nil
	}

	pair := calc.PairOraclePrice(price, tx.l.rate)
	low, high := calc.PegBand(pair, tx.l.params.LowerBound, tx.l.params.UpperBound)

	var c Correction
	switch {
	case spot.GreaterThan(high):
		c = Correction{Target: high, Direction: Expand}
	case spot.LessThan(low):
		c = Correction{Target: low, Direction: Contract}
	default:
		return Correction{}, false, nil
	}
	if tx.corrected[c.Direction] {
		return Correction{}, false, nil
	}
	return c, true, nil
}

// Woke releases what the venue needs to push the price back to target.
// Expand mints stablecoin while TCR is above bp; Contract releases
// derivative collateral while TCR is above ep. The amount is the smallest of
// size, maxToTarget and, for minting, the room left under the ceiling.
// Only the holder of a venue token may call it. Every woke must be settled
// by a Choke in the same direction before the operation ends.
func (tx *Txn) Woke(venue VenueToken, size, maxToTarget decimal.Decimal, dir Direction) (Bucket, bool, error) {
	if err := tx.open(); err != nil {
		return Bucket{}, false, err
	}
	if err := tx.e.keys.checkVenue(venue); err != nil {
		return Bucket{}, false, err
	}
	if tx.pending != nil {
		return Bucket{}, false, fmt.Errorf("%s still open: %w", tx.pending.direction, ErrCorrectionPending)
	}
	if tx.l.halted || tx.corrected[dir] {
		return Bucket{}, false, nil
	}
	if err := requirePositive("woke", size); err != nil {
		return Bucket{}, false, err
	}

	tcr, err := tx.l.totalCollateralizationRatio(tx.now)
	if err != nil {
		return Bucket{}, false, err
	}

	var out Bucket
	if dir == Expand {
		if !tcr.GreaterThan(tx.l.params.BP) {
			return Bucket{}, false, nil
		}
		room := calc.RemainingCeiling(tx.l.liabilityValue, tx.l.params.MaxMint)
		amount := calc.Min(size, maxToTarget, room)
		if !amount.IsPositive() {
			return Bucket{}, false, nil
		}
		tx.l.liabilityValue = tx.l.liabilityValue.Add(amount)
		tx.l.supply = tx.l.supply.Add(amount)
		out = NewBucket(AssetStable, amount)
	} else {
		if !tcr.GreaterThan(tx.l.params.EP) {
			return Bucket{}, false, nil
		}
		amount := calc.Min(size, maxToTarget)
		if !amount.IsPositive() {
			return Bucket{}, false, nil
		}
		if err := tx.releaseDerivative(amount); err != nil {
			return Bucket{}, false, err
		}
		out = NewBucket(AssetDerivative, amount)
	}

	tx.corrected[dir] = true
	tx.pending = &pendingCorrection{direction: dir, amount: out.Amount}

	tx.emit(EventWoke, uuid.Nil, out.Asset, out.Amount, decimal.Zero, dir.String())
	tx.e.recorder.RecordCorrection(tx.ctx, dir, out.Amount)
	tx.e.logger.Infow("Peg correction released",
		"txn", tx.id,
		"direction", dir.String(),
		"amount", out.String(),
		"tcr", tcr.String(),
	)
	return out, true, nil
}

// releaseDerivative takes amount out of the derivative pool, staking base
// collateral to cover a shortfall. The stake is booked at the operation's
// redemption rate and only sent to the staking service on commit.
func (tx *Txn) releaseDerivative(amount decimal.Decimal) error {
	if tx.l.derivative.LessThan(amount) {
		short := amount.Sub(tx.l.derivative)
		need := calc.CrossValue(short, tx.l.rate, false)
		if need.GreaterThan(tx.l.base) {
			return fmt.Errorf("releasing %s %s: %w", amount, AssetDerivative, ErrInsufficientBacking)
		}
		tx.l.base = tx.l.base.Sub(need)
		tx.l.derivative = tx.l.derivative.Add(short)
		tx.stakes = append(tx.stakes, pendingStake{base: need, booked: short})
	}
	tx.l.derivative = tx.l.derivative.Sub(amount)
	return nil
}

// Choke books what the venue returns after the correction swap. Expand
// returns collateral to the pools; Contract returns stablecoin, which is
// burned off the debt total. Profit reaches the treasury once the operation
// commits.
func (tx *Txn) Choke(venue VenueToken, returned, profit Bucket, dir Direction) error {
	if err := tx.open(); err != nil {
		return err
	}
	if err := tx.e.keys.checkVenue(venue); err != nil {
		return err
	}
	if tx.pending == nil {
		return fmt.Errorf("no correction open: %w", ErrCorrectionMismatch)
	}
	if tx.pending.direction != dir {
		return fmt.Errorf("choke %s against woke %s: %w", dir, tx.pending.direction, ErrCorrectionMismatch)
	}
	if err := requirePositive("choke", returned.Amount); err != nil {
		return err
	}
	if profit.Amount.IsNegative() {
		return fmt.Errorf("%w: profit %s", ErrInvalidAmount, profit)
	}

	if dir == Expand {
		if !returned.Asset.IsCollateral() {
			return fmt.Errorf("expand returned %s: %w", returned.Asset, ErrWrongAsset)
		}
		tx.deposit(returned)
	} else {
		if returned.Asset != AssetStable {
			return fmt.Errorf("contract returned %s: %w", returned.Asset, ErrWrongAsset)
		}
		if returned.Amount.GreaterThan(tx.l.liabilityValue) {
			return fmt.Errorf("retiring %s of %s: %w", returned.Amount, tx.l.liabilityValue, ErrNegativeLiabilities)
		}
		tx.l.liabilityValue = tx.l.liabilityValue.Sub(returned.Amount)
		tx.l.supply = sub("supply", tx.l.supply, returned.Amount)
	}

	if !profit.IsEmpty() {
		tx.profits = append(tx.profits, profit)
	}

	tx.pending = nil
	tx.emit(EventChoke, uuid.Nil, returned.Asset, returned.Amount, decimal.Zero, fmt.Sprintf("%s profit=%s", dir, profit))
	return nil
}

// Poke runs a standalone peg check
func (e *Engine) Poke(ctx context.Context, spot decimal.Decimal) (c Correction, ok bool, err error) {
	err = e.atomic(ctx, "poke", func(tx *Txn) error {
		c, ok, err = tx.Poke(spot)
		return err
	})
	return c, ok, err
}
