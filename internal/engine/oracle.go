package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SetOracle posts a USD price for the base asset. The primary source may
// write at any time; the secondary only once the primary has been silent for
// the failover window.
func (tx *Txn) SetOracle(price decimal.Decimal, src OracleSource) error {
	if err := tx.open(); err != nil {
		return err
	}
	if err := tx.e.keys.checkOracleSource(src); err != nil {
		return err
	}
	if err := requirePositive("oracle price", price); err != nil {
		return err
	}

	if src.Rank == SourceSecondary && !tx.l.oracle.updatedAt.IsZero() {
		if since := tx.now.Sub(tx.l.oracle.updatedAt); since < tx.l.params.OracleFailover {
			return fmt.Errorf("last update %s ago: %w", since.Round(time.Second), ErrOracleSecondaryTooEarly)
		}
	}

	tx.l.oracle = oracleState{price: price, updatedAt: tx.now, source: src.Rank}
	tx.emit(EventOracle, uuid.Nil, "", price, decimal.Zero, src.Rank.String())
	return nil
}

func (e *Engine) SetOracle(ctx context.Context, price decimal.Decimal, src OracleSource) error {
	return e.atomic(ctx, "set_oracle", func(tx *Txn) error {
		return tx.SetOracle(price, src)
	})
}

// GetOracle returns the last posted price and when it was posted, fresh or not
func (e *Engine) GetOracle() (decimal.Decimal, time.Time) {
	var (
		price decimal.Decimal
		at    time.Time
	)
	e.read(func(l *ledger, _ time.Time) { price, at = l.oracle.price, l.oracle.updatedAt })
	return price, at
}

// GuardedGetOracle returns the price only while it is within the staleness window
func (e *Engine) GuardedGetOracle() (decimal.Decimal, bool) {
	var (
		price decimal.Decimal
		ok    bool
	)
	e.read(func(l *ledger, now time.Time) { price, ok = l.guardedOracle(now) })
	return price, ok
}
