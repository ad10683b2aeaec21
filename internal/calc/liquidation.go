package calc

import (
	"github.com/shopspring/decimal"
)

// LiquidationSplit describes how a liquidated position's collateral shares are divided
type LiquidationSplit struct {
	Incentive decimal.Decimal // shares credited to the liquidator
	Remainder decimal.Decimal // shares left with the target
	Seized    decimal.Decimal // shares retired from the pool
}

// SplitLiquidation reserves incentiveRate of the collateral shares for the liquidator,
// then keeps whatever collateral value is left after covering debtValue.
// Underwater positions keep nothing.
func SplitLiquidation(collateralShares, sharePrice, debtValue, incentiveRate decimal.Decimal) LiquidationSplit {
	incentive := collateralShares.Mul(incentiveRate)
	left := collateralShares.Sub(incentive)

	surplus := ValueOf(left, sharePrice).Sub(debtValue)
	if surplus.IsNegative() {
		surplus = decimal.Zero
	}

	remainder := SharesFor(surplus, sharePrice)
	if remainder.GreaterThan(left) {
		remainder = left
	}

	return LiquidationSplit{
		Incentive: incentive,
		Remainder: remainder,
		Seized:    left.Sub(remainder),
	}
}

// IsLiquidatable reports whether a position fails the safety test:
// ratio below minRatio or collateral value below the dust floor.
func IsLiquidatable(collateralValue, debtValue, minRatio, dustFloor decimal.Decimal) bool {
	if collateralValue.LessThan(dustFloor) {
		return true
	}
	return !MeetsRatio(collateralValue, debtValue, minRatio)
}
