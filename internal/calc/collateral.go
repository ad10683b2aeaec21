package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// CollateralValueBase values both pools in base-asset units.
// derivative balances are converted at the live redemption rate.
func CollateralValueBase(base, derivative, redemptionRate decimal.Decimal) decimal.Decimal {
	return base.Add(derivative.Mul(redemptionRate))
}

// SharePrice calculates total value / shares issued.
// An empty pool prices a share at emptyPrice.
func SharePrice(value, shares, emptyPrice decimal.Decimal) decimal.Decimal {
	if shares.IsZero() {
		return emptyPrice
	}
	return value.Div(shares)
}

// SharesFor converts a value into shares at the given share price
func SharesFor(value, sharePrice decimal.Decimal) decimal.Decimal {
	if sharePrice.IsZero() {
		return decimal.Zero
	}
	return value.Div(sharePrice)
}

// ValueOf converts shares into value at the given share price
func ValueOf(shares, sharePrice decimal.Decimal) decimal.Decimal {
	return shares.Mul(sharePrice)
}

// CollateralRatio calculates CR = collateral value / debt value
func CollateralRatio(collateralValue, debtValue decimal.Decimal) decimal.Decimal {
	if debtValue.IsZero() {
		return decimal.Zero
	}
	return collateralValue.Div(debtValue)
}

// MeetsRatio reports whether collateralValue covers debtValue at least minRatio times.
// A debt-free position always passes.
func MeetsRatio(collateralValue, debtValue, minRatio decimal.Decimal) bool {
	if debtValue.IsZero() {
		return true
	}
	return CollateralRatio(collateralValue, debtValue).GreaterThanOrEqual(minRatio)
}

// ValidateCRConstraint checks if an operation would violate minimum CR requirements
func ValidateCRConstraint(postCR, minCR decimal.Decimal) error {
	if postCR.LessThan(minCR) {
		return fmt.Errorf("operation would breach minimum collateral ratio: %s < %s",
			postCR, minCR)
	}
	return nil
}

// RemainingCeiling returns how much more can be issued before hitting ceiling
func RemainingCeiling(outstanding, ceiling decimal.Decimal) decimal.Decimal {
	left := ceiling.Sub(outstanding)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Min returns the smallest of the given values
func Min(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	return decimal.Min(first, rest...)
}
