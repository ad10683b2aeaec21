package calc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidateOracleAge checks if oracle data is fresh enough
func ValidateOracleAge(oracleTimestamp, now time.Time, maxAge time.Duration) error {
	age := now.Sub(oracleTimestamp)
	if age > maxAge {
		return fmt.Errorf("oracle data too stale: %v > %v", age, maxAge)
	}
	return nil
}

// ValidateAmount checks if an amount is positive and within reasonable bounds
func ValidateAmount(amount decimal.Decimal, operation string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid %s amount: must be positive", operation)
	}

	// Check for reasonable upper bounds (prevent overflow issues)
	maxAmount := decimal.New(1, 30) // 10^30
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("invalid %s amount: too large", operation)
	}

	return nil
}

// ValidateRatio checks that a collateralization threshold is above 100%
func ValidateRatio(name string, ratio decimal.Decimal) error {
	if ratio.LessThanOrEqual(one) {
		return fmt.Errorf("invalid %s: %s must be greater than 1", name, ratio)
	}
	return nil
}

// ValidatePegBounds checks lower < 1 < upper
func ValidatePegBounds(lower, upper decimal.Decimal) error {
	if !lower.IsPositive() || lower.GreaterThanOrEqual(one) {
		return fmt.Errorf("invalid lower bound %s: must be in (0, 1)", lower)
	}
	if upper.LessThanOrEqual(one) {
		return fmt.Errorf("invalid upper bound %s: must be greater than 1", upper)
	}
	return nil
}

// ValidateFlashFee checks the fee multiplier never discounts a repayment
func ValidateFlashFee(multiplier decimal.Decimal) error {
	if multiplier.LessThan(one) {
		return fmt.Errorf("invalid flash fee multiplier %s: must be at least 1", multiplier)
	}
	return nil
}
