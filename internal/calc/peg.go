package calc

import (
	"github.com/shopspring/decimal"
)

// PegDeviation calculates |price - 1.0|
func PegDeviation(price decimal.Decimal) decimal.Decimal {
	return price.Sub(one).Abs()
}

// PairOraclePrice rescales a USD-per-base oracle into the venue's
// stablecoin-per-derivative unit.
func PairOraclePrice(oracle, redemptionRate decimal.Decimal) decimal.Decimal {
	return oracle.Mul(redemptionRate)
}

// PegBand returns the lowest and highest tolerated venue prices.
func PegBand(pairOracle, lowerBound, upperBound decimal.Decimal) (low, high decimal.Decimal) {
	return pairOracle.Mul(lowerBound), pairOracle.Mul(upperBound)
}

// FlashRepayment is the amount owed for a flash of size at the fee multiplier
func FlashRepayment(size, feeMultiplier decimal.Decimal) decimal.Decimal {
	return size.Mul(feeMultiplier)
}

// CrossValue converts amount between base and derivative units.
// toDerivative divides by the redemption rate, otherwise it multiplies.
func CrossValue(amount, redemptionRate decimal.Decimal, toDerivative bool) decimal.Decimal {
	if toDerivative {
		if redemptionRate.IsZero() {
			return decimal.Zero
		}
		return amount.Div(redemptionRate)
	}
	return amount.Mul(redemptionRate)
}
