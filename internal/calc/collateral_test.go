package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCollateralValueBase(t *testing.T) {
	tests := []struct {
		name       string
		base       decimal.Decimal
		derivative decimal.Decimal
		rate       decimal.Decimal
		expected   decimal.Decimal
	}{
		{
			name:       "base only",
			base:       decimal.NewFromInt(100),
			derivative: decimal.Zero,
			rate:       decimal.NewFromFloat(1.1),
			expected:   decimal.NewFromInt(100),
		},
		{
			name:       "derivative at par",
			base:       decimal.Zero,
			derivative: decimal.NewFromInt(50),
			rate:       decimal.NewFromInt(1),
			expected:   decimal.NewFromInt(50),
		},
		{
			name:       "mixed with appreciated rate",
			base:       decimal.NewFromInt(100),
			derivative: decimal.NewFromInt(200),
			rate:       decimal.NewFromFloat(1.1),
			expected:   decimal.NewFromInt(320),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CollateralValueBase(tt.base, tt.derivative, tt.rate)
			assert.True(t, tt.expected.Equal(result), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestSharePrice(t *testing.T) {
	tests := []struct {
		name     string
		value    decimal.Decimal
		shares   decimal.Decimal
		empty    decimal.Decimal
		expected decimal.Decimal
	}{
		{
			name:     "empty pool uses fallback",
			value:    decimal.Zero,
			shares:   decimal.Zero,
			empty:    decimal.NewFromInt(1),
			expected: decimal.NewFromInt(1),
		},
		{
			name:     "one to one",
			value:    decimal.NewFromInt(777),
			shares:   decimal.NewFromInt(777),
			empty:    decimal.NewFromInt(1),
			expected: decimal.NewFromInt(1),
		},
		{
			name:     "appreciated pool",
			value:    decimal.NewFromInt(110),
			shares:   decimal.NewFromInt(100),
			empty:    decimal.NewFromInt(1),
			expected: decimal.NewFromFloat(1.1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SharePrice(tt.value, tt.shares, tt.empty)
			assert.True(t, tt.expected.Equal(result), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestSharesRoundTrip(t *testing.T) {
	price := decimal.NewFromInt(4)
	shares := SharesFor(decimal.NewFromInt(100), price)
	assert.True(t, decimal.NewFromInt(25).Equal(shares), "got %s", shares)
	assert.True(t, decimal.NewFromInt(100).Equal(ValueOf(shares, price)))

	assert.True(t, SharesFor(decimal.NewFromInt(100), decimal.Zero).IsZero())
}

func TestCollateralRatio(t *testing.T) {
	tests := []struct {
		name       string
		collateral decimal.Decimal
		debt       decimal.Decimal
		expected   decimal.Decimal
	}{
		{
			name:       "normal case",
			collateral: decimal.NewFromInt(150),
			debt:       decimal.NewFromInt(100),
			expected:   decimal.NewFromFloat(1.5),
		},
		{
			name:       "zero debt",
			collateral: decimal.NewFromInt(100),
			debt:       decimal.Zero,
			expected:   decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CollateralRatio(tt.collateral, tt.debt)
			assert.True(t, tt.expected.Equal(result), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestMeetsRatio(t *testing.T) {
	mcr := decimal.NewFromFloat(1.5)

	assert.True(t, MeetsRatio(decimal.NewFromInt(200), decimal.Zero, mcr))
	assert.True(t, MeetsRatio(decimal.NewFromInt(150), decimal.NewFromInt(100), mcr))
	assert.False(t, MeetsRatio(decimal.NewFromInt(200), decimal.NewFromInt(150), mcr))
}

func TestValidateCRConstraint(t *testing.T) {
	minCR := decimal.NewFromFloat(1.1)

	// Valid case
	err := ValidateCRConstraint(decimal.NewFromFloat(1.2), minCR)
	assert.NoError(t, err)

	// Invalid case
	err = ValidateCRConstraint(decimal.NewFromFloat(1.05), minCR)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "breach minimum collateral ratio")
}

func TestRemainingCeiling(t *testing.T) {
	ceiling := decimal.NewFromInt(1000)

	assert.True(t, decimal.NewFromInt(400).Equal(RemainingCeiling(decimal.NewFromInt(600), ceiling)))
	assert.True(t, RemainingCeiling(decimal.NewFromInt(1200), ceiling).IsZero())
}
