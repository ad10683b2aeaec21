package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPegDeviation(t *testing.T) {
	tests := []struct {
		name     string
		price    decimal.Decimal
		expected decimal.Decimal
	}{
		{
			name:     "perfect peg",
			price:    decimal.NewFromInt(1),
			expected: decimal.Zero,
		},
		{
			name:     "positive deviation",
			price:    decimal.NewFromFloat(1.05),
			expected: decimal.NewFromFloat(0.05),
		},
		{
			name:     "negative deviation",
			price:    decimal.NewFromFloat(0.95),
			expected: decimal.NewFromFloat(0.05),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PegDeviation(tt.price)
			assert.True(t, tt.expected.Equal(result), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestPegBand(t *testing.T) {
	pair := PairOraclePrice(decimal.NewFromInt(1), decimal.NewFromFloat(1.1))
	low, high := PegBand(pair, decimal.NewFromFloat(0.95), decimal.NewFromFloat(1.05))

	assert.True(t, decimal.NewFromFloat(1.045).Equal(low), "got %s", low)
	assert.True(t, decimal.NewFromFloat(1.155).Equal(high), "got %s", high)
}

func TestFlashRepayment(t *testing.T) {
	owed := FlashRepayment(decimal.NewFromInt(1000), decimal.NewFromFloat(1.001))
	assert.True(t, decimal.NewFromInt(1001).Equal(owed), "got %s", owed)
}

func TestCrossValue(t *testing.T) {
	rate := decimal.NewFromFloat(1.25)

	toDerivative := CrossValue(decimal.NewFromInt(100), rate, true)
	assert.True(t, decimal.NewFromInt(80).Equal(toDerivative), "got %s", toDerivative)

	toBase := CrossValue(decimal.NewFromInt(80), rate, false)
	assert.True(t, decimal.NewFromInt(100).Equal(toBase), "got %s", toBase)

	assert.True(t, CrossValue(decimal.NewFromInt(1), decimal.Zero, true).IsZero())
}
