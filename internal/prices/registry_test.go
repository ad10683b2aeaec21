package prices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	symbol, err := r.GetProviderSymbol("xrd/usd")
	require.NoError(t, err)
	assert.Equal(t, "XRDUSDT", symbol)

	_, err = r.GetProviderSymbol("BTC/USD")
	assert.Error(t, err)

	assert.Equal(t, "XRDUSDT", r.Resolve("XRD/EUSD"))
	assert.Equal(t, "BTCUSDT", r.Resolve(" btcusdt "))
	assert.True(t, r.ValidatePair("XRD/USDT"))
}
