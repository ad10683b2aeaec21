package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOracle_Staleness(t *testing.T) {
	f := newFixture(t)
	tok := f.bootstrap(t, AssetBase, "100000")

	price, ok := f.e.GuardedGetOracle()
	require.True(t, ok)
	assertDecimal(t, "1", price)

	f.clock.Advance(5 * time.Minute)
	_, ok = f.e.GuardedGetOracle()
	assert.True(t, ok, "exactly at the window is still fresh")

	f.clock.Advance(time.Second)
	_, ok = f.e.GuardedGetOracle()
	assert.False(t, ok)

	_, err := f.e.TotalCollateralizationRatio()
	assert.ErrorIs(t, err, ErrStaleOracle)
	_, err = f.e.Mint(f.ctx, tok, d("1"))
	assert.ErrorIs(t, err, ErrStaleOracle)
	assert.False(t, f.e.State().OracleFresh)

	// collateral moves without a price
	_, err = f.e.Collateralize(f.ctx, tok, NewBucket(AssetBase, d("10")))
	assert.NoError(t, err)

	last, at := f.e.GetOracle()
	assertDecimal(t, "1", last)
	assert.Equal(t, f.clock.Now().Add(-5*time.Minute-time.Second), at)

	f.setPrice(t, "1.02")
	tcr, err := f.e.TotalCollateralizationRatio()
	require.NoError(t, err)
	assert.True(t, tcr.IsPositive())
}

func TestOracle_SecondaryFailover(t *testing.T) {
	f := newFixture(t)

	f.clock.Advance(10 * time.Minute)
	err := f.e.SetOracle(f.ctx, d("0.98"), f.secondary)
	assert.ErrorIs(t, err, ErrOracleSecondaryTooEarly)

	f.clock.Advance(20 * time.Minute)
	require.NoError(t, f.e.SetOracle(f.ctx, d("0.98"), f.secondary))
	price, ok := f.e.GuardedGetOracle()
	require.True(t, ok)
	assertDecimal(t, "0.98", price)

	// the secondary's own write restarts the window
	f.clock.Advance(time.Minute)
	assert.ErrorIs(t, f.e.SetOracle(f.ctx, d("0.97"), f.secondary), ErrOracleSecondaryTooEarly)

	// the primary may always write
	require.NoError(t, f.e.SetOracle(f.ctx, d("1.01"), f.primary))
	price, _ = f.e.GuardedGetOracle()
	assertDecimal(t, "1.01", price)
}

func TestOracle_Rejections(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.e.SetOracle(f.ctx, d("1"), OracleSource{Rank: SourcePrimary}), ErrUnauthorized)
	assert.ErrorIs(t, f.e.SetOracle(f.ctx, d("0"), f.primary), ErrInvalidAmount)

	forged := f.secondary
	forged.Rank = SourcePrimary
	assert.ErrorIs(t, f.e.SetOracle(f.ctx, d("1"), forged), ErrUnauthorized)

	_, err := f.e.IssueOracleSource(f.auth, SourceRank(7))
	assert.ErrorIs(t, err, ErrInvalidParam)
}
