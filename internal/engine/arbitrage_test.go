package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func bucketIs(asset Asset, amount string) interface{} {
	return mock.MatchedBy(func(b Bucket) bool {
		return b.Asset == asset && b.Amount.Equal(d(amount))
	})
}

func TestPoke(t *testing.T) {
	tests := []struct {
		name      string
		spot      string
		rate      string
		ok        bool
		target    string
		direction Direction
	}{
		{name: "above band", spot: "1.12", rate: "1", ok: true, target: "1.05", direction: Expand},
		{name: "below band", spot: "0.9", rate: "1", ok: true, target: "0.95", direction: Contract},
		{name: "inside band", spot: "1.01", rate: "1", ok: false},
		{name: "on the edge", spot: "1.05", rate: "1", ok: false},
		{name: "rescaled by redemption rate", spot: "1.12", rate: "1.1", ok: false},
		{name: "rescaled above band", spot: "1.2", rate: "1.1", ok: true, target: "1.155", direction: Expand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.staking.rate = d(tt.rate)

			c, ok, err := f.e.Poke(f.ctx, d(tt.spot))
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assertDecimal(t, tt.target, c.Target)
				assert.Equal(t, tt.direction, c.Direction)
			}
		})
	}
}

func TestPoke_StaleOracleReportsNothing(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(10 * time.Minute)

	_, ok, err := f.e.Poke(f.ctx, d("2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWoke_ExpandMintsAgainstDebtTotal(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	f.treasury.On("AcceptProfit", mock.Anything, bucketIs(AssetStable, "5")).Return(nil).Once()

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		c, ok, err := tx.Poke(d("1.12"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, Expand, c.Direction)

		out, ok, err := tx.Woke(f.venue, d("500"), d("300"), c.Direction)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, AssetStable, out.Asset)
		assertDecimal(t, "300", out.Amount)

		return tx.Choke(f.venue, NewBucket(AssetDerivative, d("280")), NewBucket(AssetStable, d("5")), Expand)
	})
	require.NoError(t, err)
	f.treasury.AssertExpectations(t)

	st := f.e.State()
	assertDecimal(t, "1077", st.LiabilitiesValueTotal)
	assertDecimal(t, "777", st.LiabilitiesShareTotal)
	assertDecimal(t, "1077", st.Supply)
	assertDecimal(t, "280", st.DerivativePool)
}

func TestWoke_ExpandCappedByCeiling(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	require.NoError(t, f.e.SetParam(f.ctx, f.auth, ParamMaxMint, d("1000")))

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		out, ok, err := tx.Woke(f.venue, d("500"), d("500"), Expand)
		require.NoError(t, err)
		require.True(t, ok)
		assertDecimal(t, "223", out.Amount)
		return tx.Choke(f.venue, NewBucket(AssetBase, d("200")), Bucket{}, Expand)
	})
	require.NoError(t, err)
	assertDecimal(t, "1000", f.e.State().LiabilitiesValueTotal)
}

func TestWoke_RatioGates(t *testing.T) {
	f := newFixture(t)
	// TCR 1200/777 sits between ep and bp
	f.bootstrap(t, AssetBase, "1200")

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, ok, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		assert.False(t, ok, "minting needs TCR above bp")

		out, ok, err := tx.Woke(f.venue, d("100"), d("100"), Contract)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, AssetDerivative, out.Asset)
		return tx.Choke(f.venue, NewBucket(AssetStable, d("90")), Bucket{}, Contract)
	})
	require.NoError(t, err)

	st := f.e.State()
	// the release was staked from base collateral
	assertDecimal(t, "1100", st.BasePool)
	assert.True(t, st.DerivativePool.IsZero())
	assertDecimal(t, "687", st.LiabilitiesValueTotal)
	assertDecimal(t, "687", st.Supply)
	assertDecimal(t, "100", f.staking.staked)
}

func TestWoke_ContractInsufficientBacking(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, _, err := tx.Woke(f.venue, d("200000"), d("200000"), Contract)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientBacking)
	assertDecimal(t, "100000", f.e.State().BasePool)
}

func TestWoke_MustBeChoked(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		return err
	})
	assert.ErrorIs(t, err, ErrUnsettledCorrection)
	assertDecimal(t, "777", f.e.State().LiabilitiesValueTotal)

	err = f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		_, _, err = tx.Woke(f.venue, d("100"), d("100"), Contract)
		return err
	})
	assert.ErrorIs(t, err, ErrCorrectionPending)

	err = f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		return tx.Choke(f.venue, NewBucket(AssetStable, d("100")), Bucket{}, Contract)
	})
	assert.ErrorIs(t, err, ErrCorrectionMismatch)

	err = f.e.Atomic(f.ctx, func(tx *Txn) error {
		return tx.Choke(f.venue, NewBucket(AssetStable, d("100")), Bucket{}, Contract)
	})
	assert.ErrorIs(t, err, ErrCorrectionMismatch)
}

func TestWoke_OncePerDirection(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, ok, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.Choke(f.venue, NewBucket(AssetDerivative, d("95")), Bucket{}, Expand))

		_, ok, err = tx.Poke(d("1.2"))
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assertDecimal(t, "877", f.e.State().LiabilitiesValueTotal)

	// a fresh operation may correct again
	err = f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, ok, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		require.NoError(t, err)
		require.True(t, ok)
		return tx.Choke(f.venue, NewBucket(AssetDerivative, d("95")), Bucket{}, Expand)
	})
	require.NoError(t, err)
	assertDecimal(t, "977", f.e.State().LiabilitiesValueTotal)
}

func TestCorrection_DirectionFlipsMidSwap(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	f.treasury.On("AcceptProfit", mock.Anything, bucketIs(AssetStable, "5")).Return(nil).Once()

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		// pre-swap correction
		c, ok, err := tx.Poke(d("1.12"))
		require.NoError(t, err)
		require.True(t, ok)
		_, ok, err = tx.Woke(f.venue, d("500"), d("300"), c.Direction)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.Choke(f.venue, NewBucket(AssetDerivative, d("280")), NewBucket(AssetStable, d("5")), Expand))

		// the user's swap overshoots below the band
		c, ok, err = tx.Poke(d("0.9"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, Contract, c.Direction)

		out, ok, err := tx.Woke(f.venue, d("50"), d("40"), c.Direction)
		require.NoError(t, err)
		require.True(t, ok)
		assertDecimal(t, "40", out.Amount)
		require.NoError(t, tx.Choke(f.venue, NewBucket(AssetStable, d("42")), Bucket{}, Contract))

		// and back above: both directions are spent
		_, ok, err = tx.Poke(d("1.12"))
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = tx.Woke(f.venue, d("10"), d("10"), Expand)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	f.treasury.AssertExpectations(t)

	st := f.e.State()
	assertDecimal(t, "1035", st.LiabilitiesValueTotal)
	assertDecimal(t, "1035", st.Supply)
	assertDecimal(t, "240", st.DerivativePool)
}

func TestChoke_TreasuryFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	f.treasury.On("AcceptProfit", mock.Anything, mock.Anything).Return(errors.New("treasury paused"))

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand); err != nil {
			return err
		}
		return tx.Choke(f.venue, NewBucket(AssetDerivative, d("95")), NewBucket(AssetStable, d("1")), Expand)
	})
	require.Error(t, err)

	st := f.e.State()
	assertDecimal(t, "777", st.LiabilitiesValueTotal)
	assert.True(t, st.DerivativePool.IsZero())
}

func TestWoke_StaleOracleFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	f.clock.Advance(6 * time.Minute)

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		_, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand)
		return err
	})
	assert.ErrorIs(t, err, ErrStaleOracle)
}

func TestCorrection_RequiresVenueToken(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")

	other, err := f.e.IssueVenueToken(f.auth, "other")
	require.NoError(t, err)
	tests := []struct {
		name  string
		venue VenueToken
	}{
		{name: "zero token", venue: VenueToken{}},
		{name: "name without proof", venue: VenueToken{Name: "dex"}},
		{name: "proof for another name", venue: VenueToken{Name: "dex", Proof: other.Proof}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.e.Atomic(f.ctx, func(tx *Txn) error {
				_, _, err := tx.Woke(tt.venue, d("100"), d("100"), Expand)
				return err
			})
			assert.ErrorIs(t, err, ErrUnauthorized)

			err = f.e.Atomic(f.ctx, func(tx *Txn) error {
				if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand); err != nil {
					return err
				}
				return tx.Choke(tt.venue, NewBucket(AssetBase, d("100")), Bucket{}, Expand)
			})
			assert.ErrorIs(t, err, ErrUnauthorized)
			assertDecimal(t, "777", f.e.State().LiabilitiesValueTotal)
		})
	}
}

func TestIssueVenueToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.IssueVenueToken(Authority{}, "dex")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.e.IssueVenueToken(f.auth, "")
	assert.ErrorIs(t, err, ErrInvalidParam)

	again, err := f.e.IssueVenueToken(f.auth, "dex")
	require.NoError(t, err)
	assert.Equal(t, f.venue, again)
}

func TestChoke_RejectsInvalidReturn(t *testing.T) {
	tests := []struct {
		name     string
		dir      Direction
		returned Bucket
		profit   Bucket
		wantErr  error
	}{
		{name: "negative collateral", dir: Expand, returned: NewBucket(AssetBase, d("-150000")), wantErr: ErrInvalidAmount},
		{name: "nothing returned on expand", dir: Expand, returned: NewBucket(AssetDerivative, decimal.Zero), wantErr: ErrInvalidAmount},
		{name: "stablecoin on expand", dir: Expand, returned: NewBucket(AssetStable, d("100")), wantErr: ErrWrongAsset},
		{name: "negative stablecoin", dir: Contract, returned: NewBucket(AssetStable, d("-300")), wantErr: ErrInvalidAmount},
		{name: "nothing returned on contract", dir: Contract, returned: NewBucket(AssetStable, decimal.Zero), wantErr: ErrInvalidAmount},
		{name: "collateral on contract", dir: Contract, returned: NewBucket(AssetDerivative, d("90")), wantErr: ErrWrongAsset},
		{name: "negative profit", dir: Expand, returned: NewBucket(AssetBase, d("95")), profit: NewBucket(AssetStable, d("-5")), wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.bootstrap(t, AssetBase, "100000")

			err := f.e.Atomic(f.ctx, func(tx *Txn) error {
				if _, _, err := tx.Woke(f.venue, d("100"), d("100"), tt.dir); err != nil {
					return err
				}
				return tx.Choke(f.venue, tt.returned, tt.profit, tt.dir)
			})
			assert.ErrorIs(t, err, tt.wantErr)

			st := f.e.State()
			assertDecimal(t, "100000", st.BasePool)
			assert.True(t, st.DerivativePool.IsZero())
			assertDecimal(t, "777", st.LiabilitiesValueTotal)
			assertDecimal(t, "777", st.Supply)
			assert.True(t, f.staking.staked.IsZero())
		})
	}
}

func TestAtomic_FailedOperationSkipsCollaborators(t *testing.T) {
	tests := []struct {
		name string
		run  func(f *fixture, tx *Txn) error
	}{
		{
			name: "profit before a failing step",
			run: func(f *fixture, tx *Txn) error {
				if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand); err != nil {
					return err
				}
				if err := tx.Choke(f.venue, NewBucket(AssetDerivative, d("95")), NewBucket(AssetStable, d("20")), Expand); err != nil {
					return err
				}
				return errors.New("later step fails")
			},
		},
		{
			name: "stake before a failing step",
			run: func(f *fixture, tx *Txn) error {
				if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Contract); err != nil {
					return err
				}
				if err := tx.Choke(f.venue, NewBucket(AssetStable, d("90")), NewBucket(AssetStable, d("10")), Contract); err != nil {
					return err
				}
				return errors.New("later step fails")
			},
		},
		{
			name: "profit with an unredeemed receipt",
			run: func(f *fixture, tx *Txn) error {
				if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Expand); err != nil {
					return err
				}
				if err := tx.Choke(f.venue, NewBucket(AssetDerivative, d("95")), NewBucket(AssetStable, d("20")), Expand); err != nil {
					return err
				}
				_, _, err := tx.FlashMintStart(d("10"))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.bootstrap(t, AssetBase, "100000")

			err := f.e.Atomic(f.ctx, func(tx *Txn) error { return tt.run(f, tx) })
			require.Error(t, err)

			f.treasury.AssertNotCalled(t, "AcceptProfit", mock.Anything, mock.Anything)
			assert.True(t, f.staking.staked.IsZero())
			st := f.e.State()
			assertDecimal(t, "100000", st.BasePool)
			assertDecimal(t, "777", st.LiabilitiesValueTotal)
		})
	}
}

func TestChoke_StakeFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t, AssetBase, "100000")
	f.staking.stakeErr = errors.New("validator unreachable")

	err := f.e.Atomic(f.ctx, func(tx *Txn) error {
		if _, _, err := tx.Woke(f.venue, d("100"), d("100"), Contract); err != nil {
			return err
		}
		return tx.Choke(f.venue, NewBucket(AssetStable, d("90")), Bucket{}, Contract)
	})
	require.Error(t, err)

	st := f.e.State()
	assertDecimal(t, "100000", st.BasePool)
	assert.True(t, st.DerivativePool.IsZero())
	assertDecimal(t, "777", st.LiabilitiesValueTotal)
}
