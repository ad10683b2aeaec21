package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) SetOracle(ctx context.Context, price decimal.Decimal, src engine.OracleSource) error {
	args := m.Called(ctx, price, src)
	return args.Error(0)
}

type countingRecorder struct {
	accepted, rejected int
}

func (r *countingRecorder) RecordOracleReport(_ context.Context, _ string, err error) {
	if err != nil {
		r.rejected++
		return
	}
	r.accepted++
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func signAt(t *testing.T, key *secp256k1.PrivateKey, price string, at time.Time) SignedReport {
	t.Helper()
	signed, err := Sign(Report{Symbol: "XRDUSDT", Price: decimal.RequireFromString(price), Timestamp: at}, key)
	require.NoError(t, err)
	return signed
}

func TestSignVerify(t *testing.T) {
	key := newKey(t)
	signed := signAt(t, key, "0.0531", testNow)

	pub, err := signed.Verify()
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(key.PubKey()))

	t.Run("survives json", func(t *testing.T) {
		raw, err := json.Marshal(signed)
		require.NoError(t, err)
		var decoded SignedReport
		require.NoError(t, json.Unmarshal(raw, &decoded))
		_, err = decoded.Verify()
		assert.NoError(t, err)
	})

	t.Run("tampered price", func(t *testing.T) {
		tampered := signed
		tampered.Price = decimal.RequireFromString("0.06")
		_, err := tampered.Verify()
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("someone else's key", func(t *testing.T) {
		forged := signed
		forged.PubKey = keyID(newKey(t).PubKey())
		_, err := forged.Verify()
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("garbage signature", func(t *testing.T) {
		bad := signed
		bad.Signature = "zz"
		_, err := bad.Verify()
		assert.ErrorIs(t, err, ErrMalformedReport)
	})
}

func TestCanonicalMessage_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		report Report
	}{
		{name: "no symbol", report: Report{Price: decimal.NewFromInt(1), Timestamp: testNow}},
		{name: "zero price", report: Report{Symbol: "XRDUSDT", Timestamp: testNow}},
		{name: "negative price", report: Report{Symbol: "XRDUSDT", Price: decimal.NewFromInt(-1), Timestamp: testNow}},
		{name: "no timestamp", report: Report{Symbol: "XRDUSDT", Price: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.report.CanonicalMessage()
			assert.ErrorIs(t, err, ErrMalformedReport)
		})
	}
}

func TestParsePrivateKey(t *testing.T) {
	key := newKey(t)
	parsed, err := ParsePrivateKey("0x" + hex.EncodeToString(key.Serialize()))
	require.NoError(t, err)
	assert.True(t, parsed.PubKey().IsEqual(key.PubKey()))

	_, err = ParsePrivateKey("abcd")
	assert.Error(t, err)
}

func TestGateway_Submit(t *testing.T) {
	primaryKey, secondaryKey, strangerKey := newKey(t), newKey(t), newKey(t)
	primary := engine.OracleSource{Rank: engine.SourcePrimary}
	secondary := engine.OracleSource{Rank: engine.SourceSecondary}

	tests := []struct {
		name    string
		report  func() SignedReport
		wantErr error
	}{
		{
			name:   "primary accepted",
			report: func() SignedReport { return signAt(t, primaryKey, "0.05", testNow) },
		},
		{
			name:   "secondary accepted",
			report: func() SignedReport { return signAt(t, secondaryKey, "0.05", testNow.Add(-time.Minute)) },
		},
		{
			name:    "unknown signer",
			report:  func() SignedReport { return signAt(t, strangerKey, "0.05", testNow) },
			wantErr: ErrUnknownSigner,
		},
		{
			name:    "too old",
			report:  func() SignedReport { return signAt(t, primaryKey, "0.05", testNow.Add(-6*time.Minute)) },
			wantErr: ErrReportTooOld,
		},
		{
			name:    "from the future",
			report:  func() SignedReport { return signAt(t, primaryKey, "0.05", testNow.Add(time.Minute)) },
			wantErr: ErrReportFromFuture,
		},
		{
			name: "wrong symbol",
			report: func() SignedReport {
				s, err := Sign(Report{Symbol: "BTCUSDT", Price: decimal.NewFromInt(60000), Timestamp: testNow}, primaryKey)
				require.NoError(t, err)
				return s
			},
			wantErr: ErrWrongSymbol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := new(MockPoster)
			poster.On("SetOracle", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			rec := &countingRecorder{}

			g := NewGateway(poster, "xrdusdt", 5*time.Minute, nil,
				WithClock(func() time.Time { return testNow }), WithRecorder(rec))
			g.Register(primaryKey.PubKey(), primary)
			g.Register(secondaryKey.PubKey(), secondary)
			require.Equal(t, 2, g.Signers())

			err := g.Submit(context.Background(), tt.report())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				poster.AssertNotCalled(t, "SetOracle", mock.Anything, mock.Anything, mock.Anything)
				assert.Equal(t, 1, rec.rejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, rec.accepted)
			poster.AssertNumberOfCalls(t, "SetOracle", 1)
		})
	}
}

func TestGateway_ReplayAndEngineRejection(t *testing.T) {
	key := newKey(t)
	now := testNow
	poster := new(MockPoster)
	g := NewGateway(poster, "XRDUSDT", 5*time.Minute, nil, WithClock(func() time.Time { return now }))
	g.Register(key.PubKey(), engine.OracleSource{Rank: engine.SourceSecondary})

	first := signAt(t, key, "0.05", now)
	poster.On("SetOracle", mock.Anything, decimal.RequireFromString("0.05"), mock.Anything).Return(nil).Once()
	require.NoError(t, g.Submit(context.Background(), first))

	assert.ErrorIs(t, g.Submit(context.Background(), first), ErrReplayedReport)

	now = now.Add(time.Minute)
	poster.On("SetOracle", mock.Anything, decimal.RequireFromString("0.051"), mock.Anything).
		Return(engine.ErrOracleSecondaryTooEarly).Once()
	err := g.Submit(context.Background(), signAt(t, key, "0.051", now))
	assert.True(t, errors.Is(err, engine.ErrOracleSecondaryTooEarly))

	// a rejected post does not advance the replay window
	poster.On("SetOracle", mock.Anything, decimal.RequireFromString("0.052"), mock.Anything).Return(nil).Once()
	assert.NoError(t, g.Submit(context.Background(), signAt(t, key, "0.052", now.Add(-time.Second))))
	poster.AssertExpectations(t)
}
