package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCache_FallsBackToMemory(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cache, err := NewCache("", logger.Sugar(), nil)
	require.NoError(t, err)
	defer cache.Close()

	assert.True(t, cache.IsInMemoryMode())
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestMemoryCache_KeyValue(t *testing.T) {
	cache := NewMemoryCache(nil, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.mem.clock = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", map[string]string{"a": "b"}, time.Minute))
	var got map[string]string
	require.NoError(t, cache.Get(ctx, "k", &got))
	assert.Equal(t, "b", got["a"])

	ok, err := cache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, cache.Get(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "forever", 1, 0))
	require.NoError(t, cache.Delete(ctx, "forever"))
	ok, err = cache.Exists(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Snapshot(t *testing.T) {
	cache := NewMemoryCache(nil, nil)
	ctx := context.Background()

	_, err := cache.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	id := uuid.New()
	snap := engine.Snapshot{
		BasePool:              decimal.NewFromInt(1000),
		AssetsShareTotal:      decimal.NewFromInt(1000),
		LiabilitiesShareTotal: decimal.NewFromInt(777),
		LiabilitiesValueTotal: decimal.NewFromInt(777),
		Supply:                decimal.NewFromInt(777),
		RedemptionRate:        decimal.NewFromInt(1),
		Params:                engine.DefaultParams(),
		Positions: []engine.Position{{
			ID:               id,
			CollateralShares: decimal.NewFromInt(1000),
			DebtShares:       decimal.NewFromInt(777),
		}},
	}
	require.NoError(t, cache.SaveSnapshot(ctx, snap))

	loaded, err := cache.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, id, loaded.Positions[0].ID)
	assert.True(t, loaded.LiabilitiesValueTotal.Equal(snap.LiabilitiesValueTotal))
	assert.True(t, loaded.Params.MCR.Equal(snap.Params.MCR))
	assert.Equal(t, snap.Params.OracleStaleness, loaded.Params.OracleStaleness)
}

func TestInMemoryPubSub(t *testing.T) {
	cache := NewMemoryCache(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.Subscribe(ctx, ChannelEvents)
	defer sub.Close()

	event := engine.Event{ID: uuid.New(), Kind: engine.EventMint, Amount: decimal.NewFromInt(5)}
	require.NoError(t, cache.Publish(ctx, ChannelEvents, event))
	require.NoError(t, cache.Publish(ctx, "eusd:other", event))

	select {
	case msg := <-sub.Channel():
		require.NotNil(t, msg)
		assert.Equal(t, ChannelEvents, msg.Channel)
		var got engine.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, engine.EventMint, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pubsub message")
	}

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSubHub_ContextCancelUnsubscribes(t *testing.T) {
	hub := NewPubSubHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx, "c")
	cancel()

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subscribers) == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-sub.Channel()
	assert.False(t, open)
}
