package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// Otherwise keys live in process memory
	mem *memoryStore
	hub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(addr string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Infow("No Redis address configured; using in-memory cache")
		return NewMemoryCache(logger, metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache with local pubsub", "addr", addr, "error", err)
		_ = client.Close()
		return NewMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewMemoryCache never touches the network
func NewMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		mem:     newMemoryStore(time.Now),
		hub:     NewPubSubHub(),
		logger:  logger,
		metrics: metrics,
	}
}

// Cache keys and channels
const (
	KeyLedgerSnapshot = "eusd:ledger:snapshot"
	KeyLedgerState    = "eusd:ledger:state"
	KeyPosition       = "eusd:position"
	ChannelEvents     = "eusd:events"
	ChannelState      = "eusd:ledger:state"
	ChannelPrices     = "eusd:prices"
)

var ErrCacheMiss = errors.New("cache miss")

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var (
		data []byte
		err  error
	)
	if c.client != nil {
		data, err = c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			err = ErrCacheMiss
		}
	} else {
		data, err = c.mem.get(key)
	}

	if errors.Is(err, ErrCacheMiss) {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(ctx, key)
		}
		return ErrCacheMiss
	}
	if err != nil {
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// Set stores value as JSON. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.mem.set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.mem.del(keys...)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	_, err := c.mem.get(key)
	return err == nil, nil
}

// SaveSnapshot keeps the latest ledger snapshot with no expiry
func (c *Cache) SaveSnapshot(ctx context.Context, s engine.Snapshot) error {
	return c.Set(ctx, KeyLedgerSnapshot, s, 0)
}

func (c *Cache) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	var s engine.Snapshot
	err := c.Get(ctx, KeyLedgerSnapshot, &s)
	return s, err
}

func (c *Cache) GetState(ctx context.Context, dest *engine.State) error {
	return c.Get(ctx, KeyLedgerState, dest)
}

func (c *Cache) SetState(ctx context.Context, s engine.State) error {
	return c.Set(ctx, KeyLedgerState, s, 3*time.Second)
}

func (c *Cache) GetPosition(ctx context.Context, id string, dest *engine.Position) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyPosition, id), dest)
}

func (c *Cache) SetPosition(ctx context.Context, p engine.Position) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyPosition, p.ID), p, 10*time.Second)
}

// Pub/Sub methods for real-time updates
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	return nil
}

// Subscribe returns a subscription backed by Redis or the local hub
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		return newRedisSubscription(ctx, c.client.Subscribe(ctx, channels...))
	}
	return c.hub.Subscribe(ctx, channels...)
}

// IsInMemoryMode returns true if the cache is running in in-memory mode
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
