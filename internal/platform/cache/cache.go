// Package cache holds rendered slot listings in Redis. Entries are keyed by
// a per-provider generation counter: invalidating a provider bumps the
// counter, which orphans every entry written under the old generation until
// its TTL expires.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/db"
)

// commander is the part of *goredis.Client the cache uses.
type commander interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Incr(ctx context.Context, key string) *goredis.IntCmd
}

type SlotCache struct {
	rdb commander
	ttl time.Duration
	log zerolog.Logger
}

// NewClient connects to url (redis://...) and pings it.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewSlotCache(rdb *goredis.Client, ttl time.Duration, log zerolog.Logger) *SlotCache {
	return newSlotCache(rdb, ttl, log)
}

func newSlotCache(rdb commander, ttl time.Duration, log zerolog.Logger) *SlotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SlotCache{rdb: rdb, ttl: ttl, log: log.With().Str("component", "slot_cache").Logger()}
}

func genKey(ctx context.Context, providerID uuid.UUID) string {
	return "slots:" + db.TenantFromContext(ctx) + ":" + providerID.String() + ":gen"
}

func (c *SlotCache) generation(ctx context.Context, providerID uuid.UUID) (string, error) {
	gen, err := c.rdb.Get(ctx, genKey(ctx, providerID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "0", nil
	}
	return gen, err
}

func (c *SlotCache) entryKey(ctx context.Context, providerID uuid.UUID, key string) (string, error) {
	gen, err := c.generation(ctx, providerID)
	if err != nil {
		return "", err
	}
	return "slots:" + db.TenantFromContext(ctx) + ":" + providerID.String() + ":" + gen + ":" + key, nil
}

// Get returns the cached value together with the entry key it was looked up
// under. The entry key pins the provider's generation at read time; pass it
// to Set so a listing computed before an invalidation is never stored under
// the newer generation. Redis errors count as a miss with an empty entry.
func (c *SlotCache) Get(ctx context.Context, providerID uuid.UUID, key string) ([]byte, string, bool) {
	k, err := c.entryKey(ctx, providerID, key)
	if err != nil {
		c.log.Warn().Err(err).Msg("slot cache read failed")
		return nil, "", false
	}
	val, err := c.rdb.Get(ctx, k).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn().Err(err).Msg("slot cache read failed")
		}
		return nil, k, false
	}
	return val, k, true
}

// Set stores val under an entry key returned by Get. An empty entry is a
// no-op.
func (c *SlotCache) Set(ctx context.Context, entry string, val []byte) {
	if entry == "" {
		return
	}
	if err := c.rdb.Set(ctx, entry, val, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("slot cache write failed")
	}
}

// Invalidate starts a new generation for the provider.
func (c *SlotCache) Invalidate(ctx context.Context, providerID uuid.UUID) {
	gen, err := c.rdb.Incr(ctx, genKey(ctx, providerID)).Result()
	if err != nil {
		c.log.Error().Err(err).Str("provider_id", providerID.String()).Msg("slot cache invalidation failed")
		return
	}
	c.log.Debug().Str("provider_id", providerID.String()).Str("generation", strconv.FormatInt(gen, 10)).Msg("slot cache invalidated")
}

// Noop never stores anything. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, uuid.UUID, string) ([]byte, string, bool) { return nil, "", false }
func (Noop) Set(context.Context, string, []byte)                           {}
func (Noop) Invalidate(context.Context, uuid.UUID)                         {}
