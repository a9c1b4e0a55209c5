package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/db"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Incr(_ context.Context, key string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return goredis.NewIntResult(n, nil)
}

func tenantCtx(tenant string) context.Context {
	return context.WithValue(context.Background(), db.TenantIDKey, tenant)
}

// put reads then writes, the way a listing is filled on a miss.
func put(ctx context.Context, c *SlotCache, provider uuid.UUID, key string, val []byte) {
	_, entry, _ := c.Get(ctx, provider, key)
	c.Set(ctx, entry, val)
}

func TestSlotCache_RoundTrip(t *testing.T) {
	rdb := newFakeRedis()
	c := newSlotCache(rdb, 30*time.Second, zerolog.Nop())
	ctx := tenantCtx("acme")
	provider := uuid.New()

	_, entry, ok := c.Get(ctx, provider, "q1")
	if ok {
		t.Fatal("expected a miss on an empty cache")
	}
	c.Set(ctx, entry, []byte(`[1,2]`))
	got, _, ok := c.Get(ctx, provider, "q1")
	if !ok || string(got) != `[1,2]` {
		t.Fatalf("expected a hit, got %q %v", got, ok)
	}
	for k, ttl := range rdb.ttls {
		if ttl != 30*time.Second {
			t.Errorf("%s: expected a 30s TTL, got %v", k, ttl)
		}
	}
}

func TestSlotCache_InvalidateIsPerProvider(t *testing.T) {
	c := newSlotCache(newFakeRedis(), time.Minute, zerolog.Nop())
	ctx := tenantCtx("acme")
	a, b := uuid.New(), uuid.New()
	put(ctx, c, a, "q", []byte("a"))
	put(ctx, c, b, "q", []byte("b"))

	c.Invalidate(ctx, a)
	if _, _, ok := c.Get(ctx, a, "q"); ok {
		t.Error("expected the invalidated provider to miss")
	}
	if v, _, ok := c.Get(ctx, b, "q"); !ok || string(v) != "b" {
		t.Error("expected the other provider to keep its entry")
	}

	put(ctx, c, a, "q", []byte("a2"))
	if v, _, ok := c.Get(ctx, a, "q"); !ok || string(v) != "a2" {
		t.Errorf("expected the new generation to be readable, got %q", v)
	}
}

func TestSlotCache_WriteAfterInvalidateStaysInOldGeneration(t *testing.T) {
	c := newSlotCache(newFakeRedis(), time.Minute, zerolog.Nop())
	ctx := tenantCtx("acme")
	provider := uuid.New()

	_, entry, _ := c.Get(ctx, provider, "q")
	c.Invalidate(ctx, provider)
	c.Set(ctx, entry, []byte("stale"))

	if v, _, ok := c.Get(ctx, provider, "q"); ok {
		t.Errorf("expected a listing read before the invalidation to stay hidden, got %q", v)
	}
}

func TestSlotCache_TenantsAreIsolated(t *testing.T) {
	c := newSlotCache(newFakeRedis(), time.Minute, zerolog.Nop())
	provider := uuid.New()
	put(tenantCtx("acme"), c, provider, "q", []byte("acme"))
	if _, _, ok := c.Get(tenantCtx("globex"), provider, "q"); ok {
		t.Error("expected another tenant to miss")
	}
}

func TestSlotCache_ErrorsAreMisses(t *testing.T) {
	rdb := newFakeRedis()
	c := newSlotCache(rdb, time.Minute, zerolog.Nop())
	ctx := tenantCtx("acme")
	provider := uuid.New()
	put(ctx, c, provider, "q", []byte("x"))

	rdb.err = errors.New("connection refused")
	_, entry, ok := c.Get(ctx, provider, "q")
	if ok || entry != "" {
		t.Errorf("expected a miss without an entry while redis is down, got %q", entry)
	}
	c.Set(ctx, entry, []byte("y"))
	c.Invalidate(ctx, provider)
}

func TestNoop(t *testing.T) {
	var c Noop
	c.Set(context.Background(), "k", []byte("v"))
	if _, _, ok := c.Get(context.Background(), uuid.Nil, "k"); ok {
		t.Error("expected Noop to never hit")
	}
	c.Invalidate(context.Background(), uuid.Nil)
}
