package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campusattend/internal/apperr"
)

// Cache stores computed stats per subject, one field per day range, so a
// single delete drops every range for the subject. Each subject carries a
// generation that Delete advances; Set writes only while the generation it
// was given is still current, so a result computed before an invalidation
// is never cached after it.
type Cache interface {
	Get(ctx context.Context, subject, field string) (Stats, bool, error)
	Generation(ctx context.Context, subject string) (int64, error)
	Set(ctx context.Context, subject, field string, gen int64, st Stats) error
	Delete(ctx context.Context, subjects ...string) error
}

// genField holds the generation. Range fields always contain "..".
const genField = "gen"

// RedisCache keeps one hash per subject with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// KEYS[1] subject hash; ARGV: generation, field, value, ttl ms.
var setScript = redis.NewScript(`
local gen = redis.call("HGET", KEYS[1], "gen") or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// KEYS subject hashes; ARGV[1] ttl ms.
var invalidateScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	local gen = tonumber(redis.call("HGET", key, "gen") or "0")
	redis.call("DEL", key)
	redis.call("HSET", key, "gen", gen + 1)
	redis.call("PEXPIRE", key, ARGV[1])
end
return #KEYS
`)

// NewRedisCache creates a cache with keys "<prefix><subject>".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "attendance:stats:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, subject, field string) (Stats, bool, error) {
	raw, err := c.client.HGet(ctx, c.prefix+subject, field).Result()
	if err == redis.Nil {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("stats cache: %w: %v", apperr.ErrStoreUnavailable, err)
	}
	var st Stats
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Stats{}, false, fmt.Errorf("stats cache %s: %w", subject, err)
	}
	return st, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, subject string) (int64, error) {
	gen, err := c.client.HGet(ctx, c.prefix+subject, genField).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats cache: %w: %v", apperr.ErrStoreUnavailable, err)
	}
	return gen, nil
}

func (c *RedisCache) Set(ctx context.Context, subject, field string, gen int64, st Stats) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	keys := []string{c.prefix + subject}
	args := []any{strconv.FormatInt(gen, 10), field, raw, c.ttl.Milliseconds()}
	if err := setScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("stats cache: %w: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, subjects ...string) error {
	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = c.prefix + s
	}
	if err := invalidateScript.Run(ctx, c.client, keys, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("stats cache: %w: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// MemoryCache is an in-process Cache without expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	gen    int64
	ranges map[string]Stats
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*memoryEntry)}
}

func (c *MemoryCache) entry(subject string) *memoryEntry {
	e, ok := c.entries[subject]
	if !ok {
		e = &memoryEntry{ranges: make(map[string]Stats)}
		c.entries[subject] = e
	}
	return e
}

func (c *MemoryCache) Get(_ context.Context, subject, field string) (Stats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[subject]
	if !ok {
		return Stats{}, false, nil
	}
	st, ok := e.ranges[field]
	return st, ok, nil
}

func (c *MemoryCache) Generation(_ context.Context, subject string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(subject).gen, nil
}

func (c *MemoryCache) Set(_ context.Context, subject, field string, gen int64, st Stats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(subject)
	if e.gen != gen {
		return nil
	}
	e.ranges[field] = st
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, subjects ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range subjects {
		e := c.entry(s)
		e.gen++
		e.ranges = make(map[string]Stats)
	}
	return nil
}
