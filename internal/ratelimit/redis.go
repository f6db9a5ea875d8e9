package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time assertion.
var _ Store = (*Redis)(nil)

// DefaultKeyPrefix namespaces voxfill counters in a shared Redis.
const DefaultKeyPrefix = "voxfill:ratelimit:"

// checkScript denies without incrementing when the counter is at the limit;
// otherwise it increments and starts the window on the first hit.
// Returns {allowed, count, pttl}.
var checkScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[2]) then
  return {0, c, redis.call('PTTL', KEYS[1])}
end
c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {1, c, redis.call('PTTL', KEYS[1])}
`)

// Redis is a [Store] backed by go-redis. Each key is a counter with a
// millisecond TTL equal to the remaining window.
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOption is a functional option for configuring a [Redis] store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the prefix prepended to every key.
// Default: [DefaultKeyPrefix].
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis returns a [Redis] store using rdb. The store owns rdb and closes it
// in [Redis.Close].
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, prefix: DefaultKeyPrefix, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ratelimit: redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb, opts...), nil
}

// Check implements [Store].
func (r *Redis) Check(ctx context.Context, key string, limit Limit) (Decision, error) {
	res, err := checkScript.Run(ctx, r.rdb, []string{r.prefix + key},
		limit.Window.Milliseconds(), limit.Max).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: check %q: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: check %q: unexpected script result %v", key, res)
	}
	allowed, count, ttl := res[0] == 1, int(res[1]), res[2]
	if ttl < 0 {
		ttl = limit.Window.Milliseconds()
	}
	d := Decision{
		Allowed: allowed,
		Limit:   limit.Max,
		ResetAt: r.now().Add(time.Duration(ttl) * time.Millisecond),
	}
	if allowed {
		d.Remaining = max(limit.Max-count, 0)
	}
	return d, nil
}

// Clear implements [Store].
func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: clear %q: %w", key, err)
	}
	return nil
}

// Status implements [Store].
func (r *Redis) Status(ctx context.Context, key string) (Entry, bool, error) {
	return r.entry(ctx, r.prefix+key)
}

// ListActive implements [Store]. Keys are found with SCAN on the prefix.
func (r *Redis) ListActive(ctx context.Context) ([]Entry, error) {
	var out []Entry
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		e, ok, err := r.entry(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: scan: %w", err)
	}
	return out, nil
}

func (r *Redis) entry(ctx context.Context, fullKey string) (Entry, bool, error) {
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, fullKey)
		pttl = p.PTTL(ctx, fullKey)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: status %q: %w", fullKey, err)
	}
	count, err := strconv.Atoi(get.Val())
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: status %q: %w", fullKey, err)
	}
	ttl := pttl.Val()
	if ttl <= 0 {
		return Entry{}, false, nil
	}
	return Entry{
		Key:     fullKey[len(r.prefix):],
		Count:   count,
		ResetAt: r.now().Add(ttl),
	}, true, nil
}

// Ping implements [Store].
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close implements [Store].
func (r *Redis) Close() error {
	return r.rdb.Close()
}
