package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the fixed-window duration when none is configured.
const DefaultWindow = time.Minute

// Limiter enforces a per-credential fixed-window request limit.
//
// The counter is a fixed window, not a sliding window or token bucket:
// bursts of up to 2x the limit are possible across a window boundary.
// That trade-off is accepted for simplicity and a single round trip per
// check. limit <= 0 means unlimited; remaining is then reported as -1 and
// resetAt as the zero time.
type Limiter interface {
	Allow(ctx context.Context, credentialID string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// NoopLimiter allows all requests (no rate limiting).
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, credentialID string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// RedisLimiter implements the fixed window on Redis so the limit holds
// across every gateway process sharing the store.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter. A zero
// window selects DefaultWindow.
func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, window: window}
}

// fixedWindowScript increments the window counter and starts a fresh window
// when none exists. Returns {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('PEXPIRE', key, window_ms)
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		-- Key lost its expiry (e.g. restored from a dump); re-arm it.
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end

	return {count, ttl}
`)

func (l *RedisLimiter) Allow(ctx context.Context, credentialID string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	key := fmt.Sprintf("ratelimit:%s", credentialID)

	vals, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: unexpected script reply")
	}

	count := int(vals[0])
	resetAt := time.Now().Add(time.Duration(vals[1]) * time.Millisecond)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, resetAt, nil
}

// Reset clears the window for a credential (admin use)
func (l *RedisLimiter) Reset(ctx context.Context, credentialID string) error {
	return l.client.Del(ctx, fmt.Sprintf("ratelimit:%s", credentialID)).Err()
}

// GetCurrentUsage returns the request count in the current window
func (l *RedisLimiter) GetCurrentUsage(ctx context.Context, credentialID string) (int64, error) {
	count, err := l.client.Get(ctx, fmt.Sprintf("ratelimit:%s", credentialID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// MemoryLimiter keeps fixed windows in process memory.
//
// Known limitation: counters are per-process. Deployed across N processes
// without the Redis backend, the effective limit is N times the configured
// one.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*memoryWindow

	// now is swappable for tests.
	now func() time.Time
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process fixed-window limiter. A zero
// window selects DefaultWindow.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		window:  window,
		entries: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, credentialID string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.entries[credentialID]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{count: 1, resetAt: now.Add(l.window)}
		l.entries[credentialID] = w
		return true, limit - 1, w.resetAt, nil
	}

	w.count++
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= limit, remaining, w.resetAt, nil
}

// Reset clears the window for a credential
func (l *MemoryLimiter) Reset(credentialID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, credentialID)
}

// Cleanup drops expired windows. Call periodically on long-lived processes.
func (l *MemoryLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.entries {
		if now.After(w.resetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}
