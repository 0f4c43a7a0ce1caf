package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Result describes the outcome of a fixed-window check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// WindowCounter counts hits per key inside fixed windows aligned to the window length.
type WindowCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

var windowIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisWindow shares counters across every API replica.
type RedisWindow struct {
	client *redis.Client
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{client: client}
}

func (w *RedisWindow) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || window <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if w == nil || w.client == nil {
		return Result{}, errors.New("redis window counter not configured")
	}

	start, reset := windowBounds(now, window)
	bucketKey := key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
	// Keep the key one extra window so late replicas still see the count.
	ttl := (2 * window).Milliseconds()

	res, err := windowIncrScript.Run(ctx, w.client, []string{bucketKey}, ttl).Result()
	if err != nil {
		return Result{}, err
	}
	count, ok := res.(int64)
	if !ok {
		return Result{}, errors.New("redis window counter: unexpected response type")
	}
	return windowResult(int(count), limit, reset), nil
}

type memoryWindowEntry struct {
	start time.Time
	count int
}

// MemoryWindow is the single-process fallback when redis is not configured.
type MemoryWindow struct {
	mu       sync.Mutex
	counters map[string]*memoryWindowEntry
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{counters: make(map[string]*memoryWindowEntry)}
}

func (w *MemoryWindow) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || window <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	start, reset := windowBounds(now, window)

	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.counters[key]
	if entry == nil || !entry.start.Equal(start) {
		entry = &memoryWindowEntry{start: start}
		w.counters[key] = entry
	}
	if entry.count >= limit {
		return Result{Allowed: false, Reset: reset}, nil
	}
	entry.count++
	return windowResult(entry.count, limit, reset), nil
}

func windowBounds(now time.Time, window time.Duration) (time.Time, time.Time) {
	start := now.UTC().Truncate(window)
	return start, start.Add(window)
}

func windowResult(count, limit int, reset time.Time) Result {
	if count > limit {
		return Result{Allowed: false, Reset: reset}
	}
	return Result{Allowed: true, Remaining: limit - count, Reset: reset}
}
