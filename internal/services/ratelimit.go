package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimit is a point budget per fixed window.
type RateLimit struct {
	Points   int
	Duration time.Duration
}

// Limiter guards write actions. Consume returns an error matching ErrRateLimited
// when the key has spent its budget for the current window.
type Limiter interface {
	Consume(ctx context.Context, key string, cost int) error
}

type window struct {
	consumed  int
	expiresAt time.Time
}

// MemoryLimiter counts in process memory. Counters are lost on restart and not
// shared between instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   RateLimit
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

func NewMemoryLimiter(limit RateLimit) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop(limit.Duration * 2)
	return l
}

func (l *MemoryLimiter) Consume(_ context.Context, key string, cost int) error {
	if cost <= 0 {
		return fmt.Errorf("invalid rate limit cost %d", cost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(l.limit.Duration)}
		l.windows[key] = w
	}

	w.consumed += cost
	if w.consumed > l.limit.Points {
		return &RateLimitError{Key: key, RetryAfter: w.expiresAt.Sub(now)}
	}
	return nil
}

// Close stops the cleanup goroutine.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if !now.Before(w.expiresAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RedisLimiter keeps windows in Redis so every instance sees the same counters.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  RateLimit
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, name string, limit RateLimit) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, prefix: "ratelimit:" + name + ":"}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, cost int) error {
	if cost <= 0 {
		return fmt.Errorf("invalid rate limit cost %d", cost)
	}
	k := l.prefix + key

	// The NX set opens the window with its TTL; later calls only increment.
	pipe := l.rdb.TxPipeline()
	pipe.SetNX(ctx, k, 0, l.limit.Duration)
	consumed := pipe.IncrBy(ctx, k, int64(cost))
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("consume rate limit: %w", err)
	}

	if consumed.Val() > int64(l.limit.Points) {
		retry := ttl.Val()
		if retry < 0 {
			retry = l.limit.Duration
		}
		return &RateLimitError{Key: key, RetryAfter: retry}
	}
	return nil
}
