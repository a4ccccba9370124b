package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"councilboard/internal/utils"

	"github.com/redis/go-redis/v9"
)

// StateTTL bounds how long a sign-in attempt may take.
const StateTTL = 10 * time.Minute

// StateStore holds single-use OAuth state tokens mapped to the post-login destination.
type StateStore interface {
	Create(ctx context.Context, redirectTo string) (string, error)
	// Check consumes the state. ok is false for unknown, expired or reused states.
	Check(ctx context.Context, state string) (redirectTo string, ok bool, err error)
}

// MemoryStateStore keeps states in process memory. Only valid for a single instance.
type MemoryStateStore struct {
	cache *utils.TTLCache[string]
}

func NewMemoryStateStore() *MemoryStateStore {
	cache, err := utils.NewTTLCache[string](10000)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &MemoryStateStore{cache: cache}
}

func (s *MemoryStateStore) Create(_ context.Context, redirectTo string) (string, error) {
	state, err := generateToken()
	if err != nil {
		return "", err
	}
	s.cache.Set(state, redirectTo, StateTTL)
	return state, nil
}

func (s *MemoryStateStore) Check(_ context.Context, state string) (string, bool, error) {
	if state == "" {
		return "", false, nil
	}
	redirectTo, ok := s.cache.Take(state)
	return redirectTo, ok, nil
}

// RedisStateStore shares states between instances.
type RedisStateStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, prefix: "oauth:state:"}
}

func (s *RedisStateStore) Create(ctx context.Context, redirectTo string) (string, error) {
	state, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, s.prefix+state, redirectTo, StateTTL).Err(); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}
	return state, nil
}

func (s *RedisStateStore) Check(ctx context.Context, state string) (string, bool, error) {
	if state == "" {
		return "", false, nil
	}
	redirectTo, err := s.rdb.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check oauth state: %w", err)
	}
	return redirectTo, true, nil
}
