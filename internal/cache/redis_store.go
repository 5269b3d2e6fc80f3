package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var errMissingRedisClient = errors.New("cache: redis client is required")

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Client    *redis.Client
	KeyPrefix string
	Clock     func() time.Time
}

// RedisStore keeps envelopes in redis. The native key TTL mirrors the envelope expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "notesmary:cache:"
	}
	return &RedisStore{client: cfg.Client, prefix: prefix, clock: clock}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrMissingKey
	}
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: load %s: %w", key, err)
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false, fmt.Errorf("cache: decode envelope %s: %w", key, err)
	}
	if envelope.Expired(s.clock()) {
		return false, nil
	}
	if err := envelope.Decode(dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	envelope, err := NewEnvelope(value, ttl, s.clock())
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("cache: encode envelope %s: %w", key, err)
	}
	expiration := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, expiration).Err(); err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: remove %s: %w", key, err)
	}
	return nil
}
