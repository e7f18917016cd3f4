package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps an expired record readable for a while after ExpiresAt so that
// readers observe the expiry instead of a silently vanished key.
const expiryGrace = time.Minute

// RedisStore implements RecordStore using Redis.
// The record is kept under a single key whose TTL follows ExpiresAt.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis record store from a client.
// keyPrefix typically ends with a colon.
func NewRedisStore(client *redis.Client, keyPrefix, origin string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    keyPrefix + origin + ":" + DefaultKey,
	}
}

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password is the Redis password (empty for no auth)
	Password string

	// DB is the Redis database number (0-15)
	DB int

	// KeyPrefix is prepended to all keys (default: "docgate:")
	KeyPrefix string
}

// NewRedisClient opens a Redis client and checks the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}
	return client, nil
}

// NewRedisFromConfig creates a Redis record store for origin with its own client.
func NewRedisFromConfig(cfg RedisConfig, origin string) (*RedisStore, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "docgate:"
	}
	return NewRedisStore(client, prefix, origin), nil
}

// Load returns the stored record.
func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get key: %w", err)
	}

	return Unmarshal([]byte(val))
}

// Save overwrites the stored record and sets its TTL.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := Marshal(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(rec.ExpiresAt) + expiryGrace
	if ttl < expiryGrace {
		ttl = expiryGrace
	}

	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set key: %w", err)
	}
	return nil
}

// Clear removes the stored record.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete key: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
