package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pillhelper/internal/domain"
)

// RedisOptions configures the Redis-backed history store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisHistoryStore keeps the history list as one JSON value in Redis.
type RedisHistoryStore struct {
	client *redis.Client
	key    string
}

// NewRedisHistoryStore connects and pings Redis before returning.
func NewRedisHistoryStore(ctx context.Context, opts RedisOptions) (*RedisHistoryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHistoryStore{client: client, key: HistoryKey}, nil
}

func (s *RedisHistoryStore) Load(ctx context.Context) ([]domain.HistoryEntry, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return decodeHistory(data)
}

func (s *RedisHistoryStore) Save(ctx context.Context, entries []domain.HistoryEntry) error {
	data, err := encodeHistory(entries)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
