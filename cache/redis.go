package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "bookcache:"
	defaultRedisTimeout = 5 * time.Second
)

// RedisStore maps every partition to one Redis hash named prefix+partition.
// It lets several proxy instances share one cache.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore connects to the server at redisURL (redis://host:port/db)
// and checks the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := NewRedisStoreFromClient(redis.NewClient(opts))
	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  defaultRedisPrefix,
		timeout: defaultRedisTimeout,
	}
}

func (s *RedisStore) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) hash(partition string) string {
	return s.prefix + partition
}

func (s *RedisStore) Get(partition, key string) ([]byte, bool, error) {
	ctx, cancel := s.context()
	defer cancel()
	value, err := s.client.HGet(ctx, s.hash(partition), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Put(partition, key string, value []byte) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	ctx, cancel := s.context()
	defer cancel()
	return s.client.HSet(ctx, s.hash(partition), key, value).Err()
}

func (s *RedisStore) Remove(partition, key string) error {
	ctx, cancel := s.context()
	defer cancel()
	return s.client.HDel(ctx, s.hash(partition), key).Err()
}

func (s *RedisStore) Keys(partition string) ([]string, error) {
	ctx, cancel := s.context()
	defer cancel()
	keys, err := s.client.HKeys(ctx, s.hash(partition)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Partitions() ([]string, error) {
	ctx, cancel := s.context()
	defer cancel()
	partitions := make([]string, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		partitions = append(partitions, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(partitions)
	return partitions, nil
}

func (s *RedisStore) Delete(partition string) error {
	if partition == "" {
		return ErrEmptyPartition
	}
	ctx, cancel := s.context()
	defer cancel()
	return s.client.Del(ctx, s.hash(partition)).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
