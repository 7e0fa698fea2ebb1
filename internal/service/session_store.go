package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore es la frontera de persistencia simple para punteros de
// conveniencia como "ultima sesion activa". Las fallas nunca llegan al
// usuario: el caller las loguea y sigue.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type memoryKVStore struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryKVStore() KVStore {
	return &memoryKVStore{items: make(map[string]string)}
}

func (s *memoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	return value, ok, nil
}

func (s *memoryKVStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s.items[key] = value
	return nil
}

type redisKVStore struct {
	client *redis.Client
	prefix string
}

func NewRedisKVStore(client *redis.Client) KVStore {
	if client == nil {
		return nil
	}
	return &redisKVStore{
		client: client,
		prefix: "convo:kv:",
	}
}

func (s *redisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *redisKVStore) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}
