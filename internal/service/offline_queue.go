package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"convo-llm/internal/domain"
)

// ErrQueueEmpty indica que no hay entradas pendientes.
var ErrQueueEmpty = errors.New("offline queue empty")

// OfflineQueue guarda envios fallidos en orden FIFO estricto. El flush es
// head-of-line: solo se opera sobre la cabeza para no reordenar el
// historial visible por el backend.
type OfflineQueue interface {
	Enqueue(ctx context.Context, entry domain.OfflineQueueEntry) error
	Peek(ctx context.Context) (domain.OfflineQueueEntry, error)
	Dequeue(ctx context.Context) error
	UpdateHead(ctx context.Context, entry domain.OfflineQueueEntry) error
	Len(ctx context.Context) (int, error)
}

type memoryOfflineQueue struct {
	mu      sync.Mutex
	entries []domain.OfflineQueueEntry
}

func NewMemoryOfflineQueue() OfflineQueue {
	return &memoryOfflineQueue{}
}

func (q *memoryOfflineQueue) Enqueue(_ context.Context, entry domain.OfflineQueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return nil
}

func (q *memoryOfflineQueue) Peek(_ context.Context) (domain.OfflineQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return domain.OfflineQueueEntry{}, ErrQueueEmpty
	}
	return q.entries[0], nil
}

func (q *memoryOfflineQueue) Dequeue(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ErrQueueEmpty
	}
	q.entries = q.entries[1:]
	return nil
}

func (q *memoryOfflineQueue) UpdateHead(_ context.Context, entry domain.OfflineQueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ErrQueueEmpty
	}
	q.entries[0] = entry
	return nil
}

func (q *memoryOfflineQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

type redisOfflineQueue struct {
	client *redis.Client
	key    string
}

// NewRedisOfflineQueue persiste la cola en una lista de redis para que
// los envios pendientes sobrevivan reinicios del proceso.
func NewRedisOfflineQueue(client *redis.Client, key string) OfflineQueue {
	if client == nil {
		return nil
	}
	if key == "" {
		key = "convo:offline"
	}
	return &redisOfflineQueue{client: client, key: key}
}

func (q *redisOfflineQueue) Enqueue(ctx context.Context, entry domain.OfflineQueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, payload).Err()
}

func (q *redisOfflineQueue) Peek(ctx context.Context) (domain.OfflineQueueEntry, error) {
	payload, err := q.client.LIndex(ctx, q.key, 0).Result()
	if err == redis.Nil {
		return domain.OfflineQueueEntry{}, ErrQueueEmpty
	}
	if err != nil {
		return domain.OfflineQueueEntry{}, err
	}
	var entry domain.OfflineQueueEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return domain.OfflineQueueEntry{}, err
	}
	return entry, nil
}

func (q *redisOfflineQueue) Dequeue(ctx context.Context) error {
	err := q.client.LPop(ctx, q.key).Err()
	if err == redis.Nil {
		return ErrQueueEmpty
	}
	return err
}

func (q *redisOfflineQueue) UpdateHead(ctx context.Context, entry domain.OfflineQueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.client.LSet(ctx, q.key, 0, payload).Err()
}

func (q *redisOfflineQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}
