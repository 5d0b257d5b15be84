package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when no progress is recorded for a job id.
var ErrJobNotFound = errors.New("job not found")

// Job states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateRetrying  = "retrying"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// ProgressTTL is how long progress entries are kept.
const ProgressTTL = 24 * time.Hour

// Progress is the last known state of a job.
type Progress struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressStore persists job progress for the jobs endpoint.
type ProgressStore interface {
	Set(ctx context.Context, p Progress) error
	Get(ctx context.Context, id string) (*Progress, error)
}

// RedisProgress keeps progress in a hash per job, job:<id>.
type RedisProgress struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisProgress returns a Redis-backed store.
func NewRedisProgress(rdb *redis.Client) *RedisProgress {
	return &RedisProgress{rdb: rdb, ttl: ProgressTTL}
}

func progressKey(id string) string { return "job:" + id }

// Set overwrites the job's hash and refreshes its TTL.
func (s *RedisProgress) Set(ctx context.Context, p Progress) error {
	key := progressKey(p.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"state":      p.State,
		"attempt":    p.Attempt,
		"percent":    p.Percent,
		"message":    p.Message,
		"error":      p.Error,
		"updated_at": p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save progress %s: %w", p.ID, err)
	}
	return nil
}

// Get reads the job's hash.
func (s *RedisProgress) Get(ctx context.Context, id string) (*Progress, error) {
	m, err := s.rdb.HGetAll(ctx, progressKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, ErrJobNotFound
	}
	p := &Progress{ID: id, Name: m["name"], State: m["state"], Message: m["message"], Error: m["error"]}
	p.Attempt, _ = strconv.Atoi(m["attempt"])
	p.Percent, _ = strconv.Atoi(m["percent"])
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"])
	return p, nil
}

// MemoryProgress is a process-local store used without Redis and in tests.
// Entries older than the TTL are dropped on read.
type MemoryProgress struct {
	mu    sync.RWMutex
	items map[string]Progress
	ttl   time.Duration
}

// NewMemoryProgress returns an empty store.
func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{items: make(map[string]Progress), ttl: ProgressTTL}
}

func (s *MemoryProgress) Set(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ID] = p
	return nil
}

func (s *MemoryProgress) Get(_ context.Context, id string) (*Progress, error) {
	s.mu.RLock()
	p, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || time.Since(p.UpdatedAt) > s.ttl {
		return nil, ErrJobNotFound
	}
	return &p, nil
}
