package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

const (
	resultTTL     = 24 * time.Hour
	cancelFlagTTL = time.Hour
)

// Key namespacing is load-bearing: the same job id addresses distinct
// conceptual channels (stored result vs. event stream vs. cancel flag) and
// the prefix is what keeps them apart.
func resultKey(jobID string) string { return "job:result:" + jobID }
func cancelKey(jobID string) string { return "job:cancel:" + jobID }

// ResultStore holds the latest known state of each job, last-write-wins.
// A missing key is reported as JobNotFoundError; the API layer collapses
// that to "pending" for clients.
type ResultStore interface {
	Put(ctx context.Context, result *domain.JobResult) error
	Get(ctx context.Context, jobID string) (*domain.JobResult, error)
	Delete(ctx context.Context, jobID string) error
	SetCancelFlag(ctx context.Context, jobID string) error
	Cancelled(ctx context.Context, jobID string) (bool, error)
	Ping(ctx context.Context) error
}

type resultStore struct {
	client *redis.Client
}

// NewResultStore creates a Redis-backed ResultStore.
func NewResultStore(client *redis.Client) ResultStore {
	return &resultStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *resultStore) Put(ctx context.Context, result *domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for %s: %w", result.JobID, err)
	}
	if err := s.client.Set(ctx, resultKey(result.JobID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("redis set result for %s: %w", result.JobID, err)
	}
	return nil
}

func (s *resultStore) Get(ctx context.Context, jobID string) (*domain.JobResult, error) {
	data, err := s.client.Get(ctx, resultKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.JobNotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("redis get result for %s: %w", jobID, err)
	}
	var result domain.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result for %s: %w", jobID, err)
	}
	return &result, nil
}

func (s *resultStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, resultKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis delete result for %s: %w", jobID, err)
	}
	return nil
}

// SetCancelFlag marks a job as revoked. Workers check the flag before
// starting execution; the TTL bounds how long a revocation outlives its job.
func (s *resultStore) SetCancelFlag(ctx context.Context, jobID string) error {
	if err := s.client.Set(ctx, cancelKey(jobID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("redis set cancel flag for %s: %w", jobID, err)
	}
	return nil
}

func (s *resultStore) Cancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check cancel flag for %s: %w", jobID, err)
	}
	return n > 0, nil
}

func (s *resultStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
