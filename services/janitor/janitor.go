// Package janitor keeps the job catalog tidy: it prunes old terminal rows
// and flags rows stuck in a non-terminal state. Only the catalog is touched;
// stored results expire through their own Redis TTL.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mohamad-damaj/shoptimizer/internal/postgres"
	"github.com/mohamad-damaj/shoptimizer/pkg/telemetry"
)

const (
	leaderKey     = "janitor:leader"
	leaderTTL     = 30 * time.Second
	checkInterval = 15 * time.Second
)

// Sweeper runs catalog maintenance on a cron schedule with Redis leader
// election, so several instances can run while exactly one sweeps.
type Sweeper struct {
	catalog    postgres.JobCatalog
	redis      *redis.Client
	schedule   cron.Schedule
	retention  time.Duration
	staleAfter time.Duration
	instanceID string
	logger     *slog.Logger

	nextRun time.Time
}

// New builds a Sweeper. spec is a standard 5-field cron expression.
func New(
	catalog postgres.JobCatalog,
	redisClient *redis.Client,
	spec string,
	retention, staleAfter time.Duration,
	instanceID string,
	logger *slog.Logger,
) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		catalog:    catalog,
		redis:      redisClient,
		schedule:   schedule,
		retention:  retention,
		staleAfter: staleAfter,
		instanceID: instanceID,
		logger:     logger,
		nextRun:    schedule.Next(time.Now().UTC()),
	}, nil
}

// Run is the main loop: maintain leadership, sweep when the schedule is due.
// Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.acquireOrRenewLeadership(ctx) {
		return
	}
	now := time.Now().UTC()
	if now.Before(s.nextRun) {
		return
	}
	s.nextRun = s.schedule.Next(now)
	s.Sweep(ctx)
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is
// the leader.
func (s *Sweeper) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired janitor leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Renew only if we own the key; the Lua script keeps check-and-expire atomic.
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Sweep flags stuck rows as timed out, then removes terminal rows past the
// retention window.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	timedOut, err := s.catalog.MarkStale(ctx, now.Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("mark stale failed", slog.String("error", err.Error()))
	} else if timedOut > 0 {
		telemetry.JanitorRowsTimedOut.Add(float64(timedOut))
		s.logger.Info("stale jobs flagged", slog.Int64("rows", timedOut))
	}

	pruned, err := s.catalog.Prune(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Error("prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		telemetry.JanitorRowsPruned.Add(float64(pruned))
		s.logger.Info("old jobs pruned", slog.Int64("rows", pruned))
	}
}
