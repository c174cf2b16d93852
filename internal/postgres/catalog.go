package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

// JobCatalog records every submission. It is the existence marker that
// distinguishes "job was never issued" from "job still queued" for operators;
// the public API intentionally keeps collapsing both to pending.
type JobCatalog interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	// MarkStale flags rows still non-terminal past the cutoff as timeout.
	// Catalog-only: stored results and the public API are untouched.
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
	// Prune deletes terminal rows older than the cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog wraps a pgxpool with the JobCatalog interface.
func NewCatalog(pool *pgxpool.Pool) JobCatalog {
	return &catalog{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (c *catalog) Create(ctx context.Context, job *domain.Job) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, kind, payload, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6)
	`,
		job.ID, string(job.Kind), job.Payload, string(job.Status),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (c *catalog) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		t := now
		completedAt = &t
	}
	_, err := c.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, updated_at = $2, completed_at = $3
		WHERE id = $4
	`, string(status), now, completedAt, id)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", id, err)
	}
	return nil
}

func (c *catalog) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT id, kind, payload, status, created_at, updated_at, completed_at
		FROM jobs
		WHERE id = $1
	`, id)

	var job domain.Job
	var kind, status string
	err := row.Scan(&job.ID, &kind, &job.Payload, &status,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.JobNotFoundError{JobID: id}
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	job.Kind = domain.Kind(kind)
	job.Status = domain.Status(status)
	return &job, nil
}

func (c *catalog) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE created_at < $2
		  AND status NOT IN ('completed', 'failed', 'cancelled', 'timeout')
	`, string(domain.StatusTimeout), cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *catalog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE created_at < $1
		  AND status IN ('completed', 'failed', 'cancelled', 'timeout')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
