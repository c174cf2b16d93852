package janitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

type fakeCatalog struct {
	staleCutoff time.Time
	pruneCutoff time.Time
	staleErr    error
	staleRows   int64
	pruneRows   int64
}

func (c *fakeCatalog) Create(context.Context, *domain.Job) error { return nil }
func (c *fakeCatalog) UpdateStatus(context.Context, string, domain.Status) error {
	return nil
}
func (c *fakeCatalog) GetByID(_ context.Context, id string) (*domain.Job, error) {
	return nil, &domain.JobNotFoundError{JobID: id}
}
func (c *fakeCatalog) MarkStale(_ context.Context, cutoff time.Time) (int64, error) {
	c.staleCutoff = cutoff
	return c.staleRows, c.staleErr
}
func (c *fakeCatalog) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	c.pruneCutoff = cutoff
	return c.pruneRows, nil
}

func TestSweep_CutoffsFromWindows(t *testing.T) {
	cat := &fakeCatalog{staleRows: 2, pruneRows: 5}
	s, err := New(cat, nil, "0 * * * *", 7*24*time.Hour, 24*time.Hour, "test", slog.Default())
	require.NoError(t, err)

	before := time.Now().UTC()
	s.Sweep(context.Background())
	after := time.Now().UTC()

	assert.WithinRange(t, cat.staleCutoff, before.Add(-24*time.Hour), after.Add(-24*time.Hour))
	assert.WithinRange(t, cat.pruneCutoff, before.Add(-7*24*time.Hour), after.Add(-7*24*time.Hour))
}

func TestSweep_StaleErrorStillPrunes(t *testing.T) {
	cat := &fakeCatalog{staleErr: errors.New("postgres down"), pruneRows: 1}
	s, err := New(cat, nil, "@hourly", time.Hour, time.Hour, "test", slog.Default())
	require.NoError(t, err)

	s.Sweep(context.Background())

	assert.False(t, cat.pruneCutoff.IsZero(), "prune runs even when mark-stale fails")
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeCatalog{}, nil, "not a cron spec", time.Hour, time.Hour, "test", slog.Default())
	require.Error(t, err)
}
