//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	redisstore "github.com/mohamad-damaj/shoptimizer/internal/redis"
)

func TestResultStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	store := redisstore.NewResultStore(client)

	_, err := store.Get(ctx, "missing")
	var notFound *domain.JobNotFoundError
	require.ErrorAs(t, err, &notFound)

	result := &domain.JobResult{
		JobID:    "it-job-1",
		Status:   domain.StatusCompleted,
		Metadata: "OK",
		Usage:    &domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
	require.NoError(t, store.Put(ctx, result))

	got, err := store.Get(ctx, "it-job-1")
	require.NoError(t, err)
	assert.Equal(t, result, got)

	require.NoError(t, store.Delete(ctx, "it-job-1"))
	_, err = store.Get(ctx, "it-job-1")
	assert.ErrorAs(t, err, &notFound)
}

func TestResultStore_CancelFlag(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	store := redisstore.NewResultStore(client)

	cancelled, err := store.Cancelled(ctx, "it-job-2")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, store.SetCancelFlag(ctx, "it-job-2"))
	cancelled, err = store.Cancelled(ctx, "it-job-2")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestEventBus_SubscriberReceivesPublishedEvents(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	bus := redisstore.NewEventBus(client)

	events, closeSub, err := bus.Subscribe(ctx, "it-job-3")
	require.NoError(t, err)
	defer closeSub()

	require.NoError(t, bus.Publish(ctx, "it-job-3",
		redisstore.Event{Type: redisstore.EventStart}))

	select {
	case ev := <-events:
		assert.Equal(t, redisstore.EventStart, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestEventBus_CancelChannel(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	bus := redisstore.NewEventBus(client)

	cancels, closeSub, err := bus.SubscribeCancel(ctx)
	require.NoError(t, err)
	defer closeSub()

	require.NoError(t, bus.PublishCancel(ctx, "it-job-4"))

	select {
	case id := <-cancels:
		assert.Equal(t, "it-job-4", id)
	case <-time.After(5 * time.Second):
		t.Fatal("no cancel received")
	}
}
