package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/kafka"
	"github.com/mohamad-damaj/shoptimizer/internal/postgres"
	redisstore "github.com/mohamad-damaj/shoptimizer/internal/redis"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

var _ kafka.Producer = (*fakeProducer)(nil)

type fakeStore struct {
	mu        sync.Mutex
	results   map[string]*domain.JobResult
	cancelled map[string]bool
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		results:   make(map[string]*domain.JobResult),
		cancelled: make(map[string]bool),
	}
}

func (s *fakeStore) Put(_ context.Context, r *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.JobID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*domain.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
	return nil
}

func (s *fakeStore) SetCancelFlag(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[id] = true
	return nil
}

func (s *fakeStore) Cancelled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id], nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

var _ redisstore.ResultStore = (*fakeStore)(nil)

type fakeBus struct {
	mu      sync.Mutex
	cancels []string
	// wake is handed to Subscribe callers so tests can nudge the stream loop.
	wake chan redisstore.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{wake: make(chan redisstore.Event, 8)}
}

func (b *fakeBus) Publish(context.Context, string, redisstore.Event) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan redisstore.Event, func(), error) {
	return b.wake, func() {}, nil
}

func (b *fakeBus) PublishCancel(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, jobID)
	return nil
}

func (b *fakeBus) SubscribeCancel(context.Context) (<-chan string, func(), error) {
	ch := make(chan string)
	return ch, func() {}, nil
}

var _ redisstore.EventBus = (*fakeBus)(nil)

type fakeCatalog struct {
	mu       sync.Mutex
	created  []string
	statuses map[string]domain.Status
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{statuses: make(map[string]domain.Status)}
}

func (c *fakeCatalog) Create(_ context.Context, job *domain.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, job.ID)
	c.statuses[job.ID] = job.Status
	return nil
}

func (c *fakeCatalog) UpdateStatus(_ context.Context, id string, st domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = st
	return nil
}

func (c *fakeCatalog) GetByID(_ context.Context, id string) (*domain.Job, error) {
	return nil, &domain.JobNotFoundError{JobID: id}
}

func (c *fakeCatalog) MarkStale(context.Context, time.Time) (int64, error) { return 0, nil }
func (c *fakeCatalog) Prune(context.Context, time.Time) (int64, error)     { return 0, nil }

var _ postgres.JobCatalog = (*fakeCatalog)(nil)

type fakeLimiter struct {
	allowed bool
}

func (l *fakeLimiter) Allow(context.Context, string) (bool, error) { return l.allowed, nil }
func (l *fakeLimiter) Limit() int                                  { return 1 }

var _ redisstore.RateLimiter = (*fakeLimiter)(nil)

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestRouter(h *REST) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate-product-3d", h.SubmitProduct3D)
		r.Post("/generate-scene", h.SubmitScene)
		r.Get("/task-result/{job_id}", h.GetTaskResult)
		r.Get("/task-stream/{job_id}", h.StreamTaskStatus)
		r.Delete("/task/{job_id}", h.CancelTask)
	})
	return r
}

func newTestREST(prod *fakeProducer, store *fakeStore, bus *fakeBus, cat *fakeCatalog, opts ...Option) *REST {
	base := []Option{WithCatalog(cat)}
	return NewREST(prod, store, bus, slog.Default(), append(base, opts...)...)
}

func productBody(t *testing.T) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(domain.ProductRequest{
		ProductData: domain.ProductData{
			Title:         "Marble Ashtray",
			FeaturedImage: "https://cdn.example.com/ashtray.png",
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSubmitProduct3D_Accepted(t *testing.T) {
	prod := &fakeProducer{}
	cat := newFakeCatalog()
	router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), cat))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-product-3d", productBody(t)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.JobID)
	require.NoError(t, err, "job_id must be a UUID")
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.Message)

	require.Equal(t, 1, prod.count())
	msg := prod.messages[0]
	assert.Equal(t, kafka.TopicJobs, msg.topic)
	assert.Equal(t, resp.JobID, msg.key)

	var job domain.Job
	require.NoError(t, json.Unmarshal(msg.value, &job))
	assert.Equal(t, domain.KindProduct3D, job.Kind)
	assert.Equal(t, domain.StatusQueued, job.Status)

	var req domain.ProductRequest
	require.NoError(t, json.Unmarshal(job.Payload, &req))
	assert.Equal(t, "Marble Ashtray", req.ProductData.Title)

	assert.Equal(t, []string{resp.JobID}, cat.created)
}

func TestSubmit_DistinctJobIDs(t *testing.T) {
	prod := &fakeProducer{}
	router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog()))

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-product-3d", productBody(t)))
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp SubmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		ids[resp.JobID] = true
	}
	assert.Len(t, ids, 3, "each submission gets its own job id")
}

func TestSubmitProduct3D_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing title", `{"product_data":{"featured_image":"https://x/y.png"}}`},
		{"missing featured_image", `{"product_data":{"title":"Chair"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prod := &fakeProducer{}
			router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog()))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-product-3d",
				bytes.NewReader([]byte(tc.body))))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, prod.count(), "rejected submission must publish nothing")
		})
	}
}

func TestSubmitScene_Accepted(t *testing.T) {
	prod := &fakeProducer{}
	router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-scene",
		bytes.NewReader([]byte(`{"name":"Atelier","product_count":4}`))))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, prod.count())

	var job domain.Job
	require.NoError(t, json.Unmarshal(prod.messages[0].value, &job))
	assert.Equal(t, domain.KindScene, job.Kind)
}

func TestSubmitScene_MissingName(t *testing.T) {
	prod := &fakeProducer{}
	router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-scene",
		bytes.NewReader([]byte(`{"description":"no name"}`))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, prod.count())
}

func TestSubmit_RateLimited(t *testing.T) {
	prod := &fakeProducer{}
	h := newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog(),
		WithRateLimiter(&fakeLimiter{allowed: false}))
	router := newTestRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-product-3d", productBody(t)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 0, prod.count(), "throttled submission must publish nothing")
}

func TestSubmit_PublishFailure(t *testing.T) {
	prod := &fakeProducer{err: context.DeadlineExceeded}
	router := newTestRouter(newTestREST(prod, newFakeStore(), newFakeBus(), newFakeCatalog()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate-product-3d", productBody(t)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetTaskResult_UnknownIsPending(t *testing.T) {
	router := newTestRouter(newTestREST(&fakeProducer{}, newFakeStore(), newFakeBus(), newFakeCatalog()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/task-result/nope", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "nope", resp.JobID)
	assert.Equal(t, "pending", resp.Status)
}

func TestGetTaskResult_ReturnsStoredRecord(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Put(context.Background(), &domain.JobResult{
		JobID:    "job-1",
		Status:   domain.StatusCompleted,
		Metadata: "OK",
		Model:    "gemini-3-flash-preview",
		Usage:    &domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}))
	router := newTestRouter(newTestREST(&fakeProducer{}, store, newFakeBus(), newFakeCatalog()))

	// Reads are idempotent: the record survives being fetched.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/task-result/job-1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var res domain.JobResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, domain.StatusCompleted, res.Status)
		assert.Equal(t, "OK", res.Metadata)
		require.NotNil(t, res.Usage)
		assert.Equal(t, 15, res.Usage.TotalTokens)
	}
}

func TestCancelTask(t *testing.T) {
	store := newFakeStore()
	bus := newFakeBus()
	cat := newFakeCatalog()
	require.NoError(t, store.Put(context.Background(), &domain.JobResult{
		JobID: "job-9", Status: domain.StatusStarted,
	}))
	router := newTestRouter(newTestREST(&fakeProducer{}, store, bus, cat))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/task/job-9", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"job-9"}, bus.cancels)

	flagged, err := store.Cancelled(context.Background(), "job-9")
	require.NoError(t, err)
	assert.True(t, flagged)

	_, err = store.Get(context.Background(), "job-9")
	var notFound *domain.JobNotFoundError
	assert.ErrorAs(t, err, &notFound, "stored result must be removed")
	assert.Equal(t, domain.StatusCancelled, cat.statuses["job-9"])
}

func TestHealth(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(newTestREST(&fakeProducer{}, store, newFakeBus(), newFakeCatalog()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","store":"ok"}`, rec.Body.String())

	store.pingErr = context.DeadlineExceeded
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","store":"error"}`, rec.Body.String())
}
