// Package handler contains the HTTP surface of the api service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/kafka"
	"github.com/mohamad-damaj/shoptimizer/internal/postgres"
	redisstore "github.com/mohamad-damaj/shoptimizer/internal/redis"
	"github.com/mohamad-damaj/shoptimizer/pkg/telemetry"
)

// REST handles HTTP requests for the api service.
type REST struct {
	producer kafka.Producer
	store    redisstore.ResultStore
	bus      redisstore.EventBus
	catalog  postgres.JobCatalog
	limiter  redisstore.RateLimiter
	logger   *slog.Logger

	// streamPoll and streamBudget shape the SSE loop in stream.go.
	streamPoll   time.Duration
	streamBudget time.Duration
}

// Option configures a REST handler.
type Option func(*REST)

func WithStreamPoll(d time.Duration) Option   { return func(h *REST) { h.streamPoll = d } }
func WithStreamBudget(d time.Duration) Option { return func(h *REST) { h.streamBudget = d } }

// WithRateLimiter attaches a submission rate limiter. Without one all
// submissions are allowed.
func WithRateLimiter(l redisstore.RateLimiter) Option { return func(h *REST) { h.limiter = l } }

// WithCatalog attaches the submission catalog. Catalog writes are advisory.
func WithCatalog(c postgres.JobCatalog) Option { return func(h *REST) { h.catalog = c } }

// NewREST creates a REST handler.
func NewREST(producer kafka.Producer, store redisstore.ResultStore, bus redisstore.EventBus, logger *slog.Logger, opts ...Option) *REST {
	h := &REST{
		producer:     producer,
		store:        store,
		bus:          bus,
		logger:       logger,
		streamPoll:   500 * time.Millisecond,
		streamBudget: time.Hour,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitResponse is the 202 response body for both submission endpoints.
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ResultResponse is the pending placeholder returned when no result record
// exists yet for a job id.
type ResultResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitProduct3D handles POST /api/generate-product-3d.
func (h *REST) SubmitProduct3D(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProductData.Title) == "" {
		writeError(w, http.StatusBadRequest, "field 'product_data.title' is required")
		return
	}
	if strings.TrimSpace(req.ProductData.FeaturedImage) == "" {
		writeError(w, http.StatusBadRequest, "field 'product_data.featured_image' is required")
		return
	}

	h.submit(w, r, domain.KindProduct3D, &req, "3D generation queued")
}

// SubmitScene handles POST /api/generate-scene.
func (h *REST) SubmitScene(w http.ResponseWriter, r *http.Request) {
	var req domain.SceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "field 'name' is required")
		return
	}

	h.submit(w, r, domain.KindScene, &req, "scene generation queued")
}

// submit enqueues a validated request as a new job. The job id is the only
// handle the client ever gets; everything downstream keys off it.
func (h *REST) submit(w http.ResponseWriter, r *http.Request, kind domain.Kind, payload any, message string) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.submit")
	defer span.End()

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, clientKey(r))
		if err != nil {
			// Degraded limiter never blocks submissions.
			h.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			telemetry.APISubmissionsRateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "too many submissions, retry later")
			return
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize request")
		return
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.kind", string(kind)),
	)

	job := &domain.Job{
		ID:        jobID,
		Kind:      kind,
		Payload:   raw,
		Status:    domain.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if h.catalog != nil {
		if err := h.catalog.Create(ctx, job); err != nil {
			// Kafka+Redis are the primary flow; the catalog is an audit trail.
			h.logger.Error("catalog create failed",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}

	msg, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize job")
		return
	}

	// Job id as message key keeps redeliveries of one job on one partition.
	if err := h.producer.Publish(ctx, kafka.TopicJobs, jobID, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("job publish failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	telemetry.APIJobsSubmitted.WithLabelValues(string(kind)).Inc()
	h.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("kind", string(kind)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{
		JobID:   jobID,
		Status:  string(domain.StatusQueued),
		Message: message,
	})
}

// GetTaskResult handles GET /api/task-result/{job_id}.
//
// An unknown id is indistinguishable from a not-yet-started job and reported
// as pending, matching what a client that just submitted would expect.
func (h *REST) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	result, err := h.store.Get(r.Context(), jobID)
	if err != nil {
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(ResultResponse{JobID: jobID, Status: string(domain.StatusPending)})
			return
		}
		h.logger.Error("result read failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve result")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CancelTask handles DELETE /api/task/{job_id}.
//
// Revocation is best-effort by nature: the job may finish concurrently.
// Workers are notified first, then the flag covers not-yet-fetched jobs, and
// finally the stored result is removed so reads report pending or nothing.
func (h *REST) CancelTask(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	ctx := r.Context()
	log := h.logger.With(slog.String("job_id", jobID))

	if err := h.bus.PublishCancel(ctx, jobID); err != nil {
		log.Warn("cancel broadcast failed", slog.String("error", err.Error()))
	}
	if err := h.store.SetCancelFlag(ctx, jobID); err != nil {
		log.Error("cancel flag write failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if err := h.store.Delete(ctx, jobID); err != nil {
		log.Warn("result delete failed", slog.String("error", err.Error()))
	}
	if h.catalog != nil {
		if err := h.catalog.UpdateStatus(ctx, jobID, domain.StatusCancelled); err != nil {
			log.Warn("catalog update failed", slog.String("error", err.Error()))
		}
	}

	log.Info("job cancelled")
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (h *REST) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithProbeTimeout(r)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := h.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "store": "error"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "store": "ok"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks Redis connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithProbeTimeout(r)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func contextWithProbeTimeout(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), 2*time.Second)
}

// clientKey identifies a submitter for rate limiting. Plain remote address;
// the service is expected to sit behind a proxy that preserves it.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
