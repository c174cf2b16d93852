package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/pkg/telemetry"
)

// StreamTaskStatus handles GET /api/task-stream/{job_id}, a server-sent
// events stream of status updates for one job.
//
// The stream is read-only over the store: each wake reads the current record
// and emits it only when the status changed since the last frame. The event
// subscription is just an early wake-up; the poll ticker guarantees progress
// when a publish was lost. The stream ends on the first terminal status, when
// the wall-clock budget runs out, or when the client goes away.
func (h *REST) StreamTaskStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	log := h.logger.With(slog.String("job_id", jobID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	telemetry.APIStreamsOpen.Inc()
	defer telemetry.APIStreamsOpen.Dec()

	events, closeSub, err := h.bus.Subscribe(ctx, jobID)
	if err != nil {
		// Degrade to polling only; a nil channel never fires in the select.
		log.Warn("event subscription failed, polling only", slog.String("error", err.Error()))
		events, closeSub = nil, func() {}
	}
	defer closeSub()

	ticker := time.NewTicker(h.streamPoll)
	defer ticker.Stop()
	budget := time.NewTimer(h.streamBudget)
	defer budget.Stop()

	var lastSent domain.Status
	emit := func() (done bool) {
		result, err := h.store.Get(ctx, jobID)
		if err != nil {
			var notFound *domain.JobNotFoundError
			if errors.As(err, &notFound) {
				// Nothing recorded yet: report queued exactly once.
				if lastSent == "" {
					if writeFrame(w, flusher, &domain.JobResult{JobID: jobID, Status: domain.StatusQueued}) != nil {
						return true
					}
					lastSent = domain.StatusQueued
					telemetry.APIStreamEvents.WithLabelValues(string(domain.StatusQueued)).Inc()
				}
				return false
			}
			log.Error("stream read failed", slog.String("error", err.Error()))
			_ = writeFrame(w, flusher, &domain.JobResult{JobID: jobID, Status: domain.StatusFailed, Error: "status lookup failed"})
			return true
		}

		if result.Status == lastSent {
			return false
		}
		if err := writeFrame(w, flusher, result); err != nil {
			return true
		}
		lastSent = result.Status
		telemetry.APIStreamEvents.WithLabelValues(string(result.Status)).Inc()
		return result.Status.IsTerminal()
	}

	if emit() {
		return
	}

	for {
		select {
		case _, open := <-events:
			if !open {
				// Subscription lost; the ticker keeps the stream alive.
				events = nil
				continue
			}
			if emit() {
				return
			}
		case <-ticker.C:
			if emit() {
				return
			}
		case <-budget.C:
			log.Info("stream budget exhausted")
			_ = writeFrame(w, flusher, &domain.JobResult{JobID: jobID, Status: domain.StatusTimeout})
			telemetry.APIStreamEvents.WithLabelValues(string(domain.StatusTimeout)).Inc()
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, result *domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
