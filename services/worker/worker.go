// Package worker consumes generation jobs from Kafka and executes them
// against the model, writing results to the store and notifying subscribers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
	"github.com/mohamad-damaj/shoptimizer/internal/kafka"
	"github.com/mohamad-damaj/shoptimizer/internal/postgres"
	redisstore "github.com/mohamad-damaj/shoptimizer/internal/redis"
	"github.com/mohamad-damaj/shoptimizer/internal/tasks"
	"github.com/mohamad-damaj/shoptimizer/pkg/retry"
	"github.com/mohamad-damaj/shoptimizer/pkg/telemetry"
)

// Pool fetches jobs and runs up to concurrency of them at once, committing
// each message after its job reaches a conclusion. Delivery is at-least-once;
// redelivered jobs already in a terminal state are skipped.
type Pool struct {
	consumer    kafka.Consumer
	store       redisstore.ResultStore
	bus         redisstore.EventBus
	catalog     postgres.JobCatalog
	registry    *tasks.Registry
	workerID    string
	concurrency int
	taskTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

func WithConcurrency(n int) Option           { return func(p *Pool) { p.concurrency = n } }
func WithTaskTimeout(d time.Duration) Option { return func(p *Pool) { p.taskTimeout = d } }
func WithLogger(l *slog.Logger) Option       { return func(p *Pool) { p.logger = l } }

// WithCatalog attaches the submission catalog. Catalog writes are advisory;
// a failed update never affects the job outcome.
func WithCatalog(c postgres.JobCatalog) Option { return func(p *Pool) { p.catalog = c } }

// NewPool constructs a worker pool with the given dependencies and options.
func NewPool(
	workerID string,
	consumer kafka.Consumer,
	store redisstore.ResultStore,
	bus redisstore.EventBus,
	registry *tasks.Registry,
	opts ...Option,
) *Pool {
	p := &Pool{
		workerID:    workerID,
		consumer:    consumer,
		store:       store,
		bus:         bus,
		registry:    registry,
		concurrency: 4,
		taskTimeout: 10 * time.Minute,
		logger:      slog.Default(),
		inflight:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run fetches and processes messages until ctx is cancelled. In-flight jobs
// keep running after Run returns; call Wait to drain them.
func (p *Pool) Run(ctx context.Context) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchCancels(ctx)
	}()

	slots := make(chan struct{}, p.concurrency)
	for {
		msg, err := p.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("fetch failed", slog.String("error", err.Error()))
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		p.wg.Add(1)
		go func(msg kafka.Message) {
			defer func() {
				<-slots
				p.wg.Done()
			}()
			p.process(ctx, msg)
			if err := p.consumer.Commit(context.WithoutCancel(ctx), msg); err != nil {
				p.logger.Error("commit failed", slog.String("error", err.Error()))
			}
		}(msg)
	}
}

// Wait blocks until all in-flight jobs finish. Call after Run returns.
func (p *Pool) Wait() { p.wg.Wait() }

// watchCancels interrupts running jobs named on the revocation channel.
// Jobs not running on this instance are ignored; their flag check or another
// instance handles them.
func (p *Pool) watchCancels(ctx context.Context) {
	events, closeSub, err := p.bus.SubscribeCancel(ctx)
	if err != nil {
		p.logger.Error("cancel subscription failed", slog.String("error", err.Error()))
		return
	}
	defer closeSub()

	for {
		select {
		case jobID, ok := <-events:
			if !ok {
				return
			}
			p.mu.Lock()
			cancel, running := p.inflight[jobID]
			p.mu.Unlock()
			if running {
				p.logger.Info("revoking running job", slog.String("job_id", jobID))
				cancel()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) process(consumerCtx context.Context, msg kafka.Message) {
	var job domain.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		p.logger.Error("malformed job message, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(msg.Value)),
		)
		return
	}

	ctx, span := otel.Tracer("worker").Start(
		kafka.ExtractTrace(consumerCtx, msg), "worker.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("worker.id", p.workerID),
	)

	log := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
	)

	// Revoked before execution: drop silently, the caller already has the
	// cancelled outcome from the revocation endpoint.
	if cancelled, err := p.store.Cancelled(ctx, job.ID); err == nil && cancelled {
		log.Info("job revoked before start, skipping")
		telemetry.WorkerJobsRevoked.Inc()
		return
	}

	// Redelivery of an already finished job.
	if prev, err := p.store.Get(ctx, job.ID); err == nil && prev.Status.IsTerminal() {
		log.Info("job already terminal, skipping", slog.String("status", string(prev.Status)))
		return
	}

	started := &domain.JobResult{JobID: job.ID, Status: domain.StatusStarted}
	if err := p.store.Put(ctx, started); err != nil {
		log.Warn("started record write failed", slog.String("error", err.Error()))
	}
	p.publishEvent(ctx, job.ID, redisstore.EventStart, started, log)
	if p.catalog != nil {
		if err := p.catalog.UpdateStatus(ctx, job.ID, domain.StatusStarted); err != nil {
			log.Warn("catalog update failed", slog.String("error", err.Error()))
		}
	}

	result, revoked, execErr := p.execute(ctx, span, &job)
	if revoked {
		// The revocation endpoint owns the visible outcome of a cancelled
		// job; writing a terminal record here would race with the deletion.
		log.Info("job revoked during execution")
		telemetry.WorkerJobsRevoked.Inc()
		span.SetStatus(codes.Error, "job revoked")
		if p.catalog != nil {
			_ = p.catalog.UpdateStatus(context.WithoutCancel(ctx), job.ID, domain.StatusCancelled)
		}
		return
	}

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "job failed")
		result = domain.FailureResult(job.ID, execErr)
		if errors.Is(execErr, context.DeadlineExceeded) {
			result.Status = domain.StatusTimeout
		}
		log.Error("job failed",
			slog.String("error", execErr.Error()),
			slog.String("error_type", result.ErrorType),
		)
	} else {
		log.Info("job completed")
	}

	p.finish(context.WithoutCancel(ctx), &job, result, log)
}

// execute runs the handler with the per-job timeout, registered for
// revocation. The execution context is detached from consumer shutdown, so a
// Canceled error can only mean the job was revoked.
func (p *Pool) execute(ctx context.Context, span trace.Span, job *domain.Job) (result *domain.JobResult, revoked bool, err error) {
	h, err := p.registry.Get(job.Kind)
	if err != nil {
		return nil, false, err
	}

	execCtx, cancelExec := context.WithCancel(trace.ContextWithSpan(context.Background(), span))
	execCtx, cancelTimeout := context.WithTimeout(execCtx, p.taskTimeout)
	defer cancelTimeout()

	p.mu.Lock()
	p.inflight[job.ID] = cancelExec
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, job.ID)
		p.mu.Unlock()
		cancelExec()
	}()

	telemetry.WorkerJobsInFlight.Inc()
	start := time.Now()
	result, err = h.Handle(execCtx, job)
	telemetry.WorkerJobDurationSeconds.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	telemetry.WorkerJobsInFlight.Dec()

	if err != nil && errors.Is(execCtx.Err(), context.Canceled) {
		return nil, true, err
	}
	return result, false, err
}

// finish persists the terminal record and notifies subscribers. Both side
// effects are retried and their final errors swallowed: a result that cannot
// be stored surfaces to clients as pending, never as a worker crash.
func (p *Pool) finish(ctx context.Context, job *domain.Job, result *domain.JobResult, log *slog.Logger) {
	writePolicy := retry.Policy{
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
		Notify: func(n int, err error) {
			log.Warn("result write failed, retrying",
				slog.Int("attempt", n), slog.String("error", err.Error()))
		},
	}
	if err := retry.Do(ctx, writePolicy, func(ctx context.Context) error {
		return p.store.Put(ctx, result)
	}); err != nil {
		telemetry.WorkerResultWriteFailures.Inc()
		log.Error("result write abandoned", slog.String("error", err.Error()))
	}

	eventType := redisstore.EventComplete
	if result.Status != domain.StatusCompleted {
		eventType = redisstore.EventError
	}
	p.publishEvent(ctx, job.ID, eventType, result, log)

	if p.catalog != nil {
		if err := p.catalog.UpdateStatus(ctx, job.ID, result.Status); err != nil {
			log.Warn("catalog update failed", slog.String("error", err.Error()))
		}
	}

	telemetry.WorkerJobsProcessed.WithLabelValues(string(job.Kind), string(result.Status)).Inc()
}

func (p *Pool) publishEvent(ctx context.Context, jobID, eventType string, payload *domain.JobResult, log *slog.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, jobID, redisstore.Event{Type: eventType, Data: data}); err != nil {
		// Subscribers recover through the store poll.
		log.Warn("event publish failed",
			slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
