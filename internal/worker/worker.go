// Package worker provides the async job queue processor with queue abstractions,
// worker loop, instrumentation hooks, and graceful shutdown handling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/metrics"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
)

// Handler is a function that processes a job
type Handler func(ctx context.Context, job *models.Job) error

// Handlers maps job types to their handlers
type Handlers map[string]Handler

// Queue is the persistence the worker claims jobs from. store.JobStore implements it.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// Instrumentation provides hooks for monitoring job lifecycle
type Instrumentation struct {
	OnEnqueue   func(job *models.Job)
	OnStart     func(job *models.Job)
	OnComplete  func(job *models.Job, duration time.Duration)
	OnFail      func(job *models.Job, err error, duration time.Duration)
	OnRetry     func(job *models.Job, retryAfter time.Duration)
	OnHeartbeat func(workerID string, stats Stats)
}

// PrometheusInstrumentation counts job outcomes in sunrise_jobs_total.
func PrometheusInstrumentation() *Instrumentation {
	return &Instrumentation{
		OnComplete: func(job *models.Job, _ time.Duration) {
			metrics.JobsTotal.WithLabelValues(job.JobType, "success").Inc()
		},
		OnFail: func(job *models.Job, _ error, _ time.Duration) {
			metrics.JobsTotal.WithLabelValues(job.JobType, "failure").Inc()
		},
		OnRetry: func(job *models.Job, _ time.Duration) {
			metrics.JobsTotal.WithLabelValues(job.JobType, "retry").Inc()
		},
	}
}

// Stats holds worker statistics
type Stats struct {
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsSucceeded   int64     `json:"jobs_succeeded"`
	JobsFailed      int64     `json:"jobs_failed"`
	JobsRetried     int64     `json:"jobs_retried"`
	ActiveWorkers   int       `json:"active_workers"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the maximum number of concurrent job processors
	MaxConcurrent int
	// PollInterval is the time between polling for new jobs
	PollInterval time.Duration
	// RetryBaseDelay is the base delay for exponential backoff
	RetryBaseDelay time.Duration
	// RetryMaxDelay is the maximum delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier is the multiplier for exponential backoff
	RetryBackoffMultiplier float64
	// JobTimeout is the maximum time allowed for a job to run
	JobTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for jobs to complete during shutdown
	ShutdownTimeout time.Duration
	// HeartbeatInterval is the interval for sending heartbeat metrics
	HeartbeatInterval time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         time.Second,
		RetryMaxDelay:          time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             5 * time.Minute,
		ShutdownTimeout:        30 * time.Second,
		HeartbeatInterval:      30 * time.Second,
	}
}

// Worker is the async job queue processor
type Worker struct {
	config          Config
	queue           Queue
	handlers        Handlers
	instrumentation *Instrumentation

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.RWMutex

	// activeJobs tracks currently processing job IDs for graceful shutdown
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.RWMutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	lastProcessedAt time.Time
}

// New creates a new Worker instance
func New(config Config, queue Queue) *Worker {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}

	return &Worker{
		config:          config,
		queue:           queue,
		handlers:        make(Handlers),
		workerID:        "worker-" + uuid.NewString(),
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[int64]context.CancelFunc),
		instrumentation: &Instrumentation{},
	}
}

// RegisterHandler binds a job type to its handler. Call before Start.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// SetInstrumentation sets the instrumentation hooks
func (w *Worker) SetInstrumentation(inst *Instrumentation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.instrumentation = inst
}

// Start begins the worker loop
func (w *Worker) Start(ctx context.Context) {
	log.Info().Str("worker_id", w.workerID).Int("max_concurrent", w.config.MaxConcurrent).Msg("[worker] starting")

	if w.instrumentation.OnHeartbeat != nil {
		w.wg.Add(1)
		go w.heartbeat(ctx)
	}

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop(ctx context.Context) error {
	log.Info().Msg("[worker] initiating graceful shutdown")

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("[worker] graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn().Msg("[worker] shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// processor is the main loop for a single worker goroutine
func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	processorID := fmt.Sprintf("%s-processor-%d", w.workerID, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
			if err := w.processNextJob(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					log.Error().Err(err).Str("processor", processorID).Msg("[worker] processor error")
					w.wait(ctx)
				}
			}
		}
	}
}

// wait sleeps for one poll interval unless the worker is stopping.
func (w *Worker) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(w.config.PollInterval):
	}
}

// processNextJob attempts to claim and process the next available job
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.wait(ctx)
		return ctx.Err()
	}

	w.processJob(ctx, job)
	return nil
}

// processJob handles the execution of a single job
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	if w.instrumentation.OnStart != nil {
		w.instrumentation.OnStart(job)
	}

	log.Debug().Int64("job_id", job.ID).Str("type", job.JobType).
		Int("attempt", job.Attempts).Int("max_attempts", job.MaxAttempts).
		Msg("[worker] processing job")

	w.mu.RLock()
	handler, ok := w.handlers[job.JobType]
	w.mu.RUnlock()
	if !ok {
		w.handleError(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.JobType), start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

// retryDelay is base * multiplier^(attempts-1), capped at RetryMaxDelay.
func (w *Worker) retryDelay(attempts int) time.Duration {
	exp := math.Max(float64(attempts-1), 0)
	base := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, exp)
	return time.Duration(min(base, float64(w.config.RetryMaxDelay)))
}

// handleError handles a job failure, retrying if appropriate
func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	duration := time.Since(start)

	log.Warn().Err(err).Int64("job_id", job.ID).Str("type", job.JobType).Dur("duration", duration).Msg("[worker] job failed")

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if job.CanRetry() {
		// ±20% jitter
		delay := w.retryDelay(job.Attempts)
		jitter := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))

		w.statsMu.Lock()
		w.jobsRetried++
		w.statsMu.Unlock()

		if w.instrumentation.OnRetry != nil {
			w.instrumentation.OnRetry(job, jitter)
		}

		if err := w.queue.ScheduleRetry(ctx, job.ID, err.Error(), time.Now().Add(jitter)); err != nil {
			log.Error().Err(err).Int64("job_id", job.ID).Msg("[worker] failed to schedule retry")
		}
		return
	}

	if w.instrumentation.OnFail != nil {
		w.instrumentation.OnFail(job, err, duration)
	}
	log.Error().Int64("job_id", job.ID).Int("max_attempts", job.MaxAttempts).Msg("[worker] job exhausted all attempts")
	if err := w.queue.MarkFailed(ctx, job.ID, err.Error()); err != nil {
		log.Error().Err(err).Int64("job_id", job.ID).Msg("[worker] failed to mark job failed")
	}
}

// handleSuccess handles a successful job completion
func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if w.instrumentation.OnComplete != nil {
		w.instrumentation.OnComplete(job, duration)
	}

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		log.Error().Err(err).Int64("job_id", job.ID).Msg("[worker] failed to mark job completed")
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

// releaseActiveJobs cancels in-flight jobs and returns them to pending
func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	jobIDs := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		cancel()
		jobIDs = append(jobIDs, id)
	}
	w.mu.Unlock()

	for _, id := range jobIDs {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			log.Error().Err(err).Int64("job_id", id).Msg("[worker] failed to release job")
		}
	}
}

// heartbeat periodically sends stats updates
func (w *Worker) heartbeat(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.instrumentation.OnHeartbeat(w.workerID, w.GetStats())
		}
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	return Stats{
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		ActiveWorkers:   active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	if w.instrumentation.OnEnqueue != nil {
		w.instrumentation.OnEnqueue(job)
	}

	log.Debug().Int64("job_id", job.ID).Str("type", job.JobType).Str("priority", string(job.Priority)).Msg("[worker] enqueued job")
	return nil
}

// Every enqueues a fresh job of jobType immediately and then on each tick until
// ctx is cancelled or the worker stops. It blocks; run it in a goroutine.
func (w *Worker) Every(ctx context.Context, interval time.Duration, jobType string) {
	enqueue := func() {
		if err := w.Enqueue(ctx, &models.Job{JobType: jobType, Priority: models.JobPriorityLow}); err != nil {
			log.Error().Err(err).Str("type", jobType).Msg("[worker] scheduled enqueue failed")
		}
	}

	enqueue()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			enqueue()
		}
	}
}

// GetQueueStats returns statistics about the job queue
func (w *Worker) GetQueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.queue.GetStats(ctx)
}
