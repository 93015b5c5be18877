// Package orchestrator contains the durable job orchestration engine:
// it sequences a transcription job through its status state machine,
// fans its items out in bounded batches, skips already-completed work
// through the result store, and finalizes the job under optimistic
// concurrency. Every decision is re-derivable from persisted state, so
// a crashed or abandoned run can simply be invoked again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"transcription-orchestrator/internal/models"
	"transcription-orchestrator/internal/recognizer"
	"transcription-orchestrator/internal/store"
	"transcription-orchestrator/internal/telemetry"
)

// JobStore is the engine's view of durable job records.
type JobStore interface {
	GetJob(ctx context.Context, jobKey string) (models.Job, error)
	UpdateJobStatus(ctx context.Context, jobKey string, status models.JobStatus, startedAt, finishedAt *time.Time) error
}

// ResultStore is the engine's view of durable per-item outcomes.
type ResultStore interface {
	GetResult(ctx context.Context, jobKey, itemKey string) (models.Result, error)
	SaveResult(ctx context.Context, p store.SaveResultParams) (models.Result, error)
}

// Engine drives one job at a time through:
// mark-processing -> fetch items -> batched gated fan-out -> aggregate
// -> finalize. Re-invocation after a crash is safe and cheap because
// the idempotency gate reuses stored results.
type Engine struct {
	jobs    JobStore
	results ResultStore
	rec     recognizer.Recognizer
	batch   BatchController
	retry   RetryPolicy

	logger *slog.Logger
	now    func() time.Time
	sleep  sleepFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With("component", "orchestrator")
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep overrides the retry backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New builds an engine over the given collaborators.
func New(jobs JobStore, results ResultStore, rec recognizer.Recognizer, batchSize int, retry RetryPolicy, opts ...Option) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	e := &Engine{
		jobs:    jobs,
		results: results,
		rec:     rec,
		batch:   BatchController{Size: batchSize},
		retry:   retry.normalized(),
		logger:  slog.Default().With("component", "orchestrator"),
		now:     time.Now,
		sleep:   sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome is one fully-resolved item: its durable result and whether
// it was reused from the store instead of freshly computed.
type outcome struct {
	res    models.Result
	reused bool
}

// Run executes one orchestration attempt for jobKey. A nil return means
// the job reached a terminal status. Any fault of the job or result
// store aborts the attempt after a best-effort Failed write and is
// returned so the caller's delivery layer can re-invoke the run.
func (e *Engine) Run(ctx context.Context, jobKey string) error {
	if strings.TrimSpace(jobKey) == "" {
		return fmt.Errorf("%w: job key is required", models.ErrInvalidArgument)
	}

	started := e.now().UTC()
	log := e.logger.With("job_key", jobKey)
	log.Info("orchestration started")

	if err := e.updateStatus(ctx, jobKey, models.JobProcessing, &started, nil); err != nil {
		// The trigger delivers at least once: a key can arrive again
		// after the job already finished. That is a no-op, not a fault.
		if models.IsInvalidTransition(err) {
			if job, gerr := e.jobs.GetJob(ctx, jobKey); gerr == nil && job.Status.Terminal() {
				log.Info("job already terminal, nothing to do", "status", job.Status)
				return nil
			}
		}
		return e.abort(ctx, log, jobKey, started, fmt.Errorf("mark processing: %w", err))
	}

	var job models.Job
	err := e.retryStore(ctx, func(ctx context.Context) error {
		var gerr error
		job, gerr = e.jobs.GetJob(ctx, jobKey)
		return gerr
	})
	if err != nil {
		return e.abort(ctx, log, jobKey, started, fmt.Errorf("fetch job: %w", err))
	}

	if len(job.Items) == 0 {
		// An empty item list is a data-integrity failure, not success.
		finished := e.now().UTC()
		if err := e.updateStatus(ctx, jobKey, models.JobFailed, nil, &finished); err != nil {
			return e.abort(ctx, log, jobKey, started, fmt.Errorf("mark failed: %w", err))
		}
		log.Warn("job has no items, marked failed")
		telemetry.ObserveJob(models.JobFailed, 0, 0, 0, finished.Sub(started))
		return nil
	}

	outcomes := make([]outcome, len(job.Items))
	runErr := e.batch.Run(ctx, job.Items, func(ctx context.Context, idx int, item models.Item) error {
		out, perr := e.processItem(ctx, log, jobKey, item)
		if perr != nil {
			return perr
		}
		outcomes[idx] = out
		return nil
	})
	if runErr != nil {
		return e.abort(ctx, log, jobKey, started, fmt.Errorf("process items: %w", runErr))
	}

	// The batch fan-in barrier guarantees every outcome is resolved
	// before aggregation; counts are never computed over a partial set.
	success, failure := 0, 0
	for _, out := range outcomes {
		if out.res.Status == models.ResultCompleted {
			success++
		} else {
			failure++
		}
	}
	final := finalStatus(success, failure)

	finished := e.now().UTC()
	if err := e.updateStatus(ctx, jobKey, final, nil, &finished); err != nil {
		return e.abort(ctx, log, jobKey, started, fmt.Errorf("finalize status: %w", err))
	}

	duration := finished.Sub(started)
	telemetry.ObserveJob(final, len(outcomes), success, failure, duration)
	log.Info("orchestration finished",
		"status", final,
		"items", len(outcomes),
		"succeeded", success,
		"failed", failure,
		"duration", duration,
	)
	return nil
}

// processItem resolves a single item: reuse a stored result when one
// exists, otherwise recognize and persist the fresh outcome. Returned
// errors are fatal store faults; worker faults degrade to a Failed
// result for the item and never abort the job.
func (e *Engine) processItem(ctx context.Context, log *slog.Logger, jobKey string, item models.Item) (outcome, error) {
	var existing models.Result
	gateErr := e.retryStore(ctx, func(ctx context.Context) error {
		var err error
		existing, err = e.results.GetResult(ctx, jobKey, item.ItemKey)
		return err
	})
	if gateErr == nil {
		log.Debug("reusing stored result", "item_key", item.ItemKey, "status", existing.Status)
		telemetry.ItemsReused.Inc()
		return outcome{res: existing, reused: true}, nil
	}
	if !errors.Is(gateErr, models.ErrNotFound) {
		return outcome{}, fmt.Errorf("idempotency check %s: %w", item.ItemKey, gateErr)
	}

	var rec recognizer.Recognition
	recErr := retryDo(ctx, e.retry, e.sleep, models.IsTransient, func(ctx context.Context) error {
		var err error
		rec, err = e.rec.Recognize(ctx, jobKey, item)
		return err
	})
	if recErr != nil {
		if ctx.Err() != nil {
			return outcome{}, recErr
		}
		log.Warn("recognition failed", "item_key", item.ItemKey, "error", recErr)
		rec = recognizer.Failed(item.ItemKey, nil)
	}

	var saved models.Result
	saveErr := e.retryStore(ctx, func(ctx context.Context) error {
		var err error
		saved, err = e.results.SaveResult(ctx, store.SaveResultParams{
			JobKey:     jobKey,
			ItemKey:    item.ItemKey,
			Text:       rec.Text,
			Confidence: rec.Confidence,
			Status:     rec.Status,
			RawPayload: rec.RawPayload,
		})
		return err
	})
	if saveErr != nil {
		return outcome{}, fmt.Errorf("save result %s: %w", item.ItemKey, saveErr)
	}

	if saved.Status == models.ResultCompleted {
		telemetry.ItemsCompleted.Inc()
	} else {
		telemetry.ItemsFailed.Inc()
	}
	return outcome{res: saved}, nil
}

// abort writes a best-effort Failed status and re-raises cause so the
// trigger's at-least-once delivery can re-run the orchestration from a
// clean, resumable state. A failure of the status write itself is
// logged and swallowed; cause is what the caller must see.
func (e *Engine) abort(ctx context.Context, log *slog.Logger, jobKey string, started time.Time, cause error) error {
	finished := e.now().UTC()
	// The run may be aborting because ctx was cancelled; give the
	// status write its own lease on life.
	bestEffort := context.WithoutCancel(ctx)
	if err := e.updateStatus(bestEffort, jobKey, models.JobFailed, nil, &finished); err != nil {
		log.Error("failed-status write did not land", "error", err)
	}
	telemetry.JobAborts.Inc()
	log.Error("orchestration aborted", "error", cause, "duration", finished.Sub(started))
	return cause
}

func (e *Engine) updateStatus(ctx context.Context, jobKey string, status models.JobStatus, startedAt, finishedAt *time.Time) error {
	return e.retryStore(ctx, func(ctx context.Context) error {
		return e.jobs.UpdateJobStatus(ctx, jobKey, status, startedAt, finishedAt)
	})
}

func (e *Engine) retryStore(ctx context.Context, fn func(context.Context) error) error {
	return retryDo(ctx, e.retry, e.sleep, storeRetryable, fn)
}

func finalStatus(success, failure int) models.JobStatus {
	switch {
	case failure == 0:
		return models.JobCompleted
	case success == 0:
		return models.JobFailed
	default:
		return models.JobPartiallyFailed
	}
}
