package orchestrator

import (
	"context"
	"errors"
	"time"

	"transcription-orchestrator/internal/models"
)

// RetryPolicy bounds retries for every activity the engine issues:
// job store writes, result store reads/writes, and worker calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is 3 attempts backing off 5s, 10s, 20s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Multiplier:  2.0,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// sleepFunc waits for d or until ctx is done. Injectable so tests run
// the full backoff schedule without wall-clock delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDo runs fn up to p.MaxAttempts times, sleeping the policy's
// growing delay between attempts. Only errors accepted by retryable are
// retried; the last error is returned once attempts are exhausted.
func retryDo(ctx context.Context, p RetryPolicy, sleep sleepFunc, retryable func(error) bool, fn func(context.Context) error) error {
	p = p.normalized()
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= p.MaxAttempts || !retryable(err) {
			return err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}

// storeRetryable accepts every store fault except the taxonomy's
// permanent errors. ErrConflict stays retryable: UpdateJobStatus
// re-reads the record with a fresh token on each attempt.
func storeRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrInvalidArgument),
		models.IsInvalidTransition(err):
		return false
	}
	return true
}
