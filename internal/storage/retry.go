package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	apperrors "stockkeeper/internal/errors"
)

// DefaultBackoffs are the waits before attempts 2, 3, ...; the last value is
// reused when MaxAttempts exceeds the table.
var DefaultBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

// Retrier reruns a unit of work that the storage engine aborted with
// ErrDeadlock. Any other error is returned as is.
type Retrier struct {
	MaxAttempts int
	Backoffs    []time.Duration
	Logger      *zap.Logger
	// OnRetry is called before every retry. Optional.
	OnRetry func(operation string)
}

func NewRetrier(maxAttempts int, logger *zap.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		Backoffs:    DefaultBackoffs,
		Logger:      logger,
	}
}

func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, ErrDeadlock) {
			return err
		}
		if attempt >= r.MaxAttempts {
			r.Logger.Warn("deadlock retries exhausted",
				zap.String("operation", operation), zap.Int("attempts", attempt), zap.Error(err))
			return apperrors.NewDeadlockError("max retries exceeded")
		}

		r.Logger.Warn("deadlock detected, retrying",
			zap.String("operation", operation), zap.Int("attempt", attempt), zap.Int("maxAttempts", r.MaxAttempts))
		if r.OnRetry != nil {
			r.OnRetry(operation)
		}
		if err := r.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

// wait sleeps the backoff for attempt with +/-20% jitter.
func (r *Retrier) wait(ctx context.Context, attempt int) error {
	if len(r.Backoffs) == 0 {
		return ctx.Err()
	}
	base := r.Backoffs[min(attempt-1, len(r.Backoffs)-1)]
	if base <= 0 {
		return ctx.Err()
	}

	jitter := time.Duration(float64(base) * (rand.Float64()*0.4 - 0.2))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
