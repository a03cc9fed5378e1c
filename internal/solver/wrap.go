package solver

import (
	"context"
	"time"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
)

// WithTimeout bounds each call of fn to d. The orchestrator has no timeout of
// its own; callers opt in here. d <= 0 returns fn unchanged.
func WithTimeout[T, R any](fn orchestrator.SolveFunc[T, R], d time.Duration) orchestrator.SolveFunc[T, R] {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, job T) (R, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx, job)
	}
}

// WithMinDuration pads fast calls so a result is never delivered before d has
// elapsed (keeps loading indicators from flickering). Failures are padded too.
func WithMinDuration[T, R any](fn orchestrator.SolveFunc[T, R], d time.Duration) orchestrator.SolveFunc[T, R] {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, job T) (R, error) {
		start := time.Now()
		result, err := fn(ctx, job)
		if remaining := d - time.Since(start); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
		return result, err
	}
}
