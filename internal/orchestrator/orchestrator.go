// ============================================================================
// yuketang-assistant Orchestrator - Per-Question Solve Coordinator
// ============================================================================
//
// Package: internal/orchestrator
// File: orchestrator.go
// Purpose: Runs "solve this question" attempts with a single-flight guarantee
//          per question key and routes every outcome to caller-owned hooks.
//
// Lifecycle of one attempt (SolveOne):
//   1. key already processing        → return (zero, false), solveFn untouched
//   2. lock key, status = processing, clear previous result/error
//   3. OnBeforeSolve (error here counts as a job failure)
//   4. solveFn(ctx, job)
//   5. success → status = success, OnSuccess, return (result, true)
//      failure → status = error,   OnError,   return (zero, false)
//   6. release the key lock, always
//
// Concurrency:
//   - The state table is guarded by a sync.RWMutex
//   - Panics from solveFn or hooks are recovered and reported as ErrPanic
//   - Observer panics are logged and never affect the attempt
//   - Hooks run while the key is still locked, so a hook never observes a
//     second attempt of the same key
//
// ============================================================================

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNilSolveFunc is returned when a batch is started without a solve function
	ErrNilSolveFunc = errors.New("solve function is nil")
	// ErrInvalidConcurrency is returned for a negative MaxConcurrent
	ErrInvalidConcurrency = errors.New("max concurrent must be positive")
	// ErrPanic wraps a panic recovered from a solve function or a hook
	ErrPanic = errors.New("panic during solve")

	errReleasedWhileProcessing = errors.New("lock released before a terminal state was recorded")
)

// SolveFunc produces an answer for one job. It may block and may fail.
type SolveFunc[T, R any] func(ctx context.Context, job T) (R, error)

// Hooks are the per-attempt extension points. Every field is optional and
// they fire in declaration order for a single attempt.
type Hooks[R any] struct {
	OnBeforeSolve func(ctx context.Context, key types.Key) error
	OnSuccess     func(ctx context.Context, key types.Key, result R) error
	OnError       func(ctx context.Context, key types.Key, err error) error
}

// Observer receives counters for every attempt; metrics.Collector implements it.
type Observer interface {
	JobStarted(key types.Key)
	JobSucceeded(key types.Key, elapsed time.Duration)
	JobFailed(key types.Key, elapsed time.Duration)
	JobRejected(key types.Key)
}

type noopObserver struct{}

func (noopObserver) JobStarted(types.Key)                  {}
func (noopObserver) JobSucceeded(types.Key, time.Duration) {}
func (noopObserver) JobFailed(types.Key, time.Duration)    {}
func (noopObserver) JobRejected(types.Key)                 {}

// Option customizes an Orchestrator.
type Option func(*settings)

type settings struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(obs Observer) Option {
	return func(s *settings) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithClock overrides the timestamp source used for JobState.UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// Orchestrator owns the lock table and per-key state. Instances are
// independent; nothing is shared between two orchestrators.
type Orchestrator[T, R any] struct {
	table    *stateTable
	logger   *slog.Logger
	observer Observer
}

// New creates an Orchestrator with an empty state table.
func New[T, R any](opts ...Option) *Orchestrator[T, R] {
	s := settings{
		logger:   slog.Default(),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Orchestrator[T, R]{
		table:    newStateTable(s.now),
		logger:   s.logger,
		observer: s.observer,
	}
}

// SolveOne runs one attempt for key. It returns (zero, false) without calling
// solveFn when key is already processing, and (zero, false) when the attempt
// fails; the failure itself is only visible through hooks.OnError and State.
// A nil solveFn is a programming error and panics with ErrNilSolveFunc.
func (o *Orchestrator[T, R]) SolveOne(ctx context.Context, key types.Key, job T, solveFn SolveFunc[T, R], hooks Hooks[R]) (R, bool) {
	var zero R
	if solveFn == nil {
		panic(ErrNilSolveFunc)
	}
	if !o.table.acquire(key) {
		o.observe(key, func() { o.observer.JobRejected(key) })
		o.logger.Debug("solve rejected, key already processing", "key", key)
		return zero, false
	}
	return o.run(ctx, key, job, solveFn, hooks)
}

// run executes one attempt; the caller must already hold the key lock.
func (o *Orchestrator[T, R]) run(ctx context.Context, key types.Key, job T, solveFn SolveFunc[T, R], hooks Hooks[R]) (R, bool) {
	var zero R
	// release 必須最先註冊，之後任何 panic 都不能讓 key 卡在 processing
	defer o.table.release(key)
	start := time.Now()
	o.observe(key, func() { o.observer.JobStarted(key) })

	if hooks.OnBeforeSolve != nil {
		if err := guard(func() error { return hooks.OnBeforeSolve(ctx, key) }); err != nil {
			o.failed(ctx, key, fmt.Errorf("before solve: %w", err), hooks, start)
			return zero, false
		}
	}

	var result R
	err := guard(func() error {
		var solveErr error
		result, solveErr = solveFn(ctx, job)
		return solveErr
	})
	if err != nil {
		o.failed(ctx, key, err, hooks, start)
		return zero, false
	}

	o.table.succeed(key, result)
	o.observe(key, func() { o.observer.JobSucceeded(key, time.Since(start)) })
	o.logger.Debug("solve succeeded", "key", key, "elapsed", time.Since(start))

	if hooks.OnSuccess != nil {
		if hookErr := guard(func() error { return hooks.OnSuccess(ctx, key, result) }); hookErr != nil {
			o.logger.Warn("success hook failed", "key", key, "error", hookErr)
		}
	}
	return result, true
}

func (o *Orchestrator[T, R]) failed(ctx context.Context, key types.Key, err error, hooks Hooks[R], start time.Time) {
	o.table.fail(key, err)
	o.observe(key, func() { o.observer.JobFailed(key, time.Since(start)) })
	o.logger.Warn("solve failed", "key", key, "error", err)

	if hooks.OnError != nil {
		if hookErr := guard(func() error { return hooks.OnError(ctx, key, err) }); hookErr != nil {
			o.logger.Warn("error hook failed", "key", key, "error", hookErr)
		}
	}
}

// observe calls an Observer method; a panicking observer is logged and ignored.
func (o *Orchestrator[T, R]) observe(key types.Key, fn func()) {
	if err := guard(func() error { fn(); return nil }); err != nil {
		o.logger.Warn("observer failed", "key", key, "error", err)
	}
}

// guard runs fn and converts a panic into an ErrPanic error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// ============================================================================
// Read accessors
// ============================================================================

// IsProcessing reports whether an attempt for key is in flight.
func (o *Orchestrator[T, R]) IsProcessing(key types.Key) bool {
	return o.table.isActive(key)
}

// Status returns the current status of key; unknown keys are idle.
func (o *Orchestrator[T, R]) Status(key types.Key) types.Status {
	return o.table.status(key)
}

// State returns a copy of the state of key and whether it was ever attempted.
func (o *Orchestrator[T, R]) State(key types.Key) (types.JobState, bool) {
	return o.table.get(key)
}

// Stats counts known keys per status.
func (o *Orchestrator[T, R]) Stats() map[string]int {
	return o.table.stats()
}

// Reset forgets the terminal state of key. It returns false when key is
// currently processing.
func (o *Orchestrator[T, R]) Reset(key types.Key) bool {
	return o.table.reset(key)
}
