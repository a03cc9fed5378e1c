// Package sink fans orchestrator lifecycle events out to presentation layers
// (console, TUI, websocket clients).
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// Sink consumes lifecycle events. Publish may be called from many goroutines
// and must not block for long; it runs inside the solve path.
type Sink interface {
	Publish(types.Event)
}

// Func adapts a plain function to Sink.
type Func func(types.Event)

func (f Func) Publish(e types.Event) { f(e) }

// Fanout publishes every event to each non-nil sink in order.
type Fanout []Sink

func (f Fanout) Publish(e types.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Hooks returns single-attempt hooks that publish processing/success/error
// events to s before delegating to next. next may be the zero Hooks; its
// errors are returned unchanged. The result value is not forwarded.
func Hooks[R any](s Sink, next orchestrator.Hooks[R]) orchestrator.Hooks[R] {
	return orchestrator.Hooks[R]{
		OnBeforeSolve: func(ctx context.Context, key types.Key) error {
			s.Publish(types.Event{Key: key, Status: types.StatusProcessing, At: time.Now()})
			if next.OnBeforeSolve != nil {
				return next.OnBeforeSolve(ctx, key)
			}
			return nil
		},
		OnSuccess: func(ctx context.Context, key types.Key, result R) error {
			s.Publish(types.Event{Key: key, Status: types.StatusSuccess, At: time.Now()})
			if next.OnSuccess != nil {
				return next.OnSuccess(ctx, key, result)
			}
			return nil
		},
		OnError: func(ctx context.Context, key types.Key, err error) error {
			s.Publish(types.Event{Key: key, Status: types.StatusError, Err: errorText(err), At: time.Now()})
			if next.OnError != nil {
				return next.OnError(ctx, key, err)
			}
			return nil
		},
	}
}

// BatchOptions returns opts with OnProgress, OnJobError and OnStateChange
// also publishing to s. Error status events carry the failure message.
// Callbacks already set on opts keep running after the sink.
func BatchOptions(s Sink, opts orchestrator.BatchOptions) orchestrator.BatchOptions {
	progress := opts.OnProgress
	jobError := opts.OnJobError
	stateChange := opts.OnStateChange

	// 同一 key 在鎖內依序觸發 OnJobError 與 OnStateChange(error)
	var mu sync.Mutex
	failures := make(map[types.Key]string)

	opts.OnProgress = func(completed, total int) {
		s.Publish(types.Event{Completed: completed, Total: total, At: time.Now()})
		if progress != nil {
			progress(completed, total)
		}
	}
	opts.OnJobError = func(key types.Key, err error) {
		mu.Lock()
		failures[key] = errorText(err)
		mu.Unlock()
		if jobError != nil {
			jobError(key, err)
		}
	}
	opts.OnStateChange = func(key types.Key, status types.Status) {
		e := types.Event{Key: key, Status: status, At: time.Now()}
		if status == types.StatusError {
			mu.Lock()
			e.Err = failures[key]
			delete(failures, key)
			mu.Unlock()
		}
		s.Publish(e)
		if stateChange != nil {
			stateChange(key, status)
		}
	}
	return opts
}

func errorText(err error) string {
	if err == nil || err.Error() == "" {
		return "unknown error"
	}
	return err.Error()
}
