package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// recorder 記錄收到的事件
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newOrchestrator() *orchestrator.Orchestrator[string, string] {
	return orchestrator.New[string, string](
		orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var fn []types.Event
	f := Fanout{a, nil, b, Func(func(e types.Event) { fn = append(fn, e) })}

	f.Publish(types.Event{Key: "k", Status: types.StatusSuccess})

	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, b.snapshot(), 1)
	assert.Len(t, fn, 1)
}

func TestHooks_Success(t *testing.T) {
	rec := &recorder{}
	var nextCalls []string
	next := orchestrator.Hooks[string]{
		OnSuccess: func(_ context.Context, key types.Key, result string) error {
			nextCalls = append(nextCalls, "success:"+result)
			return nil
		},
	}

	o := newOrchestrator()
	got, ok := o.SolveOne(context.Background(), "q1", "in", func(_ context.Context, s string) (string, error) {
		return s + "!", nil
	}, Hooks(rec, next))

	require.True(t, ok)
	assert.Equal(t, "in!", got)
	assert.Equal(t, []string{"success:in!"}, nextCalls)

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, types.StatusProcessing, events[0].Status)
	assert.Equal(t, types.StatusSuccess, events[1].Status)
	assert.Equal(t, types.Key("q1"), events[1].Key)
}

func TestHooks_Error(t *testing.T) {
	rec := &recorder{}
	o := newOrchestrator()

	_, ok := o.SolveOne(context.Background(), "q1", "in", func(context.Context, string) (string, error) {
		return "", errors.New("model timeout")
	}, Hooks(rec, orchestrator.Hooks[string]{}))

	require.False(t, ok)
	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, types.StatusError, events[1].Status)
	assert.Equal(t, "model timeout", events[1].Err)
}

func TestHooks_NextBeforeErrorPropagates(t *testing.T) {
	rec := &recorder{}
	called := false
	next := orchestrator.Hooks[string]{
		OnBeforeSolve: func(context.Context, types.Key) error { return errors.New("not ready") },
	}

	o := newOrchestrator()
	_, ok := o.SolveOne(context.Background(), "q1", "in", func(context.Context, string) (string, error) {
		called = true
		return "", nil
	}, Hooks(rec, next))

	assert.False(t, ok)
	assert.False(t, called)
	assert.Equal(t, types.StatusError, o.Status("q1"))
	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Contains(t, events[1].Err, "not ready")
}

func TestBatchOptions(t *testing.T) {
	rec := &recorder{}
	var progress []int
	var mu sync.Mutex
	opts := BatchOptions(rec, orchestrator.BatchOptions{
		MaxConcurrent: 2,
		OnProgress: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, completed)
		},
	})
	assert.Equal(t, 2, opts.MaxConcurrent)

	jobs := []orchestrator.Job[string]{{Key: "a", Payload: "a"}, {Key: "b", Payload: "b"}, {Key: "c", Payload: "c"}}
	o := newOrchestrator()
	results, err := o.SolveMany(context.Background(), jobs, func(_ context.Context, s string) (string, error) {
		if s == "b" {
			return "", errors.New("bad")
		}
		return s, nil
	}, opts)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, progress, "existing callback still runs")

	var progressEvents, stateEvents int
	statuses := map[types.Key][]types.Status{}
	for _, e := range rec.snapshot() {
		if e.IsProgress() {
			progressEvents++
			assert.Equal(t, 3, e.Total)
			continue
		}
		stateEvents++
		statuses[e.Key] = append(statuses[e.Key], e.Status)
		if e.Status == types.StatusError {
			assert.Equal(t, "bad", e.Err, "error events carry the failure message")
		} else {
			assert.Empty(t, e.Err)
		}
	}
	assert.Equal(t, 3, progressEvents)
	assert.Equal(t, 6, stateEvents)
	assert.Equal(t, []types.Status{types.StatusProcessing, types.StatusError}, statuses["b"])
	assert.Equal(t, []types.Status{types.StatusProcessing, types.StatusSuccess}, statuses["a"])
}

func TestBatchOptions_ChainsJobError(t *testing.T) {
	rec := &recorder{}
	var chained []types.Key
	opts := BatchOptions(rec, orchestrator.BatchOptions{
		MaxConcurrent: 1,
		OnJobError: func(key types.Key, err error) {
			chained = append(chained, key)
		},
	})

	jobs := []orchestrator.Job[string]{{Key: "a", Payload: "a"}, {Key: "b", Payload: "b"}}
	_, err := newOrchestrator().SolveMany(context.Background(), jobs, func(context.Context, string) (string, error) {
		return "", errors.New("")
	}, opts)
	require.NoError(t, err)

	assert.Equal(t, []types.Key{"a", "b"}, chained)
	for _, e := range rec.snapshot() {
		if e.Status == types.StatusError {
			assert.Equal(t, "unknown error", e.Err)
		}
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Publish(types.Event{Key: "q7", Status: types.StatusProcessing})
	c.Publish(types.Event{Key: "q7", Status: types.StatusError, Err: "rate limited"})
	c.Publish(types.Event{Completed: 1, Total: 4})
	c.Publish(types.Event{})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, "empty events are skipped")
	assert.Contains(t, lines[0], "q7")
	assert.Contains(t, lines[1], "rate limited")
	assert.Contains(t, lines[2], "1/4")
}

func TestStatusLabel(t *testing.T) {
	for _, s := range []types.Status{types.StatusIdle, types.StatusProcessing, types.StatusSuccess, types.StatusError} {
		assert.NotEmpty(t, StatusLabel(s), string(s))
	}
}
