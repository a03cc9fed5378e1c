// ============================================================================
// yuketang-assistant Batch Scheduler - 有界並發批次解題
// ============================================================================
//
// Package: internal/orchestrator
// 文件: batch.go
// 功能: SolveMany 將一組題目以固定數量的執行槽排空
//
// 排程模式:
//   採用 refill（即時補位）而非分波（wave）：
//   1. 依輸入順序（FIFO）取出題目
//   2. 取得一個執行槽（semaphore，大小 = MaxConcurrent）後啟動 goroutine
//   3. 題目完成即釋放執行槽，下一題立即補上
//   4. 佇列清空且 running == 0 時回傳
//
//   ┌──────────┐  Acquire   ┌──────────────┐
//   │  queue   │ ─────────→ │ slot 1..M    │ ──→ run() ──→ hooks
//   │ (FIFO)   │            │ (semaphore)  │ ←── Release
//   └──────────┘            └──────────────┘
//
// 相同 Key:
//   同一批次中相同 key 的題目依序執行（後者等待前者釋放鎖），
//   與外部呼叫者持有的鎖也採等待而非丟棄，確保每題都有結果。
//
// 取消:
//   ctx 只傳給 solve 函式與 hooks；排程本身不因 ctx 取消而停止。
//
// ============================================================================

package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// DefaultMaxConcurrent 預設同時執行的 solve 數量
const DefaultMaxConcurrent = 30

// Job 批次中的一個工作單元
type Job[T any] struct {
	Key     types.Key
	Payload T
}

// BatchOptions 批次設定，所有回呼皆為選填
type BatchOptions struct {
	MaxConcurrent int                                      // 0 表示使用 DefaultMaxConcurrent
	OnProgress    func(completed, total int)               // 每題完成時呼叫，completed 嚴格遞增
	OnStateChange func(key types.Key, status types.Status) // processing / success / error
	OnJobError    func(key types.Key, err error)           // 失敗原因，在 OnStateChange(error) 之前呼叫
	BatchID       string                                   // 空字串時自動產生
}

// batchRun 單次 SolveMany 的暫存狀態，呼叫結束即丟棄
// 執行中的數量由 semaphore 管理，這裡只記錄完成數與結果
type batchRun[R any] struct {
	id        string
	total     int
	opts      BatchOptions
	mu        sync.Mutex
	completed int
	outcomes  []types.Outcome[R]
}

func newBatchRun[R any](total int, opts BatchOptions) *batchRun[R] {
	id := opts.BatchID
	if id == "" {
		id = uuid.NewString()
	}
	return &batchRun[R]{
		id:       id,
		total:    total,
		opts:     opts,
		outcomes: make([]types.Outcome[R], 0, total),
	}
}

// hooks 將批次回呼接到單題生命週期
func (b *batchRun[R]) hooks() Hooks[R] {
	return Hooks[R]{
		OnBeforeSolve: func(_ context.Context, key types.Key) error {
			b.stateChange(key, types.StatusProcessing)
			return nil
		},
		OnSuccess: func(_ context.Context, key types.Key, result R) error {
			b.record(types.Outcome[R]{Key: key, Value: result}, types.StatusSuccess)
			return nil
		},
		OnError: func(_ context.Context, key types.Key, err error) error {
			if b.opts.OnJobError != nil {
				b.opts.OnJobError(key, err)
			}
			b.record(types.Outcome[R]{Key: key, Err: errorMessage(err)}, types.StatusError)
			return nil
		},
	}
}

// record 記錄結果並依序觸發 OnProgress 與 OnStateChange
// 持有 b.mu 期間呼叫 OnProgress，確保 completed 對觀察者嚴格遞增
// OnProgress panic 時仍會送出終結狀態
func (b *batchRun[R]) record(outcome types.Outcome[R], status types.Status) {
	defer b.stateChange(outcome.Key, status)
	b.complete(outcome)
}

func (b *batchRun[R]) complete(outcome types.Outcome[R]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outcomes = append(b.outcomes, outcome)
	b.completed++
	if b.opts.OnProgress != nil {
		b.opts.OnProgress(b.completed, b.total)
	}
}

func (b *batchRun[R]) stateChange(key types.Key, status types.Status) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(key, status)
	}
}

func (b *batchRun[R]) results() []types.Outcome[R] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Outcome[R], len(b.outcomes))
	copy(out, b.outcomes)
	return out
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "unknown error"
	}
	return err.Error()
}

// SolveMany 以有界並發解出所有題目
//
// 參數：
//   - ctx: 傳給 solveFn 與 hooks，不用於中斷排程
//   - jobs: 依序排程的題目；Key 為空時以輸入位置（十進位）代替
//   - solveFn: 所有題目共用的 solve 函式
//   - opts: 批次設定
//
// 返回值：
//   - []types.Outcome[R]: 依完成順序排列，長度等於 len(jobs)
//   - error: 僅在輸入不合法時回傳（ErrNilSolveFunc、ErrInvalidConcurrency）
func (o *Orchestrator[T, R]) SolveMany(ctx context.Context, jobs []Job[T], solveFn SolveFunc[T, R], opts BatchOptions) ([]types.Outcome[R], error) {
	if solveFn == nil {
		return nil, ErrNilSolveFunc
	}
	limit := opts.MaxConcurrent
	if limit < 0 {
		return nil, ErrInvalidConcurrency
	}
	if limit == 0 {
		limit = DefaultMaxConcurrent
	}

	run := newBatchRun[R](len(jobs), opts)
	if len(jobs) == 0 {
		return run.results(), nil
	}

	start := time.Now()
	o.logger.Info("batch started", "batch", run.id, "total", run.total, "max_concurrent", limit)

	// 排程不受 ctx 取消影響：已接受的題目一律跑完
	slotCtx := context.WithoutCancel(ctx)
	slots := semaphore.NewWeighted(int64(limit))
	hooks := run.hooks()
	previous := make(map[types.Key]chan struct{}, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		if job.Key == "" {
			job.Key = types.Key(strconv.Itoa(i))
		}
		if err := slots.Acquire(slotCtx, 1); err != nil {
			// 不可取消的 context 不會走到這裡
			wg.Wait()
			return run.results(), err
		}

		done := make(chan struct{})
		waitFor := previous[job.Key]
		previous[job.Key] = done

		wg.Add(1)
		go func(job Job[T], waitFor, done chan struct{}) {
			defer wg.Done()
			defer slots.Release(1)
			defer close(done)

			if waitFor != nil {
				<-waitFor
			}
			o.table.waitAcquire(job.Key)
			o.run(ctx, job.Key, job.Payload, solveFn, hooks)
		}(job, waitFor, done)
	}
	wg.Wait()

	results := run.results()
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	o.logger.Info("batch finished",
		"batch", run.id,
		"total", run.total,
		"failed", failed,
		"elapsed", time.Since(start),
	)
	return results, nil
}
