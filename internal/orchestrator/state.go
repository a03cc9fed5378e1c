package orchestrator

import (
	"sync"
	"time"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// stateTable 題目狀態表，同時作為 single-flight 鎖表
//
// 狀態轉換 (State Machine):
//
//	Idle / Success / Error
//	   ↓ acquire() 或 waitAcquire()
//	Processing
//	   ↓ succeed() / fail()
//	Success / Error
//	   ↓ release()  釋放鎖（不改變終結狀態）
//
// active 中存在的 Key 與 Status == processing 等價；
// 每個 active 項目對應一個 channel，在 release() 時關閉，用來喚醒等待者。
type stateTable struct {
	mu     sync.RWMutex
	states map[types.Key]*types.JobState
	active map[types.Key]chan struct{}
	now    func() time.Time
}

func newStateTable(now func() time.Time) *stateTable {
	if now == nil {
		now = time.Now
	}
	return &stateTable{
		states: make(map[types.Key]*types.JobState),
		active: make(map[types.Key]chan struct{}),
		now:    now,
	}
}

// acquire 嘗試取得 key 的鎖，已在處理中時回傳 false
func (t *stateTable) acquire(key types.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.active[key]; busy {
		return false
	}
	t.lockLocked(key)
	return true
}

// waitAcquire 阻塞直到取得 key 的鎖
// 用於批次模式：相同 key 依序執行而非被丟棄
func (t *stateTable) waitAcquire(key types.Key) {
	for {
		t.mu.Lock()
		released, busy := t.active[key]
		if !busy {
			t.lockLocked(key)
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		<-released
	}
}

// lockLocked 標記為處理中並清除上一次的終結結果；呼叫者須持有寫鎖
func (t *stateTable) lockLocked(key types.Key) {
	t.active[key] = make(chan struct{})

	st, exists := t.states[key]
	if !exists {
		st = &types.JobState{Key: key}
		t.states[key] = st
	}
	st.Status = types.StatusProcessing
	st.Result = nil
	st.Err = nil
	st.Attempts++
	st.UpdatedAt = t.now()
}

// succeed 記錄成功結果
func (t *stateTable) succeed(key types.Key, result any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(key)
	st.Status = types.StatusSuccess
	st.Result = result
	st.Err = nil
	st.UpdatedAt = t.now()
}

// fail 記錄失敗
func (t *stateTable) fail(key types.Key, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(key)
	st.Status = types.StatusError
	st.Result = nil
	st.Err = err
	st.UpdatedAt = t.now()
}

// release 釋放 key 的鎖並喚醒等待者
// 若狀態仍停在 processing（例如中途 panic），改為 error 以維持不變量
func (t *stateTable) release(key types.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	released, busy := t.active[key]
	if !busy {
		return
	}
	delete(t.active, key)
	close(released)

	if st := t.states[key]; st != nil && st.Status == types.StatusProcessing {
		st.Status = types.StatusError
		st.Err = errReleasedWhileProcessing
		st.UpdatedAt = t.now()
	}
}

// reset 清除非處理中 key 的終結狀態
func (t *stateTable) reset(key types.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.active[key]; busy {
		return false
	}
	delete(t.states, key)
	return true
}

func (t *stateTable) stateLocked(key types.Key) *types.JobState {
	st, exists := t.states[key]
	if !exists {
		st = &types.JobState{Key: key}
		t.states[key] = st
	}
	return st
}

// ============================================================================
// 查詢方法（讀鎖）
// ============================================================================

func (t *stateTable) isActive(key types.Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, busy := t.active[key]
	return busy
}

func (t *stateTable) status(key types.Key) types.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, exists := t.states[key]; exists {
		return st.Status
	}
	return types.StatusIdle
}

// get 回傳狀態副本，避免外部修改內部資料
func (t *stateTable) get(key types.Key) (types.JobState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, exists := t.states[key]
	if !exists {
		return types.JobState{Key: key, Status: types.StatusIdle}, false
	}
	return *st, true
}

func (t *stateTable) stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := map[string]int{
		string(types.StatusProcessing): 0,
		string(types.StatusSuccess):    0,
		string(types.StatusError):      0,
	}
	for _, st := range t.states {
		stats[string(st.Status)]++
	}
	return stats
}
