// Package types 定義了 yuketang-assistant 解題協調器使用的核心領域模型
package types

import (
	"time"
)

// Key 題目唯一識別碼，用於鎖定與狀態查詢
type Key string

// Status 題目解答狀態
type Status string

// 定義解答狀態常數
const (
	StatusIdle       Status = "idle"       // 閒置狀態：尚未嘗試或狀態已重置
	StatusProcessing Status = "processing" // 處理中狀態：solve 函式正在執行
	StatusSuccess    Status = "success"    // 成功狀態：最近一次嘗試成功
	StatusError      Status = "error"      // 錯誤狀態：最近一次嘗試失敗
)

// Terminal 回報狀態是否為終結狀態（success 或 error）
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// JobState 每個 Key 對應一筆，只由協調器更新
type JobState struct {
	Key       Key       `json:"key"`
	Status    Status    `json:"status"`
	Result    any       `json:"result,omitempty"` // 最近一次成功的結果
	Err       error     `json:"-"`                // 最近一次的錯誤
	Attempts  int       `json:"attempts"`         // 累計嘗試次數
	UpdatedAt time.Time `json:"updated_at"`       // 最後一次狀態轉換時間
}

// ErrorMessage 回傳錯誤訊息，無錯誤時為空字串
func (s JobState) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Outcome 批次中單一題目的結果：成功時 Value 有效，失敗時 Err 為錯誤訊息
type Outcome[R any] struct {
	Key   Key    `json:"key"`
	Value R      `json:"value,omitempty"`
	Err   string `json:"error,omitempty"`
}

// Failed 回報此結果是否為失敗
func (o Outcome[R]) Failed() bool {
	return o.Err != ""
}

// Event 生命週期事件，供呈現層（console、TUI、websocket）消費
type Event struct {
	Key       Key       `json:"key,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// IsProgress 回報事件是否為進度事件（無 Key 的批次進度）
func (e Event) IsProgress() bool {
	return e.Key == "" && e.Total > 0
}
