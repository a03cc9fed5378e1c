package report

// ============================================================================
// 職責說明：
// 1. 將一次批次解題的結果序列化為 JSON 報告檔
// 2. 使用原子性寫入（temp file + rename）防止半寫入的檔案
// 3. 報告僅供匯出與檢視，不會回填協調器狀態
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// schemaVersion 目前報告格式版本
const schemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedReport     = errors.New("report file is corrupted")
	ErrIncompatibleVersion = errors.New("report schema version is incompatible")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Report 單次批次的結果摘要
type Report[R any] struct {
	SchemaVer  int                `json:"schema_version"`
	BatchID    string             `json:"batch_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Total      int                `json:"total"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Outcomes   []types.Outcome[R] `json:"outcomes"`
}

// New 由批次結果建立報告並計算成功/失敗數
func New[R any](batchID string, startedAt, finishedAt time.Time, outcomes []types.Outcome[R]) Report[R] {
	r := Report[R]{
		SchemaVer:  schemaVersion,
		BatchID:    batchID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Total:      len(outcomes),
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		if o.Failed() {
			r.Failed++
		} else {
			r.Succeeded++
		}
	}
	if r.Outcomes == nil {
		r.Outcomes = []types.Outcome[R]{}
	}
	return r
}

// Elapsed 批次耗時
func (r Report[R]) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Writer 報告寫入器，同一路徑的寫入互斥
type Writer struct {
	path string     // 報告檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewWriter 建立寫入器
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path 取得報告檔案路徑
func (w *Writer) Path() string {
	return w.path
}

// Write 原子性寫入報告
//
// 流程：
// 1. 確保目錄存在
// 2. 寫入臨時檔案（.tmp）
// 3. 使用 os.Rename 原子性替換目標檔案
//
// 參數：
//   - report: 任意可 JSON 序列化的報告（通常為 Report[R]）
//
// 返回值：
//   - error: 寫入失敗時的錯誤
func (w *Writer) Write(report any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 帶縮排，方便人工閱讀
	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp report: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		// 重新命名失敗，清理臨時檔案
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}

	return nil
}

// Load 讀取報告並驗證版本，供檢視與測試使用
func Load[R any](path string) (Report[R], error) {
	var r Report[R]

	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("failed to read report: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}

	if r.SchemaVer != schemaVersion {
		return r, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, r.SchemaVer, schemaVersion)
	}

	return r, nil
}
