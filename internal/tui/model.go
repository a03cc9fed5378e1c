// ============================================================================
// yuketang-assistant TUI - 批次解題即時進度
// ============================================================================
//
// Package: internal/tui
// 文件: model.go
// 功能: bubbletea 模型，顯示每題狀態與整體進度
//
// 資料流:
//   orchestrator hooks ──→ sink.Sink ──→ Program.Send(EventMsg) ──→ Update
//   SolveMany 結束      ──→ Program.Send(DoneMsg)              ──→ tea.Quit
//
// ============================================================================

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/soundstarrain/yuketang-assistant/internal/sink"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// EventMsg 將 lifecycle 事件送進 Update
type EventMsg types.Event

// DoneMsg 批次結束；Err 為 SolveMany 的輸入錯誤（通常為 nil）
type DoneMsg struct {
	Err error
}

type row struct {
	status types.Status
	err    string
}

// Model 批次進度畫面
type Model struct {
	title     string
	spinner   spinner.Model
	order     []types.Key
	rows      map[types.Key]row
	completed int
	total     int
	done      bool
	err       error
}

// New 依輸入順序建立每題一列；keys 重複時只保留第一次
func New(title string, keys []types.Key) Model {
	m := Model{
		title: title,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))),
		),
		rows:  make(map[types.Key]row, len(keys)),
		total: len(keys),
	}
	for _, k := range keys {
		if _, ok := m.rows[k]; ok {
			continue
		}
		m.order = append(m.order, k)
		m.rows[k] = row{status: types.StatusIdle}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.apply(types.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e types.Event) {
	if e.IsProgress() {
		// 進度只前進
		if e.Completed > m.completed {
			m.completed = e.Completed
		}
		m.total = e.Total
		return
	}
	if e.Key == "" {
		return
	}
	if _, ok := m.rows[e.Key]; !ok {
		m.order = append(m.order, e.Key)
	}
	r := m.rows[e.Key]
	r.status = e.Status
	if e.Status == types.StatusError {
		r.err = e.Err
	} else {
		r.err = ""
	}
	m.rows[e.Key] = r
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	for _, k := range m.order {
		r := m.rows[k]
		marker := "  "
		if r.status == types.StatusProcessing && !m.done {
			marker = m.spinner.View() + " "
		}
		fmt.Fprintf(&b, "%s%s %s", marker, sink.StatusLabel(r.status), k)
		if r.err != "" {
			b.WriteString(" " + errStyle.Render(r.err))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("%d/%d completed", m.completed, m.total)
	if m.done {
		footer += " · done"
		if m.err != nil {
			footer += " · " + m.err.Error()
		}
	} else {
		footer += " · q to detach"
	}
	b.WriteString(footerStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

// Completed 回傳目前完成數
func (m Model) Completed() int { return m.completed }

// Status 回傳某題目前顯示的狀態
func (m Model) Status(key types.Key) types.Status {
	r, ok := m.rows[key]
	if !ok {
		return types.StatusIdle
	}
	return r.status
}

// Sender 由 *tea.Program 實作
type Sender interface {
	Send(msg tea.Msg)
}

// Sink 將事件轉成 EventMsg 送給 program
func Sink(p Sender) sink.Sink {
	return sink.Func(func(e types.Event) {
		p.Send(EventMsg(e))
	})
}
