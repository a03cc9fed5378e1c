package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

var (
	styleProcessing = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleSuccess    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleError      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleIdle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleProgress   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	styleDetail     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// Console writes one styled line per event. Safe for concurrent use.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console sink writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Publish(e types.Event) {
	line := FormatEvent(e)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// FormatEvent renders e as a single styled line; empty for events that carry
// neither a key nor progress.
func FormatEvent(e types.Event) string {
	if e.IsProgress() {
		return styleProgress.Render(fmt.Sprintf("[%d/%d]", e.Completed, e.Total)) + " " +
			styleDetail.Render("completed")
	}
	if e.Key == "" {
		return ""
	}

	label := StatusLabel(e.Status)
	line := fmt.Sprintf("%s %s", label, e.Key)
	if e.Err != "" {
		line += " " + styleDetail.Render(e.Err)
	}
	return line
}

// StatusLabel returns the styled, fixed-width label for s.
func StatusLabel(s types.Status) string {
	switch s {
	case types.StatusProcessing:
		return styleProcessing.Render("解答中")
	case types.StatusSuccess:
		return styleSuccess.Render("已完成")
	case types.StatusError:
		return styleError.Render("失  敗")
	default:
		return styleIdle.Render("待處理")
	}
}
