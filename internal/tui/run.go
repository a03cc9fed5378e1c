package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/soundstarrain/yuketang-assistant/internal/sink"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// Run 顯示 solve 的即時進度並回傳 solve 的錯誤
//
// solve 在背景 goroutine 執行，收到的 sink 會把事件送進畫面。
// 使用者按 q 離開畫面時 solve 仍會跑完，Run 會等它結束。
func Run(title string, keys []types.Key, solve func(s sink.Sink) error, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(New(title, keys), opts...)

	errCh := make(chan error, 1)
	go func() {
		err := solve(Sink(p))
		p.Send(DoneMsg{Err: err})
		errCh <- err
	}()

	if _, err := p.Run(); err != nil {
		<-errCh
		return fmt.Errorf("tui failed: %w", err)
	}
	return <-errCh
}
