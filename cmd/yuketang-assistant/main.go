package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點，所有邏輯在 internal/cli
// 2. 處理頂層錯誤與 panic recovery
// 3. 版本資訊由 -ldflags 注入
//
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD)" \
//     -o bin/yuketang-assistant ./cmd/yuketang-assistant
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/soundstarrain/yuketang-assistant/internal/cli"
)

var (
	version = "dev" // 由 CI 注入
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "dev" {
		rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}
