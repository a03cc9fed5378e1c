package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/internal/question"
	"github.com/soundstarrain/yuketang-assistant/internal/report"
	"github.com/soundstarrain/yuketang-assistant/internal/solver"
)

// withConfig 寫入暫存設定檔並設為全域 configFile
func withConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
	return path
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "yuketang-assistant", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Use] = true
	}
	assert.Len(t, commandNames, 3, "Should have 3 subcommands")
	assert.True(t, commandNames["solve"], "Should have 'solve' command")
	assert.True(t, commandNames["serve"], "Should have 'serve' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildSolveCommand(t *testing.T) {
	cmd := buildSolveCommand()

	assert.Equal(t, "solve", cmd.Use)
	assert.NotNil(t, cmd.RunE, "RunE function should be set")

	fileFlag := cmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag, "Should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand)

	outputFlag := cmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)

	assert.NotNil(t, cmd.Flags().Lookup("tui"))
	assert.NotNil(t, cmd.Flags().Lookup("max-concurrent"))
}

func TestBuildServeAndStatusCommands(t *testing.T) {
	serve := buildServeCommand()
	assert.Equal(t, "serve", serve.Use)
	assert.Contains(t, serve.Short, "Start")
	assert.NotNil(t, serve.Flags().Lookup("addr"))

	status := buildStatusCommand()
	assert.Equal(t, "status", status.Use)
	assert.Contains(t, status.Short, "status")
	assert.NotNil(t, status.RunE)
}

// ============================================================================
// 設定檔
// ============================================================================

func TestLoadConfig_ValidYAML(t *testing.T) {
	t.Setenv(apiKeyEnv, "")
	path := withConfig(t, `
orchestrator:
  max_concurrent: 12

solver:
  base_url: "https://api.example.com/v1"
  api_key: "sk-from-file"
  model: "qwen-plus"
  temperature: 0.3
  timeout: 45s
  min_duration: 800ms

server:
  addr: ":9000"
  allowed_origins: ["https://www.yuketang.cn"]

metrics:
  enabled: true
  port: 9191

log:
  level: debug
  format: json
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "https://api.example.com/v1", cfg.Solver.BaseURL)
	assert.Equal(t, "sk-from-file", cfg.Solver.APIKey)
	assert.Equal(t, "qwen-plus", cfg.Solver.Model)
	require.NotNil(t, cfg.Solver.Temperature)
	assert.Equal(t, 0.3, *cfg.Solver.Temperature)
	assert.Equal(t, 45*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, 800*time.Millisecond, cfg.Solver.MinDuration)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://www.yuketang.cn"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(apiKeyEnv, "")
	cfg, err := loadConfig(withConfig(t, ""))
	require.NoError(t, err, "Empty YAML file should parse without error")

	assert.Equal(t, orchestrator.DefaultMaxConcurrent, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, solver.DefaultModel, cfg.Solver.Model)
	require.NotNil(t, cfg.Solver.Temperature)
	assert.Equal(t, solver.DefaultTemperature, *cfg.Solver.Temperature)
	assert.Equal(t, solver.DefaultTimeout, cfg.Solver.Timeout)
	assert.Zero(t, cfg.Solver.MinDuration)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_ZeroTemperature(t *testing.T) {
	t.Setenv(apiKeyEnv, "")
	cfg, err := loadConfig(withConfig(t, "solver:\n  temperature: 0\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Solver.Temperature)
	assert.Equal(t, 0.0, *cfg.Solver.Temperature, "explicit zero must not be replaced by the default")
	require.NotNil(t, cfg.solverConfig().Temperature)
	assert.Equal(t, 0.0, *cfg.solverConfig().Temperature)
}

func TestLoadConfig_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(apiKeyEnv, "  sk-from-env ")
	cfg, err := loadConfig(withConfig(t, "solver:\n  api_key: sk-from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Solver.APIKey)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
		wantErr error
	}{
		{
			name:    "invalid yaml",
			content: "orchestrator:\n  max_concurrent: \"not a number\"\n  invalid yaml structure\n    broken indentation\n",
			wantMsg: "failed to parse config YAML",
		},
		{
			name:    "negative concurrency",
			content: "orchestrator:\n  max_concurrent: -3\n",
			wantErr: orchestrator.ErrInvalidConcurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(withConfig(t, tt.content))
			require.Error(t, err)
			assert.Nil(t, cfg, "Config should be nil on error")
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	cfg, err := loadConfig("/nonexistent/config.yaml")
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{}
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "q1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "q1", line["key"])

	cfg.Log.Level = "nonsense"
	cfg.Log.Format = "text"
	assert.True(t, newLogger(cfg, &buf).Enabled(context.Background(), slog.LevelInfo), "unknown level falls back to info")
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))
	assert.Nil(t, originChecker([]string{"*"}))

	check := originChecker([]string{"https://www.yuketang.cn"})
	require.NotNil(t, check)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "missing origin is allowed")
	req.Header.Set("Origin", "https://www.yuketang.cn")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestMaskKey(t *testing.T) {
	assert.Contains(t, maskKey(""), apiKeyEnv)
	assert.Equal(t, "********", maskKey("short"))
	assert.Equal(t, "sk-…cdef", maskKey("sk-0123456789abcdef"))
}

// ============================================================================
// solve / status
// ============================================================================

func TestSolveBatch_WritesReport(t *testing.T) {
	var out bytes.Buffer
	output := filepath.Join(t.TempDir(), "out", "results.json")
	questions := []question.Question{
		{ID: "a", Body: "ok"},
		{ID: "b", Body: "fail"},
		{ID: "c", Body: "ok"},
	}
	solve := func(_ context.Context, q question.Question) (solver.Answer, error) {
		if q.Body == "fail" {
			return solver.Answer{}, errors.New("upstream 502")
		}
		return solver.Answer{Answer: "A"}, nil
	}

	orch := orchestrator.New[question.Question, solver.Answer](orchestrator.WithLogger(discardLogger()))
	err := solveBatch(context.Background(), orch, questions, solve, batchSettings{
		maxConcurrent: 2,
		output:        output,
		stdout:        &out,
	})
	require.NoError(t, err)

	printed := out.String()
	assert.Contains(t, printed, "[a] A")
	assert.Contains(t, printed, "[b] error: upstream 502")
	assert.Contains(t, printed, "Report written to")

	rep, err := report.Load[solver.Answer](output)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.NotEmpty(t, rep.BatchID)
}

func TestSolveBatch_InvalidInput(t *testing.T) {
	var out bytes.Buffer
	orch := orchestrator.New[question.Question, solver.Answer](orchestrator.WithLogger(discardLogger()))

	err := solveBatch(context.Background(), orch, []question.Question{{ID: "a"}}, nil, batchSettings{stdout: &out})
	assert.ErrorIs(t, err, orchestrator.ErrNilSolveFunc)
}

func TestRunSolve_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"answer\":\"B\",\"solution\":\"ok\"}"}}]}`))
	}))
	defer upstream.Close()

	t.Setenv(apiKeyEnv, "sk-test")
	withConfig(t, "solver:\n  base_url: "+upstream.URL+"\nlog:\n  level: error\n")

	questionFile := filepath.Join(t.TempDir(), "questions.json")
	require.NoError(t, os.WriteFile(questionFile, []byte(`[
		{"id": "q1", "meta": "1.单选题", "body": "1+1=?", "options": "A. 1\nB. 2"},
		{"id": "q2", "meta": "2.判断题", "body": "天是蓝的"}
	]`), 0644))

	var stdout, stderr bytes.Buffer
	err := runSolve(context.Background(), &stdout, &stderr, solveOptions{file: questionFile})
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "[q1] B")
	assert.Contains(t, stdout.String(), "[q2] B")
}

func TestRunSolve_MissingSolverConfig(t *testing.T) {
	t.Setenv(apiKeyEnv, "")
	withConfig(t, "")

	questionFile := filepath.Join(t.TempDir(), "questions.json")
	require.NoError(t, os.WriteFile(questionFile, []byte(`[{"id":"q1"}]`), 0644))

	var stdout, stderr bytes.Buffer
	err := runSolve(context.Background(), &stdout, &stderr, solveOptions{file: questionFile})
	assert.ErrorIs(t, err, solver.ErrNotConfigured)
}

func TestRunSolve_BadQuestionFile(t *testing.T) {
	withConfig(t, "")
	var stdout, stderr bytes.Buffer

	err := runSolve(context.Background(), &stdout, &stderr, solveOptions{file: "/nonexistent/q.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read question file")
}

func TestShowStatus(t *testing.T) {
	t.Setenv(apiKeyEnv, "sk-0123456789abcdef")
	withConfig(t, "metrics:\n  enabled: true\n  port: 9300\n")

	var out bytes.Buffer
	require.NoError(t, showStatus(&out))

	printed := out.String()
	assert.Contains(t, printed, "Max Concurrent:  30")
	assert.Contains(t, printed, "sk-…cdef")
	assert.NotContains(t, printed, "sk-0123456789abcdef", "API key must not be printed")
	assert.Contains(t, printed, "http://localhost:9300/metrics")
}

func TestShowStatus_MissingConfig(t *testing.T) {
	prev := configFile
	configFile = "/nonexistent/config.yaml"
	defer func() { configFile = prev }()

	err := showStatus(&bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
