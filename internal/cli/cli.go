// ============================================================================
// yuketang-assistant CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands around the solve orchestrator
//
// Command Structure:
//   yuketang-assistant              # Root command
//   ├── solve                       # Solve a question file once
//   │   ├── --file, -f             # Extracted questions (JSON array)
//   │   ├── --output, -o           # Write a JSON report
//   │   ├── --max-concurrent       # Override orchestrator.max_concurrent
//   │   └── --tui                  # Live bubbletea progress view
//   ├── serve                       # Local HTTP/WebSocket API for the page script
//   │   └── --addr                 # Override server.addr
//   ├── status                      # Print resolved configuration
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --version
//
// solve Command:
//   1. Load config, build the completion client
//   2. Wrap it with solver.timeout and solver.min_duration
//   3. SolveMany over every question, printing lifecycle events
//   4. Optionally write the report (atomic tmp + rename)
//
//   Examples:
//     ./yuketang-assistant solve -f questions.json
//     ./yuketang-assistant solve -f questions.json -o out/results.json --tui
//
// serve Command:
//   Runs the API server and, when enabled, the metrics server under one
//   errgroup. SIGINT/SIGTERM shut both down gracefully.
//
// Signal Handling:
//   solve: a signal cancels the context handed to in-flight solves; the
//   batch still drains and every question gets an outcome.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soundstarrain/yuketang-assistant/internal/metrics"
	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/internal/question"
	"github.com/soundstarrain/yuketang-assistant/internal/report"
	"github.com/soundstarrain/yuketang-assistant/internal/server"
	"github.com/soundstarrain/yuketang-assistant/internal/sink"
	"github.com/soundstarrain/yuketang-assistant/internal/solver"
	"github.com/soundstarrain/yuketang-assistant/internal/tui"
	"github.com/soundstarrain/yuketang-assistant/internal/websocket"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "yuketang-assistant",
		Short: "yuketang-assistant: concurrent AI answers for quiz pages",
		Long: `yuketang-assistant solves extracted quiz questions with an
OpenAI-compatible model:
- one in-flight attempt per question
- bounded concurrency with immediate refill
- failures isolated per question`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildSolveCommand())
	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// ============================================================================
// solve
// ============================================================================

type solveOptions struct {
	file          string
	output        string
	maxConcurrent int
	tui           bool
}

func buildSolveCommand() *cobra.Command {
	var opts solveOptions

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve every question in a JSON file",
		Long:  "Read extracted questions from a JSON file and solve them with bounded concurrency.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file == "" {
				return fmt.Errorf("question file is required (use --file or -f)")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSolve(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON file containing extracted questions")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write a JSON report to this path")
	cmd.Flags().IntVar(&opts.maxConcurrent, "max-concurrent", 0, "max concurrent solves (0 = config value)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live progress view")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runSolve(ctx context.Context, stdout, stderr io.Writer, opts solveOptions) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// TUI 佔用終端機，日誌改為丟棄
	logOut := stderr
	if opts.tui {
		logOut = io.Discard
	}
	logger := newLogger(cfg, logOut)

	questions, err := question.LoadFile(opts.file)
	if err != nil {
		return err
	}

	client, err := solver.NewClient(cfg.solverConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create solver (set solver.base_url and %s): %w", apiKeyEnv, err)
	}
	solve := newSolveFunc(client.Solve, cfg)

	limit := cfg.Orchestrator.MaxConcurrent
	if opts.maxConcurrent > 0 {
		limit = opts.maxConcurrent
	}

	orch := orchestrator.New[question.Question, solver.Answer](orchestrator.WithLogger(logger))
	return solveBatch(ctx, orch, questions, solve, batchSettings{
		maxConcurrent: limit,
		output:        opts.output,
		tui:           opts.tui,
		title:         "yuketang-assistant · " + opts.file,
		stdout:        stdout,
	})
}

// newSolveFunc 套上 timeout 與最短顯示時間
func newSolveFunc(fn orchestrator.SolveFunc[question.Question, solver.Answer], cfg *Config) orchestrator.SolveFunc[question.Question, solver.Answer] {
	fn = solver.WithTimeout[question.Question, solver.Answer](fn, cfg.Solver.Timeout)
	return solver.WithMinDuration[question.Question, solver.Answer](fn, cfg.Solver.MinDuration)
}

type batchSettings struct {
	maxConcurrent int
	output        string
	tui           bool
	title         string
	stdout        io.Writer
}

// solveBatch 執行批次、輸出事件與摘要，並依需要寫出報告
func solveBatch(
	ctx context.Context,
	orch *orchestrator.Orchestrator[question.Question, solver.Answer],
	questions []question.Question,
	solve orchestrator.SolveFunc[question.Question, solver.Answer],
	settings batchSettings,
) error {
	jobs := question.Jobs(questions)
	batchID := uuid.NewString()
	base := orchestrator.BatchOptions{MaxConcurrent: settings.maxConcurrent, BatchID: batchID}

	var outcomes []types.Outcome[solver.Answer]
	run := func(s sink.Sink) error {
		var err error
		outcomes, err = orch.SolveMany(ctx, jobs, solve, sink.BatchOptions(s, base))
		return err
	}

	started := time.Now()
	var err error
	if settings.tui {
		keys := make([]types.Key, len(jobs))
		for i, j := range jobs {
			keys[i] = j.Key
		}
		err = tui.Run(settings.title, keys, run)
	} else {
		err = run(sink.NewConsole(settings.stdout))
	}
	if err != nil {
		return fmt.Errorf("failed to solve questions: %w", err)
	}

	rep := report.New(batchID, started, time.Now(), outcomes)
	printSummary(settings.stdout, rep)

	if settings.output != "" {
		if err := report.NewWriter(settings.output).Write(rep); err != nil {
			return err
		}
		fmt.Fprintf(settings.stdout, "Report written to %s\n", settings.output)
	}
	return nil
}

func printSummary(w io.Writer, rep report.Report[solver.Answer]) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  Batch:     %s\n", rep.BatchID)
	fmt.Fprintf(w, "  Total:     %d\n", rep.Total)
	fmt.Fprintf(w, "  ✅ Solved:  %d\n", rep.Succeeded)
	fmt.Fprintf(w, "  ❌ Failed:  %d\n", rep.Failed)
	fmt.Fprintf(w, "  Elapsed:   %s\n", rep.Elapsed().Round(100*time.Millisecond))
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")

	for _, o := range rep.Outcomes {
		if o.Failed() {
			fmt.Fprintf(w, "  [%s] error: %s\n", o.Key, o.Err)
			continue
		}
		fmt.Fprintf(w, "  [%s] %s\n", o.Key, o.Value.Answer)
	}
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local API server",
		Long:  "Serve the HTTP and WebSocket API used by the page script, plus Prometheus metrics when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.ErrOrStderr(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}

func runServe(ctx context.Context, logOut io.Writer, addr string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	logger := newLogger(cfg, logOut)

	client, err := solver.NewClient(cfg.solverConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create solver (set solver.base_url and %s): %w", apiKeyEnv, err)
	}

	reg := prometheus.NewRegistry()
	orch := orchestrator.New[question.Question, solver.Answer](
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(metrics.NewCollector(reg)),
	)
	hub := websocket.NewHub(logger, originChecker(cfg.Server.AllowedOrigins))

	srv, err := server.New(server.Config{
		Orchestrator:   orch,
		Solve:          newSolveFunc(client.Solve, cfg),
		Hub:            hub,
		Gatherer:       reg,
		Logger:         logger,
		MaxConcurrent:  cfg.Orchestrator.MaxConcurrent,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Metrics.Enabled {
		servers = append(servers, metrics.NewServer(cfg.Metrics.Port, reg))
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("starting http server", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s failed: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, hs := range servers {
			errs = append(errs, hs.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// originChecker 限制 websocket 來源；未設定或包含 "*" 時全部允許
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resolved configuration status",
		Long:  "Display the configuration after defaults and environment overrides are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.OutOrStdout())
		},
	}
	return cmd
}

func showStatus(w io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           yuketang-assistant Status                       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 Configuration:")
	fmt.Fprintf(w, "  ├─ Config File:     %s\n", configFile)
	fmt.Fprintf(w, "  ├─ Max Concurrent:  %d\n", cfg.Orchestrator.MaxConcurrent)
	fmt.Fprintf(w, "  └─ Log:             %s (%s)\n", cfg.Log.Level, cfg.Log.Format)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "🤖 Solver:")
	baseURL := cfg.Solver.BaseURL
	if baseURL == "" {
		baseURL = "⚠️  not set"
	}
	fmt.Fprintf(w, "  ├─ Base URL:        %s\n", baseURL)
	fmt.Fprintf(w, "  ├─ API Key:         %s\n", maskKey(cfg.Solver.APIKey))
	fmt.Fprintf(w, "  ├─ Model:           %s (temperature %.1f)\n", cfg.Solver.Model, *cfg.Solver.Temperature)
	fmt.Fprintf(w, "  ├─ Timeout:         %s\n", cfg.Solver.Timeout)
	fmt.Fprintf(w, "  └─ Min Duration:    %s\n", cfg.Solver.MinDuration)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "🌐 Server:")
	fmt.Fprintf(w, "  ├─ Address:         %s\n", cfg.Server.Addr)
	origins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		origins = fmt.Sprint(cfg.Server.AllowedOrigins)
	}
	fmt.Fprintf(w, "  └─ Allowed Origins: %s\n", origins)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "  └─ Status: ⚠️  Disabled")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "⚠️  not set (" + apiKeyEnv + ")"
	case len(key) <= 8:
		return "********"
	default:
		return key[:3] + "…" + key[len(key)-4:]
	}
}
