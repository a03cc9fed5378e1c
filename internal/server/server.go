// ============================================================================
// yuketang-assistant HTTP Server - 瀏覽器擴充功能的本地 API
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Exposes the orchestrator to the page script over HTTP + WebSocket
//
// Routes:
//   POST /api/solve                    批次解題（SolveMany），回傳報告
//   POST /api/questions/{key}/solve    單題解題（SolveOne）
//                                      200 成功 / 409 處理中 / 502 失敗
//   GET  /api/questions/{key}          單題狀態
//   GET  /api/stats                    各狀態題數
//   GET  /healthz                      存活檢查
//   GET  /ws                           lifecycle 事件推送
//   GET  /metrics                      Prometheus
//
// All routes are wrapped by rs/cors so the content script running on the
// course page origin can call the local server.
//
// ============================================================================

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/soundstarrain/yuketang-assistant/internal/metrics"
	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/internal/question"
	"github.com/soundstarrain/yuketang-assistant/internal/report"
	"github.com/soundstarrain/yuketang-assistant/internal/sink"
	"github.com/soundstarrain/yuketang-assistant/internal/solver"
	"github.com/soundstarrain/yuketang-assistant/internal/websocket"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

const maxBodyBytes = 1 << 20

// Orchestrator 伺服器使用的具體協調器型別
type Orchestrator = orchestrator.Orchestrator[question.Question, solver.Answer]

// Config 伺服器依賴；Hub 與 Gatherer 可為 nil
type Config struct {
	Orchestrator   *Orchestrator
	Solve          orchestrator.SolveFunc[question.Question, solver.Answer]
	Hub            *websocket.Hub
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
	MaxConcurrent  int
	AllowedOrigins []string
}

// Server HTTP 處理器
type Server struct {
	orch          *Orchestrator
	solve         orchestrator.SolveFunc[question.Question, solver.Answer]
	hub           *websocket.Hub
	events        sink.Sink
	gatherer      prometheus.Gatherer
	logger        *slog.Logger
	maxConcurrent int
	origins       []string
}

// New creates the server. Orchestrator and Solve are required.
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	if cfg.Solve == nil {
		return nil, orchestrator.ErrNilSolveFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		orch:          cfg.Orchestrator,
		solve:         cfg.Solve,
		hub:           cfg.Hub,
		gatherer:      cfg.Gatherer,
		logger:        cfg.Logger,
		maxConcurrent: cfg.MaxConcurrent,
		origins:       cfg.AllowedOrigins,
	}
	if cfg.Hub != nil {
		s.events = cfg.Hub
	} else {
		s.events = sink.Fanout{}
	}
	return s, nil
}

// Handler 回傳包含 CORS 的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/solve", s.handleSolveBatch)
	mux.HandleFunc("POST /api/questions/{key}/solve", s.handleSolveOne)
	mux.HandleFunc("GET /api/questions/{key}", s.handleState)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// ============================================================================
// Handlers
// ============================================================================

type batchRequest struct {
	Questions     json.RawMessage `json:"questions"`
	MaxConcurrent *int            `json:"max_concurrent,omitempty"`
}

func (s *Server) handleSolveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, question.ErrEmptyQuestionSet)
		return
	}
	questions, err := question.Decode(bytes.NewReader(req.Questions))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := s.maxConcurrent
	if req.MaxConcurrent != nil {
		limit = *req.MaxConcurrent
	}
	if limit < 0 {
		writeError(w, http.StatusBadRequest, orchestrator.ErrInvalidConcurrency)
		return
	}

	batchID := uuid.NewString()
	opts := sink.BatchOptions(s.events, orchestrator.BatchOptions{
		MaxConcurrent: limit,
		BatchID:       batchID,
	})

	started := time.Now()
	outcomes, err := s.orch.SolveMany(r.Context(), question.Jobs(questions), s.solve, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, report.New(batchID, started, time.Now(), outcomes))
}

type solveResponse struct {
	Key    types.Key      `json:"key"`
	Status types.Status   `json:"status"`
	Answer *solver.Answer `json:"answer,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (s *Server) handleSolveOne(w http.ResponseWriter, r *http.Request) {
	key := types.Key(r.PathValue("key"))

	var q question.Question
	if err := decodeBody(w, r, &q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// OnBeforeSolve 只在取得鎖後呼叫，藉此區分「被拒絕」與「失敗」
	attempted := false
	var solveErr error
	hooks := sink.Hooks(s.events, orchestrator.Hooks[solver.Answer]{
		OnBeforeSolve: func(context.Context, types.Key) error {
			attempted = true
			return nil
		},
		OnError: func(_ context.Context, _ types.Key, err error) error {
			solveErr = err
			return nil
		},
	})

	answer, ok := s.orch.SolveOne(r.Context(), key, q, s.solve, hooks)
	switch {
	case ok:
		writeJSON(w, http.StatusOK, solveResponse{Key: key, Status: types.StatusSuccess, Answer: &answer})
	case !attempted:
		writeJSON(w, http.StatusConflict, solveResponse{
			Key:    key,
			Status: types.StatusProcessing,
			Error:  "question is already being solved",
		})
	default:
		msg := "unknown error"
		if solveErr != nil {
			msg = solveErr.Error()
		}
		writeJSON(w, http.StatusBadGateway, solveResponse{Key: key, Status: types.StatusError, Error: msg})
	}
}

type stateResponse struct {
	Key       types.Key    `json:"key"`
	Status    types.Status `json:"status"`
	Result    any          `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Attempts  int          `json:"attempts"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	key := types.Key(r.PathValue("key"))

	state, ok := s.orch.State(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, stateResponse{Key: key, Status: types.StatusIdle})
		return
	}
	updated := state.UpdatedAt
	writeJSON(w, http.StatusOK, stateResponse{
		Key:       state.Key,
		Status:    state.Status,
		Result:    state.Result,
		Error:     state.ErrorMessage(),
		Attempts:  state.Attempts,
		UpdatedAt: &updated,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"questions": s.orch.Stats()}
	if s.hub != nil {
		body["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// Helpers
// ============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
