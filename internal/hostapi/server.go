package hostapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/audit"
	"github.com/agentcore/runtime/internal/ratelimit"
	"github.com/agentcore/runtime/pkg/models"
)

// LoopFactory constructs a fresh AgenticLoop for one run_task invocation,
// scoped to sessionID.
type LoopFactory func(sessionID string) (*agent.AgenticLoop, error)

// Server is the JWT-authenticated HTTP+WebSocket surface over run_task and
// subscribe (§6). One Server instance serves any number of sessions; each
// request/connection gets its own AgenticLoop via NewLoop.
type Server struct {
	Tokens  *TokenService
	NewLoop LoopFactory
	Logger  *slog.Logger
	Audit   *audit.Logger
	Limiter *ratelimit.Limiter
}

// NewServer constructs a Server. logger defaults to slog.Default() if nil.
// auditLogger may be nil; a nil *audit.Logger's ObserveToolEvent is a no-op.
// limiter may be nil, which disables per-subject rate limiting entirely.
func NewServer(tokens *TokenService, newLoop LoopFactory, logger *slog.Logger, auditLogger *audit.Logger, limiter *ratelimit.Limiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Tokens: tokens, NewLoop: newLoop, Logger: logger, Audit: auditLogger, Limiter: limiter}
}

// Handler builds the routed http.Handler: unauthenticated /healthz, and
// bearer-token-gated, rate-limited /v1/tasks (synchronous run_task) and
// /v1/tasks/stream (WebSocket subscribe over one run_task's event stream).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/tasks", requireBearer(s.Tokens, s.Limiter, s.handleRunTask))
	mux.HandleFunc("/v1/tasks/stream", requireBearer(s.Tokens, s.Limiter, s.handleStreamTask))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type runTaskRequest struct {
	SessionID string           `json:"session_id"`
	Goal      string           `json:"goal"`
	History   []models.Message `json:"history,omitempty"`
}

// handleRunTask drives one run_task to completion and returns its TaskOutcome.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Goal == "" {
		http.Error(w, "goal is required", http.StatusBadRequest)
		return
	}

	loop, err := s.NewLoop(req.SessionID)
	if err != nil {
		http.Error(w, "failed to start session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(req.History) > 0 {
		loop.SeedHistory(req.History)
	}

	outcome := loop.RunTask(r.Context(), req.Goal)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outcome)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Host deployments sit behind their own reverse proxy/CORS policy;
	// the JWT on the query string is the access control, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStreamTask upgrades to a WebSocket and streams every ResponseChunk
// of one run_task invocation as a JSON text frame, closing once the task
// reaches a terminal event (§6's subscribe semantics).
func (s *Server) handleStreamTask(w http.ResponseWriter, r *http.Request) {
	goal := r.URL.Query().Get("goal")
	sessionID := r.URL.Query().Get("session_id")
	if goal == "" {
		http.Error(w, "goal query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	loop, err := s.NewLoop(sessionID)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.drainClientClose(conn, cancel)

	for chunk := range loop.Run(ctx, goal) {
		if chunk.ToolEvent != nil {
			s.Audit.ObserveToolEvent(ctx, sessionID, chunk.ToolEvent)
		}
		if chunk.Event != nil {
			s.Audit.ObserveRuntimeEvent(ctx, sessionID, chunk.Event)
		}
		if err := conn.WriteJSON(chunk); err != nil {
			s.Logger.Warn("websocket write failed, aborting stream", "error", err)
			return
		}
	}
}

// drainClientClose reads (and discards) incoming frames so a client-initiated
// close is observed promptly, canceling the in-flight run_task.
func (s *Server) drainClientClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ListenAndServe starts the HTTP server on addr with the ambient timeouts a
// host process should apply to an agent-facing API.
func ListenAndServe(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
