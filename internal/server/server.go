package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/baleyhq/baley/internal/approval"
	"github.com/baleyhq/baley/internal/auth"
	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/ratelimit"
	"github.com/baleyhq/baley/internal/spawn"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/tools"
	"github.com/baleyhq/baley/internal/trigger"
)

// ServerConfig carries everything the HTTP server needs.
type ServerConfig struct {
	DB        *storage.DB
	JWTMgr    *auth.JWTManager
	ExecSvc   *exec.Service
	Spawner   *spawn.Executor
	Triggers  *trigger.Engine
	Approvals *approval.Engine
	Registry  *tools.Registry
	Policies  *policy.Loader
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer
	Broker    *Broker
	Logger    *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	MaxBodyBytes int64
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New assembles the router and middleware chain.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:        cfg.DB,
		JWTMgr:    cfg.JWTMgr,
		ExecSvc:   cfg.ExecSvc,
		Spawner:   cfg.Spawner,
		Triggers:  cfg.Triggers,
		Approvals: cfg.Approvals,
		Registry:  cfg.Registry,
		Policies:  cfg.Policies,
		Broker:    cfg.Broker,
		Logger:    cfg.Logger,
		Version:   cfg.Version,
		MaxBody:   cfg.MaxBodyBytes,
	})

	adminOnly := requireRole(model.RoleAdmin)
	agentOnly := requireRole(model.RoleAgent)
	readerOnly := requireRole(model.RoleReader)

	authLimit := rateLimitMiddleware(cfg.Limiter, "auth")
	execLimit := rateLimitMiddleware(cfg.Limiter, "exec")
	queryLimit := rateLimitMiddleware(cfg.Limiter, "query")

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("POST /auth/token", authLimit(http.HandlerFunc(h.HandleAuthToken)))

	// Agents.
	mux.Handle("POST /v1/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("GET /v1/agents", readerOnly(queryLimit(http.HandlerFunc(h.HandleListAgents))))
	mux.Handle("GET /v1/agents/{agent}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetAgent))))
	mux.Handle("PATCH /v1/agents/{agent}", adminOnly(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /v1/agents/{agent}", adminOnly(http.HandlerFunc(h.HandleDeleteAgent)))

	// Executions.
	mux.Handle("POST /v1/agents/{agent}/execute", agentOnly(execLimit(http.HandlerFunc(h.HandleExecuteAgent))))
	mux.Handle("POST /v1/agents/{agent}/spawn", agentOnly(execLimit(http.HandlerFunc(h.HandleSpawnAgent))))
	mux.Handle("GET /v1/agents/{agent}/executions", readerOnly(queryLimit(http.HandlerFunc(h.HandleListExecutions))))
	mux.Handle("GET /v1/executions/{execution_id}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetExecution))))
	mux.Handle("GET /v1/executions/stats", readerOnly(queryLimit(http.HandlerFunc(h.HandleExecutionStats))))
	mux.Handle("GET /v1/executions/events", readerOnly(http.HandlerFunc(h.HandleStreamCompletions)))

	// Trigger edges.
	mux.Handle("POST /v1/triggers", agentOnly(http.HandlerFunc(h.HandleCreateTrigger)))
	mux.Handle("GET /v1/triggers", readerOnly(queryLimit(http.HandlerFunc(h.HandleListTriggers))))
	mux.Handle("GET /v1/triggers/{trigger_id}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetTrigger))))
	mux.Handle("PATCH /v1/triggers/{trigger_id}/enabled", agentOnly(http.HandlerFunc(h.HandleSetTriggerEnabled)))
	mux.Handle("DELETE /v1/triggers/{trigger_id}", agentOnly(http.HandlerFunc(h.HandleDeleteTrigger)))

	// Approval patterns.
	mux.Handle("POST /v1/approvals", agentOnly(http.HandlerFunc(h.HandleCreateApproval)))
	mux.Handle("GET /v1/approvals", readerOnly(queryLimit(http.HandlerFunc(h.HandleListApprovals))))
	mux.Handle("GET /v1/approvals/{pattern_id}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetApproval))))
	mux.Handle("POST /v1/approvals/match", agentOnly(queryLimit(http.HandlerFunc(h.HandleMatchApprovals))))
	mux.Handle("POST /v1/approvals/{pattern_id}/use", agentOnly(http.HandlerFunc(h.HandleUseApproval)))
	mux.Handle("POST /v1/approvals/{pattern_id}/revoke", adminOnly(http.HandlerFunc(h.HandleRevokeApproval)))
	mux.Handle("POST /v1/approvals/{pattern_id}/elevate", adminOnly(http.HandlerFunc(h.HandleElevateApproval)))

	// Tool catalog.
	mux.Handle("GET /v1/tools", readerOnly(queryLimit(http.HandlerFunc(h.HandleListTools))))
	mux.Handle("GET /v1/tools/{name}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetTool))))
	mux.Handle("DELETE /v1/tools/{name}", adminOnly(http.HandlerFunc(h.HandleDeleteTool)))

	// Agent memory and shared storage.
	mux.Handle("PUT /v1/agents/{agent}/memory/{key}", agentOnly(http.HandlerFunc(h.HandleSetMemory)))
	mux.Handle("GET /v1/agents/{agent}/memory/{key}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetMemory))))
	mux.Handle("GET /v1/agents/{agent}/memory", readerOnly(queryLimit(http.HandlerFunc(h.HandleListMemory))))
	mux.Handle("DELETE /v1/agents/{agent}/memory/{key}", agentOnly(http.HandlerFunc(h.HandleDeleteMemory)))
	mux.Handle("PUT /v1/shared/{key}", agentOnly(http.HandlerFunc(h.HandleSetShared)))
	mux.Handle("GET /v1/shared/{key}", readerOnly(queryLimit(http.HandlerFunc(h.HandleGetShared))))
	mux.Handle("GET /v1/shared", readerOnly(queryLimit(http.HandlerFunc(h.HandleListShared))))
	mux.Handle("DELETE /v1/shared/{key}", agentOnly(http.HandlerFunc(h.HandleDeleteShared)))

	// Policy and API keys (admin).
	mux.Handle("GET /v1/policy", readerOnly(http.HandlerFunc(h.HandleGetPolicy)))
	mux.Handle("PUT /v1/policy", adminOnly(http.HandlerFunc(h.HandlePutPolicy)))
	mux.Handle("POST /v1/keys", adminOnly(http.HandlerFunc(h.HandleCreateAPIKey)))
	mux.Handle("DELETE /v1/keys/{key_id}", adminOnly(http.HandlerFunc(h.HandleDeleteAPIKey)))

	// MCP endpoint, when enabled. Auth still applies through the outer chain.
	if cfg.MCPServer != nil {
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", agentOnly(streamable))
		mux.Handle("/mcp/", agentOnly(streamable))
	}

	var handler http.Handler = mux
	handler = maxBytesMiddleware(cfg.MaxBodyBytes, handler)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute // executions block until terminal
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  120 * time.Second,
		},
		handler: handler,
		logger:  cfg.Logger.With("component", "server"),
	}
}

// maxBytesMiddleware caps request body size before any handler reads it.
func maxBytesMiddleware(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		limit = 1 << 20
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
