package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/baleyhq/baley/internal/approval"
	"github.com/baleyhq/baley/internal/auth"
	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/spawn"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/tools"
	"github.com/baleyhq/baley/internal/trigger"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db        *storage.DB
	jwtMgr    *auth.JWTManager
	execSvc   *exec.Service
	spawner   *spawn.Executor
	triggers  *trigger.Engine
	approvals *approval.Engine
	registry  *tools.Registry
	policies  *policy.Loader
	broker    *Broker
	logger    *slog.Logger
	version   string
	maxBody   int64
}

// HandlersDeps carries the dependencies for NewHandlers.
type HandlersDeps struct {
	DB        *storage.DB
	JWTMgr    *auth.JWTManager
	ExecSvc   *exec.Service
	Spawner   *spawn.Executor
	Triggers  *trigger.Engine
	Approvals *approval.Engine
	Registry  *tools.Registry
	Policies  *policy.Loader
	Broker    *Broker
	Logger    *slog.Logger
	Version   string
	MaxBody   int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBody := deps.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB
	}
	return &Handlers{
		db:        deps.DB,
		jwtMgr:    deps.JWTMgr,
		execSvc:   deps.ExecSvc,
		spawner:   deps.Spawner,
		triggers:  deps.Triggers,
		approvals: deps.Approvals,
		registry:  deps.Registry,
		policies:  deps.Policies,
		broker:    deps.Broker,
		logger:    deps.Logger,
		version:   deps.Version,
		maxBody:   maxBody,
	}
}

// writeDomainError maps domain errors to HTTP responses, keeping the
// offending identifier in the message.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		depthErr    *spawn.DepthError
		policyErr   *spawn.PolicyError
		cycleErr    *trigger.CycleError
		selfErr     *trigger.SelfTriggerError
		validateErr *tools.ValidationError
		upstreamErr *exec.UpstreamError
	)
	switch {
	case errors.As(err, &depthErr):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeDepthExceeded, depthErr.Error())
	case errors.As(err, &policyErr):
		writeError(w, r, http.StatusForbidden, model.ErrCodePolicyViolation, policyErr.Error())
	case errors.As(err, &cycleErr):
		writeError(w, r, http.StatusConflict, model.ErrCodeCycleDetected, cycleErr.Error())
	case errors.As(err, &selfErr):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, selfErr.Error())
	case errors.As(err, &validateErr):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, validateErr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrDuplicateEdge),
		errors.Is(err, storage.ErrDuplicateTool),
		errors.Is(err, storage.ErrPatternRevoked):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.As(err, &upstreamErr):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInternalError, upstreamErr.Error())
	default:
		h.logger.Error("internal error", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// HandleHealth reports process and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"version": h.version,
	})
}

// HandleStreamCompletions streams completion events over SSE. One event per
// terminal execution in the listener's workspace view, as published on the
// completions notification channel.
func (h *Handlers) HandleStreamCompletions(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"event stream not available (no notify connection configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Lift the server's WriteTimeout for this long-lived connection;
	// otherwise idle streams are killed once the timeout elapses.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleAuthToken exchanges an API key for a short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.KeyID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key_id and api_key are required")
		return
	}

	key, err := h.db.GetActiveAPIKey(r.Context(), req.KeyID)
	if err != nil {
		// Hash anyway so timing does not reveal whether the key id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, key.KeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := h.jwtMgr.IssueToken(key)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.db.TouchAPIKeyLastUsed(ctx, key.ID)
	}()

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: exp})
}
