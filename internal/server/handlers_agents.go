package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/tools"
)

type agentRequest struct {
	Name     string         `json:"name"`
	Goal     string         `json:"goal"`
	Model    string         `json:"model,omitempty"`
	Tools    []string       `json:"tools,omitempty"`
	Status   string         `json:"status,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Version is required on update for optimistic concurrency.
	Version int `json:"version,omitempty"`
}

// HandleCreateAgent creates a new agent after name, goal, and policy checks.
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateAgentName(req.Name); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateGoal(req.Goal); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	pol, err := h.policies.Get(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := policy.CheckTools(pol, req.Tools); err != nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodePolicyViolation, err.Error())
		return
	}

	status := model.AgentStatusActive
	if req.Status != "" {
		status = model.AgentStatus(req.Status)
	}
	agent, err := h.db.CreateAgent(r.Context(), model.Agent{
		WorkspaceID: claims.WorkspaceID,
		Name:        req.Name,
		Goal:        req.Goal,
		Model:       req.Model,
		Tools:       req.Tools,
		Status:      status,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, agent)
}

// HandleListAgents lists agents in the caller's workspace.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	limit, offset := paginationParams(r)

	agents, err := h.db.ListAgents(r.Context(), claims.WorkspaceID, limit, offset)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	total, err := h.db.CountAgents(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, agents, total)
}

// HandleGetAgent resolves an agent by id or exact name.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleUpdateAgent applies an optimistic-concurrency update.
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Version <= 0 {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "version is required for updates")
		return
	}
	if req.Name != "" {
		if err := model.ValidateAgentName(req.Name); err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
			return
		}
		agent.Name = req.Name
	}
	if req.Goal != "" {
		if err := model.ValidateGoal(req.Goal); err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
			return
		}
		agent.Goal = req.Goal
	}
	if req.Model != "" {
		agent.Model = req.Model
	}
	if req.Tools != nil {
		pol, err := h.policies.Get(r.Context(), claims.WorkspaceID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if err := policy.CheckTools(pol, req.Tools); err != nil {
			writeError(w, r, http.StatusForbidden, model.ErrCodePolicyViolation, err.Error())
			return
		}
		agent.Tools = req.Tools
	}
	if req.Status != "" {
		agent.Status = model.AgentStatus(req.Status)
	}
	if req.Metadata != nil {
		agent.Metadata = req.Metadata
	}

	updated, err := h.db.UpdateAgent(r.Context(), agent, req.Version)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteAgent removes an agent and its dependents.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.db.DeleteAgent(r.Context(), claims.WorkspaceID, agent.ID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// HandleExecuteAgent runs an agent manually at depth zero. The response
// carries the terminal execution record; a failed run is still a 200 — the
// record's status and error field tell the story.
func (h *Handlers) HandleExecuteAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	final, err := h.execSvc.Execute(r.Context(), agent, req.Input, exec.Options{
		TriggeredBy:  model.TriggeredManual,
		Caller:       claims.KeyID,
		FireTriggers: true,
	})
	if err != nil {
		var upstream *exec.UpstreamError
		if final.ID != uuid.Nil && errors.As(err, &upstream) {
			// The record exists and is terminal; return it rather than a bare error.
			writeJSON(w, r, http.StatusOK, final)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, final)
}

type spawnRequest struct {
	Target string         `json:"target"`
	Input  map[string]any `json:"input,omitempty"`
}

// HandleSpawnAgent runs the named target as a child of the path agent. The
// path agent acts as the parent at depth zero, so the child runs at depth one
// and the full policy check applies.
func (h *Handlers) HandleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	parent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var req spawnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Target == "" {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "target is required")
		return
	}

	parentCtx := tools.NewExecContext(claims.WorkspaceID, parent, uuid.Nil, 0, claims.KeyID)
	result, err := h.spawner.Spawn(r.Context(), req.Target, req.Input, parentCtx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleListExecutions lists an agent's executions, newest first.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	limit, offset := paginationParams(r)
	execs, err := h.db.ListExecutions(r.Context(), claims.WorkspaceID, agent.ID, limit, offset)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, execs, len(execs))
}

// HandleGetExecution retrieves one execution record.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("execution_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid execution id")
		return
	}
	e, err := h.db.GetExecution(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

// HandleExecutionStats returns per-status execution counts for the workspace.
func (h *Handlers) HandleExecutionStats(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	counts, err := h.db.CountExecutionsByStatus(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, counts)
}

func paginationParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	return limit, offset
}
