package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
)

type approvalRequest struct {
	ToolName       string         `json:"tool_name"`
	ActionPattern  map[string]any `json:"action_pattern"`
	GoalExpression *string        `json:"goal_expression,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// HandleCreateApproval stores a new approval pattern. New patterns always
// start provisional regardless of what the request claims.
func (h *Handlers) HandleCreateApproval(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	p, err := h.approvals.Create(r.Context(), model.ApprovalPattern{
		WorkspaceID:    claims.WorkspaceID,
		ToolName:       req.ToolName,
		ActionPattern:  req.ActionPattern,
		GoalExpression: req.GoalExpression,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// HandleListApprovals lists approval patterns, newest first.
func (h *Handlers) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	limit, offset := paginationParams(r)
	patterns, err := h.db.ListApprovalPatterns(r.Context(), claims.WorkspaceID, limit, offset)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, patterns, len(patterns))
}

// HandleGetApproval retrieves one approval pattern.
func (h *Handlers) HandleGetApproval(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("pattern_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid pattern id")
		return
	}
	p, err := h.db.GetApprovalPattern(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

type approvalMatchRequest struct {
	ToolName  string `json:"tool_name"`
	AgentGoal string `json:"agent_goal,omitempty"`
}

// HandleMatchApprovals returns the active patterns that cover a prospective
// tool call, highest trust first.
func (h *Handlers) HandleMatchApprovals(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req approvalMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ToolName == "" {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "tool_name is required")
		return
	}
	matches, err := h.approvals.Match(r.Context(), claims.WorkspaceID, req.ToolName, req.AgentGoal)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, matches, len(matches))
}

// HandleUseApproval records one use of a pattern. The response carries the
// post-increment usage count, the current trust level, and whether this use
// crossed the promotion threshold.
func (h *Handlers) HandleUseApproval(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("pattern_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid pattern id")
		return
	}
	usage, err := h.approvals.RecordUsage(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, usage)
}

type approvalRevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleRevokeApproval permanently revokes a pattern.
func (h *Handlers) HandleRevokeApproval(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("pattern_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid pattern id")
		return
	}
	var req approvalRevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	p, err := h.approvals.Revoke(r.Context(), claims.WorkspaceID, id, claims.KeyID, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleElevateApproval promotes a pattern to permanent trust. Admin only;
// this is the single path to the permanent level.
func (h *Handlers) HandleElevateApproval(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("pattern_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid pattern id")
		return
	}
	p, err := h.approvals.Elevate(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}
