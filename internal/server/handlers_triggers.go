package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
)

type triggerRequest struct {
	SourceAgentID uuid.UUID         `json:"source_agent_id"`
	TargetAgentID uuid.UUID         `json:"target_agent_id"`
	Type          string            `json:"type,omitempty"`
	FieldMapping  map[string]string `json:"field_mapping,omitempty"`
	StaticInput   map[string]any    `json:"static_input,omitempty"`
	Condition     *string           `json:"condition,omitempty"`
}

// HandleCreateTrigger creates a trigger edge. Cycle and self-loop checks run
// inside the engine; cycles come back as 409 CYCLE_DETECTED.
func (h *Handlers) HandleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.SourceAgentID == uuid.Nil || req.TargetAgentID == uuid.Nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "source_agent_id and target_agent_id are required")
		return
	}

	edge, err := h.triggers.CreateEdge(r.Context(), model.TriggerEdge{
		WorkspaceID:   claims.WorkspaceID,
		SourceAgentID: req.SourceAgentID,
		TargetAgentID: req.TargetAgentID,
		Type:          model.TriggerType(req.Type),
		Enabled:       true,
		FieldMapping:  req.FieldMapping,
		StaticInput:   req.StaticInput,
		Condition:     req.Condition,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, edge)
}

// HandleListTriggers lists all trigger edges in the workspace.
func (h *Handlers) HandleListTriggers(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	edges, err := h.db.ListTriggerEdges(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, edges, len(edges))
}

// HandleGetTrigger retrieves one trigger edge.
func (h *Handlers) HandleGetTrigger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("trigger_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid trigger id")
		return
	}
	edge, err := h.db.GetTriggerEdge(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, edge)
}

type triggerEnableRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleSetTriggerEnabled enables or disables an edge. Re-enabling re-checks
// acyclicity against the current enabled set.
func (h *Handlers) HandleSetTriggerEnabled(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("trigger_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid trigger id")
		return
	}
	var req triggerEnableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := h.triggers.SetEnabled(r.Context(), claims.WorkspaceID, id, req.Enabled); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	edge, err := h.db.GetTriggerEdge(r.Context(), claims.WorkspaceID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, edge)
}

// HandleDeleteTrigger removes a trigger edge.
func (h *Handlers) HandleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := uuid.Parse(r.PathValue("trigger_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid trigger id")
		return
	}
	if err := h.db.DeleteTriggerEdge(r.Context(), claims.WorkspaceID, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
