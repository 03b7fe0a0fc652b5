package server

import (
	"net/http"

	"github.com/baleyhq/baley/internal/model"
)

// HandleGetPolicy returns the workspace tool policy. An unconfigured
// workspace reads as an empty policy, not a 404.
func (h *Handlers) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	pol, err := h.policies.Get(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, pol)
}

type policyRequest struct {
	ForbiddenTools []string `json:"forbidden_tools"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
}

// HandlePutPolicy replaces the workspace tool policy. Takes effect for new
// spawns immediately; the loader cache is invalidated on write.
func (h *Handlers) HandlePutPolicy(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	pol, err := h.policies.Set(r.Context(), model.WorkspacePolicy{
		WorkspaceID:    claims.WorkspaceID,
		ForbiddenTools: req.ForbiddenTools,
		AllowedTools:   req.AllowedTools,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, pol)
}
