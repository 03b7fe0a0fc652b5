package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/tools"
)

// catalogContext builds a synthetic execution context for catalog queries
// made over HTTP rather than from inside a running execution. It carries the
// workspace but no agent and no ephemeral tools.
func catalogContext(workspaceID uuid.UUID, keyID string) *tools.ExecContext {
	return tools.NewExecContext(workspaceID, model.Agent{WorkspaceID: workspaceID}, uuid.Nil, 0, keyID)
}

// HandleListTools returns the tool catalog visible in the caller's workspace:
// built-ins plus promoted tools.
func (h *Handlers) HandleListTools(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	defs, err := h.registry.Catalog(r.Context(), catalogContext(claims.WorkspaceID, claims.KeyID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, defs, len(defs))
}

// HandleGetTool returns one tool definition by name.
func (h *Handlers) HandleGetTool(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	def, err := h.registry.Definition(r.Context(), catalogContext(claims.WorkspaceID, claims.KeyID), r.PathValue("name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, def)
}

// HandleDeleteTool removes a promoted tool from the workspace. Built-ins
// cannot be deleted; they are not stored rows in the first place.
func (h *Handlers) HandleDeleteTool(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.db.DeleteWorkspaceTool(r.Context(), claims.WorkspaceID, r.PathValue("name")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
