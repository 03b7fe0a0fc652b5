package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/baleyhq/baley/internal/model"
)

type kvSetRequest struct {
	Value json.RawMessage `json:"value"`
	// TTLSeconds applies to shared entries only; zero or absent means the
	// entry never expires.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// HandleSetMemory writes one key in an agent's private memory.
func (h *Handlers) HandleSetMemory(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	key := r.PathValue("key")
	if err := model.ValidateKVKey(key); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req kvSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "value is required")
		return
	}
	if len(req.Value) > model.MaxKVValueBytes {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "value exceeds maximum size")
		return
	}

	entry, err := h.db.SetMemory(r.Context(), claims.WorkspaceID, agent.ID, key, req.Value, nil)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

// HandleGetMemory reads one key from an agent's memory.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entry, err := h.db.GetMemory(r.Context(), claims.WorkspaceID, agent.ID, r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

// HandleListMemory lists all of an agent's memory entries.
func (h *Handlers) HandleListMemory(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.db.ListMemory(r.Context(), claims.WorkspaceID, agent.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, entries, len(entries))
}

// HandleDeleteMemory removes one memory key.
func (h *Handlers) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	agent, err := h.db.FindAgent(r.Context(), claims.WorkspaceID, r.PathValue("agent"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.db.DeleteMemory(r.Context(), claims.WorkspaceID, agent.ID, r.PathValue("key")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetShared writes one key in the workspace-shared store.
func (h *Handlers) HandleSetShared(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	key := r.PathValue("key")
	if err := model.ValidateKVKey(key); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req kvSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "value is required")
		return
	}
	if len(req.Value) > model.MaxKVValueBytes {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "value exceeds maximum size")
		return
	}

	var ttl *time.Duration
	if req.TTLSeconds > 0 {
		d := time.Duration(req.TTLSeconds) * time.Second
		ttl = &d
	}

	entry, err := h.db.SetShared(r.Context(), claims.WorkspaceID, key, req.Value, ttl, nil, nil)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

// HandleGetShared reads one shared key. Expired entries read as not found.
func (h *Handlers) HandleGetShared(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	entry, err := h.db.GetShared(r.Context(), claims.WorkspaceID, r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

// HandleListShared lists live shared entries; expired ones are excluded.
func (h *Handlers) HandleListShared(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	entries, err := h.db.ListShared(r.Context(), claims.WorkspaceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeList(w, r, entries, len(entries))
}

// HandleDeleteShared removes one shared key.
func (h *Handlers) HandleDeleteShared(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.db.DeleteShared(r.Context(), claims.WorkspaceID, r.PathValue("key")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
