package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/baleyhq/baley/internal/auth"
	"github.com/baleyhq/baley/internal/model"
)

type createKeyRequest struct {
	Label     string     `json:"label"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key model.APIKey `json:"key"`
	// Secret is shown exactly once; only its argon2id hash is stored.
	Secret string `json:"secret"`
}

// HandleCreateAPIKey mints a new API key in the caller's workspace. The
// plaintext secret appears only in this response.
func (h *Handlers) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	role := model.AgentRole(req.Role)
	if role == "" {
		role = model.RoleAgent
	}
	switch role {
	case model.RoleAdmin, model.RoleAgent, model.RoleReader:
	default:
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "unknown role")
		return
	}

	keyID, secret, err := generateKeyMaterial()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	hash, err := auth.HashAPIKey(secret)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	key, err := h.db.CreateAPIKey(r.Context(), model.APIKey{
		KeyID:       keyID,
		KeyHash:     hash,
		WorkspaceID: claims.WorkspaceID,
		Role:        role,
		Label:       req.Label,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, createKeyResponse{Key: key, Secret: secret})
}

// HandleDeleteAPIKey revokes a key by its public key id.
func (h *Handlers) HandleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.db.DeleteAPIKey(r.Context(), claims.WorkspaceID, r.PathValue("key_id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// generateKeyMaterial returns a public key id and a secret, both random.
func generateKeyMaterial() (keyID, secret string, err error) {
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return "", "", err
	}
	var secretBytes [32]byte
	if _, err := rand.Read(secretBytes[:]); err != nil {
		return "", "", err
	}
	return "bk_" + hex.EncodeToString(idBytes[:]), hex.EncodeToString(secretBytes[:]), nil
}
