package model

import (
	"fmt"
	"time"
)

// Field length limits for caller-controlled payloads. These keep a single
// oversized field from filling Postgres TEXT/JSONB columns with garbage.
const (
	MaxGoalLen        = 32 * 1024 // 32 KB
	MaxToolImplLen    = 16 * 1024 // 16 KB
	MaxDescriptionLen = 4 * 1024  // 4 KB
	MaxKVKeyLen       = 255
	MaxKVValueBytes   = 256 * 1024 // 256 KB
)

// ValidateGoal checks the size of an agent goal / instruction string.
func ValidateGoal(goal string) error {
	if goal == "" {
		return fmt.Errorf("goal is required")
	}
	if len(goal) > MaxGoalLen {
		return fmt.Errorf("goal exceeds maximum length of %d bytes", MaxGoalLen)
	}
	return nil
}

// ValidateKVKey checks a memory / shared storage key.
func ValidateKVKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if len(key) > MaxKVKeyLen {
		return fmt.Errorf("key exceeds maximum length of %d characters", MaxKVKeyLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIList is the envelope for list responses.
type APIList struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the envelope for error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes returned in ErrorDetail.Code.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
	ErrCodeDepthExceeded   = "DEPTH_EXCEEDED"
	ErrCodePolicyViolation = "POLICY_VIOLATION"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// AuthTokenRequest is the payload for POST /auth/token.
type AuthTokenRequest struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the payload returned by POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
