package identity

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Error codes returned in JSON error bodies. Clients branch on these, so
// they are part of the API surface.
const (
	ErrCodeValidation        = "validation_error"
	ErrCodeMissingField      = "missing_field"
	ErrCodeWeakPassword      = "weak_password"
	ErrCodeInvalidEmail      = "invalid_email"
	ErrCodeEmailExists       = "email_exists"
	ErrCodeInvalidCreds      = "invalid_credentials"
	ErrCodeNeedsVerification = "needs_verification"
	ErrCodeRoleRequired      = "role_required"
	ErrCodeInvalidRole       = "invalid_role"
	ErrCodeInvalidToken      = "invalid_token"
	ErrCodeExpiredToken      = "expired_token"
	ErrCodeAlreadyVerified   = "already_verified"
	ErrCodeResendCooldown    = "resend_cooldown"
	ErrCodeInvalidInvite     = "invalid_invite"
	ErrCodeExpiredInvite     = "expired_invite"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeForbidden         = "forbidden"
	ErrCodeServerError       = "server_error"
)

// Store-level sentinels. Handlers translate these into AuthErrors.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrInviteNotFound  = errors.New("invite not found")
	ErrSessionNotFound = errors.New("session not found")
)

// AuthError is the JSON error body for every failed request. Field names
// the offending input field when there is one.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func NewAuthError(code string, message string, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	return e.Message
}

// StatusCode maps an error code to its HTTP status. Anything unmapped is a
// client error.
func (e *AuthError) StatusCode() int {
	switch e.Code {
	case ErrCodeInvalidCreds, ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNeedsVerification, ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeResendCooldown:
		return http.StatusTooManyRequests
	case ErrCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Println("error encoding response: ", err)
	}
}

// writeAuthError renders the error body. A couple of codes carry an extra
// boolean flag the frontends key off to route the user to the right screen.
func writeAuthError(w http.ResponseWriter, authErr *AuthError) {
	body := map[string]any{
		"error": authErr.Message,
		"code":  authErr.Code,
	}
	if authErr.Field != "" {
		body["field"] = authErr.Field
	}
	switch authErr.Code {
	case ErrCodeNeedsVerification:
		body["needsVerification"] = true
	case ErrCodeRoleRequired:
		body["requiresRole"] = true
	}
	writeJSON(w, authErr.StatusCode(), body)
}
