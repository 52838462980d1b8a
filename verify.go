package identity

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenManager issues and consumes the time-bounded single-use tokens stored
// on the user record: email verification and password reset.
type TokenManager struct {
	Users UserStore
	Email EmailSender

	// Base URL for generating verification/reset links
	BaseURL string

	// Minimum password length for resets (defaults to DefaultMinPasswordLength)
	MinPasswordLength int
}

func (m *TokenManager) minPasswordLength() int {
	if m.MinPasswordLength > 0 {
		return m.MinPasswordLength
	}
	return DefaultMinPasswordLength
}

// HandleVerifyEmail consumes a verification token. The stored pair is kept
// after verification so re-clicking the same emailed link resolves to the
// already-verified success; the token does nothing further once the account
// is verified. An expired token fails without changing anything.
func (m *TokenManager) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Token required", "token"))
		return
	}

	user, err := m.Users.GetUserByVerificationToken(r.Context(), token)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeInvalidToken, "Invalid or unknown token", "token"))
		return
	}

	if user.EmailVerified {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Email already verified",
		})
		return
	}
	if time.Now().After(user.VerificationExpiresAt) {
		writeAuthError(w, NewAuthError(ErrCodeExpiredToken, "Verification token has expired", "token"))
		return
	}

	verified := true
	if _, err := m.Users.UpdateUser(r.Context(), user.ID, UserUpdate{
		Verified: &verified,
	}); err != nil {
		log.Println("error marking user verified: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to verify email", ""))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully",
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleResendVerification re-issues a verification token. Responses for
// unknown emails are indistinguishable from success; known-but-verified
// accounts and resend spam are rejected explicitly.
func (m *TokenManager) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req, map[string]*string{"email": &req.Email}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Email required", "email"))
		return
	}

	user, err := m.Users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		m.genericSentResponse(w)
		return
	}
	if user.EmailVerified {
		writeAuthError(w, NewAuthError(ErrCodeAlreadyVerified, "Email is already verified", "email"))
		return
	}
	if user.VerificationToken != "" {
		if wait := time.Until(resendAvailableAt(user.VerificationExpiresAt)); wait > 0 {
			writeAuthError(w, NewAuthError(ErrCodeResendCooldown,
				fmt.Sprintf("Please wait %d seconds before requesting another email", int(wait.Seconds())+1), ""))
			return
		}
	}

	verification, err := NewTokenPair(TokenExpiryEmailVerification)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to generate token", ""))
		return
	}
	if _, err := m.Users.UpdateUser(r.Context(), user.ID, UserUpdate{Verification: &verification}); err != nil {
		log.Println("error storing verification token: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to issue token", ""))
		return
	}

	if m.Email != nil {
		link := fmt.Sprintf("%s/auth/verify-email?token=%s", m.BaseURL, verification.Token)
		if err := m.Email.SendVerificationEmail(user.Email, link); err != nil {
			log.Println("error sending verification email: ", err)
		}
	}
	m.genericSentResponse(w)
}

// HandleForgotPassword issues a password reset token. The response never
// reveals whether the email is registered.
func (m *TokenManager) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req, map[string]*string{"email": &req.Email}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Email required", "email"))
		return
	}

	user, err := m.Users.GetUserByEmail(r.Context(), req.Email)
	if err == nil {
		reset, err := NewTokenPair(TokenExpiryPasswordReset)
		if err == nil {
			if _, err := m.Users.UpdateUser(r.Context(), user.ID, UserUpdate{Reset: &reset}); err != nil {
				log.Println("error storing reset token: ", err)
			} else if m.Email != nil {
				link := fmt.Sprintf("%s/auth/reset-password?token=%s", m.BaseURL, reset.Token)
				if err := m.Email.SendPasswordResetEmail(user.Email, link); err != nil {
					log.Println("error sending reset email: ", err)
				}
			}
		}
	}

	m.genericSentResponse(w)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleResetPassword consumes a reset token and stores the new password.
func (m *TokenManager) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeBody(r, &req, map[string]*string{
		"token":    &req.Token,
		"password": &req.Password,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	if req.Token == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Token required", "token"))
		return
	}
	minLen := m.minPasswordLength()
	if len(req.Password) < minLen {
		writeAuthError(w, NewAuthError(ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters", minLen), "password"))
		return
	}

	user, err := m.Users.GetUserByResetToken(r.Context(), req.Token)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeInvalidToken, "Invalid or unknown token", "token"))
		return
	}
	if time.Now().After(user.ResetExpiresAt) {
		writeAuthError(w, NewAuthError(ErrCodeExpiredToken, "Reset token has expired", "token"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to hash password", ""))
		return
	}
	newHash := string(hash)
	if _, err := m.Users.UpdateUser(r.Context(), user.ID, UserUpdate{
		PasswordHash: &newHash,
		ClearReset:   true,
	}); err != nil {
		log.Println("error updating password: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to update password", ""))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}

func (m *TokenManager) genericSentResponse(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that email exists, an email has been sent",
	})
}
