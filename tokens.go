package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Token lifetimes. Verification links are generous, reset links short, and
// invites span a week so a parent can issue them ahead of time.
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPasswordReset     = 1 * time.Hour
	TokenExpiryStudentInvite     = 7 * 24 * time.Hour

	// ResendCooldown throttles resend-verification requests. A fresh token
	// always expires at now + TokenExpiryEmailVerification, so the issue
	// time can be recovered from the stored expiry.
	ResendCooldown = 60 * time.Second
)

// GenerateSecureToken generates a cryptographically secure random token:
// 32 bytes, hex-encoded to 64 characters.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewTokenPair generates a token with an expiry of now + ttl.
func NewTokenPair(ttl time.Duration) (TokenPair, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// resendAvailableAt recovers when a verification token was issued from its
// stored expiry and adds the cooldown window.
func resendAvailableAt(verificationExpiresAt time.Time) time.Time {
	issuedAt := verificationExpiresAt.Add(-TokenExpiryEmailVerification)
	return issuedAt.Add(ResendCooldown)
}
