package identity

import (
	"context"
	"net/http"
	"sync"

	"github.com/alexedwards/scs/v2"
)

// SessionStore maps opaque bearer tokens to user ids. Every successful login
// mints a fresh token; tokens are never reissued or renamed, only created and
// deleted.
type SessionStore interface {
	// Create mints a new session token for the user.
	Create(ctx context.Context, userID string) (token string, err error)
	// Get resolves a token to a user id, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (userID string, err error)
	// Delete revokes a single token. Deleting an unknown token is a no-op.
	Delete(ctx context.Context, token string) error
	// DeleteUserSessions revokes every token held by the user.
	DeleteUserSessions(ctx context.Context, userID string) error
}

// MemorySessionStore is the process-local session table. It has no expiry
// and no persistence: a restart silently invalidates every token, and the
// table is never shared across processes. stores/redis provides the
// externally persisted alternative.
type MemorySessionStore struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> userID
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{tokens: make(map[string]string)}
}

func (s *MemorySessionStore) Create(ctx context.Context, userID string) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()
	return token, nil
}

func (s *MemorySessionStore) Get(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	userID, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrSessionNotFound
	}
	return userID, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	for token, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, token)
		}
	}
	s.mu.Unlock()
	return nil
}

// Cookie-session keys. The cookie session holds a denormalized identity
// snapshot rather than a pointer into the token table.
const (
	sessKeyUserID  = "userID"
	sessKeyEmail   = "email"
	sessKeyName    = "name"
	sessKeyRole    = "role"
	sessKeyPicture = "picture"
)

// NewCookieManager returns an scs session manager configured the way every
// login path expects it: HTTP-only cookie, root path so logout clears what
// login set.
func NewCookieManager() *scs.SessionManager {
	sessions := scs.New()
	sessions.Cookie.Name = "homeroom_session"
	sessions.Cookie.Path = "/"
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode
	return sessions
}

// writeCookieSession regenerates the session id and then writes the identity
// snapshot. The renew must complete before any identity data is written so a
// pre-login session id (possibly attacker-chosen) never survives into the
// authenticated session.
func writeCookieSession(ctx context.Context, sessions *scs.SessionManager, user *User) error {
	if err := sessions.RenewToken(ctx); err != nil {
		return err
	}
	sessions.Put(ctx, sessKeyUserID, user.ID)
	sessions.Put(ctx, sessKeyEmail, user.Email)
	sessions.Put(ctx, sessKeyName, user.Name)
	sessions.Put(ctx, sessKeyRole, string(user.Role))
	sessions.Put(ctx, sessKeyPicture, user.Picture)
	return nil
}
