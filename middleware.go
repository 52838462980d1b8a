package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
)

type contextKey string

const (
	ctxKeyUserID contextKey = "loggedInUserId"
	ctxKeyUser   contextKey = "loggedInUser"
)

// Middleware resolves the caller's identity from either session transport:
// a bearer token looked up in the SessionStore, or the scs cookie session.
// A token is only ever trusted after the store resolves it; a header that
// merely looks like a token grants nothing.
type Middleware struct {
	Sessions SessionStore
	Cookies  *scs.SessionManager
	Users    UserStore
}

// LoggedInUserID returns the resolved user id, or "" when the request is
// anonymous.
func LoggedInUserID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// UserFromContext returns the resolved user record set by ExtractUser or
// EnsureUser, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	if v, ok := ctx.Value(ctxKeyUser).(*User); ok {
		return v
	}
	return nil
}

// resolveUserID tries the bearer header first, then the cookie session.
func (m *Middleware) resolveUserID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != "" && token != auth {
			userID, err := m.Sessions.Get(r.Context(), token)
			if err == nil && userID != "" {
				return userID
			}
			if err != nil && err != ErrSessionNotFound {
				slog.Warn("error resolving session token", "error", err)
			}
		}
	}

	if m.Cookies != nil {
		if userID := m.Cookies.GetString(r.Context(), sessKeyUserID); userID != "" {
			return userID
		}
	}
	return ""
}

func (m *Middleware) withUser(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
	if userID != "" && m.Users != nil {
		if user, err := m.Users.GetUserByID(ctx, userID); err == nil {
			ctx = context.WithValue(ctx, ctxKeyUser, user)
		}
	}
	return r.WithContext(ctx)
}

// ExtractUser resolves the caller if possible and passes the request on
// either way. Handlers downstream use UserFromContext and treat nil as
// anonymous.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, m.withUser(r, m.resolveUserID(r)))
	})
}

// EnsureUser rejects anonymous requests with a 401.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := m.resolveUserID(r)
		if userID == "" {
			writeAuthError(w, NewAuthError(ErrCodeUnauthorized, "Login required", ""))
			return
		}
		next.ServeHTTP(w, m.withUser(r, userID))
	})
}

// RequireRole layers a role check on top of EnsureUser.
func (m *Middleware) RequireRole(role Role, next http.Handler) http.Handler {
	return m.EnsureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil || user.Role != role {
			writeAuthError(w, NewAuthError(ErrCodeForbidden, "Insufficient permissions", ""))
			return
		}
		next.ServeHTTP(w, r)
	}))
}
