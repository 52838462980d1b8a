package identity

import (
	"log"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Auth bundles every identity component behind one route table. Construct
// one with New, override fields as needed, then mount Handler() into the
// server mux.
type Auth struct {
	Users    UserStore
	Invites  InviteStore
	Sessions SessionStore
	Cookies  *scs.SessionManager
	Email    EmailSender

	// Base URL used in emailed links, eg "https://app.homeroomhq.com"
	BaseURL string

	// Verifies posted OAuth identity assertions
	VerifyAssertion AssertionVerifier

	// Credentials for the server-driven Google redirect flow. The
	// /auth/google routes are only mounted when all three are set.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	MinPasswordLength int

	Local      *LocalAuth
	OAuth      *OAuthVerifier
	Federated  *FederatedBridge
	Google     *GoogleRedirectFlow
	Tokens     *TokenManager
	InviteMgr  *InviteManager
	Middleware *Middleware
}

func New(users UserStore, invites InviteStore, sessions SessionStore) *Auth {
	return (&Auth{Users: users, Invites: invites, Sessions: sessions}).EnsureDefaults()
}

// EnsureDefaults fills in the shared infrastructure pieces. The handler
// components themselves are built lazily in Handler so fields assigned after
// New (BaseURL, VerifyAssertion, ...) still take effect.
func (a *Auth) EnsureDefaults() *Auth {
	if a.Sessions == nil {
		a.Sessions = NewMemorySessionStore()
	}
	if a.Cookies == nil {
		a.Cookies = NewCookieManager()
	}
	if a.Email == nil {
		a.Email = &ConsoleEmailSender{}
	}
	return a
}

func (a *Auth) buildComponents() {
	if a.Local == nil {
		a.Local = &LocalAuth{
			Users:             a.Users,
			Sessions:          a.Sessions,
			Email:             a.Email,
			BaseURL:           a.BaseURL,
			MinPasswordLength: a.MinPasswordLength,
		}
	}
	if a.OAuth == nil {
		a.OAuth = &OAuthVerifier{
			Verify:   a.VerifyAssertion,
			Users:    a.Users,
			Sessions: a.Sessions,
		}
	}
	if a.Federated == nil {
		a.Federated = &FederatedBridge{Users: a.Users, Cookies: a.Cookies}
	}
	if a.Google == nil && a.GoogleClientID != "" && a.GoogleClientSecret != "" && a.GoogleCallbackURL != "" {
		a.Google = NewGoogleRedirectFlow(a.GoogleClientID, a.GoogleClientSecret, a.GoogleCallbackURL, a.OAuth)
	}
	if a.Tokens == nil {
		a.Tokens = &TokenManager{
			Users:             a.Users,
			Email:             a.Email,
			BaseURL:           a.BaseURL,
			MinPasswordLength: a.MinPasswordLength,
		}
	}
	if a.InviteMgr == nil {
		a.InviteMgr = &InviteManager{
			Users:             a.Users,
			Invites:           a.Invites,
			Email:             a.Email,
			BaseURL:           a.BaseURL,
			MinPasswordLength: a.MinPasswordLength,
		}
	}
	if a.Middleware == nil {
		a.Middleware = &Middleware{
			Sessions: a.Sessions,
			Cookies:  a.Cookies,
			Users:    a.Users,
		}
	}
}

// Handler returns the full identity route table wrapped in the session
// manager's LoadAndSave middleware. Every route runs inside it so cookie
// sessions work on any path.
func (a *Auth) Handler() http.Handler {
	a.EnsureDefaults()
	a.buildComponents()

	r := mux.NewRouter()
	r.HandleFunc("/auth/signup", a.Local.HandleSignup).Methods("POST")
	r.HandleFunc("/auth/login", a.Local.HandleLogin).Methods("POST")
	r.HandleFunc("/auth/oauth", a.OAuth.HandleSignIn).Methods("POST")
	r.HandleFunc("/auth/federated", a.Federated.HandleLogin).Methods("POST")
	r.HandleFunc("/auth/federated/logout", a.Federated.HandleLogout).Methods("POST")
	r.HandleFunc("/auth/logout", a.handleLogout).Methods("POST")
	r.HandleFunc("/auth/verify-email", a.Tokens.HandleVerifyEmail).Methods("GET")
	r.HandleFunc("/auth/resend-verification", a.Tokens.HandleResendVerification).Methods("POST")
	r.HandleFunc("/auth/forgot-password", a.Tokens.HandleForgotPassword).Methods("POST")
	r.HandleFunc("/auth/reset-password", a.Tokens.HandleResetPassword).Methods("POST")
	r.HandleFunc("/auth/signup/student", a.InviteMgr.HandleRedeemInvite).Methods("POST")

	if a.Google != nil {
		r.HandleFunc("/auth/google", a.Google.HandleStart).Methods("GET")
		r.HandleFunc("/auth/google/callback", a.Google.HandleCallback).Methods("GET")
	}

	r.Handle("/invites/student",
		a.Middleware.RequireRole(RoleParent, http.HandlerFunc(a.InviteMgr.HandleCreateInvite))).Methods("POST")
	r.Handle("/invites/student",
		a.Middleware.RequireRole(RoleParent, http.HandlerFunc(a.InviteMgr.HandleListInvites))).Methods("GET")

	r.Handle("/me", a.Middleware.EnsureUser(http.HandlerFunc(a.handleMe))).Methods("GET")

	return a.Cookies.LoadAndSave(r)
}

// handleLogout revokes whichever session transport the request arrived on.
// Both may be live at once; both are torn down.
func (a *Auth) handleLogout(w http.ResponseWriter, r *http.Request) {
	revoked := false

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if _, err := a.Sessions.Get(r.Context(), token); err == nil {
			if err := a.Sessions.Delete(r.Context(), token); err != nil {
				log.Println("error revoking session token: ", err)
			} else {
				revoked = true
			}
		}
	}

	if a.Cookies.GetString(r.Context(), sessKeyUserID) != "" {
		if err := a.Cookies.Destroy(r.Context()); err != nil {
			log.Println("error destroying cookie session: ", err)
		} else {
			revoked = true
		}
	}

	if !revoked {
		writeAuthError(w, NewAuthError(ErrCodeUnauthorized, "Login required", ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleMe returns the resolved user behind EnsureUser.
func (a *Auth) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeAuthError(w, NewAuthError(ErrCodeUnauthorized, "Login required", ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Sanitized()})
}
