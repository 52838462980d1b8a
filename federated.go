package identity

import (
	"log"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
)

// FederatedBridge accepts sign-ins completed by the frontend's identity SDK.
// The SDK has already authenticated the user with the provider; the bridge
// receives the resulting profile and establishes a cookie session here.
// Unlike the token paths this component never issues bearer tokens.
type FederatedBridge struct {
	Users   UserStore
	Cookies *scs.SessionManager
}

type federatedLoginRequest struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
	Role     string `json:"role"`
}

// HandleLogin resolves the posted profile to a local account and writes the
// cookie session. Requests must arrive through the session manager's
// LoadAndSave middleware.
func (b *FederatedBridge) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req federatedLoginRequest
	if err := decodeBody(r, &req, map[string]*string{
		"uid":      &req.UID,
		"email":    &req.Email,
		"name":     &req.Name,
		"photoURL": &req.PhotoURL,
		"role":     &req.Role,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	if req.UID == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "uid required", "uid"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "email required", "email"))
		return
	}

	var role Role
	if req.Role != "" {
		parsed, ok := ParseRole(req.Role)
		if !ok || parsed == RoleStudent {
			writeAuthError(w, NewAuthError(ErrCodeInvalidRole, "Role must be parent or teacher", "role"))
			return
		}
		role = parsed
	}

	profile := ExternalProfile{
		Subject: "federated:" + req.UID,
		Email:   req.Email,
		Name:    req.Name,
		Picture: req.PhotoURL,
	}
	user, roleRequired, err := ensureExternalUser(r.Context(), b.Users, profile, role)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to resolve account", ""))
		return
	}
	if roleRequired {
		writeAuthError(w, NewAuthError(ErrCodeRoleRequired, "Choose a role to finish creating your account", "role"))
		return
	}

	if err := writeCookieSession(r.Context(), b.Cookies, user); err != nil {
		log.Println("error writing cookie session: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create session", ""))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": user.Sanitized(),
	})
}

// HandleLogout tears down the whole cookie session, snapshot and all.
func (b *FederatedBridge) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := b.Cookies.Destroy(r.Context()); err != nil {
		log.Println("error destroying session: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to log out", ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
