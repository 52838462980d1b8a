package identity

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/google/uuid"
)

// HandleUserFunc is called after any successful authentication. token is nil
// for local auth (no provider tokens are involved).
type HandleUserFunc func(authtype string, provider string, token *oauth2.Token, user *User, w http.ResponseWriter, r *http.Request)

// DefaultMinPasswordLength applies when LocalAuth.MinPasswordLength is unset.
const DefaultMinPasswordLength = 8

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// LocalAuth handles email/password signup, login and logout.
type LocalAuth struct {
	Users    UserStore
	Sessions SessionStore

	// Email sender for verification emails. May be nil in tests.
	Email EmailSender

	// Base URL for generating verification/reset links
	BaseURL string

	// Minimum password length (defaults to DefaultMinPasswordLength)
	MinPasswordLength int

	// Optional handler called after successful login, replacing the default
	// JSON response.
	OnAuthenticated HandleUserFunc
}

func (a *LocalAuth) minPasswordLength() int {
	if a.MinPasswordLength > 0 {
		return a.MinPasswordLength
	}
	return DefaultMinPasswordLength
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// HandleSignup processes user registration. The created account is
// unverified and no session is issued; the caller must complete email
// verification before logging in.
func (a *LocalAuth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(r, &req, map[string]*string{
		"email":    &req.Email,
		"password": &req.Password,
		"name":     &req.Name,
		"role":     &req.Role,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if authErr := a.validateSignup(&req); authErr != nil {
		writeAuthError(w, authErr)
		return
	}
	role, _ := ParseRole(req.Role)

	// Pre-check is an optimization only; the store's uniqueness constraint
	// is the source of truth for "already exists".
	if _, err := a.Users.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeAuthError(w, NewAuthError(ErrCodeEmailExists, "Email already registered", "email"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to hash password", ""))
		return
	}

	verification, err := NewTokenPair(TokenExpiryEmailVerification)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to generate token", ""))
		return
	}

	user := &User{
		ID:                    uuid.NewString(),
		Email:                 req.Email,
		PasswordHash:          string(hash),
		Name:                  req.Name,
		Role:                  role,
		EmailVerified:         false,
		VerificationToken:     verification.Token,
		VerificationExpiresAt: verification.ExpiresAt,
	}
	if err := a.Users.CreateUser(r.Context(), user); err != nil {
		if err == ErrEmailTaken {
			writeAuthError(w, NewAuthError(ErrCodeEmailExists, "Email already registered", "email"))
			return
		}
		log.Println("error creating user: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create user", ""))
		return
	}

	a.sendVerificationEmail(user.Email, verification.Token)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user.Sanitized(),
		"message": "User created. Please check your email to verify your account.",
	})
}

func (a *LocalAuth) validateSignup(req *signupRequest) *AuthError {
	if req.Email == "" {
		return NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	if !emailRegex.MatchString(req.Email) {
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	if req.Name == "" {
		return NewAuthError(ErrCodeMissingField, "Name is required", "name")
	}
	minLen := a.minPasswordLength()
	if len(req.Password) < minLen {
		return NewAuthError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", minLen), "password")
	}
	role, ok := ParseRole(req.Role)
	if !ok {
		return NewAuthError(ErrCodeMissingField, "Role is required", "role")
	}
	// Students only join through a parent invite.
	if role == RoleStudent {
		return NewAuthError(ErrCodeInvalidRole, "Student accounts are created by invite", "role")
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin authenticates against the stored password hash. Unknown
// accounts, provider-only accounts and wrong passwords all collapse to one
// generic 401 so responses never reveal whether an email is registered.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req, map[string]*string{
		"email":    &req.Email,
		"password": &req.Password,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Email and password required", ""))
		return
	}

	user, err := a.Users.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !user.HasPassword() {
		writeAuthError(w, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", "password"))
		return
	}

	if !user.EmailVerified {
		writeAuthError(w, NewAuthError(ErrCodeNeedsVerification, "Please verify your email before logging in", ""))
		return
	}

	// A brand-new token on every login; an identifier presented before
	// authentication is never promoted to an authenticated session.
	token, err := a.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create session", ""))
		return
	}

	if a.OnAuthenticated != nil {
		a.OnAuthenticated("local", "local", nil, user, w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user.Sanitized(),
		"sessionToken": token,
	})
}

func (a *LocalAuth) sendVerificationEmail(email, token string) {
	if a.Email == nil {
		return
	}
	link := fmt.Sprintf("%s/auth/verify-email?token=%s", a.BaseURL, token)
	if err := a.Email.SendVerificationEmail(email, link); err != nil {
		log.Println("error sending verification email: ", err)
	}
}

// decodeBody decodes a JSON request body, falling back to form-urlencoded
// with the given field bindings so plain HTML forms work too.
func decodeBody(r *http.Request, out any, formFields map[string]*string) error {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("error parsing form")
		}
		for field, dest := range formFields {
			*dest = r.FormValue(field)
		}
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid post body")
	}
	return nil
}
