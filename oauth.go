package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// AssertionVerifier checks a provider-issued identity assertion and returns
// the profile it attests to.  Implementations must reject assertions minted
// for a different audience.
type AssertionVerifier func(ctx context.Context, assertion string) (ExternalProfile, error)

// GoogleAssertionVerifier verifies Google ID tokens against the given OAuth
// client ID.
func GoogleAssertionVerifier(clientID string) AssertionVerifier {
	return func(ctx context.Context, assertion string) (ExternalProfile, error) {
		payload, err := idtoken.Validate(ctx, assertion, clientID)
		if err != nil {
			return ExternalProfile{}, err
		}
		claimString := func(key string) string {
			if v, ok := payload.Claims[key].(string); ok {
				return v
			}
			return ""
		}
		return ExternalProfile{
			Subject: "google:" + payload.Subject,
			Email:   claimString("email"),
			Name:    claimString("name"),
			Picture: claimString("picture"),
		}, nil
	}
}

// HMACAssertionVerifier verifies HS256 JWT assertions signed with a shared
// secret.  Used for local development and for bridge processes that mint
// their own assertions after doing provider verification upstream.
func HMACAssertionVerifier(secret []byte, audience string) AssertionVerifier {
	return func(ctx context.Context, assertion string) (ExternalProfile, error) {
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
		if err != nil {
			return ExternalProfile{}, err
		}
		str := func(key string) string {
			if v, ok := claims[key].(string); ok {
				return v
			}
			return ""
		}
		sub := str("sub")
		if sub == "" {
			return ExternalProfile{}, fmt.Errorf("assertion missing sub claim")
		}
		return ExternalProfile{
			Subject: sub,
			Email:   str("email"),
			Name:    str("name"),
			Picture: str("picture"),
		}, nil
	}
}

// OAuthVerifier handles token-assertion sign-in: the client completes the
// provider flow itself and posts the resulting assertion here.
type OAuthVerifier struct {
	Verify   AssertionVerifier
	Users    UserStore
	Sessions SessionStore

	// Called instead of the default JSON response when set
	OnAuthenticated HandleUserFunc
}

type oauthSignInRequest struct {
	Assertion string `json:"assertion"`
	Role      string `json:"role"`
}

// HandleSignIn verifies the posted assertion and signs the attested user in,
// linking or creating the local account as needed.
func (o *OAuthVerifier) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req oauthSignInRequest
	if err := decodeBody(r, &req, map[string]*string{
		"assertion": &req.Assertion,
		"role":      &req.Role,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	if req.Assertion == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Assertion required", "assertion"))
		return
	}

	profile, err := o.Verify(r.Context(), req.Assertion)
	if err != nil {
		log.Println("assertion verification failed: ", err)
		writeAuthError(w, NewAuthError(ErrCodeInvalidCreds, "Invalid identity assertion", "assertion"))
		return
	}
	if profile.Email == "" {
		writeAuthError(w, NewAuthError(ErrCodeInvalidCreds, "Assertion carries no email", "assertion"))
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

	user, roleRequired, err := ensureExternalUser(r.Context(), o.Users, profile, role)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to resolve account", ""))
		return
	}
	if roleRequired {
		writeAuthError(w, NewAuthError(ErrCodeRoleRequired, "Choose a role to finish creating your account", "role"))
		return
	}

	o.finishSignIn(w, r, user)
}

func (o *OAuthVerifier) finishSignIn(w http.ResponseWriter, r *http.Request, user *User) {
	token, err := o.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create session", ""))
		return
	}
	if o.OnAuthenticated != nil {
		o.OnAuthenticated("oauth", "google", nil, user, w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user.Sanitized(),
		"sessionToken": token,
	})
}

// GoogleRedirectFlow is the server-driven variant: we send the browser to
// Google, exchange the code ourselves, fetch the profile and sign the user
// in.  The client's chosen role rides along in the state cookie.
type GoogleRedirectFlow struct {
	Config   *oauth2.Config
	Verifier *OAuthVerifier
}

func NewGoogleRedirectFlow(clientID, clientSecret, callbackURL string, verifier *OAuthVerifier) *GoogleRedirectFlow {
	return &GoogleRedirectFlow{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		Verifier: verifier,
	}
}

func generateStateOauthCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Println("Error generating rand: ", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:    "oauthstate",
		Value:   state,
		Path:    "/",
		Expires: time.Now().Add(30 * time.Minute),
	})
	return state
}

// HandleStart redirects the browser to Google's consent screen.
func (g *GoogleRedirectFlow) HandleStart(w http.ResponseWriter, r *http.Request) {
	if role := r.URL.Query().Get("role"); role != "" {
		http.SetCookie(w, &http.Cookie{
			Name:   "oauthrole",
			Value:  role,
			Path:   "/",
			MaxAge: 300,
		})
	}
	state := generateStateOauthCookie(w)
	http.Redirect(w, r, g.Config.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback exchanges the code, fetches the Google profile and signs
// the user in.
func (g *GoogleRedirectFlow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie("oauthstate")
	if oauthState == nil || r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{Name: "oauthstate", MaxAge: 0})
		http.Error(w, "invalid oauth state", http.StatusBadRequest)
		return
	}

	token, err := g.Config.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		log.Println("code exchange failed: ", err)
		http.Error(w, "code exchange failed", http.StatusBadRequest)
		return
	}

	profile, err := fetchGoogleProfile(token)
	if err != nil {
		log.Println("error fetching google profile: ", err)
		http.Error(w, "failed to fetch profile", http.StatusBadGateway)
		return
	}

	var role Role
	if rc, _ := r.Cookie("oauthrole"); rc != nil {
		if parsed, ok := ParseRole(rc.Value); ok && parsed != RoleStudent {
			role = parsed
		}
		http.SetCookie(w, &http.Cookie{Name: "oauthrole", MaxAge: 0})
	}

	user, roleRequired, err := ensureExternalUser(r.Context(), g.Verifier.Users, profile, role)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to resolve account", ""))
		return
	}
	if roleRequired {
		writeAuthError(w, NewAuthError(ErrCodeRoleRequired, "Choose a role to finish creating your account", "role"))
		return
	}

	sessToken, err := g.Verifier.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create session", ""))
		return
	}
	if g.Verifier.OnAuthenticated != nil {
		g.Verifier.OnAuthenticated("oauth", "google", token, user, w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user.Sanitized(),
		"sessionToken": sessToken,
	})
}

func fetchGoogleProfile(token *oauth2.Token) (ExternalProfile, error) {
	const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo?access_token="
	resp, err := http.Get(userInfoURL + token.AccessToken)
	if err != nil {
		return ExternalProfile{}, fmt.Errorf("failed getting user info: %s", err.Error())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExternalProfile{}, fmt.Errorf("failed read response: %s", err.Error())
	}
	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return ExternalProfile{}, err
	}
	return ExternalProfile{
		Subject: "google:" + info.ID,
		Email:   strings.ToLower(info.Email),
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}
