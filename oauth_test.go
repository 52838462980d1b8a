package identity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/homeroomhq/identity"
)

// fakeVerifier returns canned profiles keyed by assertion string.
func fakeVerifier(profiles map[string]identity.ExternalProfile) identity.AssertionVerifier {
	return func(ctx context.Context, assertion string) (identity.ExternalProfile, error) {
		if profile, ok := profiles[assertion]; ok {
			return profile, nil
		}
		return identity.ExternalProfile{}, fmt.Errorf("unknown assertion")
	}
}

func newOAuthVerifier(env *testEnv, profiles map[string]identity.ExternalProfile) *identity.OAuthVerifier {
	return &identity.OAuthVerifier{
		Verify:   fakeVerifier(profiles),
		Users:    env.Users,
		Sessions: env.Sessions,
	}
}

func TestOAuthSignInCreatesVerifiedUser(t *testing.T) {
	env := setupEnv(t)
	oauth := newOAuthVerifier(env, map[string]identity.ExternalProfile{
		"good-assertion": {
			Subject: "google:12345",
			Email:   "oauth@example.com",
			Name:    "Olive Oauth",
			Picture: "https://example.com/pic.png",
		},
	})

	// New external identity with no role: the client must be told to pick one
	rr := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "good-assertion",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 requiring a role, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["requiresRole"] != true {
		t.Errorf("Expected requiresRole flag, got: %s", rr.Body.String())
	}

	// Retry with a role
	rr = postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "good-assertion", "role": "parent",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	user, err := env.Users.GetUserByEmail(context.Background(), "oauth@example.com")
	if err != nil {
		t.Fatalf("User not created: %v", err)
	}
	if !user.EmailVerified {
		t.Error("Provider-attested accounts are verified from the start")
	}
	if user.ExternalID != "google:12345" {
		t.Errorf("Expected external id google:12345, got %q", user.ExternalID)
	}
	if user.Role != identity.RoleParent {
		t.Errorf("Expected parent role, got %q", user.Role)
	}

	var ok struct {
		SessionToken string `json:"sessionToken"`
	}
	json.Unmarshal(rr.Body.Bytes(), &ok)
	if ok.SessionToken == "" {
		t.Error("Successful sign-in must return a session token")
	}
}

func TestOAuthSignInRejectsBadAssertion(t *testing.T) {
	env := setupEnv(t)
	oauth := newOAuthVerifier(env, nil)

	rr := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "forged", "role": "parent",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad assertion, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOAuthSignInRejectsStudentRole(t *testing.T) {
	env := setupEnv(t)
	oauth := newOAuthVerifier(env, map[string]identity.ExternalProfile{
		"good-assertion": {Subject: "google:555", Email: "kid@example.com", Name: "Kid"},
	})

	rr := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "good-assertion", "role": "student",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for student role, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOAuthLinksExistingPasswordAccount(t *testing.T) {
	env := setupEnv(t)
	local := signupParent(t, env, "both@example.com", "password123")
	if local.EmailVerified {
		t.Fatal("Precondition: local account starts unverified")
	}

	oauth := newOAuthVerifier(env, map[string]identity.ExternalProfile{
		"google-says-both": {Subject: "google:777", Email: "both@example.com", Name: "Both Ways"},
	})

	rr := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "google-says-both",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Linking sign-in failed: %d %s", rr.Code, rr.Body.String())
	}

	// Exactly one record, now carrying both credential paths and verified
	linked, err := env.Users.GetUserByEmail(context.Background(), "both@example.com")
	if err != nil {
		t.Fatalf("Linked user not found: %v", err)
	}
	if linked.ID != local.ID {
		t.Errorf("Linking created a second account: %s vs %s", linked.ID, local.ID)
	}
	if !linked.HasPassword() {
		t.Error("Linking must preserve the password hash")
	}
	if linked.ExternalID != "google:777" {
		t.Errorf("Expected linked external id, got %q", linked.ExternalID)
	}
	if !linked.EmailVerified {
		t.Error("Linking marks the email verified")
	}

	byExt, err := env.Users.GetUserByExternalID(context.Background(), "google:777")
	if err != nil || byExt.ID != local.ID {
		t.Error("Linked account must be reachable by external id")
	}
}

func TestOAuthRepeatSignInReusesAccount(t *testing.T) {
	env := setupEnv(t)
	oauth := newOAuthVerifier(env, map[string]identity.ExternalProfile{
		"ret": {Subject: "google:999", Email: "repeat@example.com", Name: "Repeat"},
	})

	first := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "ret", "role": "teacher",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("First sign-in failed: %d", first.Code)
	}
	// No role on the second sign-in; the account already exists
	second := postJSON(t, oauth.HandleSignIn, "/auth/oauth", map[string]any{
		"assertion": "ret",
	})
	if second.Code != http.StatusOK {
		t.Fatalf("Repeat sign-in failed: %d %s", second.Code, second.Body.String())
	}

	var a, b struct {
		SessionToken string `json:"sessionToken"`
	}
	json.Unmarshal(first.Body.Bytes(), &a)
	json.Unmarshal(second.Body.Bytes(), &b)
	if a.SessionToken == b.SessionToken {
		t.Error("Each sign-in must mint a fresh session token")
	}
}

func TestHMACAssertionVerifier(t *testing.T) {
	secret := []byte("test-secret-key")
	const audience = "homeroom-web"
	verify := identity.HMACAssertionVerifier(secret, audience)

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return token
	}

	good := sign(jwt.MapClaims{
		"sub":   "bridge:abc",
		"aud":   audience,
		"email": "hmac@example.com",
		"name":  "H Mac",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	profile, err := verify(context.Background(), good)
	if err != nil {
		t.Fatalf("Valid assertion rejected: %v", err)
	}
	if profile.Subject != "bridge:abc" || profile.Email != "hmac@example.com" {
		t.Errorf("Unexpected profile: %+v", profile)
	}

	// Wrong audience
	wrongAud := sign(jwt.MapClaims{
		"sub": "bridge:abc", "aud": "some-other-app",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := verify(context.Background(), wrongAud); err == nil {
		t.Error("Assertion for another audience must be rejected")
	}

	// Expired
	expired := sign(jwt.MapClaims{
		"sub": "bridge:abc", "aud": audience,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := verify(context.Background(), expired); err == nil {
		t.Error("Expired assertion must be rejected")
	}

	// Wrong key
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bridge:abc", "aud": audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-key"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := verify(context.Background(), forged); err == nil {
		t.Error("Assertion signed with the wrong key must be rejected")
	}
}

func TestGoogleRedirectStart(t *testing.T) {
	env := setupEnv(t)
	flow := identity.NewGoogleRedirectFlow("client-id", "client-secret",
		"http://localhost/auth/google/callback", newOAuthVerifier(env, nil))

	req := httptest.NewRequest(http.MethodGet, "/auth/google?role=parent", nil)
	rr := httptest.NewRecorder()
	flow.HandleStart(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("Expected 302 redirect to consent screen, got %d", rr.Code)
	}

	var state, role string
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case "oauthstate":
			state = c.Value
		case "oauthrole":
			role = c.Value
		}
	}
	if state == "" {
		t.Fatal("HandleStart must set the oauthstate cookie")
	}
	if role != "parent" {
		t.Errorf("Expected oauthrole cookie %q, got %q", "parent", role)
	}

	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Bad redirect location: %v", err)
	}
	if got := loc.Query().Get("state"); got != state {
		t.Errorf("Redirect state %q does not match cookie state %q", got, state)
	}
	if got := loc.Query().Get("client_id"); got != "client-id" {
		t.Errorf("Redirect client_id = %q", got)
	}
}

func TestGoogleRedirectCallbackRejectsBadState(t *testing.T) {
	env := setupEnv(t)
	flow := identity.NewGoogleRedirectFlow("client-id", "client-secret",
		"http://localhost/auth/google/callback", newOAuthVerifier(env, nil))

	// No oauthstate cookie at all
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=x", nil)
	rr := httptest.NewRecorder()
	flow.HandleCallback(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Callback without a state cookie should 400, got %d", rr.Code)
	}

	// Cookie present but the state param does not match it
	req = httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=x", nil)
	req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "issued"})
	rr = httptest.NewRecorder()
	flow.HandleCallback(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Callback with a mismatched state should 400, got %d", rr.Code)
	}
}

func TestGoogleRedirectRoutesGatedOnCredentials(t *testing.T) {
	env := setupEnv(t)

	bare := identity.New(env.Users, env.Invites, env.Sessions)
	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	rr := httptest.NewRecorder()
	bare.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Without credentials /auth/google should not be mounted, got %d", rr.Code)
	}

	configured := identity.New(env.Users, env.Invites, env.Sessions)
	configured.GoogleClientID = "client-id"
	configured.GoogleClientSecret = "client-secret"
	configured.GoogleCallbackURL = "http://localhost/auth/google/callback"
	rr = httptest.NewRecorder()
	configured.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusFound {
		t.Errorf("With credentials /auth/google should redirect, got %d", rr.Code)
	}
}
