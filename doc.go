// Package identity is the identity and session core of Homeroom, a
// homeschool-coordination application for parents, tutors and students.
//
// The package covers three ways into an account and keeps them converging on
// a single user record:
//
// Local: email/password signup with mandatory email verification. Accounts
// are created unverified and cannot log in until the emailed verification
// token is consumed.
//
// OAuth: the client completes the provider flow and posts the resulting
// identity assertion, which is verified against the expected audience before
// any account is touched. A server-driven Google redirect flow is also
// available.
//
// Federated: the frontend's identity SDK posts the authenticated profile and
// receives a cookie session.
//
// All three paths share one linking core: an external identity whose email
// matches an existing password account is linked onto that account, never
// duplicated, and the email is marked verified on the provider's word.
//
// # Sessions
//
// Token sessions (Authorization: Bearer) are opaque random values resolved
// through a SessionStore; MemorySessionStore is the process-local default
// and stores/redis provides a TTL-backed shared registry. Cookie sessions
// use alexedwards/scs and hold a denormalized identity snapshot. A fresh
// token or a renewed session id is issued on every successful login.
//
// # Basic Usage
//
//	users := fs.NewUserStore(storagePath)
//	invites := fs.NewInviteStore(storagePath)
//
//	auth := identity.New(users, invites, identity.NewMemorySessionStore())
//	auth.BaseURL = "https://app.homeroomhq.com"
//	auth.VerifyAssertion = identity.GoogleAssertionVerifier(clientID)
//
//	http.ListenAndServe(":8080", auth.Handler())
//
// # Security
//
// Passwords are hashed with bcrypt at default cost. Verification, reset and
// invite tokens are cryptographically secure 32-byte values, hex-encoded to
// 64 characters, single-use, and expire automatically (24 hours for
// verification, 1 hour for reset, 7 days for invites). Login, forgot-password
// and resend-verification responses never reveal whether an email is
// registered.
package identity
