package identity

import (
	"context"
	"time"
)

// Role is assigned once at account creation and never changes afterwards;
// UserUpdate deliberately has no role field.
type Role string

const (
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole validates a caller-supplied role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleParent, RoleTeacher, RoleStudent:
		return Role(s), true
	}
	return "", false
}

// User is the unified identity record. A user always carries at least one
// usable credential path: a password hash, an external identity id, or both
// once the accounts have been linked.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ExternalID   string    `json:"-"` // subject id from the identity provider
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Picture      string    `json:"profilePicture,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	EmailVerified bool `json:"isEmailVerified"`

	// Verification and reset tokens are independent single-use pairs.
	// Consuming one clears only that pair.
	VerificationToken     string    `json:"-"`
	VerificationExpiresAt time.Time `json:"-"`
	ResetToken            string    `json:"-"`
	ResetExpiresAt        time.Time `json:"-"`
}

// Sanitized returns the user as rendered to clients: credential material and
// token state stripped, identity and profile fields kept.
func (u *User) Sanitized() map[string]any {
	out := map[string]any{
		"id":              u.ID,
		"email":           u.Email,
		"name":            u.Name,
		"role":            string(u.Role),
		"isEmailVerified": u.EmailVerified,
	}
	if u.Picture != "" {
		out["profilePicture"] = u.Picture
	}
	return out
}

// HasPassword reports whether the local credential path is usable.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// TokenPair is a single-use token with its expiry. The two fields are always
// set and cleared together.
type TokenPair struct {
	Token     string
	ExpiresAt time.Time
}

// UserUpdate is a field-level patch. Nil pointers leave the field untouched.
// The Clear* flags null out a token pair.
type UserUpdate struct {
	Name         *string
	PasswordHash *string
	ExternalID   *string
	Verified     *bool
	Picture      *string

	Verification      *TokenPair
	ClearVerification bool
	Reset             *TokenPair
	ClearReset        bool
}

// UserStore is the credential store contract. Implementations must enforce
// email uniqueness at the storage layer (unique constraint or equivalent) —
// the signup pre-check alone cannot close the check-then-create race.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (*User, error)
	GetUserByResetToken(ctx context.Context, token string) (*User, error)

	// CreateUser returns ErrEmailTaken when the email is already registered.
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, id string, update UserUpdate) (*User, error)

	CreateStudentProfile(ctx context.Context, profile *StudentProfile) error
	GetStudentProfile(ctx context.Context, userID string) (*StudentProfile, error)
}

// InviteStatus values for StudentInvite.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
)

// StudentInvite is a parent-issued, time-bounded, single-use token that
// bootstraps a new linked student account. Invites are never deleted; a
// redeemed invite flips to accepted exactly once.
type StudentInvite struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	StudentName string    `json:"studentName"`
	GradeLevel  string    `json:"gradeLevel"`
	ParentID    string    `json:"parentId"`
	Token       string    `json:"-"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdDate"`
	ExpiresAt   time.Time `json:"expiresDate"`
}

// IsExpired reports whether the invite can no longer be redeemed on age
// grounds, regardless of status.
func (i *StudentInvite) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

type InviteStore interface {
	CreateInvite(ctx context.Context, invite *StudentInvite) error
	GetInviteByToken(ctx context.Context, token string) (*StudentInvite, error)
	// MarkInviteAccepted flips status to accepted; it fails with
	// ErrInviteNotFound if the invite is unknown.
	MarkInviteAccepted(ctx context.Context, token string) error
	ListInvitesByParent(ctx context.Context, parentID string) ([]*StudentInvite, error)
}

// StudentProfile links a student account to the parent whose invite created
// it.
type StudentProfile struct {
	UserID     string    `json:"userId"`
	ParentID   string    `json:"parentId"`
	GradeLevel string    `json:"gradeLevel"`
	CreatedAt  time.Time `json:"createdAt"`
}
