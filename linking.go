package identity

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExternalProfile is the normalized identity carried by a verified external
// assertion, regardless of which provider or bridge produced it.
type ExternalProfile struct {
	// Provider-scoped stable subject, eg "google:108234..."
	Subject string

	Email   string
	Name    string
	Picture string
}

// ensureExternalUser resolves an external profile to a local user record,
// creating or linking as needed.  The resolution order is:
//
//  1. A user already carrying this external subject wins outright.
//  2. A user with the same email gets the subject linked onto it, and is
//     marked verified since the provider vouched for the address.
//  3. Otherwise a new, already-verified user is created.  Creation requires
//     a role, so callers pass the role the client selected; roleRequired
//     signals the caller must ask for one and retry.
func ensureExternalUser(ctx context.Context, users UserStore, profile ExternalProfile, role Role) (*User, bool, error) {
	profile.Email = strings.TrimSpace(strings.ToLower(profile.Email))

	// A create can lose a race to a concurrent signup for the same email.
	// One retry is enough: the second pass finds the winner by email and
	// links instead of creating.
	user, roleRequired, err := resolveExternalUser(ctx, users, profile, role)
	if err == ErrEmailTaken {
		user, roleRequired, err = resolveExternalUser(ctx, users, profile, role)
	}
	return user, roleRequired, err
}

func resolveExternalUser(ctx context.Context, users UserStore, profile ExternalProfile, role Role) (user *User, roleRequired bool, err error) {
	if u, err := users.GetUserByExternalID(ctx, profile.Subject); err == nil {
		return u, false, nil
	}

	if u, err := users.GetUserByEmail(ctx, profile.Email); err == nil {
		verified := true
		updated, err := users.UpdateUser(ctx, u.ID, UserUpdate{
			ExternalID: &profile.Subject,
			Verified:   &verified,
		})
		if err != nil {
			log.Println("error linking external identity: ", err)
			return nil, false, err
		}
		return updated, false, nil
	}

	if role == "" {
		return nil, true, nil
	}

	now := time.Now()
	u := &User{
		ID:            uuid.NewString(),
		Email:         profile.Email,
		ExternalID:    profile.Subject,
		Name:          profile.Name,
		Role:          role,
		Picture:       profile.Picture,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return nil, false, err
	}
	return u, false, nil
}
