package fs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/homeroomhq/identity"
)

func newTestUserStore(t *testing.T) *UserStore {
	t.Helper()
	store, err := NewUserStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func seedUser(t *testing.T, store *UserStore, email string) *identity.User {
	t.Helper()
	user := &identity.User{
		ID:                    uuid.NewString(),
		Email:                 email,
		PasswordHash:          "hashed",
		Name:                  "Seed User",
		Role:                  identity.RoleParent,
		VerificationToken:     "verify-" + email,
		VerificationExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func TestUserStoreLookups(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "lookup@example.com")

	byID, err := store.GetUserByID(ctx, user.ID)
	if err != nil || byID.Email != user.Email {
		t.Errorf("GetUserByID: %v", err)
	}
	byEmail, err := store.GetUserByEmail(ctx, "lookup@example.com")
	if err != nil || byEmail.ID != user.ID {
		t.Errorf("GetUserByEmail: %v", err)
	}
	byToken, err := store.GetUserByVerificationToken(ctx, user.VerificationToken)
	if err != nil || byToken.ID != user.ID {
		t.Errorf("GetUserByVerificationToken: %v", err)
	}

	if _, err := store.GetUserByEmail(ctx, "ghost@example.com"); err != identity.ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.GetUserByVerificationToken(ctx, ""); err != identity.ErrUserNotFound {
		t.Error("Empty token must not match users with no token")
	}
	if _, err := store.GetUserByExternalID(ctx, ""); err != identity.ErrUserNotFound {
		t.Error("Empty external id must not match users with no external id")
	}
}

func TestUserStoreEmailUniqueness(t *testing.T) {
	store := newTestUserStore(t)
	seedUser(t, store, "unique@example.com")

	dup := &identity.User{
		ID:    uuid.NewString(),
		Email: "unique@example.com",
		Name:  "Duplicate",
		Role:  identity.RoleTeacher,
	}
	if err := store.CreateUser(context.Background(), dup); err != identity.ErrEmailTaken {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
}

func TestUserStoreEmailUniquenessConcurrent(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	const racers = 16
	errs := make(chan error, racers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		go func() {
			start.Wait()
			errs <- store.CreateUser(ctx, &identity.User{
				ID:    uuid.NewString(),
				Email: "contended@example.com",
				Name:  "Racer",
				Role:  identity.RoleParent,
			})
		}()
	}
	start.Done()

	created, taken := 0, 0
	for i := 0; i < racers; i++ {
		switch err := <-errs; err {
		case nil:
			created++
		case identity.ErrEmailTaken:
			taken++
		default:
			t.Errorf("Unexpected CreateUser error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("Exactly one concurrent create should win, got %d", created)
	}
	if taken != racers-1 {
		t.Errorf("Expected %d ErrEmailTaken, got %d", racers-1, taken)
	}

	if _, err := store.GetUserByEmail(ctx, "contended@example.com"); err != nil {
		t.Errorf("Winning record not readable: %v", err)
	}
}

func TestUserStoreIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewUserStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	seedUser(t, store, "persist@example.com")

	reopened, err := NewUserStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	if _, err := reopened.GetUserByEmail(context.Background(), "persist@example.com"); err != nil {
		t.Errorf("Email index not rebuilt from disk: %v", err)
	}
	dup := &identity.User{ID: uuid.NewString(), Email: "persist@example.com"}
	if err := reopened.CreateUser(context.Background(), dup); err != identity.ErrEmailTaken {
		t.Errorf("Uniqueness must hold across reopen, got %v", err)
	}
}

func TestUserStoreUpdatePatchSemantics(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "patch@example.com")

	// Untouched fields survive a partial update
	newName := "Renamed"
	updated, err := store.UpdateUser(ctx, user.ID, identity.UserUpdate{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name not updated: %q", updated.Name)
	}
	if updated.PasswordHash != "hashed" || updated.VerificationToken != user.VerificationToken {
		t.Error("Partial update must leave other fields alone")
	}

	// ClearVerification nulls the whole pair
	verified := true
	updated, err = store.UpdateUser(ctx, user.ID, identity.UserUpdate{
		Verified:          &verified,
		ClearVerification: true,
	})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if !updated.EmailVerified || updated.VerificationToken != "" || !updated.VerificationExpiresAt.IsZero() {
		t.Errorf("Verification pair not cleared: %+v", updated)
	}

	// Setting a pair stores token and expiry together
	reset := identity.TokenPair{Token: "reset-tok", ExpiresAt: time.Now().Add(time.Hour)}
	updated, err = store.UpdateUser(ctx, user.ID, identity.UserUpdate{Reset: &reset})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if updated.ResetToken != "reset-tok" || updated.ResetExpiresAt.IsZero() {
		t.Error("Reset pair not stored")
	}

	if _, err := store.UpdateUser(ctx, "no-such-id", identity.UserUpdate{Name: &newName}); err != identity.ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestStudentProfileRoundTrip(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	profile := &identity.StudentProfile{
		UserID:     "student-1",
		ParentID:   "parent-1",
		GradeLevel: "7",
		CreatedAt:  time.Now(),
	}
	if err := store.CreateStudentProfile(ctx, profile); err != nil {
		t.Fatalf("CreateStudentProfile failed: %v", err)
	}
	got, err := store.GetStudentProfile(ctx, "student-1")
	if err != nil {
		t.Fatalf("GetStudentProfile failed: %v", err)
	}
	if got.ParentID != "parent-1" || got.GradeLevel != "7" {
		t.Errorf("Unexpected profile: %+v", got)
	}
}

func TestInviteStore(t *testing.T) {
	store := NewInviteStore(t.TempDir())
	ctx := context.Background()

	invite := &identity.StudentInvite{
		ID:          uuid.NewString(),
		Email:       "kid@example.com",
		StudentName: "Kim Kid",
		GradeLevel:  "5",
		ParentID:    "parent-1",
		Token:       "invite-token",
		Status:      identity.InviteStatusPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(7 * 24 * time.Hour),
	}
	if err := store.CreateInvite(ctx, invite); err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}

	got, err := store.GetInviteByToken(ctx, "invite-token")
	if err != nil {
		t.Fatalf("GetInviteByToken failed: %v", err)
	}
	if got.Status != identity.InviteStatusPending || got.Email != "kid@example.com" {
		t.Errorf("Unexpected invite: %+v", got)
	}

	if _, err := store.GetInviteByToken(ctx, "wrong"); err != identity.ErrInviteNotFound {
		t.Errorf("Expected ErrInviteNotFound, got %v", err)
	}

	if err := store.MarkInviteAccepted(ctx, "invite-token"); err != nil {
		t.Fatalf("MarkInviteAccepted failed: %v", err)
	}
	got, _ = store.GetInviteByToken(ctx, "invite-token")
	if got.Status != identity.InviteStatusAccepted {
		t.Errorf("Expected accepted, got %q", got.Status)
	}

	if err := store.MarkInviteAccepted(ctx, "missing"); err != identity.ErrInviteNotFound {
		t.Errorf("Expected ErrInviteNotFound, got %v", err)
	}

	list, err := store.ListInvitesByParent(ctx, "parent-1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListInvitesByParent: %v, %d invites", err, len(list))
	}
	empty, err := store.ListInvitesByParent(ctx, "other-parent")
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no invites for other parent, got %d", len(empty))
	}
}
