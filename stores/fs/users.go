// Package fs provides file-backed store implementations, suitable for
// development and tests. Records are JSON files; secondary lookups go
// through an in-memory index rebuilt from disk at construction. The index
// mutex doubles as the uniqueness guard, so concurrent creates with the
// same email cannot both succeed.
package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/homeroomhq/identity"
)

// userRecord is the on-disk shape. The domain type hides credential fields
// from JSON, so persistence needs its own tags.
type userRecord struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"password_hash,omitempty"`
	ExternalID   string        `json:"external_id,omitempty"`
	Name         string        `json:"name"`
	Role         identity.Role `json:"role"`
	Picture      string        `json:"picture,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	EmailVerified bool `json:"email_verified"`

	VerificationToken     string    `json:"verification_token,omitempty"`
	VerificationExpiresAt time.Time `json:"verification_expires_at,omitempty"`
	ResetToken            string    `json:"reset_token,omitempty"`
	ResetExpiresAt        time.Time `json:"reset_expires_at,omitempty"`
}

func toRecord(u *identity.User) *userRecord {
	return &userRecord{
		ID:                    u.ID,
		Email:                 u.Email,
		PasswordHash:          u.PasswordHash,
		ExternalID:            u.ExternalID,
		Name:                  u.Name,
		Role:                  u.Role,
		Picture:               u.Picture,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
		EmailVerified:         u.EmailVerified,
		VerificationToken:     u.VerificationToken,
		VerificationExpiresAt: u.VerificationExpiresAt,
		ResetToken:            u.ResetToken,
		ResetExpiresAt:        u.ResetExpiresAt,
	}
}

func (r *userRecord) toUser() *identity.User {
	return &identity.User{
		ID:                    r.ID,
		Email:                 r.Email,
		PasswordHash:          r.PasswordHash,
		ExternalID:            r.ExternalID,
		Name:                  r.Name,
		Role:                  r.Role,
		Picture:               r.Picture,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
		EmailVerified:         r.EmailVerified,
		VerificationToken:     r.VerificationToken,
		VerificationExpiresAt: r.VerificationExpiresAt,
		ResetToken:            r.ResetToken,
		ResetExpiresAt:        r.ResetExpiresAt,
	}
}

// UserStore stores users and student profiles as JSON files.
type UserStore struct {
	StoragePath string

	mu      sync.Mutex
	byEmail map[string]string // email -> user id
}

func NewUserStore(storagePath string) (*UserStore, error) {
	s := &UserStore{StoragePath: storagePath, byEmail: map[string]string{}}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UserStore) usersDir() string {
	return filepath.Join(s.StoragePath, "users")
}

func (s *UserStore) userPath(id string) string {
	return filepath.Join(s.usersDir(), id+".json")
}

func (s *UserStore) profilePath(userID string) string {
	return filepath.Join(s.StoragePath, "student_profiles", userID+".json")
}

func (s *UserStore) rebuildIndex() error {
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.usersDir(), entry.Name()))
		if err != nil {
			continue
		}
		s.byEmail[rec.Email] = rec.ID
	}
	return nil
}

func (s *UserStore) readRecord(path string) (*userRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *UserStore) writeRecord(rec *userRecord) error {
	path := s.userPath(rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*identity.User, error) {
	rec, err := s.readRecord(s.userPath(id))
	if err != nil {
		return nil, identity.ErrUserNotFound
	}
	return rec.toUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *UserStore) GetUserByExternalID(ctx context.Context, externalID string) (*identity.User, error) {
	return s.findUser(func(rec *userRecord) bool {
		return externalID != "" && rec.ExternalID == externalID
	})
}

func (s *UserStore) GetUserByVerificationToken(ctx context.Context, token string) (*identity.User, error) {
	return s.findUser(func(rec *userRecord) bool {
		return token != "" && rec.VerificationToken == token
	})
}

func (s *UserStore) GetUserByResetToken(ctx context.Context, token string) (*identity.User, error) {
	return s.findUser(func(rec *userRecord) bool {
		return token != "" && rec.ResetToken == token
	})
}

// findUser scans all user files. Fine at dev scale; the gorm store indexes
// these lookups properly.
func (s *UserStore) findUser(match func(*userRecord) bool) (*identity.User, error) {
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		return nil, identity.ErrUserNotFound
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.usersDir(), entry.Name()))
		if err != nil {
			continue
		}
		if match(rec) {
			return rec.toUser(), nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *UserStore) CreateUser(ctx context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[user.Email]; exists {
		return identity.ErrEmailTaken
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if err := s.writeRecord(toRecord(user)); err != nil {
		return err
	}
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *UserStore) UpdateUser(ctx context.Context, id string, update identity.UserUpdate) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(s.userPath(id))
	if err != nil {
		return nil, identity.ErrUserNotFound
	}

	if update.Name != nil {
		rec.Name = *update.Name
	}
	if update.PasswordHash != nil {
		rec.PasswordHash = *update.PasswordHash
	}
	if update.ExternalID != nil {
		rec.ExternalID = *update.ExternalID
	}
	if update.Verified != nil {
		rec.EmailVerified = *update.Verified
	}
	if update.Picture != nil {
		rec.Picture = *update.Picture
	}
	if update.Verification != nil {
		rec.VerificationToken = update.Verification.Token
		rec.VerificationExpiresAt = update.Verification.ExpiresAt
	} else if update.ClearVerification {
		rec.VerificationToken = ""
		rec.VerificationExpiresAt = time.Time{}
	}
	if update.Reset != nil {
		rec.ResetToken = update.Reset.Token
		rec.ResetExpiresAt = update.Reset.ExpiresAt
	} else if update.ClearReset {
		rec.ResetToken = ""
		rec.ResetExpiresAt = time.Time{}
	}
	rec.UpdatedAt = time.Now()

	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *UserStore) CreateStudentProfile(ctx context.Context, profile *identity.StudentProfile) error {
	path := s.profilePath(profile.UserID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *UserStore) GetStudentProfile(ctx context.Context, userID string) (*identity.StudentProfile, error) {
	data, err := os.ReadFile(s.profilePath(userID))
	if err != nil {
		return nil, identity.ErrUserNotFound
	}
	var profile identity.StudentProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
