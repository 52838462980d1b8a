//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/homeroomhq/identity"
)

// AutoMigrate runs database migrations for all identity tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&StudentProfileModel{},
		&InviteModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements identity.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) getUser(ctx context.Context, query string, args ...any) (*identity.User, error) {
	var model UserModel
	conds := append([]any{query}, args...)
	if err := s.db.WithContext(ctx).First(&model, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*identity.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *UserStore) GetUserByExternalID(ctx context.Context, externalID string) (*identity.User, error) {
	if externalID == "" {
		return nil, identity.ErrUserNotFound
	}
	return s.getUser(ctx, "external_id = ?", externalID)
}

func (s *UserStore) GetUserByVerificationToken(ctx context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, identity.ErrUserNotFound
	}
	return s.getUser(ctx, "verification_token = ?", token)
}

func (s *UserStore) GetUserByResetToken(ctx context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, identity.ErrUserNotFound
	}
	return s.getUser(ctx, "reset_token = ?", token)
}

func (s *UserStore) CreateUser(ctx context.Context, user *identity.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(UserToModel(user)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return identity.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *UserStore) UpdateUser(ctx context.Context, id string, update identity.UserUpdate) (*identity.User, error) {
	changes := map[string]any{}
	if update.Name != nil {
		changes["name"] = *update.Name
	}
	if update.PasswordHash != nil {
		changes["password_hash"] = *update.PasswordHash
	}
	if update.ExternalID != nil {
		changes["external_id"] = *update.ExternalID
	}
	if update.Verified != nil {
		changes["email_verified"] = *update.Verified
	}
	if update.Picture != nil {
		changes["picture"] = *update.Picture
	}
	if update.Verification != nil {
		changes["verification_token"] = update.Verification.Token
		changes["verification_expires_at"] = update.Verification.ExpiresAt
	} else if update.ClearVerification {
		changes["verification_token"] = ""
		changes["verification_expires_at"] = time.Time{}
	}
	if update.Reset != nil {
		changes["reset_token"] = update.Reset.Token
		changes["reset_expires_at"] = update.Reset.ExpiresAt
	} else if update.ClearReset {
		changes["reset_token"] = ""
		changes["reset_expires_at"] = time.Time{}
	}

	if len(changes) > 0 {
		res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(changes)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, identity.ErrUserNotFound
		}
	}
	return s.GetUserByID(ctx, id)
}

func (s *UserStore) CreateStudentProfile(ctx context.Context, profile *identity.StudentProfile) error {
	model := &StudentProfileModel{
		UserID:     profile.UserID,
		ParentID:   profile.ParentID,
		GradeLevel: profile.GradeLevel,
		CreatedAt:  profile.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *UserStore) GetStudentProfile(ctx context.Context, userID string) (*identity.StudentProfile, error) {
	var model StudentProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToProfile(), nil
}

// =============================================================================
// InviteStore
// =============================================================================

// InviteStore implements identity.InviteStore using GORM
type InviteStore struct {
	db *gorm.DB
}

func NewInviteStore(db *gorm.DB) *InviteStore {
	return &InviteStore{db: db}
}

func (s *InviteStore) CreateInvite(ctx context.Context, invite *identity.StudentInvite) error {
	return s.db.WithContext(ctx).Create(InviteToModel(invite)).Error
}

func (s *InviteStore) GetInviteByToken(ctx context.Context, token string) (*identity.StudentInvite, error) {
	if token == "" {
		return nil, identity.ErrInviteNotFound
	}
	var model InviteModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrInviteNotFound
		}
		return nil, err
	}
	return model.ToInvite(), nil
}

func (s *InviteStore) MarkInviteAccepted(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("token = ?", token).
		Update("status", identity.InviteStatusAccepted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrInviteNotFound
	}
	return nil
}

func (s *InviteStore) ListInvitesByParent(ctx context.Context, parentID string) ([]*identity.StudentInvite, error) {
	var models []InviteModel
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	invites := make([]*identity.StudentInvite, len(models))
	for i, m := range models {
		invites[i] = m.ToInvite()
	}
	return invites, nil
}
