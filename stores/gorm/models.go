//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/homeroomhq/identity"
)

// UserModel is the GORM model for users. The unique index on email is the
// storage-layer guarantee behind the signup conflict check; the handler's
// pre-lookup is only an optimization.
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"size:255;uniqueIndex"`
	PasswordHash string `gorm:"size:255"`
	ExternalID   string `gorm:"size:255;index"`
	Name         string `gorm:"size:255"`
	Role         string `gorm:"size:16"`
	Picture      string `gorm:"size:512"`

	EmailVerified bool `gorm:"default:false"`

	VerificationToken     string `gorm:"size:128;index"`
	VerificationExpiresAt time.Time
	ResetToken            string `gorm:"size:128;index"`
	ResetExpiresAt        time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *identity.User {
	return &identity.User{
		ID:                    m.ID,
		Email:                 m.Email,
		PasswordHash:          m.PasswordHash,
		ExternalID:            m.ExternalID,
		Name:                  m.Name,
		Role:                  identity.Role(m.Role),
		Picture:               m.Picture,
		EmailVerified:         m.EmailVerified,
		VerificationToken:     m.VerificationToken,
		VerificationExpiresAt: m.VerificationExpiresAt,
		ResetToken:            m.ResetToken,
		ResetExpiresAt:        m.ResetExpiresAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func UserToModel(u *identity.User) *UserModel {
	return &UserModel{
		ID:                    u.ID,
		Email:                 u.Email,
		PasswordHash:          u.PasswordHash,
		ExternalID:            u.ExternalID,
		Name:                  u.Name,
		Role:                  string(u.Role),
		Picture:               u.Picture,
		EmailVerified:         u.EmailVerified,
		VerificationToken:     u.VerificationToken,
		VerificationExpiresAt: u.VerificationExpiresAt,
		ResetToken:            u.ResetToken,
		ResetExpiresAt:        u.ResetExpiresAt,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}
}

// StudentProfileModel links a student account to the inviting parent.
type StudentProfileModel struct {
	UserID     string    `gorm:"primaryKey;size:64"`
	ParentID   string    `gorm:"size:64;index"`
	GradeLevel string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (StudentProfileModel) TableName() string {
	return "student_profiles"
}

func (m *StudentProfileModel) ToProfile() *identity.StudentProfile {
	return &identity.StudentProfile{
		UserID:     m.UserID,
		ParentID:   m.ParentID,
		GradeLevel: m.GradeLevel,
		CreatedAt:  m.CreatedAt,
	}
}

// InviteModel is the GORM model for student invites.
type InviteModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Email       string `gorm:"size:255;index"`
	StudentName string `gorm:"size:255"`
	GradeLevel  string `gorm:"size:32"`
	ParentID    string `gorm:"size:64;index"`
	Token       string `gorm:"size:128;uniqueIndex"`
	Status      string `gorm:"size:16"`
	ExpiresAt   time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (InviteModel) TableName() string {
	return "student_invites"
}

func (m *InviteModel) ToInvite() *identity.StudentInvite {
	return &identity.StudentInvite{
		ID:          m.ID,
		Email:       m.Email,
		StudentName: m.StudentName,
		GradeLevel:  m.GradeLevel,
		ParentID:    m.ParentID,
		Token:       m.Token,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

func InviteToModel(i *identity.StudentInvite) *InviteModel {
	return &InviteModel{
		ID:          i.ID,
		Email:       i.Email,
		StudentName: i.StudentName,
		GradeLevel:  i.GradeLevel,
		ParentID:    i.ParentID,
		Token:       i.Token,
		Status:      i.Status,
		CreatedAt:   i.CreatedAt,
		ExpiresAt:   i.ExpiresAt,
	}
}
