package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/homeroomhq/identity"
)

// inviteRecord is the on-disk shape; the raw token is persisted here and
// nowhere else.
type inviteRecord struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	StudentName string    `json:"student_name"`
	GradeLevel  string    `json:"grade_level,omitempty"`
	ParentID    string    `json:"parent_id"`
	Token       string    `json:"token"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toInviteRecord(i *identity.StudentInvite) *inviteRecord {
	return &inviteRecord{
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

func (r *inviteRecord) toInvite() *identity.StudentInvite {
	return &identity.StudentInvite{
		ID:          r.ID,
		Email:       r.Email,
		StudentName: r.StudentName,
		GradeLevel:  r.GradeLevel,
		ParentID:    r.ParentID,
		Token:       r.Token,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// InviteStore stores student invites as JSON files keyed by invite id.
type InviteStore struct {
	StoragePath string
}

func NewInviteStore(storagePath string) *InviteStore {
	return &InviteStore{StoragePath: storagePath}
}

func (s *InviteStore) invitesDir() string {
	return filepath.Join(s.StoragePath, "invites")
}

func (s *InviteStore) invitePath(id string) string {
	return filepath.Join(s.invitesDir(), id+".json")
}

func (s *InviteStore) writeRecord(rec *inviteRecord) error {
	path := s.invitePath(rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *InviteStore) findRecord(match func(*inviteRecord) bool) (*inviteRecord, error) {
	entries, err := os.ReadDir(s.invitesDir())
	if err != nil {
		return nil, identity.ErrInviteNotFound
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.invitesDir(), entry.Name()))
		if err != nil {
			continue
		}
		var rec inviteRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if match(&rec) {
			return &rec, nil
		}
	}
	return nil, identity.ErrInviteNotFound
}

func (s *InviteStore) CreateInvite(ctx context.Context, invite *identity.StudentInvite) error {
	return s.writeRecord(toInviteRecord(invite))
}

func (s *InviteStore) GetInviteByToken(ctx context.Context, token string) (*identity.StudentInvite, error) {
	if token == "" {
		return nil, identity.ErrInviteNotFound
	}
	rec, err := s.findRecord(func(rec *inviteRecord) bool { return rec.Token == token })
	if err != nil {
		return nil, err
	}
	return rec.toInvite(), nil
}

func (s *InviteStore) MarkInviteAccepted(ctx context.Context, token string) error {
	rec, err := s.findRecord(func(rec *inviteRecord) bool { return rec.Token == token })
	if err != nil {
		return err
	}
	rec.Status = identity.InviteStatusAccepted
	return s.writeRecord(rec)
}

func (s *InviteStore) ListInvitesByParent(ctx context.Context, parentID string) ([]*identity.StudentInvite, error) {
	var out []*identity.StudentInvite
	entries, err := os.ReadDir(s.invitesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.invitesDir(), entry.Name()))
		if err != nil {
			continue
		}
		var rec inviteRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.ParentID == parentID {
			out = append(out, rec.toInvite())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
