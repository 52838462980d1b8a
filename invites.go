package identity

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
)

// InviteManager handles parent-issued student invites. Students never sign
// up directly; a parent creates an invite and the student redeems its token
// to get a linked, unverified account.
type InviteManager struct {
	Users   UserStore
	Invites InviteStore
	Email   EmailSender

	BaseURL           string
	MinPasswordLength int
}

func (m *InviteManager) minPasswordLength() int {
	if m.MinPasswordLength > 0 {
		return m.MinPasswordLength
	}
	return DefaultMinPasswordLength
}

type createInviteRequest struct {
	Email       string `json:"email"`
	StudentName string `json:"studentName"`
	GradeLevel  string `json:"gradeLevel"`
}

// HandleCreateInvite issues a pending invite. The route is mounted behind
// RequireRole(parent), so the context user is always a parent here.
func (m *InviteManager) HandleCreateInvite(w http.ResponseWriter, r *http.Request) {
	parent := UserFromContext(r.Context())
	if parent == nil {
		writeAuthError(w, NewAuthError(ErrCodeUnauthorized, "Login required", ""))
		return
	}

	var req createInviteRequest
	if err := decodeBody(r, &req, map[string]*string{
		"email":       &req.Email,
		"studentName": &req.StudentName,
		"gradeLevel":  &req.GradeLevel,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Email is required", "email"))
		return
	}
	if !emailRegex.MatchString(req.Email) {
		writeAuthError(w, NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email"))
		return
	}
	if req.StudentName == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Student name is required", "studentName"))
		return
	}

	token, err := GenerateSecureToken()
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to generate token", ""))
		return
	}
	now := time.Now()
	invite := &StudentInvite{
		ID:          uuid.NewString(),
		Email:       req.Email,
		StudentName: req.StudentName,
		GradeLevel:  req.GradeLevel,
		ParentID:    parent.ID,
		Token:       token,
		Status:      InviteStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(TokenExpiryStudentInvite),
	}
	if err := m.Invites.CreateInvite(r.Context(), invite); err != nil {
		log.Println("error creating invite: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create invite", ""))
		return
	}

	if m.Email != nil {
		link := fmt.Sprintf("%s/auth/signup/student?token=%s", m.BaseURL, token)
		if err := m.Email.SendStudentInviteEmail(invite.Email, invite.StudentName, link); err != nil {
			log.Println("error sending invite email: ", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"invite": invite})
}

type redeemInviteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleRedeemInvite turns a pending invite into an unverified student
// account plus its linked profile. A failed attempt never consumes the
// invite; only a successful redeem flips it to accepted. No session is
// issued, the student still has to verify their email and log in.
func (m *InviteManager) HandleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req redeemInviteRequest
	if err := decodeBody(r, &req, map[string]*string{
		"token":    &req.Token,
		"password": &req.Password,
	}); err != nil {
		writeAuthError(w, NewAuthError(ErrCodeValidation, "invalid request body", ""))
		return
	}
	if req.Token == "" {
		writeAuthError(w, NewAuthError(ErrCodeMissingField, "Token required", "token"))
		return
	}
	minLen := m.minPasswordLength()
	if len(req.Password) < minLen {
		writeAuthError(w, NewAuthError(ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters", minLen), "password"))
		return
	}

	invite, err := m.Invites.GetInviteByToken(r.Context(), req.Token)
	if err != nil || invite.Status != InviteStatusPending {
		writeAuthError(w, NewAuthError(ErrCodeInvalidInvite, "Invalid or already used invite", "token"))
		return
	}
	if invite.IsExpired() {
		writeAuthError(w, NewAuthError(ErrCodeExpiredInvite, "This invite has expired. Ask your parent to send a new one.", "token"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to hash password", ""))
		return
	}
	verification, err := NewTokenPair(TokenExpiryEmailVerification)
	if err != nil {
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to generate token", ""))
		return
	}

	user := &User{
		ID:                    uuid.NewString(),
		Email:                 invite.Email,
		PasswordHash:          string(hash),
		Name:                  invite.StudentName,
		Role:                  RoleStudent,
		EmailVerified:         false,
		VerificationToken:     verification.Token,
		VerificationExpiresAt: verification.ExpiresAt,
	}
	if err := m.Users.CreateUser(r.Context(), user); err != nil {
		if err == ErrEmailTaken {
			writeAuthError(w, NewAuthError(ErrCodeEmailExists, "Email already registered", "email"))
			return
		}
		log.Println("error creating student user: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create user", ""))
		return
	}

	profile := &StudentProfile{
		UserID:     user.ID,
		ParentID:   invite.ParentID,
		GradeLevel: invite.GradeLevel,
		CreatedAt:  time.Now(),
	}
	if err := m.Users.CreateStudentProfile(r.Context(), profile); err != nil {
		log.Println("error creating student profile: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to create student profile", ""))
		return
	}

	if err := m.Invites.MarkInviteAccepted(r.Context(), invite.Token); err != nil {
		log.Println("error marking invite accepted: ", err)
	}

	if m.Email != nil {
		link := fmt.Sprintf("%s/auth/verify-email?token=%s", m.BaseURL, verification.Token)
		if err := m.Email.SendVerificationEmail(user.Email, link); err != nil {
			log.Println("error sending verification email: ", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":           user.Sanitized(),
		"studentProfile": profile,
		"message":        "Account created. Please check your email to verify your account.",
	})
}

// HandleListInvites returns the invites the logged-in parent has issued.
func (m *InviteManager) HandleListInvites(w http.ResponseWriter, r *http.Request) {
	parent := UserFromContext(r.Context())
	if parent == nil {
		writeAuthError(w, NewAuthError(ErrCodeUnauthorized, "Login required", ""))
		return
	}
	invites, err := m.Invites.ListInvitesByParent(r.Context(), parent.ID)
	if err != nil {
		log.Println("error listing invites: ", err)
		writeAuthError(w, NewAuthError(ErrCodeServerError, "failed to list invites", ""))
		return
	}
	if invites == nil {
		invites = []*StudentInvite{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}
