package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"condo-water/internal/auth"
)

// DefaultTTL is how long an invitation stays usable.
const DefaultTTL = 7 * 24 * time.Hour

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var (
	ErrNotFound    = errors.New("invitations: not found")
	ErrInvalid     = errors.New("invitations: invalid invitation")
	ErrNotPending  = errors.New("invitations: invitation already used")
	ErrExpired     = errors.New("invitations: invitation expired")
	ErrForbidden   = errors.New("invitations: inviter not allowed")
	ErrConflict    = errors.New("invitations: concurrent update")
	ErrMailFailure = errors.New("invitations: mail delivery failed")
)

// Invitation grants a role in a condo to whoever registers with its token.
type Invitation struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	Email       string     `json:"email"`
	Role        auth.Role  `json:"role"`
	CondoID     string     `json:"condo_id"`
	UnitID      string     `json:"unit_id,omitempty"`
	CreatedBy   string     `json:"created_by"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks the invitation fields.
func (i Invitation) Validate() error {
	if i.ID == "" || i.Token == "" {
		return fmt.Errorf("%w: missing id or token", ErrInvalid)
	}
	if _, err := mail.ParseAddress(i.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrInvalid, i.Email)
	}
	if _, ok := auth.NormalizeRole(string(i.Role)); !ok {
		return fmt.Errorf("%w: invalid role %q", ErrInvalid, i.Role)
	}
	if i.Role != auth.RoleSuperAdmin && i.CondoID == "" {
		return fmt.Errorf("%w: condo id is required", ErrInvalid)
	}
	if i.Role == auth.RoleOwner && i.UnitID == "" {
		return fmt.Errorf("%w: owners need a unit", ErrInvalid)
	}
	if !i.ExpiresAt.After(i.CreatedAt) {
		return fmt.Errorf("%w: expiry before creation", ErrInvalid)
	}
	return nil
}

// CanInvite reports whether inviter may hand out role in condoID.
// Admins invite below admin in their own condo, superadmins invite anyone.
func CanInvite(inviter auth.Session, role auth.Role, condoID string) bool {
	if !inviter.HasRole(auth.RoleAdmin) {
		return false
	}
	if inviter.Role == auth.RoleSuperAdmin {
		return true
	}
	if auth.RoleAtLeast(role, auth.RoleAdmin) {
		return false
	}
	return inviter.CanAccessCondo(condoID)
}

// IsExpired reports whether a pending invitation is past its expiry at now.
func (i Invitation) IsExpired(now time.Time) bool {
	return i.Status == StatusPending && !now.Before(i.ExpiresAt)
}

// Usable returns the reason a token cannot be used at now, or nil.
func (i Invitation) Usable(now time.Time) error {
	if i.IsExpired(now) || i.Status == StatusExpired {
		return ErrExpired
	}
	if i.Status != StatusPending {
		return ErrNotPending
	}
	return nil
}

// Repository persists invitations.
// Get and FindByToken return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, inv *Invitation) error
	Get(ctx context.Context, id string) (*Invitation, error)
	FindByToken(ctx context.Context, token string) (*Invitation, error)
	// Update stores inv only while the stored copy is still pending.
	// It returns ErrConflict otherwise.
	Update(ctx context.Context, inv *Invitation) error
	// ListPending returns pending invitations of a condo, newest first.
	ListPending(ctx context.Context, condoID string) ([]Invitation, error)
}

// Mail is the single message sent to an invitee.
type Mail struct {
	To        string
	Role      auth.Role
	InviteURL string
	ExpiresAt time.Time
}

// Mailer delivers invitation mails.
type Mailer interface {
	SendInvitation(ctx context.Context, m Mail) error
}
