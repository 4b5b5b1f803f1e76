package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"condo-water/internal/auth"
	invitations "condo-water/internal/invitations/domain"
	"condo-water/internal/observability/metrics"
)

// CreateInput describes a new invitation.
type CreateInput struct {
	Email   string
	Role    auth.Role
	CondoID string
	UnitID  string
}

// CreateResult is the stored invitation and whether its mail went out.
type CreateResult struct {
	Invitation *invitations.Invitation
	Delivered  bool
}

// Service runs the invitation lifecycle.
type Service struct {
	repo   invitations.Repository
	mailer invitations.Mailer
	appURL string
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithTTL overrides the invitation lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides id and token generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an invitation service. appURL is the base of the registration link.
func NewService(repo invitations.Repository, mailer invitations.Mailer, appURL string, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("invitation service: nil repository")
	}
	if mailer == nil {
		return nil, errors.New("invitation service: nil mailer")
	}
	s := &Service{
		repo:   repo,
		mailer: mailer,
		appURL: strings.TrimRight(appURL, "/"),
		ttl:    invitations.DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create stores a pending invitation and mails its link. A failed delivery
// leaves the invitation pending and is reported through Delivered.
func (s *Service) Create(ctx context.Context, inviter auth.Session, in CreateInput) (*CreateResult, error) {
	role, ok := auth.NormalizeRole(strings.ToLower(strings.TrimSpace(string(in.Role))))
	if !ok {
		return nil, fmt.Errorf("%w: invalid role %q", invitations.ErrInvalid, in.Role)
	}
	if !invitations.CanInvite(inviter, role, in.CondoID) {
		return nil, invitations.ErrForbidden
	}
	now := s.now().UTC()
	inv := &invitations.Invitation{
		ID:        s.newID(),
		Token:     s.newID(),
		Email:     strings.TrimSpace(strings.ToLower(in.Email)),
		Role:      role,
		CondoID:   strings.TrimSpace(in.CondoID),
		UnitID:    strings.TrimSpace(in.UnitID),
		CreatedBy: inviter.Subject,
		Status:    invitations.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	metrics.IncInvitationEvent("created")

	result := &CreateResult{Invitation: inv, Delivered: true}
	if err := s.mailer.SendInvitation(ctx, invitations.Mail{
		To:        inv.Email,
		Role:      inv.Role,
		InviteURL: s.inviteURL(inv.Token),
		ExpiresAt: inv.ExpiresAt,
	}); err != nil {
		result.Delivered = false
		metrics.IncInvitationEvent("mail_failed")
		s.logger.Warn("invitation mail failed",
			zap.String("invitation_id", inv.ID),
			zap.String("condo_id", inv.CondoID),
			zap.Error(err),
		)
	}
	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID),
		zap.String("condo_id", inv.CondoID),
		zap.String("role", string(inv.Role)),
		zap.Bool("delivered", result.Delivered),
	)
	return result, nil
}

// Verify returns the pending invitation of token. Expired invitations are
// marked expired on the way.
func (s *Service) Verify(ctx context.Context, token string) (*invitations.Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", invitations.ErrInvalid)
	}
	inv, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invitations.ErrNotFound
	}
	if err := s.checkUsable(ctx, inv); err != nil {
		return nil, err
	}
	metrics.IncInvitationEvent("verified")
	return inv, nil
}

// Cancel withdraws a pending invitation.
func (s *Service) Cancel(ctx context.Context, actor auth.Session, id string) (*invitations.Invitation, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !invitations.CanInvite(actor, inv.Role, inv.CondoID) {
		return nil, invitations.ErrForbidden
	}
	if inv.Status != invitations.StatusPending {
		return nil, invitations.ErrNotPending
	}
	inv.Status = invitations.StatusCancelled
	inv.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	metrics.IncInvitationEvent("cancelled")
	return inv, nil
}

// Complete marks a pending invitation as used by userID.
func (s *Service) Complete(ctx context.Context, id, userID string) (*invitations.Invitation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", invitations.ErrInvalid)
	}
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkUsable(ctx, inv); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv.Status = invitations.StatusCompleted
	inv.CompletedBy = userID
	inv.CompletedAt = &now
	inv.UpdatedAt = now
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	metrics.IncInvitationEvent("completed")
	s.logger.Info("invitation completed", zap.String("invitation_id", inv.ID), zap.String("user_id", userID))
	return inv, nil
}

// ListPending returns the usable invitations of a condo, newest first.
func (s *Service) ListPending(ctx context.Context, actor auth.Session, condoID string) ([]invitations.Invitation, error) {
	if !actor.HasRole(auth.RoleAdmin) || !actor.CanAccessCondo(condoID) {
		return nil, invitations.ErrForbidden
	}
	list, err := s.repo.ListPending(ctx, condoID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	pending := make([]invitations.Invitation, 0, len(list))
	for i := range list {
		if list[i].IsExpired(now) {
			s.expire(ctx, &list[i])
			continue
		}
		pending = append(pending, list[i])
	}
	return pending, nil
}

func (s *Service) load(ctx context.Context, id string) (*invitations.Invitation, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invitations.ErrNotFound
	}
	return inv, nil
}

func (s *Service) checkUsable(ctx context.Context, inv *invitations.Invitation) error {
	now := s.now()
	if inv.IsExpired(now) {
		s.expire(ctx, inv)
	}
	return inv.Usable(now)
}

// expire persists the expired status. Failures are logged; the caller still
// treats the invitation as expired.
func (s *Service) expire(ctx context.Context, inv *invitations.Invitation) {
	inv.Status = invitations.StatusExpired
	inv.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, inv); err != nil {
		s.logger.Warn("invitation expire failed", zap.String("invitation_id", inv.ID), zap.Error(err))
		return
	}
	metrics.IncInvitationEvent("expired")
}

func (s *Service) inviteURL(token string) string {
	return s.appURL + "/register?token=" + url.QueryEscape(token)
}
