package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	masterdata "condo-water/internal/masterdata/domain"
)

// Service registers condos and units and answers unit-directory lookups.
type Service struct {
	repo  masterdata.Repository
	now   func() time.Time
	newID func() string
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService constructs a masterdata service.
func NewService(repo masterdata.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("masterdata service: nil repository")
	}
	s := &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterCondo creates a condo. An empty id is generated.
func (s *Service) RegisterCondo(ctx context.Context, id, name, address string) (*masterdata.Condo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = s.newID()
	}
	now := s.now().UTC()
	condo := &masterdata.Condo{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := condo.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCondo(ctx, condo); err != nil {
		return nil, err
	}
	return condo, nil
}

// GetCondo returns a condo or ErrCondoNotFound.
func (s *Service) GetCondo(ctx context.Context, id string) (*masterdata.Condo, error) {
	condo, err := s.repo.GetCondo(ctx, id)
	if err != nil {
		return nil, err
	}
	if condo == nil {
		return nil, masterdata.ErrCondoNotFound
	}
	return condo, nil
}

// RegisterUnit adds an active unit to an existing condo.
func (s *Service) RegisterUnit(ctx context.Context, condoID, id, label string) (*masterdata.Unit, error) {
	if _, err := s.GetCondo(ctx, condoID); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = s.newID()
	}
	now := s.now().UTC()
	unit := &masterdata.Unit{
		ID:        id,
		CondoID:   condoID,
		Label:     strings.TrimSpace(label),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveUnit(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// GetUnit returns a unit or ErrUnitNotFound.
func (s *Service) GetUnit(ctx context.Context, id string) (*masterdata.Unit, error) {
	unit, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, masterdata.ErrUnitNotFound
	}
	return unit, nil
}

// SetUnitActive toggles whether a unit takes part in future closes.
func (s *Service) SetUnitActive(ctx context.Context, unitID string, active bool) (*masterdata.Unit, error) {
	unit, err := s.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.IsActive == active {
		return unit, nil
	}
	unit.IsActive = active
	unit.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("masterdata service: save unit %s: %w", unitID, err)
	}
	return unit, nil
}

// ListUnits returns all units of a condo.
func (s *Service) ListUnits(ctx context.Context, condoID string) ([]masterdata.Unit, error) {
	return s.repo.ListUnits(ctx, condoID)
}

// ActiveUnits returns the ids of the active units of a condo.
func (s *Service) ActiveUnits(ctx context.Context, condoID string) ([]string, error) {
	units, err := s.repo.ListActiveUnits(ctx, condoID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	return ids, nil
}
