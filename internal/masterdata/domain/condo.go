package masterdata

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCondoNotFound is returned when a condominium does not exist.
	ErrCondoNotFound = errors.New("masterdata: condo not found")
	// ErrUnitNotFound is returned when a unit does not exist.
	ErrUnitNotFound = errors.New("masterdata: unit not found")
	// ErrInvalid is returned when a condo or unit fails validation.
	ErrInvalid = errors.New("masterdata: invalid record")
)

// Condo is a condominium whose main meter is billed per period.
type Condo struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks condo invariants.
func (c Condo) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: condo id is empty", ErrInvalid)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: condo name is empty", ErrInvalid)
	}
	return nil
}

// Unit is an apartment with its own water meter.
// Only active units take part in closing a period.
type Unit struct {
	ID        string
	CondoID   string
	Label     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: unit id is empty", ErrInvalid)
	}
	if u.CondoID == "" {
		return fmt.Errorf("%w: unit condo id is empty", ErrInvalid)
	}
	if u.Label == "" {
		return fmt.Errorf("%w: unit label is empty", ErrInvalid)
	}
	return nil
}

// Repository manages condo and unit persistence.
// Get methods return nil, nil when the record does not exist.
type Repository interface {
	GetCondo(ctx context.Context, id string) (*Condo, error)
	SaveCondo(ctx context.Context, condo *Condo) error
	GetUnit(ctx context.Context, id string) (*Unit, error)
	SaveUnit(ctx context.Context, unit *Unit) error
	ListUnits(ctx context.Context, condoID string) ([]Unit, error)
	ListActiveUnits(ctx context.Context, condoID string) ([]Unit, error)
}
