package auth

import (
	"context"
	"errors"
	"net/http"

	masterdata "condo-water/internal/masterdata/domain"
)

// UnitLookup loads units. It returns nil, nil when a unit does not exist.
type UnitLookup interface {
	GetUnit(ctx context.Context, id string) (*masterdata.Unit, error)
}

// ScopeChecker validates that the request session may reach a condo or unit.
type ScopeChecker struct {
	units UnitLookup
}

// NewScopeChecker constructs a ScopeChecker.
func NewScopeChecker(units UnitLookup) *ScopeChecker {
	if units == nil {
		return nil
	}
	return &ScopeChecker{units: units}
}

// EnsureCondo verifies the session in ctx may access condoID.
// Contexts without a session are not checked.
func (c *ScopeChecker) EnsureCondo(ctx context.Context, condoID string) error {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return nil
	}
	if !session.CanAccessCondo(condoID) {
		return ErrForbidden
	}
	return nil
}

// EnsureUnit verifies the session in ctx may access unitID and returns the unit's condo.
func (c *ScopeChecker) EnsureUnit(ctx context.Context, unitID string) (string, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || c == nil || c.units == nil {
		return "", nil
	}
	unit, err := c.units.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}
	if unit == nil {
		return "", ErrNotFound
	}
	if !session.CanAccessUnit(unit.CondoID, unit.ID) {
		return "", ErrForbidden
	}
	return unit.CondoID, nil
}

// RespondScopeError writes the HTTP status for a scope check failure.
func RespondScopeError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "scope check failed", http.StatusInternalServerError)
}
