package masterdata

import (
	"context"
	"errors"

	masterdata "condo-water/internal/masterdata/domain"
)

// UnitDirectory answers billing lookups from the masterdata repository.
type UnitDirectory struct {
	repo masterdata.Repository
}

// NewUnitDirectory constructs a directory.
func NewUnitDirectory(repo masterdata.Repository) (*UnitDirectory, error) {
	if repo == nil {
		return nil, errors.New("unit directory: nil repository")
	}
	return &UnitDirectory{repo: repo}, nil
}

// CondoExists reports whether the condo is registered.
func (d *UnitDirectory) CondoExists(ctx context.Context, condoID string) (bool, error) {
	if condoID == "" {
		return false, nil
	}
	condo, err := d.repo.GetCondo(ctx, condoID)
	if err != nil {
		return false, err
	}
	return condo != nil, nil
}

// ActiveUnits returns the ids of the condo's active units.
func (d *UnitDirectory) ActiveUnits(ctx context.Context, condoID string) ([]string, error) {
	units, err := d.repo.ListActiveUnits(ctx, condoID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		if unit.IsActive {
			ids = append(ids, unit.ID)
		}
	}
	return ids, nil
}
