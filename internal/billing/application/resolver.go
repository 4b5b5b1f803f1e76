package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Baselines are the per-unit consumption baselines of a period.
type Baselines struct {
	// First is set when the condominium has no closed period to measure against.
	First bool
	// SourceReadingID is the most recent closed reading considered.
	SourceReadingID string
	// LaterReadingID is the newest closed reading dated after the period, if any.
	LaterReadingID string
	values          map[string]decimal.Decimal
}

// For returns the baseline of a unit, zero when none was found.
func (b Baselines) For(unitID string) decimal.Decimal {
	if v, ok := b.values[unitID]; ok {
		return v
	}
	return decimal.Zero
}

// Has reports whether a closed reading carried a value for the unit.
func (b Baselines) Has(unitID string) bool {
	_, ok := b.values[unitID]
	return ok
}

// BaselineResolver finds the previous reading of every unit.
type BaselineResolver struct {
	readings ReadingRepository
}

// NewBaselineResolver constructs a resolver.
func NewBaselineResolver(readings ReadingRepository) (*BaselineResolver, error) {
	if readings == nil {
		return nil, errors.New("baseline resolver: nil repository")
	}
	return &BaselineResolver{readings: readings}, nil
}

// Resolve returns, per unit, the reading value of the most recent closed period
// dated on or before the given date. excludeID skips the period being closed.
// A unit absent from the latest closed period falls back to the latest one
// that has it.
func (r *BaselineResolver) Resolve(ctx context.Context, condoID string, before time.Time, excludeID string) (Baselines, error) {
	closed, err := r.readings.ListClosed(ctx, condoID)
	if err != nil {
		return Baselines{}, err
	}
	out := Baselines{First: true, values: make(map[string]decimal.Decimal)}
	for _, reading := range closed {
		if reading == nil || reading.ID() == excludeID {
			continue
		}
		if !before.IsZero() && reading.Date().After(before) {
			if out.LaterReadingID == "" {
				out.LaterReadingID = reading.ID()
			}
			continue
		}
		if out.First {
			out.First = false
			out.SourceReadingID = reading.ID()
		}
		for _, entry := range reading.Entries() {
			if _, seen := out.values[entry.UnitID]; seen {
				continue
			}
			out.values[entry.UnitID] = entry.Reading
		}
	}
	return out, nil
}
