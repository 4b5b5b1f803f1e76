package billing

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a meter reading.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Totals are the derived figures of a closed period.
type Totals struct {
	TotalReading          decimal.Decimal
	TotalCost             decimal.Decimal
	TotalUnitConsumption  decimal.Decimal
	CommonAreaConsumption decimal.Decimal
	CostPerUnit           decimal.Decimal
	CommonAreaCostPerUnit decimal.Decimal
}

// UnitResult holds the derived figures of one unit after close.
type UnitResult struct {
	PreviousReading decimal.Decimal
	Consumption     decimal.Decimal
	IndividualCost  decimal.Decimal
	CommonAreaCost  decimal.Decimal
	TotalCost       decimal.Decimal
}

// UnitReadingEntry is one unit's submitted meter value within a period.
// Result is nil while the reading is open.
type UnitReadingEntry struct {
	UnitID      string
	Reading     decimal.Decimal
	SubmittedAt time.Time
	Result      *UnitResult
}

// MeterReading is the billing period aggregate of one condominium.
type MeterReading struct {
	id        string
	condoID   string
	date      time.Time
	status    Status
	entries   map[string]UnitReadingEntry
	totals    *Totals
	createdAt time.Time
	updatedAt time.Time
	closedAt  time.Time
}

// NewMeterReading creates an open reading with its initial unit values.
func NewMeterReading(id, condoID string, date time.Time, readings map[string]decimal.Decimal, now time.Time) (*MeterReading, error) {
	verr := &ValidationError{}
	if id == "" {
		verr.Add("", "id", ErrValueRequired.Error())
	}
	if condoID == "" {
		verr.Add("", "condoId", ErrValueRequired.Error())
	}
	if date.IsZero() {
		verr.Add("", "date", ErrValueRequired.Error())
	}
	if len(readings) == 0 {
		verr.Add("", "unitReadings", "at least one unit reading is required")
	}
	for _, unitID := range sortedKeys(readings) {
		if unitID == "" {
			verr.Add("", "unitReadings", "empty unit id")
			continue
		}
		if readings[unitID].IsNegative() {
			verr.Add(unitID, "reading", ErrValueNegative.Error())
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now = now.UTC()
	entries := make(map[string]UnitReadingEntry, len(readings))
	for unitID, value := range readings {
		entries[unitID] = UnitReadingEntry{UnitID: unitID, Reading: value, SubmittedAt: now}
	}
	return &MeterReading{
		id:        id,
		condoID:   condoID,
		date:      NormalizeDate(date),
		status:    StatusOpen,
		entries:   entries,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// RecordUnitReading adds or replaces a unit value while the reading is open.
func (m *MeterReading) RecordUnitReading(unitID string, value decimal.Decimal, now time.Time) error {
	if m.status != StatusOpen {
		return NewPreconditionError(ErrReadingClosed, m.id)
	}
	if unitID == "" {
		return NewValidationError(FieldError{Field: "unitId", Reason: ErrValueRequired.Error()})
	}
	if value.IsNegative() {
		return NewValidationError(FieldError{UnitID: unitID, Field: "reading", Reason: ErrValueNegative.Error()})
	}
	now = now.UTC()
	m.entries[unitID] = UnitReadingEntry{UnitID: unitID, Reading: value, SubmittedAt: now}
	m.updatedAt = now
	return nil
}

// Close applies an allocation and moves the reading to closed.
// Entries not covered by the allocation are dropped, so every remaining entry
// carries a result.
func (m *MeterReading) Close(alloc Allocation, now time.Time) error {
	if m.status != StatusOpen {
		return NewPreconditionError(ErrReadingClosed, m.id)
	}
	if len(alloc.Units) == 0 {
		return NewPreconditionError(ErrNoActiveUnits, m.id)
	}
	closed := make(map[string]UnitReadingEntry, len(alloc.Units))
	for _, u := range alloc.Units {
		entry, ok := m.entries[u.UnitID]
		if !ok {
			pe := NewPreconditionError(ErrIncompleteReadings, m.id)
			pe.MissingUnits = []string{u.UnitID}
			return pe
		}
		if !entry.Reading.Equal(u.Reading) {
			return errors.New("billing: allocation reading mismatch for unit " + u.UnitID)
		}
		entry.Result = &UnitResult{
			PreviousReading: u.PreviousReading,
			Consumption:     u.Consumption,
			IndividualCost:  u.IndividualCost,
			CommonAreaCost:  u.CommonAreaCost,
			TotalCost:       u.TotalCost,
		}
		closed[u.UnitID] = entry
	}
	totals := alloc.Totals
	now = now.UTC()
	m.entries = closed
	m.totals = &totals
	m.status = StatusClosed
	m.closedAt = now
	m.updatedAt = now
	return nil
}

// ID returns the reading id.
func (m *MeterReading) ID() string { return m.id }

// CondoID returns the condominium id.
func (m *MeterReading) CondoID() string { return m.condoID }

// Date returns the period date at midnight UTC.
func (m *MeterReading) Date() time.Time { return m.date }

// Status returns the lifecycle state.
func (m *MeterReading) Status() Status { return m.status }

// IsOpen reports whether the reading still accepts unit values.
func (m *MeterReading) IsOpen() bool { return m.status == StatusOpen }

// CreatedAt returns the creation time.
func (m *MeterReading) CreatedAt() time.Time { return m.createdAt }

// UpdatedAt returns the last modification time.
func (m *MeterReading) UpdatedAt() time.Time { return m.updatedAt }

// ClosedAt returns the close time, zero while open.
func (m *MeterReading) ClosedAt() time.Time { return m.closedAt }

// Totals returns the derived totals. ok is false while open.
func (m *MeterReading) Totals() (Totals, bool) {
	if m.totals == nil {
		return Totals{}, false
	}
	return *m.totals, true
}

// Entry returns one unit's entry.
func (m *MeterReading) Entry(unitID string) (UnitReadingEntry, bool) {
	entry, ok := m.entries[unitID]
	return copyEntry(entry), ok
}

// Entries returns all entries ordered by unit id.
func (m *MeterReading) Entries() []UnitReadingEntry {
	out := make([]UnitReadingEntry, 0, len(m.entries))
	for _, unitID := range sortedKeys(m.entries) {
		out = append(out, copyEntry(m.entries[unitID]))
	}
	return out
}

// MissingUnits returns the ids in unitIDs without a submitted value.
func (m *MeterReading) MissingUnits(unitIDs []string) []string {
	var missing []string
	for _, unitID := range unitIDs {
		if _, ok := m.entries[unitID]; !ok {
			missing = append(missing, unitID)
		}
	}
	sort.Strings(missing)
	return missing
}

// Snapshot is the persisted form of a MeterReading.
type Snapshot struct {
	ID        string
	CondoID   string
	Date      time.Time
	Status    Status
	Entries   []UnitReadingEntry
	Totals    *Totals
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time
}

// Snapshot returns a detached copy of the aggregate state.
func (m *MeterReading) Snapshot() Snapshot {
	s := Snapshot{
		ID:        m.id,
		CondoID:   m.condoID,
		Date:      m.date,
		Status:    m.status,
		Entries:   m.Entries(),
		CreatedAt: m.createdAt,
		UpdatedAt: m.updatedAt,
		ClosedAt:  m.closedAt,
	}
	if m.totals != nil {
		totals := *m.totals
		s.Totals = &totals
	}
	return s
}

// RestoreMeterReading rebuilds an aggregate from a snapshot and checks that the
// derived fields match the status.
func RestoreMeterReading(s Snapshot) (*MeterReading, error) {
	if s.ID == "" || s.CondoID == "" {
		return nil, errors.New("billing: snapshot missing identity")
	}
	if !s.Status.Valid() {
		return nil, errors.New("billing: snapshot has unknown status " + string(s.Status))
	}
	closed := s.Status == StatusClosed
	if closed != (s.Totals != nil) {
		return nil, errors.New("billing: snapshot totals do not match status " + string(s.Status))
	}
	entries := make(map[string]UnitReadingEntry, len(s.Entries))
	for _, entry := range s.Entries {
		if entry.UnitID == "" {
			return nil, errors.New("billing: snapshot entry without unit id")
		}
		if closed != (entry.Result != nil) {
			return nil, errors.New("billing: snapshot entry " + entry.UnitID + " does not match status")
		}
		entries[entry.UnitID] = copyEntry(entry)
	}
	m := &MeterReading{
		id:        s.ID,
		condoID:   s.CondoID,
		date:      NormalizeDate(s.Date),
		status:    s.Status,
		entries:   entries,
		createdAt: s.CreatedAt.UTC(),
		updatedAt: s.UpdatedAt.UTC(),
		closedAt:  s.ClosedAt.UTC(),
	}
	if s.Totals != nil {
		totals := *s.Totals
		m.totals = &totals
	}
	return m, nil
}

func copyEntry(entry UnitReadingEntry) UnitReadingEntry {
	if entry.Result != nil {
		result := *entry.Result
		entry.Result = &result
	}
	return entry
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
