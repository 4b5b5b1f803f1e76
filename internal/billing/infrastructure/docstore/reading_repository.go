package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
	"condo-water/internal/docstore"
	history "condo-water/internal/history/domain"
	historystore "condo-water/internal/history/infrastructure/docstore"
)

// ReadingsCollection holds one document per meter reading.
const ReadingsCollection = "meter-readings"

type unitReadingDocument struct {
	Reading         decimal.Decimal  `json:"reading"`
	SubmittedAt     time.Time        `json:"submittedAt"`
	PreviousReading *decimal.Decimal `json:"previousReading,omitempty"`
	Consumption     *decimal.Decimal `json:"consumption,omitempty"`
	IndividualCost  *decimal.Decimal `json:"individualCost,omitempty"`
	CommonAreaCost  *decimal.Decimal `json:"commonAreaCost,omitempty"`
	TotalCost       *decimal.Decimal `json:"totalCost,omitempty"`
}

type readingDocument struct {
	ID                    string                         `json:"id"`
	CondoID               string                         `json:"condoId"`
	Date                  string                         `json:"date"`
	Status                string                         `json:"status"`
	UnitReadings          map[string]unitReadingDocument `json:"unitReadings"`
	TotalReading          *decimal.Decimal               `json:"totalReading,omitempty"`
	TotalCost             *decimal.Decimal               `json:"totalCost,omitempty"`
	TotalUnitConsumption  *decimal.Decimal               `json:"totalUnitConsumption,omitempty"`
	CommonAreaConsumption *decimal.Decimal               `json:"commonAreaConsumption,omitempty"`
	CostPerUnit           *decimal.Decimal               `json:"costPerUnit,omitempty"`
	CommonAreaCostPerUnit *decimal.Decimal               `json:"commonAreaCostPerUnit,omitempty"`
	CreatedAt             time.Time                      `json:"createdAt"`
	UpdatedAt             time.Time                      `json:"updatedAt"`
	ClosedAt              *time.Time                     `json:"closedAt,omitempty"`
}

var openGuard = &docstore.Precondition{Field: "status", Equals: string(billing.StatusOpen)}

// ReadingRepository persists meter readings and commits closes.
type ReadingRepository struct {
	store docstore.Store
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(store docstore.Store) (*ReadingRepository, error) {
	if store == nil {
		return nil, errors.New("reading repo: nil store")
	}
	return &ReadingRepository{store: store}, nil
}

// Get loads a reading, nil when absent.
func (r *ReadingRepository) Get(ctx context.Context, id string) (*billing.MeterReading, error) {
	doc, err := r.store.Get(ctx, ReadingsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeReading(*doc)
}

// Create stores a new reading.
func (r *ReadingRepository) Create(ctx context.Context, reading *billing.MeterReading) error {
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	return r.store.Commit(ctx, docstore.NewBatch().Create(ReadingsCollection, reading.ID(), encodeReading(reading)))
}

// SaveOpen overwrites an open reading while the stored copy is still open.
func (r *ReadingRepository) SaveOpen(ctx context.Context, reading *billing.MeterReading) error {
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if !reading.IsOpen() {
		return billing.NewPreconditionError(billing.ErrReadingClosed, reading.ID())
	}
	err := r.store.Commit(ctx, docstore.NewBatch().Update(ReadingsCollection, reading.ID(), encodeReading(reading), openGuard))
	return mapCommitError(err)
}

// ListClosed returns the closed readings of a condo, newest first.
func (r *ReadingRepository) ListClosed(ctx context.Context, condoID string) ([]*billing.MeterReading, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: ReadingsCollection,
		OrderBy:    "date",
		Descending: true,
	}.Where("condoId", condoID).Where("status", string(billing.StatusClosed)))
	if err != nil {
		return nil, err
	}
	out := make([]*billing.MeterReading, 0, len(docs))
	for _, doc := range docs {
		reading, err := decodeReading(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, reading)
	}
	return out, nil
}

// CommitClose writes the closed reading, unit history and condo history in one
// batch. The reading update is guarded by status == open.
func (r *ReadingRepository) CommitClose(ctx context.Context, reading *billing.MeterReading, units []history.UnitEntry, condo history.CondoEntry) error {
	if reading == nil || reading.Status() != billing.StatusClosed {
		return errors.New("reading repo: commit close requires a closed reading")
	}
	batch := docstore.NewBatch().Update(ReadingsCollection, reading.ID(), encodeReading(reading), openGuard)
	historystore.StageEntries(batch, units, []history.CondoEntry{condo})
	return mapCommitError(r.store.Commit(ctx, batch))
}

func mapCommitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return fmt.Errorf("%w: %v", billing.ErrCommitConflict, err)
	}
	return err
}

func encodeReading(m *billing.MeterReading) readingDocument {
	s := m.Snapshot()
	doc := readingDocument{
		ID:           s.ID,
		CondoID:      s.CondoID,
		Date:         s.Date.Format(billing.DateLayout),
		Status:       string(s.Status),
		UnitReadings: make(map[string]unitReadingDocument, len(s.Entries)),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	for _, e := range s.Entries {
		entry := unitReadingDocument{Reading: e.Reading, SubmittedAt: e.SubmittedAt}
		if e.Result != nil {
			entry.PreviousReading = ptr(e.Result.PreviousReading)
			entry.Consumption = ptr(e.Result.Consumption)
			entry.IndividualCost = ptr(e.Result.IndividualCost)
			entry.CommonAreaCost = ptr(e.Result.CommonAreaCost)
			entry.TotalCost = ptr(e.Result.TotalCost)
		}
		doc.UnitReadings[e.UnitID] = entry
	}
	if t := s.Totals; t != nil {
		doc.TotalReading = ptr(t.TotalReading)
		doc.TotalCost = ptr(t.TotalCost)
		doc.TotalUnitConsumption = ptr(t.TotalUnitConsumption)
		doc.CommonAreaConsumption = ptr(t.CommonAreaConsumption)
		doc.CostPerUnit = ptr(t.CostPerUnit)
		doc.CommonAreaCostPerUnit = ptr(t.CommonAreaCostPerUnit)
	}
	if !s.ClosedAt.IsZero() {
		closedAt := s.ClosedAt
		doc.ClosedAt = &closedAt
	}
	return doc
}

func decodeReading(doc docstore.Document) (*billing.MeterReading, error) {
	var stored readingDocument
	if err := doc.Decode(&stored); err != nil {
		return nil, err
	}
	date, err := billing.ParseDate(stored.Date)
	if err != nil {
		return nil, fmt.Errorf("reading repo: reading %s: %w", doc.ID, err)
	}
	s := billing.Snapshot{
		ID:        stored.ID,
		CondoID:   stored.CondoID,
		Date:      date,
		Status:    billing.Status(stored.Status),
		Entries:   make([]billing.UnitReadingEntry, 0, len(stored.UnitReadings)),
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}
	if s.ID == "" {
		s.ID = doc.ID
	}
	if stored.ClosedAt != nil {
		s.ClosedAt = *stored.ClosedAt
	}
	for unitID, e := range stored.UnitReadings {
		entry := billing.UnitReadingEntry{UnitID: unitID, Reading: e.Reading, SubmittedAt: e.SubmittedAt}
		if e.TotalCost != nil {
			entry.Result = &billing.UnitResult{
				PreviousReading: val(e.PreviousReading),
				Consumption:     val(e.Consumption),
				IndividualCost:  val(e.IndividualCost),
				CommonAreaCost:  val(e.CommonAreaCost),
				TotalCost:       val(e.TotalCost),
			}
		}
		s.Entries = append(s.Entries, entry)
	}
	if stored.TotalReading != nil {
		s.Totals = &billing.Totals{
			TotalReading:          val(stored.TotalReading),
			TotalCost:             val(stored.TotalCost),
			TotalUnitConsumption:  val(stored.TotalUnitConsumption),
			CommonAreaConsumption: val(stored.CommonAreaConsumption),
			CostPerUnit:           val(stored.CostPerUnit),
			CommonAreaCostPerUnit: val(stored.CommonAreaCostPerUnit),
		}
	}
	return billing.RestoreMeterReading(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func val(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
