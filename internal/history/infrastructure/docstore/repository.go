package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
	"condo-water/internal/docstore"
	history "condo-water/internal/history/domain"
)

const (
	// UnitHistoryCollection holds one document per unit and closed reading.
	UnitHistoryCollection = "unit-history"
	// CondoHistoryCollection holds one document per condo and closed reading.
	CondoHistoryCollection = "condo-history"
)

type unitEntryDocument struct {
	UnitID          string          `json:"unitId"`
	CondoID         string          `json:"condoId"`
	ReadingID       string          `json:"readingId"`
	Date            string          `json:"date"`
	Reading         decimal.Decimal `json:"reading"`
	PreviousReading decimal.Decimal `json:"previousReading"`
	Consumption     decimal.Decimal `json:"consumption"`
	IndividualCost  decimal.Decimal `json:"individualCost"`
	CommonAreaCost  decimal.Decimal `json:"commonAreaCost"`
	TotalCost       decimal.Decimal `json:"totalCost"`
}

type condoEntryDocument struct {
	CondoID               string          `json:"condoId"`
	ReadingID             string          `json:"readingId"`
	Date                  string          `json:"date"`
	MainReading           decimal.Decimal `json:"mainReading"`
	TotalCost             decimal.Decimal `json:"totalCost"`
	UnitCount             int             `json:"unitCount"`
	TotalConsumption      decimal.Decimal `json:"totalConsumption"`
	AverageConsumption    decimal.Decimal `json:"averageConsumption"`
	TotalIndividualCost   decimal.Decimal `json:"totalIndividualCost"`
	TotalCommonAreaCost   decimal.Decimal `json:"totalCommonAreaCost"`
	CommonAreaConsumption decimal.Decimal `json:"commonAreaConsumption"`
	Status                string          `json:"status"`
}

// UnitEntryID is the document id of a unit history entry.
func UnitEntryID(unitID, readingID string) string {
	return unitID + "|" + readingID
}

// CondoEntryID is the document id of a condo history entry.
func CondoEntryID(condoID, readingID string) string {
	return condoID + "|" + readingID
}

// StageEntries adds upserts for the given entries to batch.
func StageEntries(batch *docstore.Batch, units []history.UnitEntry, condos []history.CondoEntry) *docstore.Batch {
	for _, u := range units {
		batch.Set(UnitHistoryCollection, UnitEntryID(u.UnitID, u.ReadingID), unitEntryDocument{
			UnitID:          u.UnitID,
			CondoID:         u.CondoID,
			ReadingID:       u.ReadingID,
			Date:            u.Date.UTC().Format(billing.DateLayout),
			Reading:         u.Reading,
			PreviousReading: u.PreviousReading,
			Consumption:     u.Consumption,
			IndividualCost:  u.IndividualCost,
			CommonAreaCost:  u.CommonAreaCost,
			TotalCost:       u.TotalCost,
		})
	}
	for _, c := range condos {
		batch.Set(CondoHistoryCollection, CondoEntryID(c.CondoID, c.ReadingID), condoEntryDocument{
			CondoID:               c.CondoID,
			ReadingID:             c.ReadingID,
			Date:                  c.Date.UTC().Format(billing.DateLayout),
			MainReading:           c.MainReading,
			TotalCost:             c.TotalCost,
			UnitCount:             c.UnitCount,
			TotalConsumption:      c.TotalConsumption,
			AverageConsumption:    c.AverageConsumption,
			TotalIndividualCost:   c.TotalIndividualCost,
			TotalCommonAreaCost:   c.TotalCommonAreaCost,
			CommonAreaConsumption: c.CommonAreaConsumption,
			Status:                string(c.Status),
		})
	}
	return batch
}

// Repository reads and rewrites history documents.
type Repository struct {
	store docstore.Store
}

// NewRepository constructs a history repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// ListUnitEntries returns a unit's entries, newest first.
func (r *Repository) ListUnitEntries(ctx context.Context, unitID string) ([]history.UnitEntry, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("history repo: nil store")
	}
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: UnitHistoryCollection,
		OrderBy:    "date",
		Descending: true,
	}.Where("unitId", unitID))
	if err != nil {
		return nil, err
	}
	out := make([]history.UnitEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := decodeUnitEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	history.SortUnitEntries(out)
	return out, nil
}

// ListCondoEntries returns a condo's entries, newest first.
func (r *Repository) ListCondoEntries(ctx context.Context, condoID string) ([]history.CondoEntry, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("history repo: nil store")
	}
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: CondoHistoryCollection,
		OrderBy:    "date",
		Descending: true,
	}.Where("condoId", condoID))
	if err != nil {
		return nil, err
	}
	out := make([]history.CondoEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := decodeCondoEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	history.SortCondoEntries(out)
	return out, nil
}

// Replace overwrites a condo's history with the given entries in one commit.
// Existing documents that are not part of the new set are deleted.
func (r *Repository) Replace(ctx context.Context, condoID string, units []history.UnitEntry, condos []history.CondoEntry) error {
	if r == nil || r.store == nil {
		return errors.New("history repo: nil store")
	}
	keepUnits := make(map[string]struct{}, len(units))
	for _, u := range units {
		keepUnits[UnitEntryID(u.UnitID, u.ReadingID)] = struct{}{}
	}
	keepCondos := make(map[string]struct{}, len(condos))
	for _, c := range condos {
		keepCondos[CondoEntryID(c.CondoID, c.ReadingID)] = struct{}{}
	}

	batch := docstore.NewBatch()
	if err := r.stageStale(ctx, batch, UnitHistoryCollection, condoID, keepUnits); err != nil {
		return err
	}
	if err := r.stageStale(ctx, batch, CondoHistoryCollection, condoID, keepCondos); err != nil {
		return err
	}
	StageEntries(batch, units, condos)
	if batch.Len() == 0 {
		return nil
	}
	return r.store.Commit(ctx, batch)
}

func (r *Repository) stageStale(ctx context.Context, batch *docstore.Batch, collection, condoID string, keep map[string]struct{}) error {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: collection}.Where("condoId", condoID))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, ok := keep[doc.ID]; ok {
			continue
		}
		batch.Delete(collection, doc.ID)
	}
	return nil
}

func decodeUnitEntry(doc docstore.Document) (history.UnitEntry, error) {
	var stored unitEntryDocument
	if err := doc.Decode(&stored); err != nil {
		return history.UnitEntry{}, err
	}
	date, err := parseDate(stored.Date)
	if err != nil {
		return history.UnitEntry{}, err
	}
	return history.UnitEntry{
		UnitID:          stored.UnitID,
		CondoID:         stored.CondoID,
		ReadingID:       stored.ReadingID,
		Date:            date,
		Reading:         stored.Reading,
		PreviousReading: stored.PreviousReading,
		Consumption:     stored.Consumption,
		IndividualCost:  stored.IndividualCost,
		CommonAreaCost:  stored.CommonAreaCost,
		TotalCost:       stored.TotalCost,
	}, nil
}

func decodeCondoEntry(doc docstore.Document) (history.CondoEntry, error) {
	var stored condoEntryDocument
	if err := doc.Decode(&stored); err != nil {
		return history.CondoEntry{}, err
	}
	date, err := parseDate(stored.Date)
	if err != nil {
		return history.CondoEntry{}, err
	}
	return history.CondoEntry{
		CondoID:               stored.CondoID,
		ReadingID:             stored.ReadingID,
		Date:                  date,
		MainReading:           stored.MainReading,
		TotalCost:             stored.TotalCost,
		UnitCount:             stored.UnitCount,
		TotalConsumption:      stored.TotalConsumption,
		AverageConsumption:    stored.AverageConsumption,
		TotalIndividualCost:   stored.TotalIndividualCost,
		TotalCommonAreaCost:   stored.TotalCommonAreaCost,
		CommonAreaConsumption: stored.CommonAreaConsumption,
		Status:                billing.Status(stored.Status),
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	return billing.ParseDate(raw)
}
