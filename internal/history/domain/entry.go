package history

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
)

var (
	// ErrReadingNotClosed is returned when building history from an open reading.
	ErrReadingNotClosed = errors.New("history: reading not closed")
	// ErrNoHistory is returned when a unit or condo has no closed periods.
	ErrNoHistory = errors.New("history: no history available")
)

// UnitEntry is one unit's denormalized figures for one closed period.
type UnitEntry struct {
	UnitID          string          `json:"unit_id"`
	CondoID         string          `json:"condo_id"`
	ReadingID       string          `json:"reading_id"`
	Date            time.Time       `json:"date"`
	Reading         decimal.Decimal `json:"reading"`
	PreviousReading decimal.Decimal `json:"previous_reading"`
	Consumption     decimal.Decimal `json:"consumption"`
	IndividualCost  decimal.Decimal `json:"individual_cost"`
	CommonAreaCost  decimal.Decimal `json:"common_area_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// CondoEntry is the condominium roll-up of one closed period.
type CondoEntry struct {
	CondoID               string          `json:"condo_id"`
	ReadingID             string          `json:"reading_id"`
	Date                  time.Time       `json:"date"`
	MainReading           decimal.Decimal `json:"main_reading"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	UnitCount             int             `json:"unit_count"`
	TotalConsumption      decimal.Decimal `json:"total_consumption"`
	AverageConsumption    decimal.Decimal `json:"average_consumption"`
	TotalIndividualCost   decimal.Decimal `json:"total_individual_cost"`
	TotalCommonAreaCost   decimal.Decimal `json:"total_common_area_cost"`
	CommonAreaConsumption decimal.Decimal `json:"common_area_consumption"`
	Status                billing.Status  `json:"status"`
}

// BuildUnitEntries derives one entry per unit from a closed reading, ordered by unit id.
func BuildUnitEntries(m *billing.MeterReading) ([]UnitEntry, error) {
	if m == nil || m.Status() != billing.StatusClosed {
		return nil, ErrReadingNotClosed
	}
	entries := m.Entries()
	out := make([]UnitEntry, 0, len(entries))
	for _, e := range entries {
		if e.Result == nil {
			return nil, ErrReadingNotClosed
		}
		out = append(out, UnitEntry{
			UnitID:          e.UnitID,
			CondoID:         m.CondoID(),
			ReadingID:       m.ID(),
			Date:            m.Date(),
			Reading:         e.Reading,
			PreviousReading: e.Result.PreviousReading,
			Consumption:     e.Result.Consumption,
			IndividualCost:  e.Result.IndividualCost,
			CommonAreaCost:  e.Result.CommonAreaCost,
			TotalCost:       e.Result.TotalCost,
		})
	}
	return out, nil
}

// BuildCondoEntry derives the condominium roll-up from a closed reading.
func BuildCondoEntry(m *billing.MeterReading) (CondoEntry, error) {
	if m == nil {
		return CondoEntry{}, ErrReadingNotClosed
	}
	totals, ok := m.Totals()
	if !ok {
		return CondoEntry{}, ErrReadingNotClosed
	}
	entry := CondoEntry{
		CondoID:               m.CondoID(),
		ReadingID:             m.ID(),
		Date:                  m.Date(),
		MainReading:           totals.TotalReading,
		TotalCost:             totals.TotalCost,
		TotalConsumption:      decimal.Zero,
		TotalIndividualCost:   decimal.Zero,
		TotalCommonAreaCost:   decimal.Zero,
		CommonAreaConsumption: totals.CommonAreaConsumption,
		AverageConsumption:    decimal.Zero,
		Status:                m.Status(),
	}
	for _, e := range m.Entries() {
		if e.Result == nil {
			return CondoEntry{}, ErrReadingNotClosed
		}
		entry.UnitCount++
		entry.TotalConsumption = entry.TotalConsumption.Add(e.Result.Consumption)
		entry.TotalIndividualCost = entry.TotalIndividualCost.Add(e.Result.IndividualCost)
		entry.TotalCommonAreaCost = entry.TotalCommonAreaCost.Add(e.Result.CommonAreaCost)
	}
	if entry.UnitCount > 0 {
		entry.AverageConsumption = entry.TotalConsumption.
			Div(decimal.NewFromInt(int64(entry.UnitCount))).
			Round(billing.RateScale)
	}
	return entry, nil
}
