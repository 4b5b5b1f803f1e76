package http

import (
	"time"

	"github.com/shopspring/decimal"

	billingapp "condo-water/internal/billing/application"
	billing "condo-water/internal/billing/domain"
)

type totalsView struct {
	TotalReading          decimal.Decimal `json:"total_reading"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	TotalUnitConsumption  decimal.Decimal `json:"total_unit_consumption"`
	CommonAreaConsumption decimal.Decimal `json:"common_area_consumption"`
	CostPerUnit           decimal.Decimal `json:"cost_per_unit"`
	CommonAreaCostPerUnit decimal.Decimal `json:"common_area_cost_per_unit"`
}

type entryView struct {
	UnitID          string           `json:"unit_id"`
	Reading         decimal.Decimal  `json:"reading"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	PreviousReading *decimal.Decimal `json:"previous_reading,omitempty"`
	Consumption     *decimal.Decimal `json:"consumption,omitempty"`
	IndividualCost  *decimal.Decimal `json:"individual_cost,omitempty"`
	CommonAreaCost  *decimal.Decimal `json:"common_area_cost,omitempty"`
	TotalCost       *decimal.Decimal `json:"total_cost,omitempty"`
}

type readingView struct {
	ID        string      `json:"id"`
	CondoID   string      `json:"condo_id"`
	Date      string      `json:"date"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
	Totals    *totalsView `json:"totals,omitempty"`
	Entries   []entryView `json:"entries"`
}

func newTotalsView(t billing.Totals) *totalsView {
	return &totalsView{
		TotalReading:          t.TotalReading,
		TotalCost:             t.TotalCost,
		TotalUnitConsumption:  t.TotalUnitConsumption,
		CommonAreaConsumption: t.CommonAreaConsumption,
		CostPerUnit:           t.CostPerUnit,
		CommonAreaCostPerUnit: t.CommonAreaCostPerUnit,
	}
}

func newReadingView(m *billing.MeterReading) readingView {
	view := readingView{
		ID:        m.ID(),
		CondoID:   m.CondoID(),
		Date:      m.Date().Format(billing.DateLayout),
		Status:    string(m.Status()),
		CreatedAt: m.CreatedAt(),
		UpdatedAt: m.UpdatedAt(),
	}
	if totals, ok := m.Totals(); ok {
		closedAt := m.ClosedAt()
		view.ClosedAt = &closedAt
		view.Totals = newTotalsView(totals)
	}
	for _, entry := range m.Entries() {
		ev := entryView{UnitID: entry.UnitID, Reading: entry.Reading, SubmittedAt: entry.SubmittedAt}
		if res := entry.Result; res != nil {
			ev.PreviousReading = &res.PreviousReading
			ev.Consumption = &res.Consumption
			ev.IndividualCost = &res.IndividualCost
			ev.CommonAreaCost = &res.CommonAreaCost
			ev.TotalCost = &res.TotalCost
		}
		view.Entries = append(view.Entries, ev)
	}
	return view
}

type unitAllocationView struct {
	UnitID          string          `json:"unit_id"`
	Reading         decimal.Decimal `json:"reading"`
	PreviousReading decimal.Decimal `json:"previous_reading"`
	Consumption     decimal.Decimal `json:"consumption"`
	IndividualCost  decimal.Decimal `json:"individual_cost"`
	CommonAreaCost  decimal.Decimal `json:"common_area_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

type closeView struct {
	ReadingID           string               `json:"reading_id"`
	CondoID             string               `json:"condo_id"`
	Date                string               `json:"date"`
	First               bool                 `json:"first_reading"`
	UnitCount           int                  `json:"unit_count"`
	Totals              *totalsView          `json:"totals"`
	TotalIndividualCost decimal.Decimal      `json:"total_individual_cost"`
	TotalCommonAreaCost decimal.Decimal      `json:"total_common_area_cost"`
	AllocatedCost       decimal.Decimal      `json:"allocated_cost"`
	ClosedAt            time.Time            `json:"closed_at"`
	Units               []unitAllocationView `json:"units"`
}

func newCloseView(result *billingapp.CloseResult) closeView {
	s := result.Summary
	view := closeView{
		ReadingID:           s.ReadingID,
		CondoID:             s.CondoID,
		Date:                s.Date.Format(billing.DateLayout),
		First:               s.First,
		UnitCount:           s.UnitCount,
		Totals:              newTotalsView(s.Totals),
		TotalIndividualCost: s.TotalIndividualCost,
		TotalCommonAreaCost: s.TotalCommonAreaCost,
		AllocatedCost:       s.AllocatedCost,
		ClosedAt:            s.ClosedAt,
		Units:               make([]unitAllocationView, 0, len(result.Units)),
	}
	for _, u := range result.Units {
		view.Units = append(view.Units, unitAllocationView(u))
	}
	return view
}
