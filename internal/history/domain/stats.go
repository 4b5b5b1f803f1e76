package history

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
)

// TrendPoint is one period in a consumption trend.
type TrendPoint struct {
	ReadingID   string          `json:"reading_id"`
	Date        time.Time       `json:"date"`
	Consumption decimal.Decimal `json:"consumption"`
	CommonArea  decimal.Decimal `json:"common_area,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
}

// CondoStats aggregates every closed period of a condominium.
type CondoStats struct {
	CondoID            string          `json:"condo_id"`
	Periods            int             `json:"periods"`
	ConsumptionTrend   []TrendPoint    `json:"consumption_trend"`
	AverageConsumption decimal.Decimal `json:"average_consumption"`
	AverageCost        decimal.Decimal `json:"average_cost"`
	MinConsumption     decimal.Decimal `json:"min_consumption"`
	MaxConsumption     decimal.Decimal `json:"max_consumption"`
	MinCost            decimal.Decimal `json:"min_cost"`
	MaxCost            decimal.Decimal `json:"max_cost"`
	LastReading        *CondoEntry     `json:"last_reading"`
}

// UnitStats aggregates every closed period of a unit.
type UnitStats struct {
	UnitID             string          `json:"unit_id"`
	Periods            int             `json:"periods"`
	ConsumptionTrend   []TrendPoint    `json:"consumption_trend"`
	AverageConsumption decimal.Decimal `json:"average_consumption"`
	MinConsumption     decimal.Decimal `json:"min_consumption"`
	MaxConsumption     decimal.Decimal `json:"max_consumption"`
	TotalCost          decimal.Decimal `json:"total_cost"`
}

// SortUnitEntries orders unit entries by date descending, then reading id.
func SortUnitEntries(entries []UnitEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ReadingID > entries[j].ReadingID
	})
}

// SortCondoEntries orders condo entries by date descending, then reading id.
func SortCondoEntries(entries []CondoEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ReadingID > entries[j].ReadingID
	})
}

// ComputeCondoStats computes trend and min/max/average figures. The trend is
// ordered newest first.
func ComputeCondoStats(condoID string, entries []CondoEntry) (CondoStats, error) {
	if len(entries) == 0 {
		return CondoStats{}, ErrNoHistory
	}
	sorted := append([]CondoEntry(nil), entries...)
	SortCondoEntries(sorted)

	stats := CondoStats{
		CondoID:          condoID,
		Periods:          len(sorted),
		ConsumptionTrend: make([]TrendPoint, 0, len(sorted)),
		MinConsumption:   sorted[0].TotalConsumption,
		MaxConsumption:   sorted[0].TotalConsumption,
		MinCost:          sorted[0].TotalCost,
		MaxCost:          sorted[0].TotalCost,
	}
	sumConsumption := decimal.Zero
	sumCost := decimal.Zero
	for _, e := range sorted {
		stats.ConsumptionTrend = append(stats.ConsumptionTrend, TrendPoint{
			ReadingID:   e.ReadingID,
			Date:        e.Date,
			Consumption: e.TotalConsumption,
			CommonArea:  e.CommonAreaConsumption,
			Cost:        e.TotalCost,
		})
		sumConsumption = sumConsumption.Add(e.TotalConsumption)
		sumCost = sumCost.Add(e.TotalCost)
		stats.MinConsumption = decimal.Min(stats.MinConsumption, e.TotalConsumption)
		stats.MaxConsumption = decimal.Max(stats.MaxConsumption, e.TotalConsumption)
		stats.MinCost = decimal.Min(stats.MinCost, e.TotalCost)
		stats.MaxCost = decimal.Max(stats.MaxCost, e.TotalCost)
	}
	n := decimal.NewFromInt(int64(len(sorted)))
	stats.AverageConsumption = sumConsumption.Div(n).Round(billing.RateScale)
	stats.AverageCost = sumCost.Div(n).Round(billing.MoneyScale)
	last := sorted[0]
	stats.LastReading = &last
	return stats, nil
}

// ComputeUnitStats computes a unit's consumption trend and min/max/average.
func ComputeUnitStats(unitID string, entries []UnitEntry) (UnitStats, error) {
	if len(entries) == 0 {
		return UnitStats{}, ErrNoHistory
	}
	sorted := append([]UnitEntry(nil), entries...)
	SortUnitEntries(sorted)

	stats := UnitStats{
		UnitID:           unitID,
		Periods:          len(sorted),
		ConsumptionTrend: make([]TrendPoint, 0, len(sorted)),
		MinConsumption:   sorted[0].Consumption,
		MaxConsumption:   sorted[0].Consumption,
		TotalCost:        decimal.Zero,
	}
	sum := decimal.Zero
	for _, e := range sorted {
		stats.ConsumptionTrend = append(stats.ConsumptionTrend, TrendPoint{
			ReadingID:   e.ReadingID,
			Date:        e.Date,
			Consumption: e.Consumption,
			Cost:        e.TotalCost,
		})
		sum = sum.Add(e.Consumption)
		stats.TotalCost = stats.TotalCost.Add(e.TotalCost)
		stats.MinConsumption = decimal.Min(stats.MinConsumption, e.Consumption)
		stats.MaxConsumption = decimal.Max(stats.MaxConsumption, e.Consumption)
	}
	stats.AverageConsumption = sum.Div(decimal.NewFromInt(int64(len(sorted)))).Round(billing.RateScale)
	return stats, nil
}

// Repository reads and writes history entries.
// Replace overwrites every entry of a condominium with the given set.
type Repository interface {
	ListUnitEntries(ctx context.Context, unitID string) ([]UnitEntry, error)
	ListCondoEntries(ctx context.Context, condoID string) ([]CondoEntry, error)
	Replace(ctx context.Context, condoID string, units []UnitEntry, condos []CondoEntry) error
}

// StatsCache caches computed condo stats.
type StatsCache interface {
	GetCondoStats(ctx context.Context, condoID string) (*CondoStats, error)
	SetCondoStats(ctx context.Context, stats CondoStats) error
	Invalidate(ctx context.Context, condoID string) error
}
