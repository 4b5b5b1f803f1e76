package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	mdadapter "condo-water/internal/billing/adapters/masterdata"
	billingapp "condo-water/internal/billing/application"
	billingstore "condo-water/internal/billing/infrastructure/docstore"
	"condo-water/internal/docstore"
	"condo-water/internal/docstore/memory"
	history "condo-water/internal/history/domain"
	historystore "condo-water/internal/history/infrastructure/docstore"
	masterdata "condo-water/internal/masterdata/domain"
	mdstore "condo-water/internal/masterdata/infrastructure/docstore"
)

type clock struct{}

func (clock) Now() time.Time { return time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC) }

type env struct {
	store    *memory.Store
	readings *billingstore.ReadingRepository
	repo     *historystore.Repository
	query    *QueryService
}

func newEnv(t *testing.T, periods []map[string]string) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	units := mdstore.NewRepository(store)
	if err := units.SaveCondo(ctx, &masterdata.Condo{ID: "c-1", Name: "Jardins"}); err != nil {
		t.Fatalf("seed condo: %v", err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if err := units.SaveUnit(ctx, &masterdata.Unit{ID: id, CondoID: "c-1", Label: id, IsActive: true}); err != nil {
			t.Fatalf("seed unit: %v", err)
		}
	}
	readings, _ := billingstore.NewReadingRepository(store)
	directory, _ := mdadapter.NewUnitDirectory(units)
	seq := 0
	lifecycle, err := billingapp.NewLifecycleService(readings, readings, directory, clock{},
		billingapp.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("r-%02d", seq)
		}))
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	for i, values := range periods {
		date := time.Date(2026, time.Month(i+1), 28, 0, 0, 0, 0, time.UTC)
		id, err := lifecycle.CreatePeriod(ctx, billingapp.CreatePeriodInput{CondoID: "c-1", Date: date, UnitReadings: values})
		if err != nil {
			t.Fatalf("create period %d: %v", i, err)
		}
		if _, err := lifecycle.ClosePeriod(ctx, billingapp.ClosePeriodInput{
			ReadingID:    id,
			TotalReading: decimal.NewFromInt(int64(40 + 10*i)),
			TotalCost:    decimal.RequireFromString("123.45"),
		}); err != nil {
			t.Fatalf("close period %d: %v", i, err)
		}
	}
	repo := historystore.NewRepository(store)
	query, _ := NewQueryService(repo)
	return &env{store: store, readings: readings, repo: repo, query: query}
}

var periods = []map[string]string{
	{"A": "100", "B": "200", "C": "50"},
	{"A": "112.5", "B": "230", "C": "51"},
	{"A": "130", "B": "241.25", "C": "70"},
}

func unitKey(e history.UnitEntry) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.ReadingID, e.Date.Format("2006-01-02"), e.Reading, e.PreviousReading, e.Consumption,
		e.IndividualCost, e.CommonAreaCost, e.TotalCost, e.CondoID)
}

func TestRebuildCondo_ReconstructsIncrementalHistory(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, periods)

	before := map[string][]string{}
	for _, unitID := range []string{"A", "B", "C"} {
		entries, err := e.query.GetUnitHistory(ctx, unitID)
		if err != nil {
			t.Fatalf("history %s: %v", unitID, err)
		}
		if len(entries) != len(periods) {
			t.Fatalf("unit %s: expected %d entries, got %d", unitID, len(periods), len(entries))
		}
		for _, entry := range entries {
			before[unitID] = append(before[unitID], unitKey(entry))
		}
	}
	statsBefore, err := e.query.GetCondoStats(ctx, "c-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	// Corrupt the read model: drop one entry and add a stale one.
	if err := e.store.Commit(ctx, docstore.NewBatch().
		Delete(historystore.UnitHistoryCollection, historystore.UnitEntryID("B", "r-02")).
		Set(historystore.UnitHistoryCollection, "A|stale", map[string]string{"unitId": "A", "condoId": "c-1", "readingId": "stale", "date": "2027-01-01"})); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	rebuilder, err := NewRebuilder(e.readings, e.repo, e.query, nil)
	if err != nil {
		t.Fatalf("rebuilder: %v", err)
	}
	result, err := rebuilder.RebuildCondo(ctx, "c-1")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Readings != 3 || result.UnitEntries != 9 {
		t.Fatalf("unexpected rebuild result: %+v", result)
	}

	for unitID, want := range before {
		entries, err := e.query.GetUnitHistory(ctx, unitID)
		if err != nil {
			t.Fatalf("history %s: %v", unitID, err)
		}
		if len(entries) != len(want) {
			t.Fatalf("unit %s: expected %d entries after rebuild, got %d", unitID, len(want), len(entries))
		}
		for i, entry := range entries {
			if got := unitKey(entry); got != want[i] {
				t.Fatalf("unit %s entry %d:\n got %s\nwant %s", unitID, i, got, want[i])
			}
		}
	}

	statsAfter, err := e.query.GetCondoStats(ctx, "c-1")
	if err != nil {
		t.Fatalf("stats after: %v", err)
	}
	if statsAfter.Periods != statsBefore.Periods || !statsAfter.AverageCost.Equal(statsBefore.AverageCost) {
		t.Fatalf("stats changed after rebuild: %+v vs %+v", statsAfter, statsBefore)
	}
}

func TestQueryService_StatsAndOrdering(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, periods)

	entries, err := e.query.GetUnitHistory(ctx, "A")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Date.After(entries[i-1].Date) {
			t.Fatalf("history not in descending date order")
		}
	}

	unitStats, err := e.query.GetUnitStats(ctx, "A")
	if err != nil {
		t.Fatalf("unit stats: %v", err)
	}
	// Consumptions are 0 (first), 12.5 and 17.5.
	if !unitStats.MinConsumption.IsZero() || !unitStats.MaxConsumption.Equal(decimal.RequireFromString("17.5")) {
		t.Fatalf("unexpected unit stats: %+v", unitStats)
	}
	if !unitStats.AverageConsumption.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("average %s, want 10", unitStats.AverageConsumption)
	}

	stats, err := e.query.GetCondoStats(ctx, "c-1")
	if err != nil {
		t.Fatalf("condo stats: %v", err)
	}
	if stats.Periods != 3 || stats.LastReading == nil || stats.LastReading.ReadingID != "r-03" {
		t.Fatalf("unexpected condo stats: %+v", stats)
	}
	if !stats.MinCost.Equal(stats.MaxCost) || !stats.AverageCost.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("unexpected cost stats: %+v", stats)
	}
	if len(stats.ConsumptionTrend) != 3 || stats.ConsumptionTrend[0].ReadingID != "r-03" {
		t.Fatalf("trend must be newest first: %+v", stats.ConsumptionTrend)
	}

	if _, err := e.query.GetCondoStats(ctx, "unknown"); !errors.Is(err, history.ErrNoHistory) {
		t.Fatalf("expected no history, got %v", err)
	}
}
