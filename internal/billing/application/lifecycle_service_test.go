package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	mdadapter "condo-water/internal/billing/adapters/masterdata"
	billing "condo-water/internal/billing/domain"
	billingstore "condo-water/internal/billing/infrastructure/docstore"
	"condo-water/internal/docstore/memory"
	history "condo-water/internal/history/domain"
	historystore "condo-water/internal/history/infrastructure/docstore"
	masterdata "condo-water/internal/masterdata/domain"
	mdstore "condo-water/internal/masterdata/infrastructure/docstore"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	mu     sync.Mutex
	events []PeriodClosed
	err    error
}

func (p *recordingPublisher) PublishPeriodClosed(ctx context.Context, event PeriodClosed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type conflictingCommitter struct{}

func (conflictingCommitter) CommitClose(ctx context.Context, reading *billing.MeterReading, units []history.UnitEntry, condo history.CondoEntry) error {
	return fmt.Errorf("%w: status changed", billing.ErrCommitConflict)
}

type fixture struct {
	store     *memory.Store
	readings  *billingstore.ReadingRepository
	history   *historystore.Repository
	units     *mdstore.Repository
	publisher *recordingPublisher
	svc       *LifecycleService
}

func newFixture(t *testing.T, unitIDs ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	units := mdstore.NewRepository(store)
	if err := units.SaveCondo(ctx, &masterdata.Condo{ID: "c-1", Name: "Torre Norte"}); err != nil {
		t.Fatalf("seed condo: %v", err)
	}
	for _, id := range unitIDs {
		if err := units.SaveUnit(ctx, &masterdata.Unit{ID: id, CondoID: "c-1", Label: "Apto " + id, IsActive: true}); err != nil {
			t.Fatalf("seed unit: %v", err)
		}
	}
	readings, err := billingstore.NewReadingRepository(store)
	if err != nil {
		t.Fatalf("reading repo: %v", err)
	}
	directory, err := mdadapter.NewUnitDirectory(units)
	if err != nil {
		t.Fatalf("unit directory: %v", err)
	}
	publisher := &recordingPublisher{}
	seq := 0
	svc, err := NewLifecycleService(readings, readings, directory,
		fixedClock{now: time.Date(2026, time.March, 31, 12, 0, 0, 0, time.UTC)},
		WithPublisher(publisher),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("r-%d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{
		store:     store,
		readings:  readings,
		history:   historystore.NewRepository(store),
		units:     units,
		publisher: publisher,
		svc:       svc,
	}
}

func day(s string) time.Time {
	t, err := time.Parse(billing.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) createAndClose(t *testing.T, date string, values map[string]string, totalReading, totalCost string) *CloseResult {
	t.Helper()
	ctx := context.Background()
	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day(date), UnitReadings: values})
	if err != nil {
		t.Fatalf("create period %s: %v", date, err)
	}
	result, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec(totalReading), TotalCost: dec(totalCost)})
	if err != nil {
		t.Fatalf("close period %s: %v", date, err)
	}
	return result
}

func TestClosePeriod_FirstReadingThenReferenceExample(t *testing.T) {
	f := newFixture(t, "A", "B")

	first := f.createAndClose(t, "2026-01-31", map[string]string{"A": "100", "B": "200"}, "30", "15")
	if !first.Summary.First {
		t.Fatalf("expected first reading")
	}
	for _, u := range first.Units {
		if !u.PreviousReading.IsZero() || !u.Consumption.IsZero() {
			t.Fatalf("first reading unit %s: previous %s consumption %s", u.UnitID, u.PreviousReading, u.Consumption)
		}
	}
	if !first.Summary.AllocatedCost.Equal(dec("15")) {
		t.Fatalf("first period allocated %s, want 15", first.Summary.AllocatedCost)
	}

	second := f.createAndClose(t, "2026-02-28", map[string]string{"A": "140", "B": "250"}, "100", "50")
	if second.Summary.First {
		t.Fatalf("second period must not be first")
	}
	totals := second.Summary.Totals
	if !totals.TotalUnitConsumption.Equal(dec("90")) || !totals.CommonAreaConsumption.Equal(dec("10")) {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if !totals.CostPerUnit.Equal(dec("0.5")) || !totals.CommonAreaCostPerUnit.Equal(dec("2.5")) {
		t.Fatalf("unexpected rates: %+v", totals)
	}
	want := map[string][3]string{
		"A": {"100", "20", "22.5"},
		"B": {"200", "25", "27.5"},
	}
	for _, u := range second.Units {
		w := want[u.UnitID]
		if !u.PreviousReading.Equal(dec(w[0])) || !u.IndividualCost.Equal(dec(w[1])) || !u.TotalCost.Equal(dec(w[2])) {
			t.Fatalf("unit %s: previous %s individual %s total %s", u.UnitID, u.PreviousReading, u.IndividualCost, u.TotalCost)
		}
	}
	if !second.Summary.AllocatedCost.Equal(dec("50")) {
		t.Fatalf("allocated %s, want 50", second.Summary.AllocatedCost)
	}

	if f.store.Count(historystore.UnitHistoryCollection) != 4 || f.store.Count(historystore.CondoHistoryCollection) != 2 {
		t.Fatalf("unexpected history counts: units=%d condos=%d",
			f.store.Count(historystore.UnitHistoryCollection), f.store.Count(historystore.CondoHistoryCollection))
	}
	stored, err := f.readings.Get(context.Background(), second.Summary.ReadingID)
	if err != nil || stored.Status() != billing.StatusClosed {
		t.Fatalf("stored reading not closed: %v", err)
	}
	if len(f.publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.publisher.events))
	}
}

func TestClosePeriod_IncompleteCoverageWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")
	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1", "B": "2"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	commits := f.store.Commits()

	_, err = f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("10"), TotalCost: dec("10")})
	var pe *billing.PreconditionError
	if !errors.As(err, &pe) || !errors.Is(err, billing.ErrIncompleteReadings) {
		t.Fatalf("expected incomplete readings precondition, got %v", err)
	}
	if len(pe.MissingUnits) != 1 || pe.MissingUnits[0] != "C" {
		t.Fatalf("unexpected missing units: %v", pe.MissingUnits)
	}
	if f.store.Commits() != commits {
		t.Fatalf("no writes expected, commits %d -> %d", commits, f.store.Commits())
	}
	stored, _ := f.readings.Get(ctx, id)
	if stored.Status() != billing.StatusOpen {
		t.Fatalf("reading must stay open, got %s", stored.Status())
	}
}

func TestClosePeriod_SecondCloseFailsWithoutWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	result := f.createAndClose(t, "2026-01-31", map[string]string{"A": "5"}, "10", "20")
	commits := f.store.Commits()

	_, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: result.Summary.ReadingID, TotalReading: dec("10"), TotalCost: dec("20")})
	if !errors.Is(err, billing.ErrPrecondition) || !errors.Is(err, billing.ErrReadingClosed) {
		t.Fatalf("expected closed precondition, got %v", err)
	}
	if f.store.Commits() != commits {
		t.Fatalf("second close must not write")
	}
}

func TestClosePeriod_ConcurrentClosesCommitOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "3", "B": "4"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("10"), TotalCost: dec("10")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case billing.IsRetryable(err), errors.Is(err, billing.ErrReadingClosed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful close, got %d", successes)
	}
	if f.store.Count(historystore.UnitHistoryCollection) != 2 || f.store.Count(historystore.CondoHistoryCollection) != 1 {
		t.Fatalf("history written more than once")
	}
}

func TestClosePeriod_NegativeConsumptionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	f.createAndClose(t, "2026-01-31", map[string]string{"A": "100", "B": "100"}, "10", "10")

	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-02-28"), UnitReadings: map[string]string{"A": "90", "B": "120"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("30"), TotalCost: dec("30")})
	var verr *billing.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0].UnitID != "A" {
		t.Fatalf("expected itemized error for A, got %+v", verr.Fields)
	}
	stored, _ := f.readings.Get(ctx, id)
	if !stored.IsOpen() {
		t.Fatalf("reading must stay open")
	}
}

func TestClosePeriod_CommitConflictIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	directory, _ := mdadapter.NewUnitDirectory(f.units)
	svc, err := NewLifecycleService(f.readings, conflictingCommitter{}, directory, fixedClock{now: time.Now()})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("1"), TotalCost: dec("1")})
	if !errors.Is(err, billing.ErrPersistence) || !billing.IsRetryable(err) {
		t.Fatalf("expected retryable persistence error, got %v", err)
	}
	stored, _ := f.readings.Get(ctx, id)
	if !stored.IsOpen() {
		t.Fatalf("reading must stay open after a rejected commit")
	}
}

func TestClosePeriod_PublishFailureDoesNotFailClose(t *testing.T) {
	f := newFixture(t, "A")
	f.publisher.err = errors.New("bus down")
	result := f.createAndClose(t, "2026-01-31", map[string]string{"A": "1"}, "2", "2")
	if result == nil || len(f.publisher.events) != 1 {
		t.Fatalf("expected close to succeed and publish once")
	}
}

func TestClosePeriod_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	_, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: "missing", TotalReading: dec("1"), TotalCost: dec("1")})
	if !errors.Is(err, billing.ErrReadingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("0"), TotalCost: dec("1")})
	if !errors.Is(err, billing.ErrNonPositiveTotalReading) {
		t.Fatalf("expected non-positive total reading, got %v", err)
	}

	unit, _ := f.units.GetUnit(ctx, "A")
	unit.IsActive = false
	if err := f.units.SaveUnit(ctx, unit); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("1"), TotalCost: dec("1")})
	if !errors.Is(err, billing.ErrNoActiveUnits) {
		t.Fatalf("expected no active units, got %v", err)
	}
}

func TestClosePeriod_UnitAddedBetweenClosesStartsAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	f.createAndClose(t, "2026-01-31", map[string]string{"A": "100", "B": "200"}, "30", "15")

	if err := f.units.SaveUnit(ctx, &masterdata.Unit{ID: "C", CondoID: "c-1", Label: "Apto C", IsActive: true}); err != nil {
		t.Fatalf("register unit: %v", err)
	}
	second := f.createAndClose(t, "2026-02-28", map[string]string{"A": "140", "B": "250", "C": "5000"}, "100", "50")
	if second.Summary.First {
		t.Fatalf("second period must not be first")
	}
	totals := second.Summary.Totals
	if !totals.TotalUnitConsumption.Equal(dec("90")) || !totals.CommonAreaConsumption.Equal(dec("10")) {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if !totals.CostPerUnit.Equal(dec("0.5")) {
		t.Fatalf("unexpected rate %s", totals.CostPerUnit)
	}
	want := map[string][3]string{
		"A": {"100", "40", "20"},
		"B": {"200", "50", "25"},
		"C": {"0", "0", "0"},
	}
	for _, u := range second.Units {
		w := want[u.UnitID]
		if !u.PreviousReading.Equal(dec(w[0])) || !u.Consumption.Equal(dec(w[1])) || !u.IndividualCost.Equal(dec(w[2])) {
			t.Fatalf("unit %s: previous %s consumption %s individual %s", u.UnitID, u.PreviousReading, u.Consumption, u.IndividualCost)
		}
	}
}

func TestClosePeriod_RejectsPeriodOlderThanLatestClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	jan, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "100"}})
	if err != nil {
		t.Fatalf("create jan: %v", err)
	}
	feb, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-02-28"), UnitReadings: map[string]string{"A": "150"}})
	if err != nil {
		t.Fatalf("create feb: %v", err)
	}
	if _, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: feb, TotalReading: dec("10"), TotalCost: dec("10")}); err != nil {
		t.Fatalf("close feb: %v", err)
	}
	commits := f.store.Commits()

	_, err = f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: jan, TotalReading: dec("10"), TotalCost: dec("10")})
	if !errors.Is(err, billing.ErrPrecondition) || !errors.Is(err, billing.ErrDateBeforeLastClose) {
		t.Fatalf("expected date before last close, got %v", err)
	}
	if f.store.Commits() != commits {
		t.Fatalf("rejected close must not write")
	}
	stored, _ := f.readings.Get(ctx, jan)
	if !stored.IsOpen() {
		t.Fatalf("older reading must stay open")
	}
}

func TestCreatePeriod_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")

	_, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "nope", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1"}})
	if !errors.Is(err, billing.ErrUnknownCondo) {
		t.Fatalf("expected unknown condo, got %v", err)
	}

	_, err = f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "abc", "B": ""}})
	var verr *billing.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two itemized errors, got %v", err)
	}
	if verr.Fields[0].UnitID != "A" || verr.Fields[1].UnitID != "B" {
		t.Fatalf("unexpected field order: %+v", verr.Fields)
	}

	_, err = f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"Z": "1"}})
	if !errors.As(err, &verr) || verr.Fields[0].UnitID != "Z" {
		t.Fatalf("expected unknown unit error, got %v", err)
	}

	_, err = f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31")})
	if !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("expected validation error for empty readings, got %v", err)
	}

	f.createAndClose(t, "2026-02-28", map[string]string{"A": "1", "B": "1"}, "5", "5")
	_, err = f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1"}})
	if !errors.Is(err, billing.ErrDateBeforeLastClose) {
		t.Fatalf("expected date before last close, got %v", err)
	}
}

func TestSubmitUnitReading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	id, err := f.svc.CreatePeriod(ctx, CreatePeriodInput{CondoID: "c-1", Date: day("2026-01-31"), UnitReadings: map[string]string{"A": "1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.SubmitUnitReading(ctx, id, "B", "7.5"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stored, _ := f.readings.Get(ctx, id)
	entry, ok := stored.Entry("B")
	if !ok || !entry.Reading.Equal(dec("7.5")) {
		t.Fatalf("unit B not recorded: %+v", entry)
	}

	if _, err := f.svc.SubmitUnitReading(ctx, id, "B", "-1"); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.SubmitUnitReading(ctx, id, "Z", "1"); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("expected validation error for unknown unit, got %v", err)
	}

	if _, err := f.svc.ClosePeriod(ctx, ClosePeriodInput{ReadingID: id, TotalReading: dec("9"), TotalCost: dec("9")}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.svc.SubmitUnitReading(ctx, id, "B", "8"); !errors.Is(err, billing.ErrReadingClosed) {
		t.Fatalf("expected closed precondition, got %v", err)
	}
}
