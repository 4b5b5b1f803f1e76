package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "condo-water/internal/billing/domain"
)

type stubReadings struct {
	closed []*billing.MeterReading
}

func (s stubReadings) Get(ctx context.Context, id string) (*billing.MeterReading, error) {
	return nil, nil
}

func (s stubReadings) Create(ctx context.Context, reading *billing.MeterReading) error { return nil }

func (s stubReadings) SaveOpen(ctx context.Context, reading *billing.MeterReading) error { return nil }

func (s stubReadings) ListClosed(ctx context.Context, condoID string) ([]*billing.MeterReading, error) {
	return s.closed, nil
}

func closedReading(t *testing.T, id, date string, values map[string]string) *billing.MeterReading {
	t.Helper()
	readings := make(map[string]decimal.Decimal, len(values))
	units := make([]billing.UnitConsumption, 0, len(values))
	for unitID, v := range values {
		readings[unitID] = dec(v)
		units = append(units, billing.UnitConsumption{UnitID: unitID, Reading: dec(v)})
	}
	m, err := billing.NewMeterReading(id, "c-1", day(date), readings, time.Now())
	if err != nil {
		t.Fatalf("new reading: %v", err)
	}
	alloc, err := billing.Allocate(dec("1"), dec("1"), units)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Close(alloc, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	return m
}

func TestBaselineResolver_NoClosedReadingIsFirst(t *testing.T) {
	resolver, err := NewBaselineResolver(stubReadings{})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	b, err := resolver.Resolve(context.Background(), "c-1", day("2026-01-31"), "r-9")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !b.First || !b.For("A").IsZero() || b.Has("A") {
		t.Fatalf("expected first reading with zero baselines, got %+v", b)
	}
}

func TestBaselineResolver_MostRecentWinsWithFallback(t *testing.T) {
	repo := stubReadings{closed: []*billing.MeterReading{
		closedReading(t, "r-4", "2026-04-30", map[string]string{"A": "999"}),
		closedReading(t, "r-3", "2026-03-31", map[string]string{"A": "130"}),
		closedReading(t, "r-2", "2026-02-28", map[string]string{"A": "120", "B": "220"}),
	}}
	resolver, _ := NewBaselineResolver(repo)

	b, err := resolver.Resolve(context.Background(), "c-1", day("2026-03-31"), "r-5")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.First {
		t.Fatalf("must not be first")
	}
	if b.SourceReadingID != "r-3" {
		t.Fatalf("expected r-3 as source, got %s", b.SourceReadingID)
	}
	if b.LaterReadingID != "r-4" {
		t.Fatalf("expected r-4 as later reading, got %q", b.LaterReadingID)
	}
	if !b.For("A").Equal(dec("130")) {
		t.Fatalf("A baseline %s, want 130", b.For("A"))
	}
	if !b.For("B").Equal(dec("220")) {
		t.Fatalf("B baseline %s, want 220 from fallback", b.For("B"))
	}
	if b.Has("C") || !b.For("C").IsZero() {
		t.Fatalf("unknown unit must have zero baseline")
	}

	excluded, _ := resolver.Resolve(context.Background(), "c-1", day("2026-03-31"), "r-3")
	if !excluded.For("A").Equal(dec("120")) {
		t.Fatalf("excluded reading must be skipped, got %s", excluded.For("A"))
	}
}
