package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, time.March, 31, 18, 30, 0, 0, time.UTC)

func TestNewMeterReading_ValidatesInput(t *testing.T) {
	_, err := NewMeterReading("r-1", "", time.Time{}, nil, testNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %+v", verr.Fields)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("validation error must match ErrValidation")
	}

	_, err = NewMeterReading("r-1", "c-1", testNow, map[string]decimal.Decimal{"u-1": d("-3")}, testNow)
	if !errors.As(err, &verr) || verr.Fields[0].UnitID != "u-1" {
		t.Fatalf("expected itemized error for u-1, got %v", err)
	}
}

func TestMeterReading_OpenHasNoDerivedTotals(t *testing.T) {
	m, err := NewMeterReading("r-1", "c-1", testNow, map[string]decimal.Decimal{"u-1": d("10")}, testNow)
	if err != nil {
		t.Fatalf("new reading: %v", err)
	}
	if m.Status() != StatusOpen {
		t.Fatalf("expected open, got %s", m.Status())
	}
	if _, ok := m.Totals(); ok {
		t.Fatalf("open reading must not expose totals")
	}
	if !m.Date().Equal(time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date not normalized: %s", m.Date())
	}
	entry, _ := m.Entry("u-1")
	if entry.Result != nil {
		t.Fatalf("open entry must not carry a result")
	}
}

func TestMeterReading_CloseIsTerminal(t *testing.T) {
	m, err := NewMeterReading("r-1", "c-1", testNow, map[string]decimal.Decimal{
		"A": d("40"),
		"B": d("50"),
		"X": d("7"),
	}, testNow)
	if err != nil {
		t.Fatalf("new reading: %v", err)
	}
	alloc, err := Allocate(d("100"), d("50"), []UnitConsumption{
		{UnitID: "A", Reading: d("40"), Consumption: d("40")},
		{UnitID: "B", Reading: d("50"), Consumption: d("50")},
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Close(alloc, testNow); err != nil {
		t.Fatalf("close: %v", err)
	}

	totals, ok := m.Totals()
	if !ok || !totals.CommonAreaCostPerUnit.Equal(d("2.5")) {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if _, ok := m.Entry("X"); ok {
		t.Fatalf("entry outside the allocation must be dropped on close")
	}
	for _, entry := range m.Entries() {
		if entry.Result == nil {
			t.Fatalf("closed entry %s without result", entry.UnitID)
		}
	}

	if err := m.Close(alloc, testNow); !errors.Is(err, ErrReadingClosed) || !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected closed precondition, got %v", err)
	}
	if err := m.RecordUnitReading("A", d("41"), testNow); !errors.Is(err, ErrReadingClosed) {
		t.Fatalf("expected closed precondition on record, got %v", err)
	}
}

func TestMeterReading_SnapshotRoundTrip(t *testing.T) {
	m, _ := NewMeterReading("r-1", "c-1", testNow, map[string]decimal.Decimal{"A": d("12.5")}, testNow)
	if err := m.RecordUnitReading("B", d("3"), testNow.Add(time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	restored, err := RestoreMeterReading(m.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored.Entries()) != 2 || restored.Status() != StatusOpen {
		t.Fatalf("unexpected restored state: %+v", restored.Snapshot())
	}

	broken := m.Snapshot()
	broken.Status = StatusClosed
	if _, err := RestoreMeterReading(broken); err == nil {
		t.Fatalf("closed snapshot without totals must be rejected")
	}
}

func TestComputeConsumption(t *testing.T) {
	if got := ComputeConsumption(d("150"), d("100"), false); !got.Equal(d("50")) {
		t.Fatalf("expected 50, got %s", got)
	}
	if got := ComputeConsumption(d("150"), d("0"), true); !got.IsZero() {
		t.Fatalf("first reading must yield 0, got %s", got)
	}
	if fe := CheckConsumption("A", d("90"), d("100"), d("-10")); fe == nil || fe.UnitID != "A" {
		t.Fatalf("expected field error for negative consumption")
	}
	if fe := CheckConsumption("A", d("100"), d("100"), d("0")); fe != nil {
		t.Fatalf("zero consumption must pass, got %+v", fe)
	}
}

func TestParseReadingValue(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{"12.5", "12.5", nil},
		{" 7 ", "7", nil},
		{"12,75", "12.75", nil},
		{"", "", ErrValueRequired},
		{"abc", "", ErrValueNotNumeric},
		{"-1", "", ErrValueNegative},
	}
	for _, tc := range cases {
		got, err := ParseReadingValue(tc.raw)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%q: expected %v, got %v", tc.raw, tc.wantErr, err)
			}
			continue
		}
		if err != nil || !got.Equal(d(tc.want)) {
			t.Fatalf("%q: expected %s, got %s (%v)", tc.raw, tc.want, got, err)
		}
	}
}
