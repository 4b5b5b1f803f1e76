package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day format of a billing period date.
const DateLayout = "2006-01-02"

var (
	// ErrValueRequired is returned for an empty raw meter value.
	ErrValueRequired = errors.New("is required")
	// ErrValueNotNumeric is returned for a raw meter value that is not a number.
	ErrValueNotNumeric = errors.New("must be numeric")
	// ErrValueNegative is returned for a raw meter value below zero.
	ErrValueNegative = errors.New("must be non-negative")
)

// ParseReadingValue parses a raw cumulative meter value.
// Both "12.5" and "12,5" are accepted.
func ParseReadingValue(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrValueRequired
	}
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrValueNotNumeric
	}
	if value.IsNegative() {
		return decimal.Zero, ErrValueNegative
	}
	return value, nil
}

// ParseDate parses a period date and normalizes it to midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NormalizeDate truncates t to its UTC calendar day.
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeConsumption returns current minus baseline. The first reading of a
// condominium has nothing to measure against and always yields zero.
func ComputeConsumption(current, baseline decimal.Decimal, first bool) decimal.Decimal {
	if first {
		return decimal.Zero
	}
	return current.Sub(baseline)
}

// CheckConsumption rejects a negative consumption, which only happens after a
// meter rollback or a misread.
func CheckConsumption(unitID string, current, baseline, consumption decimal.Decimal) *FieldError {
	if !consumption.IsNegative() {
		return nil
	}
	return &FieldError{
		UnitID: unitID,
		Field:  "reading",
		Reason: "below previous reading " + baseline.String() + " (got " + current.String() + ")",
	}
}
