package billing

import (
	"github.com/shopspring/decimal"
)

const (
	// MoneyScale is the number of decimal places kept for money.
	MoneyScale = 2
	// RateScale is the number of decimal places kept for per-unit rates.
	RateScale = 4
)

// UnitConsumption is the allocator input for one unit.
type UnitConsumption struct {
	UnitID          string
	Reading         decimal.Decimal
	PreviousReading decimal.Decimal
	Consumption     decimal.Decimal
}

// UnitAllocation is the allocator output for one unit.
type UnitAllocation struct {
	UnitID          string
	Reading         decimal.Decimal
	PreviousReading decimal.Decimal
	Consumption     decimal.Decimal
	IndividualCost  decimal.Decimal
	CommonAreaCost  decimal.Decimal
	TotalCost       decimal.Decimal
}

// Allocation is the outcome of splitting one period's bill.
type Allocation struct {
	Totals Totals
	Units  []UnitAllocation
}

// Allocate splits totalCost into per-unit individual costs plus an even share of
// the common-area cost. The common share is divided by unit count, not by
// consumption.
//
// When the unit meters add up to more than the main meter, the rate is taken over
// the unit total instead so the allocated money never exceeds the bill.
func Allocate(totalReading, totalCost decimal.Decimal, units []UnitConsumption) (Allocation, error) {
	if len(units) == 0 {
		return Allocation{}, NewPreconditionError(ErrNoActiveUnits, "nothing to allocate")
	}
	if !totalReading.IsPositive() {
		return Allocation{}, NewPreconditionError(ErrNonPositiveTotalReading, "got "+totalReading.String())
	}
	if totalCost.IsNegative() {
		return Allocation{}, NewValidationError(FieldError{Field: "totalCost", Reason: ErrValueNegative.Error()})
	}

	totalUnit := decimal.Zero
	for _, u := range units {
		totalUnit = totalUnit.Add(u.Consumption)
	}
	common := decimal.Max(decimal.Zero, totalReading.Sub(totalUnit))

	// totalCost/totalReading alone overbills when units read more than the main
	// meter. Dividing by the unit total in that case keeps charges within totalCost.
	divisor := decimal.Max(totalReading, totalUnit)
	rate := totalCost.Div(divisor)
	commonPerUnit := common.Mul(rate).Div(decimal.NewFromInt(int64(len(units))))

	out := Allocation{
		Totals: Totals{
			TotalReading:          totalReading,
			TotalCost:             totalCost.Round(MoneyScale),
			TotalUnitConsumption:  totalUnit,
			CommonAreaConsumption: common,
			CostPerUnit:           rate.Round(RateScale),
			CommonAreaCostPerUnit: commonPerUnit.Round(MoneyScale),
		},
		Units: make([]UnitAllocation, 0, len(units)),
	}
	commonCost := commonPerUnit.Round(MoneyScale)
	for _, u := range units {
		individual := u.Consumption.Mul(rate).Round(MoneyScale)
		out.Units = append(out.Units, UnitAllocation{
			UnitID:          u.UnitID,
			Reading:         u.Reading,
			PreviousReading: u.PreviousReading,
			Consumption:     u.Consumption,
			IndividualCost:  individual,
			CommonAreaCost:  commonCost,
			TotalCost:       individual.Add(commonCost),
		})
	}
	return out, nil
}

// AllocatedTotal returns the sum of all per-unit totals.
func (a Allocation) AllocatedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, u := range a.Units {
		sum = sum.Add(u.TotalCost)
	}
	return sum
}
