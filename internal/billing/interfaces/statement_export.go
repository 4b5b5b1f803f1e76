package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "condo-water/internal/billing/domain"
)

func closedTotals(reading *billing.MeterReading) (billing.Totals, error) {
	if reading == nil {
		return billing.Totals{}, billing.ErrReadingNotFound
	}
	totals, ok := reading.Totals()
	if !ok {
		return billing.Totals{}, billing.NewPreconditionError(billing.ErrReadingOpen, "statement needs a closed reading")
	}
	return totals, nil
}

// BuildReadingPDF renders the period statement of a closed reading.
func BuildReadingPDF(reading *billing.MeterReading) ([]byte, error) {
	totals, err := closedTotals(reading)
	if err != nil {
		return nil, err
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Water Consumption Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Condo: %s", reading.CondoID()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Reading: %s", reading.ID()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Date: %s", reading.Date().Format(billing.DateLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Closed: %s", reading.ClosedAt().Format(time.RFC3339)))
	pdf.Ln(9)

	pdf.Cell(0, 6, fmt.Sprintf("Main meter consumption (m3): %s", totals.TotalReading.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Units consumption (m3): %s", totals.TotalUnitConsumption.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Common area consumption (m3): %s", totals.CommonAreaConsumption.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cost per m3: %s", totals.CostPerUnit.StringFixed(billing.RateScale)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total cost: %s", totals.TotalCost.StringFixed(billing.MoneyScale)))
	pdf.Ln(8)

	headers := []struct {
		title string
		width float64
	}{
		{"Unit", 25}, {"Previous", 27}, {"Current", 27}, {"Consumption", 27},
		{"Individual", 28}, {"Common area", 28}, {"Total", 28},
	}
	pdf.SetFont("Arial", "B", 9)
	for _, h := range headers {
		pdf.CellFormat(h.width, 6, h.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range reading.Entries() {
		if entry.Result == nil {
			continue
		}
		res := entry.Result
		cells := []string{
			entry.UnitID,
			res.PreviousReading.String(),
			entry.Reading.String(),
			res.Consumption.String(),
			res.IndividualCost.StringFixed(billing.MoneyScale),
			res.CommonAreaCost.StringFixed(billing.MoneyScale),
			res.TotalCost.StringFixed(billing.MoneyScale),
		}
		for i, cell := range cells {
			align := "R"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(headers[i].width, 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingXLSX renders the period statement of a closed reading as a workbook.
func BuildReadingXLSX(reading *billing.MeterReading) ([]byte, error) {
	totals, err := closedTotals(reading)
	if err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	summarySheet := "summary"
	unitsSheet := "units"
	_ = f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(unitsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Condo", reading.CondoID()},
		{"Reading", reading.ID()},
		{"Date", reading.Date().Format(billing.DateLayout)},
		{"Total Reading (m3)", totals.TotalReading.InexactFloat64()},
		{"Total Cost", totals.TotalCost.InexactFloat64()},
		{"Units Consumption (m3)", totals.TotalUnitConsumption.InexactFloat64()},
		{"Common Area Consumption (m3)", totals.CommonAreaConsumption.InexactFloat64()},
		{"Cost per m3", totals.CostPerUnit.InexactFloat64()},
		{"Common Area Cost per Unit", totals.CommonAreaCostPerUnit.InexactFloat64()},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Water Consumption Statement")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	for i, title := range []string{"Unit", "Previous Reading", "Reading", "Consumption", "Individual Cost", "Common Area Cost", "Total Cost"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(unitsSheet, cell, title)
	}
	row := 2
	for _, entry := range reading.Entries() {
		if entry.Result == nil {
			continue
		}
		res := entry.Result
		values := []any{
			entry.UnitID,
			res.PreviousReading.InexactFloat64(),
			entry.Reading.InexactFloat64(),
			res.Consumption.InexactFloat64(),
			res.IndividualCost.InexactFloat64(),
			res.CommonAreaCost.InexactFloat64(),
			res.TotalCost.InexactFloat64(),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(unitsSheet, cell, value)
		}
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
