package devbackend

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"prodcount/internal/backend"
)

// SheetName is the worksheet that holds the exported records.
const SheetName = "Production"

var header = []any{"Date", "Time", "Shift", "Line", "Product", "Operator", "Good Count", "Defects", "Notes"}

// buildWorkbook lays out one row per record under a bold header, followed by
// a totals row for the two counts.
func buildWorkbook(recs []backend.Record) (*excelize.File, error) {
	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	var good, defects int
	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{r.Date, r.Time, r.Shift, r.Line, r.Product, r.Operator, r.Count, r.Defects, r.Notes}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
		good += r.Count
		defects += r.Defects
	}

	totalRow := len(recs) + 2
	cell, err := excelize.CoordinatesToCellName(1, totalRow)
	if err != nil {
		return nil, err
	}
	totals := []any{"Total", nil, nil, nil, nil, nil, good, defects}
	if err := f.SetSheetRow(SheetName, cell, &totals); err != nil {
		return nil, fmt.Errorf("write totals: %w", err)
	}
	if err := f.SetRowStyle(SheetName, totalRow, totalRow, bold); err != nil {
		return nil, fmt.Errorf("style totals: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "I", 14); err != nil {
		return nil, fmt.Errorf("column width: %w", err)
	}

	ok = true
	return f, nil
}
