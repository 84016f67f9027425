package parser

import (
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/exslim-go/pkg/exslim/models"
)

// ReadCells returns the non-empty rows of a sheet as cached values, which is
// what a reader sees without recalculating.
func ReadCells(f *excelize.File, sheetName string) ([]models.CellRow, error) {
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, err
	}

	var result []models.CellRow
	for rowIdx, row := range rows {
		cells := make(map[string]interface{})
		for colIdx, value := range row {
			if value == "" {
				continue
			}
			cells[strconv.Itoa(colIdx+1)] = parseValue(value)
		}
		if len(cells) > 0 {
			result = append(result, models.CellRow{R: rowIdx + 1, C: cells})
		}
	}

	return result, nil
}

// parseValue returns int64 for integers, float64 for decimals, or the string.
func parseValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
