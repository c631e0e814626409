package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet as a header row followed by data rows.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadSheets returns the non-empty worksheets of an xlsx workbook in tab order.
func ReadSheets(content []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		sheets = append(sheets, Sheet{Name: name, Rows: rows})
	}
	return sheets, nil
}
