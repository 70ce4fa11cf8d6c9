// Package importer parses tracking spreadsheets into scrape job seeds.
package importer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column indices for tracking spreadsheets (0-based).
const (
	colTrackingNo = 0 // Column A
	colURL        = 1 // Column B
	colResult     = 2 // Column C, written by the writeback pass

	headerRowIndex = 1 // Excel rows are 1-based, header is row 1
)

// TrackingRow is a parsed data row from a tracking spreadsheet.
type TrackingRow struct {
	Row            int // Excel row number (for error reporting)
	Index          int // zero-based data-row index, keyed to writeback
	TrackingNumber string
	URL            string
	Result         string // existing column C content, if any
}

// ImportError describes a rejected row.
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ValidateRow validates a single row and returns an error message or empty string.
func ValidateRow(row TrackingRow) string {
	if strings.TrimSpace(row.URL) == "" {
		return "url is required"
	}
	if !strings.HasPrefix(row.URL, "http://") && !strings.HasPrefix(row.URL, "https://") {
		return "url must start with http:// or https://"
	}
	return ""
}

// ParseWorkbook reads the first sheet of a tracking workbook and returns the
// valid rows plus per-row errors. Blank rows are skipped without an error;
// rows with content but no usable URL are reported. Row indices are assigned
// by sheet position so skipped rows keep their gap.
func ParseWorkbook(content []byte) ([]TrackingRow, []ImportError, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var (
		parsed []TrackingRow
		errs   []ImportError
	)
	for i, cells := range rows {
		excelRow := i + 1
		if excelRow <= headerRowIndex {
			continue
		}
		row := TrackingRow{
			Row:            excelRow,
			Index:          excelRow - headerRowIndex - 1,
			TrackingNumber: cellAt(cells, colTrackingNo),
			URL:            cellAt(cells, colURL),
			Result:         cellAt(cells, colResult),
		}
		if row.TrackingNumber == "" && row.URL == "" {
			continue
		}
		if msg := ValidateRow(row); msg != "" {
			errs = append(errs, ImportError{Row: excelRow, Error: msg})
			continue
		}
		parsed = append(parsed, row)
	}
	return parsed, errs, nil
}

func cellAt(cells []string, col int) string {
	if col >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[col])
}
