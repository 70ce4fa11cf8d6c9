// Package extract reduces scraped tracking results to the delimited field
// string written back into source spreadsheets.
package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Delimiter separates writeback fields. Full-width bars survive round-trips
// through spreadsheet cells that contain ordinary pipes in status text.
const Delimiter = "｜｜｜"

// Join renders writeback fields as a single cell value.
func Join(fields []string) string {
	trimmed := make([]string, len(fields))
	for i, f := range fields {
		trimmed[i] = strings.TrimSpace(f)
	}
	return strings.Join(trimmed, Delimiter)
}

// Split is the inverse of Join.
func Split(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, Delimiter)
}

// LatestRow returns the last row that has at least one non-empty cell.
// Carrier status tables list events oldest first, so the last populated row
// is the current state of the parcel.
func LatestRow(rows [][]string) []string {
	for i := len(rows) - 1; i >= 0; i-- {
		for _, cell := range rows[i] {
			if strings.TrimSpace(cell) != "" {
				return rows[i]
			}
		}
	}
	return nil
}

// ParseYamatoPage pulls the latest tracking event from a Yamato tracking
// page. The result fields are date, time and status text.
func ParseYamatoPage(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse yamato page: %w", err)
	}

	var rows [][]string
	doc.Find(".tracking-invoice-block-detail ol li").Each(func(_ int, sel *goquery.Selection) {
		item := strings.TrimSpace(sel.Find(".item").Text())
		date := strings.TrimSpace(sel.Find(".date").Text())
		name := strings.TrimSpace(sel.Find(".name").Text())
		if item == "" && date == "" {
			return
		}
		rows = append(rows, []string{date, item, name})
	})

	latest := LatestRow(rows)
	if latest == nil {
		return nil, fmt.Errorf("parse yamato page: no tracking events found")
	}
	return latest, nil
}

// ParseJapanPostPage pulls the latest tracking event from a Japan Post
// tracking page. Events live in tableType01 rows of date, status, detail and
// office columns.
func ParseJapanPostPage(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse japan post page: %w", err)
	}

	var rows [][]string
	doc.Find("table.tableType01 tr").Each(func(_ int, sel *goquery.Selection) {
		var cells []string
		sel.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})

	latest := LatestRow(rows)
	if latest == nil {
		return nil, fmt.Errorf("parse japan post page: no tracking events found")
	}
	return latest, nil
}
