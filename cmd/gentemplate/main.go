// Command gentemplate generates an example tracking spreadsheet for each
// pipeline. Usage: go run cmd/gentemplate/main.go
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
)

func main() {
	if err := os.MkdirAll("examples", 0755); err != nil {
		log.Fatal(err)
	}

	for _, kind := range pipeline.Kinds() {
		cfg := kind.Config()
		if !cfg.NeedsDocument {
			continue
		}
		path := fmt.Sprintf("examples/%s-template.xlsx", cfg.FilenamePrefix)
		if err := writeTemplate(path, kind); err != nil {
			log.Fatal(err)
		}
		log.Printf("Created %s", path)
	}
}

func writeTemplate(path string, kind pipeline.Kind) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	headers := []string{"tracking_number", "url", "result"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	example := []string{
		"123456789012",
		"https://trackings.example.com/parcel/123456789012",
		"",
	}
	for i, v := range example {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}

	// Instructions sheet
	if _, err := f.NewSheet("Instructions"); err != nil {
		return err
	}
	instructions := []string{
		fmt.Sprintf("Template for the %s pipeline.", kind.Config().DisplayName),
		"",
		"tracking_number - Optional. The carrier tracking number for the row",
		"url - Required. Tracking page URL to scrape (must start with http:// or https://)",
		"result - Leave empty. Filled in by the writeback pass",
		"",
		"Row 1 is the header; data rows start at row 2.",
	}
	for i, line := range instructions {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue("Instructions", cell, line); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}
