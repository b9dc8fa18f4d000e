// Package ingest moves component data in and out of the tracker: sensor
// spreadsheets, XLSX inventory exports, and OCR of microscope screenshots.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hps-svt/tracker/pkg/inventory"
)

// Table is a header row plus data rows read from a spreadsheet.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of a header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

func newTable(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("spreadsheet is empty")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	t := &Table{Header: header}
	for _, rec := range records[1:] {
		if blankRow(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func blankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadCSV reads a comma separated sheet. Quoted cells may contain commas.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return newTable(records)
}

// ReadXLSX reads the named sheet, or the first sheet when sheet is empty.
func ReadXLSX(r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return newTable(rows)
}

// ReadFile picks the reader by extension: .xlsx and .xlsm go through
// excelize, everything else is treated as CSV.
func ReadFile(name string, r io.Reader, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, sheet)
	}
	return ReadCSV(r)
}

// ParseCell converts a spreadsheet cell. Empty cells and #VALUE! are null,
// text starting with '>' (a bound such as ">1e-05") stays text, anything
// that parses as a number is a number, and the rest is text.
func ParseCell(s string) inventory.Value {
	s = strings.TrimSpace(s)
	switch {
	case s == "", s == "#VALUE!":
		return inventory.Null()
	case strings.HasPrefix(s, ">"):
		return inventory.String(s)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return inventory.Number(f)
	}
	return inventory.String(s)
}
