package ingest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hps-svt/tracker/pkg/inventory"
)

// ExportSheet is the worksheet name used by ExportComponents.
const ExportSheet = "Inventory"

// exportColumns are written before the attribute columns.
var exportColumns = []struct {
	header string
	width  float64
	value  func(c *inventory.Component) any
}{
	{"ID", 24, func(c *inventory.Component) any { return c.ID }},
	{"Type", 14, func(c *inventory.Component) any { return c.Type.DisplayName() }},
	{"Serial Number", 24, func(c *inventory.Component) any { return c.SerialNumber }},
	{"Status", 12, func(c *inventory.Component) any { return string(c.InstallationStatus) }},
	{"Location", 20, func(c *inventory.Component) any { return c.CurrentLocation }},
	{"Position", 16, func(c *inventory.Component) any { return c.Position() }},
	{"Manufacturer", 16, func(c *inventory.Component) any { return c.Manufacturer }},
	{"Assembled Sensor", 24, func(c *inventory.Component) any { return deref(c.AssembledSensorID) }},
	{"Assembled Hybrid", 24, func(c *inventory.Component) any { return deref(c.AssembledHybridID) }},
	{"Notes", 30, func(c *inventory.Component) any { return c.Notes }},
	{"Created", 20, func(c *inventory.Component) any { return c.CreatedAt.UTC().Format(time.DateTime) }},
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AttributeColumns returns the sorted union of attribute keys.
func AttributeColumns(components []inventory.Component) []string {
	seen := map[string]struct{}{}
	for _, c := range components {
		for k := range c.Attributes {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExportComponents writes components as a single-sheet workbook with a
// frozen header row. Numeric attributes stay numeric.
func ExportComponents(w io.Writer, components []inventory.Component) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ExportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	attrs := AttributeColumns(components)
	headers := make([]string, 0, len(exportColumns)+len(attrs))
	for _, col := range exportColumns {
		headers = append(headers, col.header)
	}
	headers = append(headers, attrs...)

	for i, h := range headers {
		if err := setCell(f, i+1, 1, h); err != nil {
			return err
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := 18.0
		if i < len(exportColumns) {
			width = exportColumns[i].width
		}
		if err := f.SetColWidth(ExportSheet, name, name, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(ExportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}

	for n := range components {
		c := &components[n]
		row := n + 2
		for i, col := range exportColumns {
			if v := col.value(c); v != "" {
				if err := setCell(f, i+1, row, v); err != nil {
					return err
				}
			}
		}
		for i, key := range attrs {
			v, ok := c.Attributes[key]
			if !ok || v.IsNull() {
				continue
			}
			var cell any = v.Text()
			if num, ok := v.AsNumber(); ok {
				cell = num
			}
			if err := setCell(f, len(exportColumns)+i+1, row, cell); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(ExportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(ExportSheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
