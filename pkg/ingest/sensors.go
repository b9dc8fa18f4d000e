package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/inventory"
)

// Spreadsheet columns with a fixed meaning.
const (
	ColWafer  = "Wafer"
	ColSensor = "Sensor"

	AttrOriginalWafer  = "Original Wafer"
	AttrOriginalSensor = "Original Sensor"
)

// DefaultYearSuffix ends generated sensor ids.
const DefaultYearSuffix = "2025"

// SensorRow is one parsed spreadsheet row.
type SensorRow struct {
	Line       int
	ID         string
	Wafer      string
	Sensor     string
	Attributes inventory.Bag
}

// ParseSensors turns a sheet into sensor rows. An empty Wafer cell
// inherits the wafer of the row above, and '*' markers are stripped from
// sensor names. Rows that still lack a wafer or sensor come back in skipped.
func ParseSensors(t *Table, yearSuffix string) (rows []SensorRow, skipped []RowError, err error) {
	wi, si := t.Column(ColWafer), t.Column(ColSensor)
	if wi < 0 || si < 0 {
		return nil, nil, fmt.Errorf("spreadsheet needs %q and %q columns", ColWafer, ColSensor)
	}
	if yearSuffix == "" {
		yearSuffix = DefaultYearSuffix
	}

	var wafer string
	for n, rec := range t.Rows {
		line := n + 2
		cell := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		if w := cell(wi); w != "" {
			wafer = w
		}
		sensor := strings.ReplaceAll(cell(si), "*", "")
		if wafer == "" || sensor == "" {
			skipped = append(skipped, RowError{Line: line, Message: "missing wafer or sensor"})
			continue
		}

		attrs := inventory.Bag{}
		for i, h := range t.Header {
			if i == wi || i == si || h == "" {
				continue
			}
			if v := ParseCell(cell(i)); !v.IsNull() {
				attrs[h] = v
			}
		}
		attrs[AttrOriginalWafer] = inventory.String(wafer)
		attrs[AttrOriginalSensor] = inventory.String(sensor)

		rows = append(rows, SensorRow{
			Line:       line,
			ID:         fmt.Sprintf("%s-%s-%s", wafer, sensor, yearSuffix),
			Wafer:      wafer,
			Sensor:     sensor,
			Attributes: attrs,
		})
	}
	return rows, skipped, nil
}

// SensorStore is the part of the inventory the importer writes through.
type SensorStore interface {
	GetComponent(ctx context.Context, id string) (*inventory.Component, error)
	CreateComponent(ctx context.Context, c *inventory.Component) error
	UpdateAttributes(ctx context.Context, id string, attrs inventory.Bag) (*inventory.Component, error)
}

// ImportOptions control ImportSensors.
type ImportOptions struct {
	DryRun       bool
	YearSuffix   string
	Manufacturer string
	Logger       *zap.Logger
}

// RowError reports a row that could not be imported.
type RowError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// RowAction is what happened, or would happen in a dry run, to one row.
type RowAction struct {
	Line       int    `json:"line"`
	ID         string `json:"id"`
	Action     string `json:"action"`
	Attributes int    `json:"attributes"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	DryRun  bool        `json:"dryRun"`
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Skipped int         `json:"skipped"`
	Actions []RowAction `json:"actions"`
	Errors  []RowError  `json:"errors,omitempty"`
}

// ImportSensors creates a sensor for every new id and merges the row's
// attributes into sensors that already exist. A failing row is recorded
// and the import moves on.
func ImportSensors(ctx context.Context, store SensorStore, t *Table, opts ImportOptions) (*ImportResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	manufacturer := opts.Manufacturer
	if manufacturer == "" {
		manufacturer = "CNM"
	}

	rows, skipped, err := ParseSensors(t, opts.YearSuffix)
	if err != nil {
		return nil, err
	}
	res := &ImportResult{DryRun: opts.DryRun, Skipped: len(skipped), Errors: skipped}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := store.GetComponent(ctx, row.ID)
		exists := err == nil
		if err != nil && !errors.Is(err, inventory.ErrNotFound) {
			res.Errors = append(res.Errors, RowError{Line: row.Line, ID: row.ID, Message: err.Error()})
			continue
		}

		action := RowAction{Line: row.Line, ID: row.ID, Attributes: len(row.Attributes)}
		switch {
		case exists && !opts.DryRun:
			if _, err := store.UpdateAttributes(ctx, row.ID, row.Attributes); err != nil {
				res.Errors = append(res.Errors, RowError{Line: row.Line, ID: row.ID, Message: err.Error()})
				continue
			}
			fallthrough
		case exists:
			action.Action = "update"
			res.Updated++
		case !opts.DryRun:
			c := &inventory.Component{
				ID:                 row.ID,
				Type:               inventory.TypeSensor,
				InstallationStatus: inventory.StatusIncoming,
				Manufacturer:       manufacturer,
				Attributes:         row.Attributes,
			}
			if err := store.CreateComponent(ctx, c); err != nil {
				res.Errors = append(res.Errors, RowError{Line: row.Line, ID: row.ID, Message: err.Error()})
				continue
			}
			fallthrough
		default:
			action.Action = "create"
			res.Created++
		}
		res.Actions = append(res.Actions, action)
	}

	log.Info("sensor import finished",
		zap.Bool("dryRun", opts.DryRun),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)-len(skipped)))
	return res, nil
}
