// Package report builds the sensor summary plots served by the dashboard
// and written by svtctl.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/hps-svt/tracker/pkg/inventory"
)

// Sensor attributes plotted by the cleaving and leakage reports.
const (
	AttrCentreDistance = "Centre distance to the cleaving path (µm)"
	AttrEdgeADistance  = "EDGE A distance to the cleaving path (µm)"
	AttrEdgeBDistance  = "EDGE B distance to the cleaving path (µm)"
	AttrLeakageWafer   = "L.C. @ 100V on wafer (A/cm2)"
	AttrLeakageCleaved = "L.C. @ 100V cleaved (A/cm2)"
)

// EdgeImagingTest is the test type whose results feed the edge reports.
const EdgeImagingTest = "edge_imaging"

// Source is the read side of the inventory used by reports.
type Source interface {
	ListComponents(ctx context.Context, f inventory.ListFilter) ([]inventory.Component, error)
	LatestTestOfType(ctx context.Context, componentID, testType string) (*inventory.TestResult, error)
}

// EdgeRow is the latest edge imaging result of one sensor.
type EdgeRow struct {
	SensorID string    `json:"sensorId"`
	TestID   uint      `json:"testId"`
	Mean     float64   `json:"mean"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	TestDate time.Time `json:"testDate"`
	PassFail *bool     `json:"passFail"`
}

// CleavingRow holds the three cleaving path distances of a sensor.
type CleavingRow struct {
	SensorID string   `json:"sensorId"`
	Centre   *float64 `json:"centre"`
	EdgeA    *float64 `json:"edgeA"`
	EdgeB    *float64 `json:"edgeB"`
}

// LeakageRow holds the 100V leakage currents of a sensor.
type LeakageRow struct {
	SensorID string   `json:"sensorId"`
	Wafer    *float64 `json:"wafer"`
	Cleaved  *float64 `json:"cleaved"`
}

func sensors(ctx context.Context, src Source) ([]inventory.Component, error) {
	list, err := src.ListComponents(ctx, inventory.ListFilter{Type: inventory.TypeSensor})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// numericAttr returns an attribute as a number. Text that parses as a
// number counts; anything else is treated as missing.
func numericAttr(c *inventory.Component, key string) *float64 {
	v, ok := c.Attribute(key)
	if !ok {
		return nil
	}
	f, ok := v.Float()
	if !ok {
		return nil
	}
	return &f
}

// EdgeImagingData returns one row per sensor whose latest edge imaging test
// carries edge_gap_mean. Missing min or max fall back to the mean.
func EdgeImagingData(ctx context.Context, src Source) ([]EdgeRow, error) {
	list, err := sensors(ctx, src)
	if err != nil {
		return nil, err
	}
	var rows []EdgeRow
	for i := range list {
		t, err := src.LatestTestOfType(ctx, list[i].ID, EdgeImagingTest)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		mean, ok := t.Measurements["edge_gap_mean"].Scalar()
		if !ok {
			continue
		}
		row := EdgeRow{SensorID: list[i].ID, TestID: t.ID, Mean: mean, Min: mean, Max: mean, TestDate: t.TestDate, PassFail: t.PassFail}
		if v, ok := t.Measurements["edge_gap_min"].Scalar(); ok {
			row.Min = v
		}
		if v, ok := t.Measurements["edge_gap_max"].Scalar(); ok {
			row.Max = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CleavingData returns sensors with at least one cleaving distance.
func CleavingData(ctx context.Context, src Source) ([]CleavingRow, error) {
	list, err := sensors(ctx, src)
	if err != nil {
		return nil, err
	}
	var rows []CleavingRow
	for i := range list {
		row := CleavingRow{
			SensorID: list[i].ID,
			Centre:   numericAttr(&list[i], AttrCentreDistance),
			EdgeA:    numericAttr(&list[i], AttrEdgeADistance),
			EdgeB:    numericAttr(&list[i], AttrEdgeBDistance),
		}
		if row.Centre == nil && row.EdgeA == nil && row.EdgeB == nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LeakageData returns sensors with at least one leakage current value.
func LeakageData(ctx context.Context, src Source) ([]LeakageRow, error) {
	list, err := sensors(ctx, src)
	if err != nil {
		return nil, err
	}
	var rows []LeakageRow
	for i := range list {
		row := LeakageRow{
			SensorID: list[i].ID,
			Wafer:    numericAttr(&list[i], AttrLeakageWafer),
			Cleaved:  numericAttr(&list[i], AttrLeakageCleaved),
		}
		if row.Wafer == nil && row.Cleaved == nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
