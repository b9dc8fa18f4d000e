package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Report names accepted by Render.
const (
	EdgeImagingSummary = "edge-imaging-summary"
	EdgeImagingMinMax  = "edge-imaging-minmax"
	CleavingDistance   = "cleaving-distance"
	LeakageCurrent     = "leakage-current"
)

// ErrUnknownReport is returned by Render for names outside Names.
var ErrUnknownReport = errors.New("unknown report")

// Names lists every report in dashboard order.
var Names = []string{EdgeImagingSummary, EdgeImagingMinMax, CleavingDistance, LeakageCurrent}

var (
	blue   = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	orange = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	green  = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	red    = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// seriesOffset spreads series sharing a sensor column.
const seriesOffset = 0.1

// Render draws the named report as a PNG and returns its data rows.
func Render(ctx context.Context, src Source, name string) ([]byte, any, error) {
	switch name {
	case EdgeImagingSummary:
		return EdgeImagingSummaryPNG(ctx, src)
	case EdgeImagingMinMax:
		return EdgeImagingMinMaxPNG(ctx, src)
	case CleavingDistance:
		return CleavingDistancePNG(ctx, src)
	case LeakageCurrent:
		return LeakageCurrentPNG(ctx, src)
	}
	return nil, nil, fmt.Errorf("%w %q", ErrUnknownReport, name)
}

// EdgeImagingSummaryPNG plots each sensor's latest edge gap mean with error
// bars spanning min to max.
func EdgeImagingSummaryPNG(ctx context.Context, src Source) ([]byte, any, error) {
	rows, err := EdgeImagingData(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	p, labels := newSensorPlot("Edge Imaging Results by Sensor", "Edge Gap (um)", edgeLabels(rows))
	if len(rows) == 0 {
		return renderEmpty(p, "No edge imaging data available", rows)
	}

	pts := errorPoints{XYs: make(plotter.XYs, len(rows)), YErrors: make(plotter.YErrors, len(rows))}
	for i, r := range rows {
		pts.XYs[i] = plotter.XY{X: float64(i), Y: r.Mean}
		pts.YErrors[i].Low = r.Mean - r.Min
		pts.YErrors[i].High = r.Max - r.Mean
	}
	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return nil, nil, fmt.Errorf("error bars: %w", err)
	}
	bars.Color = blue
	means, err := newScatter(pts.XYs, draw.CircleGlyph{}, blue)
	if err != nil {
		return nil, nil, err
	}
	p.Add(bars, means)
	p.Legend.Add("Mean (min to max)", means)
	return render(p, labels, rows)
}

// EdgeImagingMinMaxPNG plots each sensor's latest edge gap min and max.
func EdgeImagingMinMaxPNG(ctx context.Context, src Source) ([]byte, any, error) {
	rows, err := EdgeImagingData(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	p, labels := newSensorPlot("Edge Imaging Min/Max Values by Sensor", "Edge Gap (um)", edgeLabels(rows))
	if len(rows) == 0 {
		return renderEmpty(p, "No edge imaging data available", rows)
	}

	mins := make(plotter.XYs, len(rows))
	maxs := make(plotter.XYs, len(rows))
	for i, r := range rows {
		mins[i] = plotter.XY{X: float64(i), Y: r.Min}
		maxs[i] = plotter.XY{X: float64(i), Y: r.Max}
	}
	if err := addSeries(p, "Min", mins, draw.TriangleGlyph{}, green); err != nil {
		return nil, nil, err
	}
	if err := addSeries(p, "Max", maxs, draw.PyramidGlyph{}, red); err != nil {
		return nil, nil, err
	}
	return render(p, labels, rows)
}

// CleavingDistancePNG plots the three cleaving path distances per sensor.
func CleavingDistancePNG(ctx context.Context, src Source) ([]byte, any, error) {
	rows, err := CleavingData(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.SensorID
	}
	p, labels := newSensorPlot("Cleaving Path Distances by Sensor", "Distance to Cleaving Path (µm)", ids)
	if len(rows) == 0 {
		return renderEmpty(p, "No cleaving distance data available", rows)
	}

	var centre, edgeA, edgeB plotter.XYs
	for i, r := range rows {
		x := float64(i)
		if r.Centre != nil {
			centre = append(centre, plotter.XY{X: x - seriesOffset, Y: *r.Centre})
		}
		if r.EdgeA != nil {
			edgeA = append(edgeA, plotter.XY{X: x, Y: *r.EdgeA})
		}
		if r.EdgeB != nil {
			edgeB = append(edgeB, plotter.XY{X: x + seriesOffset, Y: *r.EdgeB})
		}
	}
	for _, s := range []struct {
		name  string
		xys   plotter.XYs
		glyph draw.GlyphDrawer
		color color.Color
	}{
		{"Centre", centre, draw.CircleGlyph{}, blue},
		{"EDGE A", edgeA, draw.SquareGlyph{}, orange},
		{"EDGE B", edgeB, draw.TriangleGlyph{}, green},
	} {
		if len(s.xys) == 0 {
			continue
		}
		if err := addSeries(p, s.name, s.xys, s.glyph, s.color); err != nil {
			return nil, nil, err
		}
	}
	return render(p, labels, rows)
}

// LeakageCurrentPNG plots the on-wafer and cleaved leakage currents.
func LeakageCurrentPNG(ctx context.Context, src Source) ([]byte, any, error) {
	rows, err := LeakageData(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.SensorID
	}
	p, labels := newSensorPlot("Leakage Current by Sensor", "Leakage Current @ 100V (A/cm²)", ids)
	if len(rows) == 0 {
		return renderEmpty(p, "No leakage current data available", rows)
	}

	var wafer, cleaved plotter.XYs
	for i, r := range rows {
		x := float64(i)
		if r.Wafer != nil {
			wafer = append(wafer, plotter.XY{X: x - seriesOffset, Y: *r.Wafer})
		}
		if r.Cleaved != nil {
			cleaved = append(cleaved, plotter.XY{X: x + seriesOffset, Y: *r.Cleaved})
		}
	}
	if len(wafer) > 0 {
		if err := addSeries(p, "On Wafer", wafer, draw.CircleGlyph{}, blue); err != nil {
			return nil, nil, err
		}
	}
	if len(cleaved) > 0 {
		if err := addSeries(p, "Cleaved", cleaved, draw.SquareGlyph{}, orange); err != nil {
			return nil, nil, err
		}
	}
	return render(p, labels, rows)
}

// errorPoints feeds plotter.NewYErrorBars.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

func edgeLabels(rows []EdgeRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.SensorID
	}
	return ids
}

func newSensorPlot(title, yLabel string, ids []string) (*plot.Plot, []string) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Sensor ID"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(grid)
	return p, ids
}

func newScatter(xys plotter.XYs, glyph draw.GlyphDrawer, c color.Color) (*plotter.Scatter, error) {
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}
	s.GlyphStyle.Shape = glyph
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(4)
	return s, nil
}

func addSeries(p *plot.Plot, name string, xys plotter.XYs, glyph draw.GlyphDrawer, c color.Color) error {
	s, err := newScatter(xys, glyph, c)
	if err != nil {
		return err
	}
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

// size grows the canvas with the number of sensors.
func size(n int) (vg.Length, vg.Length) {
	w := math.Max(10, float64(n)*0.8)
	return vg.Length(w) * vg.Inch, 6 * vg.Inch
}

func render(p *plot.Plot, labels []string, rows any) ([]byte, any, error) {
	p.NominalX(labels...)
	p.X.Min = -0.5
	p.X.Max = float64(len(labels)) - 0.5
	return encode(p, len(labels), rows)
}

func renderEmpty(p *plot.Plot, msg string, rows any) ([]byte, any, error) {
	p.Title.Text = msg
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.HideAxes()
	return encode(p, 0, rows)
}

func encode(p *plot.Plot, n int, rows any) ([]byte, any, error) {
	w, h := size(n)
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, nil, fmt.Errorf("render png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), rows, nil
}
