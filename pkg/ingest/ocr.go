package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/inventory"
)

// ErrNoMeasurements is returned when OCR finds no edge gap lines.
var ErrNoMeasurements = errors.New("no measurements found in image")

// PageSegModes are the tesseract layouts tried on every image.
var PageSegModes = []int{3, 4, 6, 11, 12}

// DefaultUnit is assumed when a line carries no unit.
const DefaultUnit = "um"

// Measurement bag keys written for OCR results.
const (
	KeyEdgeGapMean   = "edge_gap_mean"
	KeyEdgeGapMin    = "edge_gap_min"
	KeyEdgeGapMax    = "edge_gap_max"
	KeyEdgeGapCount  = "edge_gap_count"
	KeyEdgeGapUnit   = "edge_gap_unit"
	KeyEdgeGapValues = "edge_gap_values"
	KeyOCRRawText    = "ocr_raw_text"
)

// TextExtractor turns an image into text using one page segmentation mode.
type TextExtractor interface {
	ExtractText(ctx context.Context, imagePath string, psm int) (string, error)
}

// TesseractExtractor shells out to the tesseract binary.
type TesseractExtractor struct {
	Path    string
	Timeout time.Duration
}

// NewTesseractExtractor builds an extractor from the ocr config block.
func NewTesseractExtractor(cfg config.OCRConfig) *TesseractExtractor {
	path := cfg.TesseractPath
	if path == "" {
		path = "tesseract"
	}
	return &TesseractExtractor{Path: path, Timeout: cfg.Timeout}
}

// Available reports whether the binary can be found.
func (t *TesseractExtractor) Available() bool {
	_, err := exec.LookPath(t.Path)
	return err == nil
}

// ExtractText runs `tesseract <image> stdout --psm <n>`.
func (t *TesseractExtractor) ExtractText(ctx context.Context, imagePath string, psm int) (string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Path, imagePath, "stdout", "--psm", strconv.Itoa(psm))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tesseract psm %d: %w: %s", psm, err, msg)
		}
		return "", fmt.Errorf("tesseract psm %d: %w", psm, err)
	}
	return stdout.String(), nil
}

// EdgeMeasurement is one line of a "Measure Result" dialog.
type EdgeMeasurement struct {
	Number int     `json:"number"`
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

var (
	numberedGap = regexp.MustCompile(`(?i)(\d+):?\s+(\d+\s*Points?)\s+([\d.]+)\s*(um|μm|mm|nm)?`)
	// The leading group stands in for "not preceded by a digit".
	bareGap = regexp.MustCompile(`(?i)(?:^|[^\d])(\d+\s*Points?)\s+([\d.]+)\s*(um|μm|mm|nm)?`)
)

func unitOr(u string) string {
	if u == "" {
		return DefaultUnit
	}
	return u
}

// ParseEdgeGaps pulls "<n>: <k> Points <value> <unit>" lines out of OCR
// text. Numbered lines are kept once per number; lines whose number was
// lost to OCR are appended when their value was not already seen and get
// the next free numbers. The result is sorted by number.
func ParseEdgeGaps(text string) []EdgeMeasurement {
	var out []EdgeMeasurement
	numbers := map[int]bool{}
	values := map[float64]bool{}

	for _, m := range numberedGap.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		values[v] = true
		if numbers[n] {
			continue
		}
		numbers[n] = true
		out = append(out, EdgeMeasurement{Number: n, Type: strings.TrimSpace(m[2]), Value: v, Unit: unitOr(m[4])})
	}

	next := len(out) + 1
	for _, m := range bareGap.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil || values[v] {
			continue
		}
		for numbers[next] {
			next++
		}
		numbers[next] = true
		values[v] = true
		out = append(out, EdgeMeasurement{Number: next, Type: strings.TrimSpace(m[1]), Value: v, Unit: unitOr(m[3])})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// EdgeSummary aggregates a set of measurements.
type EdgeSummary struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
	Unit  string  `json:"unit"`
}

// Summarize returns nil for an empty slice. The mean is rounded to two
// decimals and the unit is taken from the first measurement.
func Summarize(ms []EdgeMeasurement) *EdgeSummary {
	if len(ms) == 0 {
		return nil
	}
	s := &EdgeSummary{Min: ms[0].Value, Max: ms[0].Value, Count: len(ms), Unit: ms[0].Unit}
	var sum float64
	for _, m := range ms {
		sum += m.Value
		s.Min = math.Min(s.Min, m.Value)
		s.Max = math.Max(s.Max, m.Value)
	}
	s.Mean = math.Round(sum/float64(len(ms))*100) / 100
	return s
}

// Analysis is the outcome of reading one or more screenshots.
type Analysis struct {
	Measurements []EdgeMeasurement `json:"measurements"`
	Summary      *EdgeSummary      `json:"summary,omitempty"`
	RawText      string            `json:"rawText,omitempty"`
}

// ExtractEdgeMeasurements runs every page segmentation mode and keeps the
// one that yields the most measurements. A mode that fails is skipped;
// the last failure is reported only when nothing was found.
func ExtractEdgeMeasurements(ctx context.Context, ex TextExtractor, imagePath string) (*Analysis, error) {
	best := &Analysis{}
	var lastErr error
	for _, psm := range PageSegModes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := ex.ExtractText(ctx, imagePath, psm)
		if err != nil {
			lastErr = err
			continue
		}
		if ms := ParseEdgeGaps(text); len(ms) > len(best.Measurements) {
			best = &Analysis{Measurements: ms, RawText: text}
		}
	}
	if len(best.Measurements) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoMeasurements, lastErr)
		}
		return nil, ErrNoMeasurements
	}
	best.Summary = Summarize(best.Measurements)
	return best, nil
}

// ExtractFromImages analyzes several screenshots of the same test and
// summarizes every measurement together. Images without measurements are
// counted in failed.
func ExtractFromImages(ctx context.Context, ex TextExtractor, imagePaths []string) (combined *Analysis, failed int, err error) {
	combined = &Analysis{}
	var texts []string
	for _, p := range imagePaths {
		a, err := ExtractEdgeMeasurements(ctx, ex, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, failed, ctxErr
			}
			failed++
			continue
		}
		combined.Measurements = append(combined.Measurements, a.Measurements...)
		texts = append(texts, a.RawText)
	}
	if len(combined.Measurements) == 0 {
		return nil, failed, ErrNoMeasurements
	}
	combined.Summary = Summarize(combined.Measurements)
	combined.RawText = strings.Join(texts, "\n")
	return combined, failed, nil
}

// MeasurementsFromOCR converts an analysis into the bag stored on a test.
func MeasurementsFromOCR(a *Analysis) inventory.Bag {
	bag := inventory.Bag{}
	if a == nil {
		return bag
	}
	if s := a.Summary; s != nil {
		bag[KeyEdgeGapMean] = inventory.Number(s.Mean)
		bag[KeyEdgeGapMin] = inventory.Number(s.Min)
		bag[KeyEdgeGapMax] = inventory.Number(s.Max)
		bag[KeyEdgeGapCount] = inventory.Number(float64(s.Count))
		bag[KeyEdgeGapUnit] = inventory.String(s.Unit)
	}
	if len(a.Measurements) > 0 {
		vals := make([]float64, len(a.Measurements))
		for i, m := range a.Measurements {
			vals[i] = m.Value
		}
		bag[KeyEdgeGapValues] = inventory.Numbers(vals...)
	}
	if a.RawText != "" {
		bag[KeyOCRRawText] = inventory.String(a.RawText)
	}
	return bag
}

// OCRAnalyzer adapts a TextExtractor to the analysis job worker.
type OCRAnalyzer struct {
	Extractor TextExtractor
	Logger    *zap.Logger
}

// Analyze extracts edge gaps from imagePath and returns the measurement bag.
func (a *OCRAnalyzer) Analyze(ctx context.Context, imagePath string) (inventory.Bag, error) {
	res, err := ExtractEdgeMeasurements(ctx, a.Extractor, imagePath)
	if err != nil {
		return nil, err
	}
	if a.Logger != nil {
		a.Logger.Debug("edge gaps extracted",
			zap.String("image", imagePath),
			zap.Int("count", res.Summary.Count),
			zap.Float64("mean", res.Summary.Mean))
	}
	return MeasurementsFromOCR(res), nil
}
