package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/inventory"
)

const dialogText = `Measure Result
1: 2 Points 120.50 um
2: 2 Points 118.25 um
3 2 Points 121 um
2: 2 Points 999 um
`

type fakeExtractor struct {
	byMode map[int]string
	err    error
	calls  []int
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ string, psm int) (string, error) {
	f.calls = append(f.calls, psm)
	if text, ok := f.byMode[psm]; ok {
		return text, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", nil
}

func TestParseEdgeGaps(t *testing.T) {
	ms := ParseEdgeGaps(dialogText)
	require.Len(t, ms, 3)

	assert.Equal(t, EdgeMeasurement{Number: 1, Type: "2 Points", Value: 120.5, Unit: "um"}, ms[0])
	assert.Equal(t, 118.25, ms[1].Value)
	assert.Equal(t, 3, ms[2].Number)
	assert.Equal(t, 121.0, ms[2].Value, "a later duplicate number is ignored")
}

func TestParseEdgeGaps_LostNumbers(t *testing.T) {
	text := "1: 2 Points 50.0 mm\nfoo 2 Points 51.5\nbar 2 Points 50.0 um\n"
	ms := ParseEdgeGaps(text)
	require.Len(t, ms, 2)
	assert.Equal(t, "mm", ms[0].Unit)
	assert.Equal(t, 2, ms[1].Number)
	assert.Equal(t, 51.5, ms[1].Value)
	assert.Equal(t, DefaultUnit, ms[1].Unit)
}

func TestParseEdgeGaps_CaseAndUnits(t *testing.T) {
	ms := ParseEdgeGaps("4: 2 POINTS 10 nm\n5: 1 point 11 μm")
	require.Len(t, ms, 2)
	assert.Equal(t, "nm", ms[0].Unit)
	assert.Equal(t, "1 point", ms[1].Type)
	assert.Equal(t, "μm", ms[1].Unit)
}

func TestParseEdgeGaps_NoMatches(t *testing.T) {
	assert.Empty(t, ParseEdgeGaps("no dialog here"))
}

func TestSummarize(t *testing.T) {
	assert.Nil(t, Summarize(nil))

	s := Summarize([]EdgeMeasurement{{Value: 1, Unit: "um"}, {Value: 2, Unit: "mm"}, {Value: 2.005, Unit: "um"}})
	require.NotNil(t, s)
	assert.Equal(t, 1.67, s.Mean)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 2.005, s.Max)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, "um", s.Unit)
}

func TestExtractEdgeMeasurements_PicksBestMode(t *testing.T) {
	ex := &fakeExtractor{byMode: map[int]string{
		3:  "1: 2 Points 5 um",
		11: dialogText,
	}}
	a, err := ExtractEdgeMeasurements(context.Background(), ex, "shot.png")
	require.NoError(t, err)
	assert.Equal(t, PageSegModes, ex.calls)
	assert.Len(t, a.Measurements, 3)
	assert.Equal(t, dialogText, a.RawText)
	require.NotNil(t, a.Summary)
	assert.Equal(t, 3, a.Summary.Count)
}

func TestExtractEdgeMeasurements_NothingFound(t *testing.T) {
	_, err := ExtractEdgeMeasurements(context.Background(), &fakeExtractor{}, "blank.png")
	assert.ErrorIs(t, err, ErrNoMeasurements)

	_, err = ExtractEdgeMeasurements(context.Background(), &fakeExtractor{err: errors.New("exit status 1")}, "blank.png")
	assert.ErrorIs(t, err, ErrNoMeasurements)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestExtractEdgeMeasurements_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExtractEdgeMeasurements(ctx, &fakeExtractor{}, "x.png")
	assert.ErrorIs(t, err, context.Canceled)
}

type pathExtractor map[string]string

func (p pathExtractor) ExtractText(_ context.Context, path string, _ int) (string, error) {
	return p[path], nil
}

func TestExtractFromImages(t *testing.T) {
	ex := pathExtractor{
		"a.png": "1: 2 Points 10 um\n2: 2 Points 20 um",
		"b.png": "1: 2 Points 30 um",
		"c.png": "unreadable",
	}
	a, failed, err := ExtractFromImages(context.Background(), ex, []string{"a.png", "b.png", "c.png"})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Len(t, a.Measurements, 3)
	assert.Equal(t, 20.0, a.Summary.Mean)

	_, failed, err = ExtractFromImages(context.Background(), ex, []string{"c.png"})
	assert.ErrorIs(t, err, ErrNoMeasurements)
	assert.Equal(t, 1, failed)
}

func TestMeasurementsFromOCR(t *testing.T) {
	assert.Empty(t, MeasurementsFromOCR(nil))

	ms := ParseEdgeGaps(dialogText)
	bag := MeasurementsFromOCR(&Analysis{Measurements: ms, Summary: Summarize(ms), RawText: dialogText})

	assert.True(t, inventory.Number(119.92).Equal(bag[KeyEdgeGapMean]))
	assert.True(t, inventory.Number(118.25).Equal(bag[KeyEdgeGapMin]))
	assert.True(t, inventory.Number(121).Equal(bag[KeyEdgeGapMax]))
	assert.True(t, inventory.Number(3).Equal(bag[KeyEdgeGapCount]))
	assert.True(t, inventory.String("um").Equal(bag[KeyEdgeGapUnit]))
	assert.True(t, inventory.Numbers(120.5, 118.25, 121).Equal(bag[KeyEdgeGapValues]))
	assert.True(t, inventory.String(dialogText).Equal(bag[KeyOCRRawText]))
}

func TestOCRAnalyzer(t *testing.T) {
	an := &OCRAnalyzer{Extractor: &fakeExtractor{byMode: map[int]string{6: dialogText}}}
	bag, err := an.Analyze(context.Background(), "shot.png")
	require.NoError(t, err)
	assert.Contains(t, bag, KeyEdgeGapMean)

	an = &OCRAnalyzer{Extractor: &fakeExtractor{}}
	_, err = an.Analyze(context.Background(), "blank.png")
	assert.ErrorIs(t, err, ErrNoMeasurements)
}

func TestNewTesseractExtractor(t *testing.T) {
	ex := NewTesseractExtractor(config.OCRConfig{})
	assert.Equal(t, "tesseract", ex.Path)

	missing := NewTesseractExtractor(config.OCRConfig{TesseractPath: "/nonexistent/tesseract-binary"})
	assert.False(t, missing.Available())
	_, err := missing.ExtractText(context.Background(), "x.png", 6)
	assert.Error(t, err)
}
