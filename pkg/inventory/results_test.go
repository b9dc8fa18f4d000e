package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func boolPtr(b bool) *bool { return &b }

func TestRecordTest_IndexedScalars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)

	res, err := s.RecordTest(ctx, TestRecord{
		ComponentID: "S-1",
		TestType:    "iv_curve",
		PassFail:    boolPtr(true),
		Measurements: Bag{
			MeasurementVoltage: Number(60),
			MeasurementCurrent: Map(map[string]Value{"value": Number(1.2e-6), "unit": String("A")}),
			"bias_points":      Numbers(0, 10, 20),
		},
		TestedBy: "alice",
	})
	require.NoError(t, err)

	got, err := s.GetTest(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VoltageMeasured)
	assert.Equal(t, 60.0, *got.VoltageMeasured)
	require.NotNil(t, got.CurrentMeasured)
	assert.Equal(t, 1.2e-6, *got.CurrentMeasured)
	assert.Nil(t, got.NoiseLevel)
	assert.Equal(t, "pass", got.Outcome())

	v, ok := got.Measurements[MeasurementVoltage].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 60.0, v)
	assert.True(t, Numbers(0, 10, 20).Equal(got.Measurements["bias_points"]))
}

func TestRecordTest_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)

	_, err := s.RecordTest(ctx, TestRecord{ComponentID: "S-1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.RecordTest(ctx, TestRecord{ComponentID: "nope", TestType: "iv"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordTest(ctx, TestRecord{
		ComponentID: "S-1", TestType: "iv",
		Files: []Attachment{{SourcePath: "x.csv", FileType: "spreadsheet"}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordTest_CopiesFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	src := t.TempDir()
	csv := writeTempFile(t, src, "iv.csv", "v,i\n0,0\n")
	png := writeTempFile(t, src, "edge.png", "png-bytes")

	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	res, err := s.RecordTest(ctx, TestRecord{
		ComponentID: "S-1",
		TestType:    "edge imaging",
		TestDate:    when,
		Files: []Attachment{
			{SourcePath: csv, Description: "raw sweep", Metadata: map[string]any{"rows": 1}},
			{SourcePath: png},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	byType := FilesByType(res.Files)
	require.Len(t, byType[FileRawData], 1)
	require.Len(t, byType[FileImage], 1)

	raw := byType[FileRawData][0]
	assert.Equal(t, "2024/S-1/20240506_070809_edge_imaging/raw_data/iv.csv", raw.FilePath)
	assert.Equal(t, "iv.csv", raw.OriginalFilename)
	assert.Equal(t, int64(len("v,i\n0,0\n")), raw.FileSize)

	full, err := s.ResolvePath(raw.FilePath)
	require.NoError(t, err)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "v,i\n0,0\n", string(data))

	// the caller's file stays put
	_, err = os.Stat(csv)
	require.NoError(t, err)

	got, err := s.GetTest(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 2)
	stored := FilesByType(got.Files)[FileRawData]
	require.Len(t, stored, 1)
	assert.Equal(t, json.Number("1"), stored[0].Metadata["rows"])
}

func TestRecordTest_InTx(t *testing.T) {
	boom := errors.New("attach failed")
	tests := []struct {
		name    string
		hookErr error
		want    int
	}{
		{"commits with the record", nil, 1},
		{"error rolls back", boom, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			mustCreate(t, s, "S-1", TypeSensor)
			src := writeTempFile(t, t.TempDir(), "edge.png", "png-bytes")

			var seen uint
			var stored string
			res, err := s.RecordTest(ctx, TestRecord{
				ComponentID: "S-1",
				TestType:    "edge imaging",
				Files:       []Attachment{{SourcePath: src}},
				InTx: func(tx *gorm.DB, result *TestResult) error {
					seen = result.ID
					require.Len(t, result.Files, 1)
					stored = result.Files[0].FilePath
					var n int64
					require.NoError(t, tx.Model(&TestFile{}).Where("test_id = ?", result.ID).Count(&n).Error)
					assert.Equal(t, int64(1), n)
					return tc.hookErr
				},
			})
			assert.NotZero(t, seen)

			recorded, listErr := s.TestsForComponent(ctx, "S-1")
			require.NoError(t, listErr)
			assert.Len(t, recorded, tc.want)
			full, pathErr := s.ResolvePath(stored)
			require.NoError(t, pathErr)

			if tc.hookErr != nil {
				assert.ErrorIs(t, err, boom)
				assert.Nil(t, res)
				assert.NoFileExists(t, full)
				var files int64
				require.NoError(t, s.DB().Model(&TestFile{}).Count(&files).Error)
				assert.Zero(t, files)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, seen, res.ID)
			assert.FileExists(t, full)
		})
	}
}

func TestRecordTest_NameCollision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	a := writeTempFile(t, t.TempDir(), "run.log", "first")
	b := writeTempFile(t, t.TempDir(), "run.log", "second")

	res, err := s.RecordTest(ctx, TestRecord{
		ComponentID: "S-1", TestType: "burn_in",
		TestDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Files:    []Attachment{{SourcePath: a}, {SourcePath: b}},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.True(t, strings.HasSuffix(res.Files[0].FilePath, "/log/run.log"))
	assert.True(t, strings.HasSuffix(res.Files[1].FilePath, "/log/run_1.log"))
}

func TestRecordTest_MissingSourceRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	good := writeTempFile(t, t.TempDir(), "ok.csv", "1")

	_, err := s.RecordTest(ctx, TestRecord{
		ComponentID: "S-1", TestType: "iv",
		TestDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Files: []Attachment{
			{SourcePath: good},
			{SourcePath: filepath.Join(t.TempDir(), "missing.csv")},
		},
	})
	require.ErrorIs(t, err, ErrValidation)

	tests, err := s.TestsForComponent(ctx, "S-1")
	require.NoError(t, err)
	assert.Empty(t, tests)
	_, err = os.Stat(filepath.Join(s.DataDir(), "2024", "S-1", "20240101_000000_iv", "raw_data", "ok.csv"))
	assert.True(t, os.IsNotExist(err), "copied file should be removed, got %v", err)
}

func TestDeleteTest_KeepsFilesOnDisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	src := writeTempFile(t, t.TempDir(), "plot.pdf", "%PDF")

	res, err := s.RecordTest(ctx, TestRecord{ComponentID: "S-1", TestType: "noise", Files: []Attachment{{SourcePath: src}}})
	require.NoError(t, err)
	full, err := s.ResolvePath(res.Files[0].FilePath)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTest(ctx, res.ID))
	_, err = s.GetTest(ctx, res.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	var n int64
	require.NoError(t, s.DB().Model(&TestFile{}).Where("test_id = ?", res.ID).Count(&n).Error)
	assert.Zero(t, n)
	_, err = os.Stat(full)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteTest(ctx, res.ID), ErrNotFound)
}

func TestUpdateResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	res, err := s.RecordTest(ctx, TestRecord{ComponentID: "S-1", TestType: "iv"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Outcome())

	require.NoError(t, s.UpdateResult(ctx, res.ID, boolPtr(false)))
	got, err := s.GetTest(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "fail", got.Outcome())

	require.NoError(t, s.UpdateResult(ctx, res.ID, nil))
	got, err = s.GetTest(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PassFail)

	assert.ErrorIs(t, s.UpdateResult(ctx, 999, boolPtr(true)), ErrNotFound)
}

func TestTestQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []string{"iv", "cv", "iv"} {
		_, err := s.RecordTest(ctx, TestRecord{ComponentID: "S-1", TestType: typ, TestDate: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	all, err := s.TestsForComponent(ctx, "S-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].TestDate.After(all[1].TestDate))

	latest, err := s.LatestTestOfType(ctx, "S-1", "iv")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.TestDate.Equal(base.Add(2*time.Hour)))

	none, err := s.LatestTestOfType(ctx, "S-1", "thermal")
	require.NoError(t, err)
	assert.Nil(t, none)

	recent, err := s.RecentTests(ctx, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	counts, err := s.TestTypeCounts(ctx, base)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, TestTypeCount{TestType: "iv", Count: 2}, counts[0])
	assert.Equal(t, TestTypeCount{TestType: "cv", Count: 1}, counts[1])

	_, err = s.TestsForComponent(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
