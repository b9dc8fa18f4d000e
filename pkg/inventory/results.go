package inventory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attachment is a caller-owned file to copy into the data directory with a
// test result. An empty FileType is derived from the extension.
type Attachment struct {
	SourcePath  string
	FileType    FileType
	Description string
	Metadata    map[string]any
}

// TestRecord is the input to RecordTest.
type TestRecord struct {
	ComponentID    string
	TestType       string
	TestDate       time.Time
	PassFail       *bool
	Measurements   Bag
	TestedBy       string
	TestSetup      string
	TestConditions string
	Notes          string
	Files          []Attachment

	// InTx runs inside the recording transaction once the result and its
	// files are stored. An error rolls the whole record back.
	InTx func(tx *gorm.DB, result *TestResult) error
}

// indexedScalars lifts the well-known measurement keys into columns.
func indexedScalars(m Bag) (voltage, current, noise, temp *float64) {
	pick := func(key string) *float64 {
		v, ok := m[key]
		if !ok {
			return nil
		}
		f, ok := v.Scalar()
		if !ok {
			return nil
		}
		return &f
	}
	return pick(MeasurementVoltage), pick(MeasurementCurrent), pick(MeasurementNoise), pick(MeasurementTemperature)
}

// RecordTest stores a test result and copies its attachments into the data
// directory. The result row and every file row commit together; copies made
// for a failed call are removed again.
func (s *Store) RecordTest(ctx context.Context, rec TestRecord) (*TestResult, error) {
	rec.TestType = strings.TrimSpace(rec.TestType)
	if rec.TestType == "" {
		return nil, invalid("test type is required")
	}
	for i, f := range rec.Files {
		if f.SourcePath == "" {
			return nil, invalid("attachment %d has no source path", i)
		}
		if f.FileType != "" && !f.FileType.Valid() {
			return nil, invalid("invalid file type %q (valid: %s)", f.FileType, strings.Join(inList(FileTypes), ", "))
		}
	}
	testDate := rec.TestDate
	if testDate.IsZero() {
		testDate = s.timestamp()
	}
	testDate = testDate.UTC()

	voltage, current, noise, temp := indexedScalars(rec.Measurements)
	result := &TestResult{
		ComponentID:     rec.ComponentID,
		TestDate:        testDate,
		TestType:        rec.TestType,
		PassFail:        rec.PassFail,
		VoltageMeasured: voltage,
		CurrentMeasured: current,
		NoiseLevel:      noise,
		Temperature:     temp,
		Measurements:    rec.Measurements,
		TestedBy:        rec.TestedBy,
		TestSetup:       rec.TestSetup,
		TestConditions:  rec.TestConditions,
		Notes:           rec.Notes,
		CreatedAt:       s.timestamp(),
	}

	var copied []string
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := requireComponent(tx, rec.ComponentID); err != nil {
			return err
		}
		if err := tx.Omit(gormAssociations...).Create(result).Error; err != nil {
			return fmt.Errorf("create test result: %w", err)
		}
		dir := testDir(rec.ComponentID, rec.TestType, testDate)
		for _, att := range rec.Files {
			ft := att.FileType
			if ft == "" {
				ft = ClassifyFile(att.SourcePath)
			}
			rel, size, err := s.copyInto(att.SourcePath, filepath.Join(dir, string(ft)), filepath.Base(att.SourcePath))
			if err != nil {
				return err
			}
			copied = append(copied, rel)
			file := TestFile{
				TestID:           result.ID,
				FileType:         ft,
				FilePath:         rel,
				OriginalFilename: filepath.Base(att.SourcePath),
				Description:      att.Description,
				FileSize:         size,
				UploadDate:       s.timestamp(),
			}
			if len(att.Metadata) > 0 {
				file.Metadata = datatypes.JSONMap(att.Metadata)
			}
			if err := tx.Create(&file).Error; err != nil {
				return fmt.Errorf("create test file: %w", err)
			}
			result.Files = append(result.Files, file)
		}
		if rec.InTx != nil {
			return rec.InTx(tx, result)
		}
		return nil
	})
	if err != nil {
		s.removeCopies(copied)
		return nil, err
	}
	s.logger.Info("test recorded",
		zap.Uint("id", result.ID),
		zap.String("component", rec.ComponentID),
		zap.String("type", rec.TestType),
		zap.Int("files", len(result.Files)))
	return result, nil
}

var gormAssociations = []string{"Files", "Component"}

// GetTest returns a test result with its files.
func (s *Store) GetTest(ctx context.Context, id uint) (*TestResult, error) {
	var t TestResult
	err := s.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("file_type ASC").Order("id ASC") }).
		Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("test", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return &t, nil
}

// TestsForComponent returns every test of a component, newest first.
func (s *Store) TestsForComponent(ctx context.Context, componentID string) ([]TestResult, error) {
	db := s.db.WithContext(ctx)
	if err := requireComponent(db, componentID); err != nil {
		return nil, err
	}
	var out []TestResult
	if err := db.Preload("Files").Where("component_id = ?", componentID).
		Order("test_date DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	return out, nil
}

// RecentTests returns tests performed at or after since, newest first. A
// limit of zero returns them all.
func (s *Store) RecentTests(ctx context.Context, since time.Time, limit int) ([]TestResult, error) {
	q := s.db.WithContext(ctx).Where("test_date >= ?", since.UTC()).
		Order("test_date DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []TestResult
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list recent tests: %w", err)
	}
	return out, nil
}

// LatestTestOfType returns the newest test of testType for a component, or
// nil when there is none.
func (s *Store) LatestTestOfType(ctx context.Context, componentID, testType string) (*TestResult, error) {
	var t TestResult
	err := s.db.WithContext(ctx).Where("component_id = ? AND test_type = ?", componentID, testType).
		Order("test_date DESC").Order("id DESC").First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest test: %w", err)
	}
	return &t, nil
}

// UpdateResult overwrites the pass/fail flag, the only mutable field of a
// recorded test. A nil value resets it to unknown.
func (s *Store) UpdateResult(ctx context.Context, id uint, passFail *bool) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&TestResult{}).Where("id = ?", id).Update("pass_fail", passFail)
		if res.Error != nil {
			return fmt.Errorf("update test result: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&TestResult{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return fmt.Errorf("check test: %w", err)
			}
			if n == 0 {
				return notFound("test", fmt.Sprint(id))
			}
		}
		return nil
	})
}

// DeleteTest removes a test and its file rows. Files on disk are kept.
func (s *Store) DeleteTest(ctx context.Context, id uint) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&TestResult{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("check test: %w", err)
		}
		if n == 0 {
			return notFound("test", fmt.Sprint(id))
		}
		if err := tx.Where("test_id = ?", id).Delete(&TestFile{}).Error; err != nil {
			return fmt.Errorf("delete test files: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("delete test: %w", err)
		}
		return nil
	})
	if err == nil {
		s.logger.Info("test deleted", zap.Uint("id", id))
	}
	return err
}

// FilesByType groups the files of a test by their type.
func FilesByType(files []TestFile) map[FileType][]TestFile {
	out := make(map[FileType][]TestFile)
	for _, f := range files {
		out[f.FileType] = append(out[f.FileType], f)
	}
	return out
}

// TestTypeCount is one row of TestTypeCounts.
type TestTypeCount struct {
	TestType string `json:"testType"`
	Count    int64  `json:"count"`
}

// TestTypeCounts counts tests per type performed at or after since.
func (s *Store) TestTypeCounts(ctx context.Context, since time.Time) ([]TestTypeCount, error) {
	var out []TestTypeCount
	err := s.db.WithContext(ctx).Model(&TestResult{}).
		Select("test_type, COUNT(*) AS count").
		Where("test_date >= ?", since.UTC()).
		Group("test_type").Order("count DESC").Order("test_type ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count tests by type: %w", err)
	}
	return out, nil
}
