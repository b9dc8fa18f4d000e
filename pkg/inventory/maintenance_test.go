package inventory

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLog_DefaultsAndValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)

	entry := &MaintenanceLog{ComponentID: "S-1", Description: "visual inspection"}
	require.NoError(t, s.AddLog(ctx, entry))
	assert.NotZero(t, entry.ID)
	assert.Equal(t, LogNote, entry.LogType)
	assert.Equal(t, SeverityInfo, entry.Severity)

	tests := []struct {
		name  string
		entry MaintenanceLog
		want  error
	}{
		{"no description", MaintenanceLog{ComponentID: "S-1"}, ErrValidation},
		{"bad type", MaintenanceLog{ComponentID: "S-1", Description: "x", LogType: "rant"}, ErrValidation},
		{"bad severity", MaintenanceLog{ComponentID: "S-1", Description: "x", Severity: "meh"}, ErrValidation},
		{"unknown component", MaintenanceLog{ComponentID: "nope", Description: "x"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			assert.ErrorIs(t, s.AddLog(ctx, &e), tt.want)
		})
	}
}

func TestOpenIssuesAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)

	warn := &MaintenanceLog{ComponentID: "S-1", LogType: LogIssue, Severity: SeverityWarning, Description: "bias drifts"}
	crit := &MaintenanceLog{ComponentID: "S-1", LogType: LogIssue, Severity: SeverityCritical, Description: "wire bond lifted"}
	note := &MaintenanceLog{ComponentID: "S-1", Description: "photographed"}
	for _, e := range []*MaintenanceLog{warn, crit, note} {
		require.NoError(t, s.AddLog(ctx, e))
	}

	open, err := s.OpenIssues(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, crit.ID, open[0].ID)
	assert.Equal(t, warn.ID, open[1].ID)

	resolved, err := s.ResolveLog(ctx, crit.ID, "rebonded")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved())

	got, err := s.GetLog(ctx, crit.ID)
	require.NoError(t, err)
	assert.Equal(t, "rebonded", got.Resolution)
	require.NotNil(t, got.ResolvedDate)

	open, err = s.OpenIssues(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, warn.ID, open[0].ID)

	_, err = s.ResolveLog(ctx, crit.ID, " ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.ResolveLog(ctx, 999, "done")
	assert.ErrorIs(t, err, ErrNotFound)

	d, err := s.Dashboard(ctx, s.timestamp().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.OpenIssues)
}

func TestAddImages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "M-1", TypeModule)

	imgs, err := s.AddImages(ctx, "M-1", "after bonding", "erin", []ImageUpload{
		{Name: "top view.png", Content: strings.NewReader("a")},
		{Name: "bottom.JPG", Content: bytes.NewReader([]byte("b"))},
	})
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Regexp(t, `^images/M-1/\d{8}_\d{6}_00_top_view\.png$`, imgs[0].ImagePath)
	assert.Regexp(t, `^images/M-1/\d{8}_\d{6}_01_bottom\.jpg$`, imgs[1].ImagePath)

	full, err := s.ResolvePath(imgs[1].ImagePath)
	require.NoError(t, err)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	listed, err := s.Images(ctx, "M-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = s.AddImages(ctx, "M-1", "", "", []ImageUpload{{Name: "notes.txt", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.AddImages(ctx, "nope", "", "", []ImageUpload{{Name: "a.png", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddImage_FromDisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "S-1", TypeSensor)
	src := writeTempFile(t, t.TempDir(), "corner.bmp", "bmp")

	img, err := s.AddImage(ctx, "S-1", src, "chipped corner", "frank")
	require.NoError(t, err)
	assert.Equal(t, "chipped corner", img.Description)
	assert.Contains(t, img.ImagePath, "_00_corner.bmp")

	_, err = s.AddImage(ctx, "S-1", src+".missing", "", "")
	assert.ErrorIs(t, err, ErrValidation)
}
