package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/db"
	"github.com/hps-svt/tracker/pkg/inventory"
)

type cliEnv struct {
	t       *testing.T
	dir     string
	dataDir string
	db      string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := &cliEnv{t: t, dir: dir, dataDir: filepath.Join(dir, "data"), db: filepath.Join(dir, "svt.db")}
	_, err := e.run("init")
	require.NoError(t, err)
	return e
}

// resetFlags puts every flag back to its default so one invocation does not
// leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	stdout = &buf
	defer func() { stdout = os.Stdout }()
	defer closeSession()

	rootCmd.SetArgs(append([]string{"--db", e.db, "--data-dir", e.dataDir}, args...))
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	return buf.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "svtctl %v", args)
	return out
}

func (e *cliEnv) runJSON(dst any, args ...string) {
	e.t.Helper()
	out := e.mustRun(append(args, "-o", "json")...)
	require.NoError(e.t, json.Unmarshal([]byte(out), dst), out)
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestInit(t *testing.T) {
	e := newCLIEnv(t)
	assert.FileExists(t, e.db)
	assert.DirExists(t, e.dataDir)

	e.mustRun("add", "S-1", "--type", "sensor")
	out := e.mustRun("init", "--reset")
	assert.Contains(t, out, "Database ready")

	var comps []map[string]any
	e.runJSON(&comps, "list")
	assert.Empty(t, comps)
}

func TestComponentLifecycle(t *testing.T) {
	e := newCLIEnv(t)
	out := e.mustRun("add", "M-1", "--type", "module", "--location", "SLAC clean room")
	assert.Contains(t, out, "Added Module M-1 (incoming)")
	e.mustRun("add", "S-1", "--type", "sensor", "--manufacturer", "CNM")
	e.mustRun("add", "H-1", "--type", "hybrid")

	var comps []map[string]any
	e.runJSON(&comps, "list")
	assert.Len(t, comps, 3)
	e.runJSON(&comps, "list", "--type", "sensor")
	require.Len(t, comps, 1)
	assert.Equal(t, "CNM", comps[0]["manufacturer"])

	out = e.mustRun("list", "--filter", "location~clean")
	assert.Contains(t, out, "M-1")
	assert.Contains(t, out, "1 component(s)")

	e.mustRun("assemble", "M-1", "--sensor", "S-1", "--hybrid", "H-1")
	e.mustRun("install", "M-1", "--position", "L1T-axial", "--run", "2025-spring", "--by", "alice")

	var detail map[string]any
	e.runJSON(&detail, "show", "M-1")
	assert.Equal(t, "installed", detail["installationStatus"])
	assert.Equal(t, "L1T-axial", detail["installedPosition"])
	assembly := detail["assembly"].(map[string]any)
	assert.Equal(t, "S-1", assembly["sensor"].(map[string]any)["id"])

	out = e.mustRun("remove", "M-1", "--reason", "bad channel")
	assert.Contains(t, out, "removed from L1T-axial")

	e.runJSON(&detail, "show", "M-1")
	assert.Equal(t, "spare", detail["installationStatus"])
	assert.Equal(t, inventory.DefaultRemovalLocation, detail["currentLocation"])
	history := detail["installationHistory"].([]any)
	require.Len(t, history, 1)
	rec := history[0].(map[string]any)
	assert.Equal(t, "alice", rec["installedBy"])
	assert.Equal(t, "bad channel", rec["removalReason"])
	assert.NotEmpty(t, rec["removedBy"], "removed_by defaults to the OS user")

	out = e.mustRun("show", "M-1")
	assert.Contains(t, out, "Installation history:")
	assert.Contains(t, out, "Maintenance log:")

	e.mustRun("disassemble", "M-1")
	e.mustRun("move", "S-1", "Bldg 33")
	e.runJSON(&detail, "show", "S-1")
	assert.Equal(t, "Bldg 33", detail["currentLocation"])

	e.mustRun("status", "S-1", "qualified")
	e.runJSON(&comps, "list", "--status", "qualified")
	assert.Len(t, comps, 1)
}

func TestUpdate(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor", "--attr", "thickness=320", "--attr", "grade=A")

	var c map[string]any
	e.runJSON(&c, "update", "S-1", "--asset-tag", "SLAC-42", "--attr", "leak=2.3e-07", "--unset", "grade")
	assert.Equal(t, "SLAC-42", c["assetTag"])
	attrs := c["attributes"].(map[string]any)
	assert.Equal(t, 320.0, attrs["thickness"])
	assert.Equal(t, 2.3e-07, attrs["leak"])
	assert.NotContains(t, attrs, "grade")

	e.runJSON(&c, "show", "S-1")
	assert.Equal(t, "SLAC-42", c["assetTag"])
	assert.Empty(t, c["manufacturer"], "unset flags leave fields alone")
}

func TestCommandErrors(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor")
	e.mustRun("add", "S-2", "--type", "sensor")
	e.mustRun("connect", "S-1", "S-2")

	tests := []struct {
		name string
		args []string
		kind error
		msg  string
	}{
		{"missing type", []string{"add", "X"}, nil, `required flag(s) "type" not set`},
		{"bad type", []string{"add", "X", "--type", "gizmo"}, inventory.ErrValidation, ""},
		{"duplicate", []string{"add", "S-1", "--type", "sensor"}, inventory.ErrDuplicate, ""},
		{"unknown component", []string{"show", "nope"}, inventory.ErrNotFound, ""},
		{"install needs run", []string{"install", "S-1", "--position", "L1"}, nil, `required flag(s) "run" not set`},
		{"remove not installed", []string{"remove", "S-1"}, inventory.ErrNotInstalled, ""},
		{"status installed", []string{"status", "S-1", "installed"}, inventory.ErrTransitionDenied, ""},
		{"delete referenced", []string{"delete", "S-1"}, inventory.ErrInUse, ""},
		{"bad attribute", []string{"update", "S-1", "--attr", "novalue"}, nil, "expected key=value"},
		{"bad test id", []string{"test", "show", "abc"}, nil, "invalid test id"},
		{"pass and fail", []string{"test", "record", "S-1", "--type", "iv", "--pass", "--fail"}, nil, "none of the others can be"},
		{"bad result", []string{"test", "set-result", "1", "maybe"}, nil, "pass, fail or unknown"},
		{"export format", []string{"export", filepath.Join(e.dir, "out.csv")}, nil, ".xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(tt.args...)
			require.Error(t, err)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestTestCommands(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor")
	csv := e.writeFile("iv.csv", "V,I\n100,3.1e-7\n")
	png := e.writeFile("iv.png", "not really a png")

	var res map[string]any
	e.runJSON(&res, "test", "record", "S-1", "--type", "iv_curve", "--pass",
		"-m", "voltage_measured=100", "-m", "current_measured=3.1e-7",
		"--file", "raw_data:"+csv, "--file", png, "--date", "2025-01-15 14:26", "--by", "bob")
	id := jsonID(t, res)
	assert.Equal(t, true, res["passFail"])
	assert.Equal(t, 100.0, res["voltageMeasured"])
	assert.Equal(t, "bob", res["testedBy"])
	files := res["files"].([]any)
	require.Len(t, files, 2)
	assert.Equal(t, "raw_data", files[0].(map[string]any)["fileType"])
	assert.Equal(t, "image", files[1].(map[string]any)["fileType"])
	for _, f := range files {
		assert.FileExists(t, filepath.Join(e.dataDir, f.(map[string]any)["filePath"].(string)))
	}

	out := e.mustRun("test", "list", "S-1")
	assert.Contains(t, out, "iv_curve")
	assert.Contains(t, out, "pass")

	e.mustRun("test", "set-result", id, "fail")
	e.runJSON(&res, "test", "show", id)
	assert.Equal(t, false, res["passFail"])

	e.mustRun("test", "set-result", id, "unknown")
	out = e.mustRun("test", "show", id)
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "voltage_measured")

	e.mustRun("test", "record", "S-1", "--type", "edge_imaging")
	var tests []map[string]any
	e.runJSON(&tests, "test", "list", "S-1", "--type", "edge_imaging")
	require.Len(t, tests, 1)
	assert.NotEmpty(t, tests[0]["testedBy"])

	e.mustRun("test", "delete", id)
	_, err := e.run("test", "show", id)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestConnectionLogAndImageCommands(t *testing.T) {
	e := newCLIEnv(t)
	for _, id := range []string{"H-1", "FEB-1", "C-1"} {
		typ := map[string]string{"H-1": "hybrid", "FEB-1": "feb", "C-1": "cable"}[id]
		e.mustRun("add", id, "--type", typ)
	}

	var conn map[string]any
	e.runJSON(&conn, "connect", "H-1", "FEB-1", "--type", "data", "--cable", "C-1")
	connID := jsonID(t, conn)

	var ns []map[string]any
	e.runJSON(&ns, "connections", "FEB-1")
	require.Len(t, ns, 1)
	assert.Equal(t, "H-1", ns[0]["componentId"])
	assert.Equal(t, "C-1", ns[0]["cableId"])

	e.mustRun("disconnect", connID)
	out := e.mustRun("connections", "FEB-1")
	assert.Contains(t, out, "has no connections")

	var entry map[string]any
	e.runJSON(&entry, "log", "add", "FEB-1", "channel 12 dead", "--type", "issue", "--severity", "warning")
	logID := jsonID(t, entry)
	assert.NotEmpty(t, entry["loggedBy"])

	var logs []map[string]any
	e.runJSON(&logs, "log", "list")
	require.Len(t, logs, 1)

	e.mustRun("log", "resolve", logID, "replaced cable")
	e.runJSON(&logs, "log", "list")
	assert.Empty(t, logs)
	e.runJSON(&logs, "log", "list", "FEB-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "replaced cable", logs[0]["resolution"])

	_, err := e.run("log", "add", "FEB-1", "x", "--type", "rumor")
	assert.ErrorIs(t, err, inventory.ErrValidation)

	jpg := e.writeFile("front.jpg", "jpeg bytes")
	out = e.mustRun("image", "add", "H-1", jpg, "--description", "front side")
	assert.Contains(t, out, "1 image(s) added to H-1")
	var imgs []map[string]any
	e.runJSON(&imgs, "image", "list", "H-1")
	require.Len(t, imgs, 1)
	assert.Equal(t, "front side", imgs[0]["description"])

	txt := e.writeFile("notes.txt", "text")
	_, err = e.run("image", "add", "H-1", txt)
	assert.ErrorIs(t, err, inventory.ErrValidation)
}

func TestSummary(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor")
	e.mustRun("add", "S-2", "--type", "sensor")
	e.mustRun("test", "record", "S-1", "--type", "iv_curve", "--pass")

	var s map[string]any
	e.runJSON(&s, "summary")
	assert.Equal(t, 2.0, s["total"])
	assert.Equal(t, 1.0, s["recentTests"])
	testTypes := s["testTypes"].([]any)
	require.Len(t, testTypes, 1)
	assert.Equal(t, "iv_curve", testTypes[0].(map[string]any)["testType"])

	out := e.mustRun("summary")
	assert.Contains(t, out, "By type:")
	assert.Contains(t, out, "Sensor")
}

const sensorSheet = `Wafer,Sensor,Thickness (um),Comment
W1,S1*,320,ok
,S2,321.5,
W2,,300,
`

func TestImportExport(t *testing.T) {
	e := newCLIEnv(t)
	sheet := e.writeFile("sensors.csv", sensorSheet)

	var res map[string]any
	e.runJSON(&res, "import", sheet, "--dry-run")
	assert.Equal(t, true, res["dryRun"])
	assert.Equal(t, 2.0, res["created"])
	assert.Equal(t, 1.0, res["skipped"])

	var comps []map[string]any
	e.runJSON(&comps, "list")
	assert.Empty(t, comps, "a dry run writes nothing")

	out := e.mustRun("import", sheet, "--year", "2024")
	assert.Contains(t, out, "Imported 2 new and 0 existing sensors (1 rows skipped)")

	var c map[string]any
	e.runJSON(&c, "show", "W1-S2-2024")
	assert.Equal(t, "CNM", c["manufacturer"])
	assert.Equal(t, 321.5, c["attributes"].(map[string]any)["Thickness (um)"])

	out = e.mustRun("import", sheet, "--year", "2024")
	assert.Contains(t, out, "0 new and 2 existing")

	xlsx := filepath.Join(e.dir, "out.xlsx")
	out = e.mustRun("export", xlsx, "--type", "sensor")
	assert.Contains(t, out, "Exported 2 components")
	assert.FileExists(t, xlsx)
}

type fakeOCR struct{ text string }

func (f fakeOCR) ExtractText(context.Context, string, int) (string, error) { return f.text, nil }
func (f fakeOCR) Available() bool                                        { return true }

func TestOCR(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor")
	shot := e.writeFile("edge.png", "png")

	orig := newOCREngine
	t.Cleanup(func() { newOCREngine = orig })
	newOCREngine = func(config.OCRConfig) ocrEngine {
		return fakeOCR{text: "Measure Result\n1: 2 Points 120.5 um\n2: 2 Points 119.5 um\n"}
	}

	out := e.mustRun("ocr", "S-1", shot, "--dry-run")
	assert.Contains(t, out, "mean 120.00")
	var tests []map[string]any
	e.runJSON(&tests, "test", "list", "S-1")
	assert.Empty(t, tests)

	var res map[string]any
	e.runJSON(&res, "ocr", "S-1", shot, "--by", "carol")
	assert.Equal(t, "edge_imaging", res["testType"])
	assert.Equal(t, "carol", res["testedBy"])
	m := res["measurements"].(map[string]any)
	assert.Equal(t, 120.0, m["edge_gap_mean"])
	assert.Equal(t, 2.0, m["edge_gap_count"])
	files := res["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "image", files[0].(map[string]any)["fileType"])

	_, err := e.run("ocr", "S-1", e.writeFile("notes.txt", "x"))
	assert.ErrorContains(t, err, "not an image")

	newOCREngine = func(config.OCRConfig) ocrEngine { return fakeOCR{text: "nothing here"} }
	_, err = e.run("ocr", "S-1", shot)
	assert.Error(t, err)
}

func TestBackup(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "S-1", "--type", "sensor")
	dir := filepath.Join(e.dir, "backups")

	out := e.mustRun("backup", "--dir", dir, "--keep", "3")
	assert.Contains(t, out, "Backup written to")

	var files []string
	e.runJSON(&files, "backup", "--dir", dir, "--list")
	require.Len(t, files, 1)
	assert.FileExists(t, files[0])
}

func TestParseAttachment(t *testing.T) {
	tests := []struct {
		in   string
		want inventory.Attachment
	}{
		{"iv.csv", inventory.Attachment{SourcePath: "iv.csv"}},
		{"plot:/tmp/iv.png", inventory.Attachment{SourcePath: "/tmp/iv.png", FileType: inventory.FilePlot}},
		{"C:/data/iv.csv", inventory.Attachment{SourcePath: "C:/data/iv.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAttachment(tt.in))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDate("2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, 15, d.Day())

	d, err = parseDate("2025-01-15 14:26")
	require.NoError(t, err)
	assert.Equal(t, 14, d.Hour())

	_, err = parseDate("15/01/2025")
	assert.Error(t, err)
}

func jsonID(t *testing.T, m map[string]any) string {
	t.Helper()
	id, ok := m["id"].(float64)
	require.True(t, ok, "missing id in %v", m)
	return strconv.FormatInt(int64(id), 10)
}

func TestRemoveInstalledWithoutHistory(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "M-1", "--type", "module")

	gdb, err := db.Open(config.DatabaseConfig{Type: "sqlite", Path: e.db}, nil)
	require.NoError(t, err)
	require.NoError(t, gdb.Exec("UPDATE components SET installation_status = 'installed' WHERE id = ?", "M-1").Error)
	require.NoError(t, db.Close(gdb))

	out := e.mustRun("remove", "M-1", "--reason", "worn")
	assert.Contains(t, out, "M-1 removed from (none)")

	var rec map[string]any
	e.mustRun("install", "M-1", "--position", "L2T", "--run", "2025")
	e.runJSON(&rec, "remove", "M-1")
	assert.Equal(t, "M-1", rec["componentId"])
	assert.Equal(t, "L2T", rec["position"])
}
