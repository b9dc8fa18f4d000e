package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/backup"
	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/db"
	"github.com/hps-svt/tracker/pkg/ingest"
	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/jobs"
)

var initReset bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and data directory",
	Long: `Create the database schema and the data directory. Running init on an
existing database only adds what is missing. --reset drops every table
first and loses all data.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		if initReset {
			if err := db.Reset(s.gdb); err != nil {
				return err
			}
			s.logger.Warn("database reset", zap.String("path", s.cfg.Database.Path))
		}
		printf("Database ready (%s)\nData directory: %s\n", describeDB(s.cfg.Database), s.cfg.DataDir)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initReset, "reset", false, "Drop all tables and start empty")
}

func describeDB(c config.DatabaseConfig) string {
	if c.Type == "" || c.Type == "sqlite" {
		return c.Path
	}
	return c.Type
}

// summary is the structured form of `svtctl summary`.
type summary struct {
	*inventory.Dashboard
	ByConnectionType []inventory.Count         `json:"byConnectionType"`
	TestTypes        []inventory.TestTypeCount `json:"testTypes"`
}

var summaryDays int

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Counts by type and status, recent tests and open issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		since := time.Now().AddDate(0, 0, -summaryDays)
		out := summary{}
		if out.Dashboard, err = store.Dashboard(ctx, since); err != nil {
			return err
		}
		if out.ByConnectionType, err = store.CountsByConnectionType(ctx); err != nil {
			return err
		}
		if out.TestTypes, err = store.TestTypeCounts(ctx, since); err != nil {
			return err
		}
		if structured() {
			return printOutput(out)
		}

		d := out.Dashboard
		printFields([][2]string{
			{"Components", fmt.Sprint(d.Total)},
			{"Installed", fmt.Sprint(d.Installed)},
			{"Spare", fmt.Sprint(d.Spare)},
			{"Testing", fmt.Sprint(d.Testing)},
			{"Open issues", fmt.Sprint(d.OpenIssues)},
			{fmt.Sprintf("Tests (%d days)", summaryDays), fmt.Sprint(d.RecentTests)},
		})
		if len(d.ByType) > 0 {
			printf("\nBy type:\n")
			printTable([]string{"Type", "Count"}, countRows(d.ByType, func(k string) string {
				return inventory.ComponentType(k).DisplayName()
			}))
		}
		if len(d.ByStatus) > 0 {
			printf("\nBy status:\n")
			printTable([]string{"Status", "Count"}, countRows(d.ByStatus, nil))
		}
		if len(out.TestTypes) > 0 {
			printf("\nTests by type:\n")
			rows := make([][]string, 0, len(out.TestTypes))
			for _, c := range out.TestTypes {
				rows = append(rows, []string{c.TestType, fmt.Sprint(c.Count)})
			}
			printTable([]string{"Test type", "Count"}, rows)
		}
		if len(d.Latest) > 0 {
			printf("\nLatest tests:\n")
			printTable(testHeaders, testRows(d.Latest))
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().IntVar(&summaryDays, "days", 30, "Window for recent test counts")
}

func countRows(cs []inventory.Count, label func(string) string) [][]string {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		k := c.Key
		if label != nil {
			k = label(k)
		}
		rows = append(rows, []string{k, fmt.Sprint(c.Count)})
	}
	return rows
}

var importOpts ingest.ImportOptions
var importSheet string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import sensors from a spreadsheet (.xlsx or .csv)",
	Long: `Import sensors from a spreadsheet with Wafer and Sensor columns. Every
other column becomes an attribute. Sensor ids are <wafer>-<sensor>-<year>;
existing sensors get their attributes merged.`,
	Example: `  svtctl import sensors.xlsx --sheet "IV data" --dry-run`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		table, err := ingest.ReadFile(args[0], f, importSheet)
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		opts := importOpts
		opts.Logger = s.logger
		res, err := ingest.ImportSensors(cmd.Context(), s.store, table, opts)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(res)
		}
		verb := "Imported"
		if res.DryRun {
			verb = "Would import"
		}
		printf("%s %d new and %d existing sensors (%d rows skipped)\n", verb, res.Created, res.Updated, res.Skipped)
		if len(res.Errors) > 0 {
			rows := make([][]string, 0, len(res.Errors))
			for _, e := range res.Errors {
				rows = append(rows, []string{fmt.Sprint(e.Line), e.ID, e.Message})
			}
			printf("\n")
			printTable([]string{"Line", "ID", "Problem"}, rows)
		}
		return nil
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importSheet, "sheet", "", "Worksheet name (default: the first sheet)")
	f.StringVar(&importOpts.YearSuffix, "year", ingest.DefaultYearSuffix, "Year suffix of generated sensor ids")
	f.StringVar(&importOpts.Manufacturer, "manufacturer", "", "Manufacturer of new sensors (default: CNM)")
	f.BoolVar(&importOpts.DryRun, "dry-run", false, "Report what would change without writing")
}

var (
	exportType   string
	exportStatus string
	exportExpr   string
)

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export components and their attributes to a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ext := strings.ToLower(filepath.Ext(args[0])); ext != ".xlsx" {
			return fmt.Errorf("export writes .xlsx files, not %q", ext)
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		comps, err := store.ListComponents(cmd.Context(), inventory.ListFilter{
			Type:   inventory.ComponentType(exportType),
			Status: inventory.Status(exportStatus),
			Expr:   exportExpr,
		})
		if err != nil {
			return err
		}
		out, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := ingest.ExportComponents(out, comps); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		printf("Exported %d components to %s\n", len(comps), args[0])
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportType, "type", "t", "", "Only this component type")
	f.StringVarP(&exportStatus, "status", "s", "", "Only this installation status")
	f.StringVarP(&exportExpr, "filter", "f", "", "Filter expression")
}

// ocrEngine reads text out of screenshots.
type ocrEngine interface {
	ingest.TextExtractor
	Available() bool
}

var newOCREngine = func(cfg config.OCRConfig) ocrEngine {
	return ingest.NewTesseractExtractor(cfg)
}

var (
	ocrDryRun bool
	ocrType   string
	ocrBy     string
	ocrNotes  string
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <component> <image>...",
	Short: "Read edge gap measurements from microscope screenshots",
	Long: `Read edge gap measurements from one or more microscope screenshots with
tesseract and record them as one test. The screenshots are attached to the
test. --dry-run prints what was read without recording anything.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runOCR,
}

func init() {
	f := ocrCmd.Flags()
	f.BoolVar(&ocrDryRun, "dry-run", false, "Print the measurements without recording a test")
	f.StringVarP(&ocrType, "type", "t", jobs.DefaultTestType, "Test type to record")
	f.StringVar(&ocrBy, "by", "", "Who ran the test (default: current user)")
	f.StringVar(&ocrNotes, "notes", "", "Notes")
}

func runOCR(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	componentID, images := args[0], args[1:]
	if _, err := s.store.GetComponent(ctx, componentID); err != nil {
		return err
	}
	for _, img := range images {
		if !inventory.IsImageFile(img) {
			return fmt.Errorf("%s is not an image", img)
		}
	}
	engine := newOCREngine(s.cfg.OCR)
	if !engine.Available() {
		return fmt.Errorf("tesseract not found (%s); install it or set ocr.tesseract_path", s.cfg.OCR.TesseractPath)
	}

	analysis, failed, err := ingest.ExtractFromImages(ctx, engine, images)
	if err != nil {
		return err
	}
	if failed > 0 {
		s.logger.Warn("some images yielded no measurements", zap.Int("failed", failed))
	}

	if ocrDryRun {
		if structured() {
			return printOutput(analysis)
		}
		printEdgeAnalysis(analysis)
		return nil
	}

	rec := inventory.TestRecord{
		ComponentID:  componentID,
		TestType:     ocrType,
		Measurements: ingest.MeasurementsFromOCR(analysis),
		TestedBy:     byOrWhoami(ocrBy),
		TestSetup:    "microscope edge imaging",
		Notes:        ocrNotes,
	}
	for _, img := range images {
		rec.Files = append(rec.Files, inventory.Attachment{
			SourcePath:  img,
			FileType:    inventory.FileImage,
			Description: "edge imaging screenshot",
		})
	}
	res, err := s.store.RecordTest(ctx, rec)
	if err != nil {
		return err
	}
	if structured() {
		return printOutput(res)
	}
	printEdgeAnalysis(analysis)
	printf("\nTest %d recorded for %s\n", res.ID, componentID)
	return nil
}

func printEdgeAnalysis(a *ingest.Analysis) {
	rows := make([][]string, 0, len(a.Measurements))
	for _, m := range a.Measurements {
		rows = append(rows, []string{fmt.Sprint(m.Number), m.Type, fmt.Sprintf("%.2f", m.Value), m.Unit})
	}
	printTable([]string{"#", "Type", "Gap", "Unit"}, rows)
	if sum := a.Summary; sum != nil {
		printf("\nmean %.2f  min %.2f  max %.2f %s (%d measurements)\n", sum.Mean, sum.Min, sum.Max, sum.Unit, sum.Count)
	}
}

var (
	backupDir  string
	backupKeep int
	backupList bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the SQLite database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		dir := s.cfg.Backup.Dir
		if cmd.Flags().Changed("dir") {
			dir = backupDir
		}
		keep := s.cfg.Backup.Keep
		if cmd.Flags().Changed("keep") {
			keep = backupKeep
		}
		if backupList {
			files, err := backup.List(dir)
			if err != nil {
				return err
			}
			if structured() {
				return printOutput(files)
			}
			for _, f := range files {
				printf("%s\n", f)
			}
			return nil
		}
		dest, removed, err := backup.Snapshot(cmd.Context(), s.gdb, dir, keep)
		if err != nil {
			return err
		}
		printf("Backup written to %s\n", dest)
		if len(removed) > 0 {
			printf("Pruned %d old backup(s)\n", len(removed))
		}
		return nil
	},
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupDir, "dir", "", "Backup directory (default from config)")
	f.IntVar(&backupKeep, "keep", 0, "Keep this many newest backups, 0 keeps all (default from config)")
	f.BoolVar(&backupList, "list", false, "List existing backups instead of writing one")
}
