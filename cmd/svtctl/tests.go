package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Record and inspect test results",
}

func init() {
	testCmd.AddCommand(testRecordCmd, testShowCmd, testListCmd, testSetResultCmd, testDeleteCmd)
}

var (
	recType       string
	recDate       string
	recPass       bool
	recFail       bool
	recMeasures   []string
	recFiles      []string
	recBy         string
	recSetup      string
	recConditions string
	recNotes      string
)

var testRecordCmd = &cobra.Command{
	Use:   "record <component>",
	Short: "Record a test result with measurements and files",
	Long: `Record a test result. Measurements are key=value pairs; voltage_measured,
current_measured, noise_level and temperature are also stored in indexed
columns. Files are copied into the data directory. Prefix a file with its
type (raw_data, plot, image, log, other) and a colon to override the type
guessed from the extension.`,
	Example: `  svtctl test record W7-S3-2025 --type iv_curve --pass \
      --measure voltage_measured=100 --measure current_measured=3.1e-7 \
      --file raw_data:iv.csv --file iv.png`,
	Args: cobra.ExactArgs(1),
	RunE: runTestRecord,
}

func init() {
	f := testRecordCmd.Flags()
	f.StringVarP(&recType, "type", "t", "", "Test type, e.g. iv_curve, edge_imaging")
	f.StringVar(&recDate, "date", "", "Test date (YYYY-MM-DD, YYYY-MM-DD HH:MM or RFC 3339; default: now)")
	f.BoolVar(&recPass, "pass", false, "Mark the test passed")
	f.BoolVar(&recFail, "fail", false, "Mark the test failed")
	f.StringArrayVarP(&recMeasures, "measure", "m", nil, "Measurement key=value (repeatable)")
	f.StringArrayVar(&recFiles, "file", nil, "Attach [type:]path (repeatable)")
	f.StringVar(&recBy, "by", "", "Who ran the test (default: current user)")
	f.StringVar(&recSetup, "setup", "", "Test setup")
	f.StringVar(&recConditions, "conditions", "", "Test conditions")
	f.StringVar(&recNotes, "notes", "", "Notes")
	_ = testRecordCmd.MarkFlagRequired("type")
	testRecordCmd.MarkFlagsMutuallyExclusive("pass", "fail")
}

func runTestRecord(cmd *cobra.Command, args []string) error {
	when, err := parseDate(recDate)
	if err != nil {
		return err
	}
	measurements, err := parseAssignments(recMeasures)
	if err != nil {
		return err
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	rec := inventory.TestRecord{
		ComponentID:    args[0],
		TestType:       recType,
		TestDate:       when,
		PassFail:       passFail(recPass, recFail),
		Measurements:   measurements,
		TestedBy:       byOrWhoami(recBy),
		TestSetup:      recSetup,
		TestConditions: recConditions,
		Notes:          recNotes,
	}
	for _, arg := range recFiles {
		rec.Files = append(rec.Files, parseAttachment(arg))
	}
	res, err := store.RecordTest(cmd.Context(), rec)
	if err != nil {
		return err
	}
	if structured() {
		return printOutput(res)
	}
	printf("Test %d recorded for %s (%s, %s, %d files)\n", res.ID, res.ComponentID, res.TestType, res.Outcome(), len(res.Files))
	return nil
}

func passFail(pass, fail bool) *bool {
	switch {
	case pass:
		return &pass
	case fail:
		v := false
		return &v
	}
	return nil
}

// parseAttachment splits "plot:/path/to/file.png" into type and path. A
// prefix that is not a file type is treated as part of the path.
func parseAttachment(arg string) inventory.Attachment {
	if prefix, path, ok := strings.Cut(arg, ":"); ok {
		if ft := inventory.FileType(prefix); ft.Valid() {
			return inventory.Attachment{SourcePath: path, FileType: ft}
		}
	}
	return inventory.Attachment{SourcePath: arg}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q (use YYYY-MM-DD or YYYY-MM-DD HH:MM)", s)
}

var testShowCmd = &cobra.Command{
	Use:   "show <test-id>",
	Short: "Show a test with its measurements and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "test")
		if err != nil {
			return err
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		t, err := store.GetTest(cmd.Context(), id)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(t)
		}
		printFields([][2]string{
			{"Test", itoa(t.ID)},
			{"Component", t.ComponentID},
			{"Type", t.TestType},
			{"Date", formatTime(t.TestDate)},
			{"Result", t.Outcome()},
			{"Tested by", t.TestedBy},
			{"Setup", t.TestSetup},
			{"Conditions", t.TestConditions},
			{"Notes", t.Notes},
		})
		if len(t.Measurements) > 0 {
			printf("\nMeasurements:\n")
			rows := make([][]string, 0, len(t.Measurements))
			for _, k := range t.Measurements.Keys() {
				rows = append(rows, []string{k, truncate(t.Measurements[k].Text(), 60)})
			}
			printTable([]string{"Key", "Value"}, rows)
		}
		if len(t.Files) > 0 {
			printf("\nFiles:\n")
			rows := make([][]string, 0, len(t.Files))
			for _, f := range t.Files {
				rows = append(rows, []string{string(f.FileType), f.FilePath, fmt.Sprint(f.FileSize), f.Description})
			}
			printTable([]string{"Type", "Path", "Bytes", "Description"}, rows)
		}
		return nil
	},
}

var (
	listTestType  string
	listTestDays  int
	listTestLimit int
)

var testListCmd = &cobra.Command{
	Use:   "list [component]",
	Short: "List tests of a component, or recent tests of all components",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		var tests []inventory.TestResult
		if len(args) == 1 {
			tests, err = store.TestsForComponent(cmd.Context(), args[0])
		} else {
			tests, err = store.RecentTests(cmd.Context(), time.Now().AddDate(0, 0, -listTestDays), listTestLimit)
		}
		if err != nil {
			return err
		}
		if listTestType != "" {
			kept := tests[:0]
			for _, t := range tests {
				if t.TestType == listTestType {
					kept = append(kept, t)
				}
			}
			tests = kept
		}
		if structured() {
			return printOutput(tests)
		}
		if len(tests) == 0 {
			printf("No tests found.\n")
			return nil
		}
		printTable(testHeaders, testRows(tests))
		return nil
	},
}

func init() {
	f := testListCmd.Flags()
	f.StringVarP(&listTestType, "type", "t", "", "Only this test type")
	f.IntVar(&listTestDays, "days", 30, "Without a component: look back this many days")
	f.IntVar(&listTestLimit, "limit", 50, "Without a component: maximum rows")
}

var testSetResultCmd = &cobra.Command{
	Use:   "set-result <test-id> pass|fail|unknown",
	Short: "Change the pass/fail result of a test",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "test")
		if err != nil {
			return err
		}
		var v *bool
		switch strings.ToLower(args[1]) {
		case "pass":
			v = passFail(true, false)
		case "fail":
			v = passFail(false, true)
		case "unknown":
		default:
			return fmt.Errorf("result must be pass, fail or unknown, not %q", args[1])
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.UpdateResult(cmd.Context(), id, v); err != nil {
			return err
		}
		printf("Test %d is now %s\n", id, strings.ToLower(args[1]))
		return nil
	},
}

var testDeleteCmd = &cobra.Command{
	Use:   "delete <test-id>",
	Short: "Delete a test record; its files stay on disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "test")
		if err != nil {
			return err
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.DeleteTest(cmd.Context(), id); err != nil {
			return err
		}
		printf("Test %d deleted\n", id)
		return nil
	},
}

var testHeaders = []string{"ID", "Component", "Type", "Date", "Result", "By"}

func testRows(tests []inventory.TestResult) [][]string {
	rows := make([][]string, 0, len(tests))
	for _, t := range tests {
		rows = append(rows, []string{
			itoa(t.ID),
			t.ComponentID,
			t.TestType,
			formatTime(t.TestDate),
			t.Outcome(),
			t.TestedBy,
		})
	}
	return rows
}

func itoa(n uint) string { return fmt.Sprint(n) }
