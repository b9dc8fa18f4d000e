package main

import (
	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Maintenance log entries",
}

func init() {
	logCmd.AddCommand(logAddCmd, logListCmd, logResolveCmd)
}

var (
	logType     string
	logSeverity string
	logBy       string
	logImage    string
)

var logAddCmd = &cobra.Command{
	Use:     "add <component> <description>",
	Short:   "Append a maintenance log entry",
	Example: `  svtctl log add FEB-04 "channel 12 dead after power cycle" --type issue --severity warning`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		entry := &inventory.MaintenanceLog{
			ComponentID: args[0],
			Description: args[1],
			LogType:     inventory.LogType(logType),
			Severity:    inventory.Severity(logSeverity),
			LoggedBy:    byOrWhoami(logBy),
			ImagePath:   logImage,
		}
		if err := store.AddLog(cmd.Context(), entry); err != nil {
			return err
		}
		if structured() {
			return printOutput(entry)
		}
		printf("Log entry %d added to %s\n", entry.ID, entry.ComponentID)
		return nil
	},
}

func init() {
	f := logAddCmd.Flags()
	f.StringVarP(&logType, "type", "t", "", "issue, repair, maintenance or note (default: note)")
	f.StringVarP(&logSeverity, "severity", "s", "", "critical, warning or info (default: info)")
	f.StringVar(&logBy, "by", "", "Who logged it (default: current user)")
	f.StringVar(&logImage, "image", "", "Path of a related picture")
}

var logOpenOnly bool

var logListCmd = &cobra.Command{
	Use:   "list [component]",
	Short: "List the log of a component, or all open issues",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		var logs []inventory.MaintenanceLog
		if len(args) == 0 {
			logs, err = store.OpenIssues(cmd.Context())
		} else {
			logs, err = store.Logs(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		if logOpenOnly {
			kept := logs[:0]
			for _, l := range logs {
				if !l.Resolved() {
					kept = append(kept, l)
				}
			}
			logs = kept
		}
		if structured() {
			return printOutput(logs)
		}
		if len(logs) == 0 {
			printf("No log entries.\n")
			return nil
		}
		printTable(logHeaders, logRows(logs))
		return nil
	},
}

func init() {
	logListCmd.Flags().BoolVar(&logOpenOnly, "open", false, "Only unresolved entries")
}

var logResolveCmd = &cobra.Command{
	Use:   "resolve <log-id> <resolution>",
	Short: "Record how an issue was resolved",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "log")
		if err != nil {
			return err
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		entry, err := store.ResolveLog(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(entry)
		}
		printf("Log entry %d resolved\n", entry.ID)
		return nil
	},
}

var logHeaders = []string{"ID", "Component", "Date", "Type", "Severity", "Description", "Resolved"}

func logRows(logs []inventory.MaintenanceLog) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			itoa(l.ID),
			l.ComponentID,
			formatTime(l.LogDate),
			string(l.LogType),
			string(l.Severity),
			truncate(l.Description, 50),
			formatOptTime(l.ResolvedDate),
		})
	}
	return rows
}
