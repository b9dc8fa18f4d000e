package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	dataDir    string
	outputFmt  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "svtctl",
	Short: "Inventory and test tracker for the HPS SVT detector",
	Long: `svtctl manages the SVT component inventory: modules, sensors, hybrids,
front end boards, cables and the rest of the readout chain.

It works directly on the tracker database. The database and data directory
default to ~/.hps_svt_tracker and can be changed with --db and --data-dir, a
config file (--config) or SVT_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { closeSession() },
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for test files and pictures (overrides config)")
	pf.StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log store operations to stderr")

	rootCmd.AddCommand(
		initCmd,
		addCmd,
		listCmd,
		showCmd,
		updateCmd,
		statusCmd,
		deleteCmd,
		moveCmd,
		installCmd,
		removeCmd,
		assembleCmd,
		disassembleCmd,
		connectCmd,
		disconnectCmd,
		connectionsCmd,
		testCmd,
		logCmd,
		imageCmd,
		summaryCmd,
		importCmd,
		exportCmd,
		ocrCmd,
		backupCmd,
	)
}
