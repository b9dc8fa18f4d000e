package main

import (
	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var installReq inventory.InstallRequest

var installCmd = &cobra.Command{
	Use:     "install <id>",
	Short:   "Install a component at a detector position",
	Example: `  svtctl install M-017 --position L1T-axial --run 2025-spring`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		req := installReq
		req.ComponentID = args[0]
		req.InstalledBy = byOrWhoami(req.InstalledBy)
		rec, err := store.Install(cmd.Context(), req)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(rec)
		}
		printf("%s installed at %s (run %s) by %s\n", rec.ComponentID, rec.Position, rec.RunPeriod, rec.InstalledBy)
		return nil
	},
}

func init() {
	f := installCmd.Flags()
	f.StringVarP(&installReq.Position, "position", "p", "", "Detector position, e.g. L1T-axial")
	f.StringVarP(&installReq.RunPeriod, "run", "r", "", "Run period, e.g. 2025-spring")
	f.StringVar(&installReq.InstalledBy, "by", "", "Who installed it (default: current user)")
	f.StringVar(&installReq.Notes, "notes", "", "Notes")
	_ = installCmd.MarkFlagRequired("position")
	_ = installCmd.MarkFlagRequired("run")
}

var removeReq inventory.RemoveRequest

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an installed component from its position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		req := removeReq
		req.ComponentID = args[0]
		req.RemovedBy = byOrWhoami(req.RemovedBy)
		rec, err := store.Remove(cmd.Context(), req)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(rec)
		}
		if rec == nil {
			printf("%s removed\n", req.ComponentID)
			return nil
		}
		printf("%s removed from %s by %s\n", rec.ComponentID, orNone(&rec.Position), rec.RemovedBy)
		return nil
	},
}

func init() {
	f := removeCmd.Flags()
	f.StringVar(&removeReq.Reason, "reason", "", "Why it was removed")
	f.StringVar(&removeReq.RemovedBy, "by", "", "Who removed it (default: current user)")
	f.StringVarP(&removeReq.NewLocation, "location", "l", "", "Where it goes (default: "+inventory.DefaultRemovalLocation+")")
}

var assembleReq inventory.AssembleRequest

var assembleCmd = &cobra.Command{
	Use:     "assemble <module>",
	Short:   "Attach a sensor and/or hybrid to a module",
	Example: `  svtctl assemble M-017 --sensor W7-S3-2025 --hybrid H-112`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		req := assembleReq
		req.ModuleID = args[0]
		req.AssembledBy = byOrWhoami(req.AssembledBy)
		m, err := store.Assemble(cmd.Context(), req)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(m)
		}
		printf("Module %s: sensor %s, hybrid %s\n", m.ID, orNone(m.AssembledSensorID), orNone(m.AssembledHybridID))
		return nil
	},
}

func init() {
	f := assembleCmd.Flags()
	f.StringVar(&assembleReq.SensorID, "sensor", "", "Sensor id")
	f.StringVar(&assembleReq.HybridID, "hybrid", "", "Hybrid id")
	f.StringVar(&assembleReq.Notes, "notes", "", "Notes for the maintenance log")
	f.StringVar(&assembleReq.AssembledBy, "by", "", "Who assembled it (default: current user)")
}

var (
	disassembleNotes string
	disassembleBy    string
)

var disassembleCmd = &cobra.Command{
	Use:   "disassemble <module>",
	Short: "Detach the sensor and hybrid from a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		m, err := store.Disassemble(cmd.Context(), args[0], disassembleNotes, byOrWhoami(disassembleBy))
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(m)
		}
		printf("Module %s disassembled\n", m.ID)
		return nil
	},
}

func init() {
	f := disassembleCmd.Flags()
	f.StringVar(&disassembleNotes, "notes", "", "Notes for the maintenance log")
	f.StringVar(&disassembleBy, "by", "", "Who disassembled it (default: current user)")
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return "(none)"
	}
	return *s
}

var historyHeaders = []string{"Position", "Run", "Installed", "By", "Removed", "By", "Reason"}

func historyRows(recs []inventory.InstallationRecord) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.Position,
			r.RunPeriod,
			formatTime(r.InstallationDate),
			r.InstalledBy,
			formatOptTime(r.RemovalDate),
			r.RemovedBy,
			truncate(r.RemovalReason, 40),
		})
	}
	return rows
}
