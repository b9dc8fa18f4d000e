package main

import (
	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var connectReq inventory.ConnectRequest

var connectCmd = &cobra.Command{
	Use:     "connect <a> <b>",
	Short:   "Record a connection between two components",
	Example: `  svtctl connect H-112 FEB-04 --type data --cable C-0031`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		req := connectReq
		req.ComponentA, req.ComponentB = args[0], args[1]
		conn, err := store.Connect(cmd.Context(), req)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(conn)
		}
		printf("Connection %d: %s <-> %s\n", conn.ID, conn.ComponentAID, conn.ComponentBID)
		return nil
	},
}

func init() {
	f := connectCmd.Flags()
	f.StringVarP(&connectReq.ConnectionType, "type", "t", "", "Connection type, e.g. power, data, hv")
	f.StringVar(&connectReq.CableID, "cable", "", "Cable component carrying the connection")
	f.StringVar(&connectReq.Notes, "notes", "", "Notes")
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <connection-id>",
	Short: "Delete a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "connection")
		if err != nil {
			return err
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Disconnect(cmd.Context(), id); err != nil {
			return err
		}
		printf("Connection %d deleted\n", id)
		return nil
	},
}

var connectionsCmd = &cobra.Command{
	Use:   "connections <id>",
	Short: "List what a component is connected to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		ns, err := store.Neighbors(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(ns)
		}
		if len(ns) == 0 {
			printf("%s has no connections.\n", args[0])
			return nil
		}
		printTable(neighborHeaders, neighborRows(ns))
		return nil
	},
}

var neighborHeaders = []string{"Connection", "Component", "Type", "Cable"}

func neighborRows(ns []inventory.Neighbor) [][]string {
	rows := make([][]string, 0, len(ns))
	for _, n := range ns {
		rows = append(rows, []string{
			itoa(n.ConnectionID),
			n.ComponentID,
			n.ConnectionType,
			deref(n.CableID),
		})
	}
	return rows
}
