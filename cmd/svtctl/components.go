package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var (
	addType            string
	addSerial          string
	addAssetTag        string
	addManufacturer    string
	addManufactureDate string
	addStatus          string
	addLocation        string
	addNotes           string
	addAttrs           []string
)

var addCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a new component",
	Example: `  svtctl add W7-S3-2025 --type sensor --manufacturer CNM --location "SLAC clean room"
  svtctl add FEB-04 --type feb --attr firmware=2.1`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	f := addCmd.Flags()
	f.StringVarP(&addType, "type", "t", "", "Component type (module, hybrid, sensor, feb, cable, optical_board, mpod_module, mpod_crate, flange_board, other)")
	f.StringVar(&addSerial, "serial", "", "Serial number (default: the id)")
	f.StringVar(&addAssetTag, "asset-tag", "", "Asset tag")
	f.StringVar(&addManufacturer, "manufacturer", "", "Manufacturer")
	f.StringVar(&addManufactureDate, "manufacture-date", "", "Manufacture date")
	f.StringVar(&addStatus, "status", "", "Initial status (default: incoming)")
	f.StringVarP(&addLocation, "location", "l", "", "Current location")
	f.StringVar(&addNotes, "notes", "", "Free-form notes")
	f.StringArrayVar(&addAttrs, "attr", nil, "Attribute key=value (repeatable)")
	_ = addCmd.MarkFlagRequired("type")
}

func runAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	attrs, err := parseAssignments(addAttrs)
	if err != nil {
		return err
	}
	c := &inventory.Component{
		ID:                 args[0],
		Type:               inventory.ComponentType(addType),
		SerialNumber:       addSerial,
		AssetTag:           addAssetTag,
		Manufacturer:       addManufacturer,
		ManufactureDate:    addManufactureDate,
		InstallationStatus: inventory.Status(addStatus),
		CurrentLocation:    addLocation,
		Notes:              addNotes,
		Attributes:         attrs,
	}
	if err := store.CreateComponent(cmd.Context(), c); err != nil {
		return err
	}
	if structured() {
		return printOutput(c)
	}
	printf("Added %s %s (%s)\n", c.Type.DisplayName(), c.ID, c.InstallationStatus)
	return nil
}

var listFilter inventory.ListFilter
var listType, listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List components",
	Example: `  svtctl list --type sensor
  svtctl list --filter 'location~SLAC AND manufacturer=CNM'`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	f := listCmd.Flags()
	f.StringVarP(&listType, "type", "t", "", "Only this component type")
	f.StringVarP(&listStatus, "status", "s", "", "Only this installation status")
	f.StringVarP(&listFilter.Location, "location", "l", "", "Location substring")
	f.StringVar(&listFilter.Position, "position", "", "Installed position")
	f.StringVarP(&listFilter.Expr, "filter", "f", "", "Filter expression, e.g. 'type=sensor AND location~SLAC'")
	f.IntVar(&listFilter.Limit, "limit", 0, "Maximum rows (0 = all)")
	f.IntVar(&listFilter.Offset, "offset", 0, "Rows to skip")
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	f := listFilter
	f.Type = inventory.ComponentType(listType)
	f.Status = inventory.Status(listStatus)
	comps, err := store.ListComponents(cmd.Context(), f)
	if err != nil {
		return err
	}
	if structured() {
		return printOutput(comps)
	}
	if len(comps) == 0 {
		printf("No components found.\n")
		return nil
	}
	rows := make([][]string, 0, len(comps))
	for _, c := range comps {
		rows = append(rows, []string{
			c.ID,
			c.Type.DisplayName(),
			c.SerialNumber,
			string(c.InstallationStatus),
			truncate(c.CurrentLocation, 30),
			c.Position(),
		})
	}
	printTable([]string{"ID", "Type", "Serial", "Status", "Location", "Position"}, rows)
	printf("\n%d component(s)\n", len(comps))
	return nil
}

// componentDetail is what `show` prints in structured output.
type componentDetail struct {
	*inventory.Component
	Assembly     *inventory.Assembly            `json:"assembly,omitempty"`
	Installation []inventory.InstallationRecord `json:"installationHistory"`
	Tests        []inventory.TestResult         `json:"tests"`
	Connections  []inventory.Neighbor           `json:"connections"`
	Logs         []inventory.MaintenanceLog     `json:"maintenanceLog"`
	Images       []inventory.ComponentImage     `json:"images"`
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a component with its history, tests, connections and log",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	id := args[0]
	d := componentDetail{}
	if d.Component, err = store.GetComponent(ctx, id); err != nil {
		return err
	}
	if d.Assembly, err = store.AssemblyOf(ctx, id); err != nil {
		return err
	}
	if d.Installation, err = store.InstallationHistory(ctx, id); err != nil {
		return err
	}
	if d.Tests, err = store.TestsForComponent(ctx, id); err != nil {
		return err
	}
	if d.Connections, err = store.Neighbors(ctx, id); err != nil {
		return err
	}
	if d.Logs, err = store.Logs(ctx, id); err != nil {
		return err
	}
	if d.Images, err = store.Images(ctx, id); err != nil {
		return err
	}
	if structured() {
		return printOutput(d)
	}

	c := d.Component
	printFields([][2]string{
		{"ID", c.ID},
		{"Type", c.Type.DisplayName()},
		{"Serial", c.SerialNumber},
		{"Asset tag", c.AssetTag},
		{"Manufacturer", c.Manufacturer},
		{"Manufactured", c.ManufactureDate},
		{"Status", string(c.InstallationStatus)},
		{"Location", c.CurrentLocation},
		{"Position", c.Position()},
		{"Notes", c.Notes},
		{"Created", formatTime(c.CreatedAt)},
	})
	if a := d.Assembly; a != nil {
		printFields([][2]string{
			{"Module", moduleID(a.Module)},
			{"Sensor", moduleID(a.Sensor)},
			{"Hybrid", moduleID(a.Hybrid)},
		})
	}
	if len(c.Attributes) > 0 {
		printf("\nAttributes:\n")
		rows := make([][]string, 0, len(c.Attributes))
		for _, k := range c.Attributes.Keys() {
			rows = append(rows, []string{k, c.Attributes[k].Text()})
		}
		printTable([]string{"Key", "Value"}, rows)
	}
	if len(d.Installation) > 0 {
		printf("\nInstallation history:\n")
		printTable(historyHeaders, historyRows(d.Installation))
	}
	if len(d.Tests) > 0 {
		printf("\nTests:\n")
		printTable(testHeaders, testRows(d.Tests))
	}
	if len(d.Connections) > 0 {
		printf("\nConnections:\n")
		printTable(neighborHeaders, neighborRows(d.Connections))
	}
	if len(d.Logs) > 0 {
		printf("\nMaintenance log:\n")
		printTable(logHeaders, logRows(d.Logs))
	}
	if len(d.Images) > 0 {
		printf("\nPictures: %d (svtctl image list %s)\n", len(d.Images), c.ID)
	}
	return nil
}

func moduleID(c *inventory.Component) string {
	if c == nil {
		return ""
	}
	return c.ID
}

var (
	updAttrs []string
	updUnset []string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change component fields or attributes",
	Example: `  svtctl update W7-S3-2025 --asset-tag SLAC-0042
  svtctl update W7-S3-2025 --attr "L.C. @ 100V cleaved (A/cm2)=3.2e-7" --unset obsolete_key`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.String("serial", "", "Serial number")
	f.String("asset-tag", "", "Asset tag")
	f.String("manufacturer", "", "Manufacturer")
	f.String("manufacture-date", "", "Manufacture date")
	f.StringP("location", "l", "", "Current location")
	f.String("notes", "", "Notes")
	f.StringArrayVar(&updAttrs, "attr", nil, "Set attribute key=value (repeatable)")
	f.StringArrayVar(&updUnset, "unset", nil, "Remove attribute key (repeatable)")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	id := args[0]

	changed := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	patch := inventory.ComponentPatch{
		SerialNumber:    changed("serial"),
		AssetTag:        changed("asset-tag"),
		Manufacturer:    changed("manufacturer"),
		ManufactureDate: changed("manufacture-date"),
		CurrentLocation: changed("location"),
		Notes:           changed("notes"),
	}
	attrs, err := parseAssignments(updAttrs)
	if err != nil {
		return err
	}
	for _, k := range updUnset {
		if attrs == nil {
			attrs = inventory.Bag{}
		}
		attrs[k] = inventory.Null()
	}

	c, err := store.UpdateComponent(ctx, id, patch)
	if err != nil {
		return err
	}
	if len(attrs) > 0 {
		if c, err = store.UpdateAttributes(ctx, id, attrs); err != nil {
			return err
		}
	}
	if structured() {
		return printOutput(c)
	}
	printf("Updated %s\n", c.ID)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set the installation status",
	Long: `Set the installation status of a component.

Components enter and leave the installed status only through install and
remove. Retired components keep their status.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.SetStatus(cmd.Context(), args[0], inventory.Status(args[1])); err != nil {
			return err
		}
		printf("%s is now %s\n", args[0], args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a component that nothing references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.DeleteComponent(cmd.Context(), args[0]); err != nil {
			return err
		}
		printf("Deleted %s\n", args[0])
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <id> <location>",
	Short: "Change the current location",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.UpdateLocation(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printf("%s moved to %s\n", args[0], args[1])
		return nil
	},
}

func parseID(s, what string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return uint(n), nil
}
