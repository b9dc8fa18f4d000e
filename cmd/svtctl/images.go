package main

import (
	"github.com/spf13/cobra"

	"github.com/hps-svt/tracker/pkg/inventory"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Component pictures",
}

func init() {
	imageCmd.AddCommand(imageAddCmd, imageListCmd)
}

var (
	imageDesc string
	imageBy   string
)

var imageAddCmd = &cobra.Command{
	Use:   "add <component> <file>...",
	Short: "Copy pictures into the data directory and attach them to a component",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		var added []inventory.ComponentImage
		for _, src := range args[1:] {
			img, err := store.AddImage(cmd.Context(), args[0], src, imageDesc, byOrWhoami(imageBy))
			if err != nil {
				return err
			}
			added = append(added, *img)
		}
		if structured() {
			return printOutput(added)
		}
		printf("%d image(s) added to %s\n", len(added), args[0])
		return nil
	},
}

func init() {
	f := imageAddCmd.Flags()
	f.StringVarP(&imageDesc, "description", "d", "", "Description")
	f.StringVar(&imageBy, "by", "", "Who took the pictures (default: current user)")
}

var imageListCmd = &cobra.Command{
	Use:   "list <component>",
	Short: "List the pictures of a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		imgs, err := store.Images(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(imgs)
		}
		if len(imgs) == 0 {
			printf("%s has no pictures.\n", args[0])
			return nil
		}
		rows := make([][]string, 0, len(imgs))
		for _, img := range imgs {
			rows = append(rows, []string{itoa(img.ID), img.ImagePath, formatTime(img.UploadDate), img.UploadedBy, truncate(img.Description, 40)})
		}
		printTable([]string{"ID", "Path", "Uploaded", "By", "Description"}, rows)
		return nil
	},
}
