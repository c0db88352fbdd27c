package main

import (
	"fmt"
	"text/tabwriter"

	"carphoto/internal/app"
	"carphoto/internal/carphoto"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// slotArgs are the four leading arguments naming a slot.
const slotArgs = "REGION VIN TYPE INDEX"

func parseSlotArgs(args []string) (carphoto.SlotTarget, error) {
	if len(args) < 4 {
		return carphoto.SlotTarget{}, fmt.Errorf("expected %s", slotArgs)
	}
	return app.ParseSlot(args[0], args[1], args[2], args[3])
}

func printWrite(cmd *cobra.Command, verb string, res *carphoto.WriteResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d photo(s); slot now holds %d\n", verb, len(res.Files), res.Count)
	if res.Dirty {
		fmt.Fprintf(out, "Index not confirmed (%s); it will be rebuilt on the next read.\n", res.DirtyReason)
	}
}

// photo command
var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Manage slot photos",
}

var photoUploadCmd = &cobra.Command{
	Use:   "upload " + slotArgs + " PATH...",
	Short: "Upload photos into a slot",
	Args:  cobra.MinimumNArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		target, err := parseSlotArgs(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "PhotoUpload")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.UploadPaths(cmd.Context(), target, args[4:], recursive)
		if err != nil {
			return err
		}
		printWrite(cmd, "Uploaded", res)
		return nil
	},
}

var photoDeleteCmd = &cobra.Command{
	Use:   "delete " + slotArgs + " NAME...",
	Short: "Delete photos from a slot",
	Args:  cobra.MinimumNArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseSlotArgs(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "PhotoDelete")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.DeletePhotos(cmd.Context(), target, args[4:])
		if err != nil {
			return err
		}
		printWrite(cmd, "Deleted", res)
		return nil
	},
}

var photoRenameCmd = &cobra.Command{
	Use:   "rename " + slotArgs + " FROM TO",
	Short: "Rename a photo inside a slot",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseSlotArgs(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "PhotoRename")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RenamePhoto(cmd.Context(), target, args[4], args[5])
		if err != nil {
			return err
		}
		printWrite(cmd, "Renamed", res)
		return nil
	},
}

var photoListCmd = &cobra.Command{
	Use:   "list " + slotArgs,
	Short: "List the photos of a slot",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseSlotArgs(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "PhotoList")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.ListPhotos(cmd.Context(), target)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No photos.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", it.Name, humanize.IBytes(uint64(it.Size)), humanize.Time(it.Modified))
		}
		return w.Flush()
	},
}

// slot command
var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Manage slot folders",
}

var slotPublishCmd = &cobra.Command{
	Use:   "publish " + slotArgs,
	Short: "Publish a slot folder and print its public URL",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseSlotArgs(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "SlotPublish")
		if err != nil {
			return err
		}
		defer a.Close()

		url, err := a.PublishSlot(cmd.Context(), target)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}
