package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// region command
var regionCmd = &cobra.Command{
	Use:   "region",
	Short: "Browse regions",
}

var regionListCmd = &cobra.Command{
	Use:   "list REGION",
	Short: "List the cars of a region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RegionList")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.ListRegion(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if r.Stale {
			fmt.Fprintln(out, "Remote disk unavailable; showing cached listing.")
		}
		if len(r.Cars) == 0 {
			fmt.Fprintln(out, "No cars.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VIN\tMAKE\tMODEL\tCREATED\tBY")
		for _, c := range r.Cars {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.VIN, c.Make, c.Model, humanize.Time(c.CreatedAt), c.CreatedBy)
		}
		return w.Flush()
	},
}

// car command
var carCmd = &cobra.Command{
	Use:   "car",
	Short: "Manage cars",
}

var carCreateCmd = &cobra.Command{
	Use:   "create REGION MAKE MODEL VIN",
	Short: "Register a new car",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CarCreate")
		if err != nil {
			return err
		}
		defer a.Close()

		car, err := a.CreateCar(cmd.Context(), args[0], args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s at %s\n", car.VIN, car.Root)
		return nil
	},
}

var carShowCmd = &cobra.Command{
	Use:   "show REGION VIN",
	Short: "Show a car and its slot folders",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CarShow")
		if err != nil {
			return err
		}
		defer a.Close()

		car, err := a.ShowCar(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "VIN:     %s\n", car.VIN)
		fmt.Fprintf(out, "Car:     %s %s\n", car.Make, car.Model)
		fmt.Fprintf(out, "Region:  %s\n", car.Region)
		fmt.Fprintf(out, "Root:    %s\n", car.Root)
		fmt.Fprintf(out, "Created: %s by %s\n", car.CreatedAt.Format("2006-01-02 15:04:05"), car.CreatedBy)
		fmt.Fprintln(out)
		for _, s := range car.Slots {
			fmt.Fprintf(out, "  %s %d\t%s\n", s.Type, s.Index, s.Path)
		}
		return nil
	},
}

var carSlotsCmd = &cobra.Command{
	Use:   "slots REGION VIN",
	Short: "Show photo counts of every slot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CarSlots")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.SlotCounts(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLOT\tPHOTOS\tSIZE\tCOVER\tPUBLIC\tSOURCE")
		for _, s := range stats {
			public := ""
			if s.PublicURL != "" {
				public = "yes"
			}
			fmt.Fprintf(w, "%s %d\t%d\t%s\t%s\t%s\t%s\n",
				s.Type, s.Index, s.Count, humanize.IBytes(uint64(s.TotalSize)), s.Cover, public, s.Source)
		}
		return w.Flush()
	},
}

var carArchiveCmd = &cobra.Command{
	Use:   "archive REGION VIN",
	Short: "Move a car into the archive region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm(cmd, fmt.Sprintf("Archive %s in %s?", args[1], args[0])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}

		a, err := newApp(cmd.Context(), "CarArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		car, err := a.ArchiveCar(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archived %s to %s\n", car.VIN, car.Root)
		return nil
	},
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
