package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// link command
var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage car links",
}

var linkListCmd = &cobra.Command{
	Use:   "list REGION VIN",
	Short: "List the links of a car",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "LinkList")
		if err != nil {
			return err
		}
		defer a.Close()

		links, err := a.ListLinks(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if len(links) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No links.")
			return nil
		}
		for _, l := range links {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", l.ID, l.Label, l.URL)
		}
		return nil
	},
}

var linkAddCmd = &cobra.Command{
	Use:   "add REGION VIN LABEL URL",
	Short: "Attach a link to a car",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "LinkAdd")
		if err != nil {
			return err
		}
		defer a.Close()

		link, err := a.AddLink(cmd.Context(), args[0], args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added link %s\n", link.ID)
		return nil
	},
}

var linkDeleteCmd = &cobra.Command{
	Use:   "delete REGION VIN ID",
	Short: "Remove a link from a car",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "LinkDelete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteLink(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted link %s\n", args[2])
		return nil
	},
}
