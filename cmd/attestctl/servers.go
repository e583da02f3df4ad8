package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServersCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the candidate servers in connect order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := root.cfg.Loader().Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-4s %s", "#", "SERVER")))
			for i, server := range servers {
				fmt.Fprintf(out, "%s %s\n", dimStyle.Render(fmt.Sprintf("%-4d", i)), server.Address())
			}
			return nil
		},
	}
}
