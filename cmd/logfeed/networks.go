package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
)

func newNetworksCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the configured networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := networks.LoadRegistry(opts.configPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHAIN ID\tADDRESSES\tTOPIC POSITIONS")
			for _, name := range registry.Names() {
				n, err := registry.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", n.Name, n.ChainID, len(n.Filter.Addresses), len(n.Filter.Topics))
			}
			return w.Flush()
		},
	}
}
