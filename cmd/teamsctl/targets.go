package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onnwee/teams-classbot/config"
	"github.com/onnwee/teams-classbot/discovery"
)

func newTargetsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List debugger targets and mark the one the bot would capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dc := &discovery.Client{BaseURL: cfg.DiscoveryURL}
			targets, err := dc.List(cmd.Context())
			if err != nil {
				return err
			}
			chosen, found := discovery.Select(targets, cfg.TargetType, cfg.TargetURLMarker)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tTYPE\tURL")
			for _, t := range targets {
				selected := found && t.ID == chosen.ID
				if !all && !selected && t.Type != cfg.TargetType {
					continue
				}
				mark := ""
				if selected {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, t.ID, t.Type, t.URL)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: type=%s marker=%s", discovery.ErrNoTarget, cfg.TargetType, cfg.TargetURLMarker)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list targets of every type")
	return cmd
}
