package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/collector/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect assignment rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a rule file and print rules in evaluation order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Rules.Path
		if len(args) == 1 {
			path = args[0]
		}

		snap, err := rules.LoadFile(path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tCODE\tDESCRIPTION")
		for _, r := range snap.Rules() {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.Priority, r.Code, r.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d rule(s) OK\n", path, snap.Len())
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}
