package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rollno10/crossContractObfuscation/internal/engine"
	"github.com/rollno10/crossContractObfuscation/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Inspect stages and the rule store"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in obfuscation stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng := engine.New(cfg, nil)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tID\tENABLED\tTITLE")
			for _, s := range eng.Stages() {
				m := s.Meta()
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", m.Order, m.ID, cfg.Stages.Enabled(m.ID), m.Title)
			}
			return tw.Flush()
		},
	})

	var unit string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the records of the latest rule store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, path, err := rules.LoadLatest(cfg.AnalysisDir)
			if err != nil {
				return err
			}
			records := store.Interactions
			if unit != "" {
				records = store.ForUnit(unit)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rule store: %s\n\n", path)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALLER\tLINE\tKIND\tROLE\tFUNCTION\tCALLEE\tDETAILS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", r.Caller, r.Line, r.Kind, r.Role, r.Function, r.Callee, r.Details)
			}
			return tw.Flush()
		},
	}
	show.Flags().StringVar(&unit, "unit", "", "Only show records of this unit")
	cmd.AddCommand(show)
	return cmd
}
