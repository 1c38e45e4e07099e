package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rollno10/crossContractObfuscation/internal/report"
	"github.com/rollno10/crossContractObfuscation/internal/storage"
)

func openLedger() (*storage.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger == "" {
		return nil, errors.New("no ledger configured")
	}
	return storage.Open(cfg.Ledger)
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID int64
		sel   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded obfuscation runs and their selectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()
			out := cmd.OutOrStdout()

			var rows []storage.SelectorRow
			switch {
			case sel != "":
				rows, err = ledger.FindSignature(cmd.Context(), sel)
			case runID > 0:
				rows, err = ledger.Selectors(cmd.Context(), runID)
			default:
				runs, err := ledger.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return report.WriteRuns(out, runs)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SELECTOR\tSIGNATURE\tADDRESS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Selector, r.FunctionSignature, r.ContractAddress)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().Int64Var(&runID, "run", 0, "Print the selector registry of this run")
	cmd.Flags().StringVar(&sel, "selector", "", "Look up the signature recorded for a 0x selector")
	return cmd
}
