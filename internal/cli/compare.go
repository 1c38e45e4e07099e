package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rollno10/crossContractObfuscation/internal/metrics"
	"github.com/rollno10/crossContractObfuscation/internal/report"
)

func newCompareCmd() *cobra.Command {
	var (
		origDir string
		obfDir  string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare complexity and gas proxies of original and obfuscated units",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if origDir == "" {
				return errors.New("--original is required")
			}
			if obfDir == "" {
				obfDir = cfg.OutputDir
			}
			rows, err := metrics.CompareDirs(origDir, obfDir, cfg.SourceExt)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			return report.WriteComparison(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&origDir, "original", "", "Directory of original units")
	cmd.Flags().StringVar(&obfDir, "obfuscated", "", "Directory of obfuscated units (default: output_dir)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json")
	return cmd
}
