package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/rollno10/crossContractObfuscation/internal/config"
	"github.com/rollno10/crossContractObfuscation/internal/engine"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/report"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
	"github.com/rollno10/crossContractObfuscation/internal/storage"
	"github.com/rollno10/crossContractObfuscation/internal/tui"
)

func AddCommands(root *cobra.Command) {
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newObfuscateCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newCompareCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newHistoryCmd())
}

func loadConfig() (config.Config, error) {
	cfg, path, err := config.Load(".")
	if err != nil {
		return cfg, err
	}
	if path != "" {
		log.WithField("path", path).Debug("config loaded")
	}
	return cfg, nil
}

// buildEngine wires the compiler and, when configured, the run ledger. The
// returned func releases the ledger.
func buildEngine(cfg config.Config) (*engine.Engine, func(), error) {
	compiler := solidity.NewSolc(cfg.Compiler.Path, cfg.Compiler.Timeout())
	if cfg.Ledger == "" {
		return engine.New(cfg, compiler), func() {}, nil
	}
	ledger, err := storage.Open(cfg.Ledger)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger %s: %w", cfg.Ledger, err)
	}
	return engine.New(cfg, compiler, engine.WithLedger(ledger)), func() { ledger.Close() }, nil
}

func inputArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return "."
}

func newAnalyzeCmd() *cobra.Command {
	var (
		format     string
		noValidate bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Extract interaction records and write a new rule store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if noValidate {
				cfg.Compiler.Validate = false
			}
			eng, done, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer done()
			res, err := eng.Analyze(cmd.Context(), inputArg(args))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == "json" {
				return writeJSON(out, res)
			}
			if err := report.WriteInteractions(out, res); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return report.WriteDiagnostics(out, res.Diagnostics)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip compiler validation")
	return cmd
}

type obfuscateOpts struct {
	format        string
	outputFile    string
	useTUI        bool
	seed          int64
	minSeverity   string
	baselinePath  string
	writeBaseline string
	noValidate    bool
	stages        []string
}

func (o *obfuscateOpts) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "table", "Output format: table|json|sarif")
	cmd.Flags().StringVarP(&o.outputFile, "out", "o", "", "Write the json or sarif report to a file")
	cmd.Flags().BoolVar(&o.useTUI, "tui", false, "Browse diagnostics in an interactive view")
	cmd.Flags().Int64Var(&o.seed, "seed", -1, "Seed for reproducible runs (0 = crypto randomness, -1 = from config)")
	cmd.Flags().StringVar(&o.minSeverity, "min-severity", "info", "Hide diagnostics below this severity (info|warning|error)")
	cmd.Flags().StringVar(&o.baselinePath, "baseline", "", "Hide diagnostics recorded in this baseline file")
	cmd.Flags().StringVar(&o.writeBaseline, "write-baseline", "", "Write the diagnostic fingerprints of this run to a baseline file")
	cmd.Flags().BoolVar(&o.noValidate, "no-validate", false, "Skip compiler validation")
	cmd.Flags().StringSliceVar(&o.stages, "stage", nil, "Only report diagnostics of these stages")
}

func (o *obfuscateOpts) config() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if o.seed >= 0 {
		cfg.Seed = uint64(o.seed)
	}
	if o.noValidate {
		cfg.Compiler.Validate = false
	}
	return cfg, nil
}

func (o *obfuscateOpts) present(cmd *cobra.Command, res *model.ObfuscationResult) error {
	if o.writeBaseline != "" {
		if err := engine.WriteBaseline(o.writeBaseline, res.Diagnostics); err != nil {
			return err
		}
	}
	b, err := engine.LoadBaseline(o.baselinePath)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	res.Diagnostics = engine.FilterBySeverity(engine.FilterByBaseline(res.Diagnostics, b), model.ParseSeverity(o.minSeverity))
	res.Diagnostics = engine.FilterByStages(res.Diagnostics, o.stages)

	if o.useTUI {
		return tui.Run(res)
	}
	var out io.Writer = cmd.OutOrStdout()
	if o.outputFile != "" && o.format != "table" {
		f, err := os.Create(o.outputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	switch o.format {
	case "json":
		return writeJSON(out, res)
	case "sarif":
		data, err := report.ToSARIF(res.Diagnostics, res.OutputDir)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	default:
		if err := report.WriteStages(out, res); err != nil {
			return err
		}
		fmt.Fprintln(out)
		return report.WriteDiagnostics(out, res.Diagnostics)
	}
}

func newObfuscateCmd() *cobra.Command {
	var o obfuscateOpts
	cmd := &cobra.Command{
		Use:   "obfuscate [path]",
		Short: "Run the obfuscation stages using the latest rule store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			eng, done, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer done()
			res, err := eng.Obfuscate(cmd.Context(), inputArg(args))
			if err != nil {
				return err
			}
			return o.present(cmd, res)
		},
	}
	o.bind(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	var o obfuscateOpts
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Analyze then obfuscate in one pass",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			eng, done, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer done()
			ar, res, err := eng.Run(cmd.Context(), inputArg(args))
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"records": len(ar.Interactions), "store": ar.RuleStorePath}).Info("analysis done")
			res.Diagnostics = append(ar.Diagnostics, res.Diagnostics...)
			return o.present(cmd, res)
		},
	}
	o.bind(cmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
