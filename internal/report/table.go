package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rollno10/crossContractObfuscation/internal/metrics"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/storage"
)

// WriteStages prints the per-stage summary of an obfuscation run.
func WriteStages(w io.Writer, res *model.ObfuscationResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tUNITS\tCHANGED\tFAILED")
	for _, s := range res.Stages {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Stage, s.Units, s.Changed, s.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nSelectors registered: %d (%s)\nOutput: %s (elapsed %s)\n", res.Selectors, res.RegistryPath, res.OutputDir, res.Elapsed)
	return err
}

// WriteDiagnostics prints one line per diagnostic.
func WriteDiagnostics(w io.Writer, diags []model.Diagnostic) error {
	if len(diags) == 0 {
		_, err := fmt.Fprintln(w, "No diagnostics.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tSTAGE\tUNIT\tLINE\tCLASS\tMESSAGE")
	for _, d := range diags {
		line := "-"
		if d.Line > 0 {
			line = fmt.Sprint(d.Line)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Severity, d.Stage, d.Unit, line, d.Class, d.Message)
	}
	return tw.Flush()
}

// WriteInteractions prints the records of an analysis run.
func WriteInteractions(w io.Writer, res *model.AnalysisResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALLER\tKIND\tROLE\tCALLEE\tSIGNATURE")
	for _, r := range res.Interactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Caller, r.Kind, r.Role, r.Callee, r.FunctionSignature)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d records from %d units -> %s\n", len(res.Interactions), res.Units, res.RuleStorePath)
	return err
}

// WriteComparison prints the complexity and gas-proxy table.
func WriteComparison(w io.Writer, rows []metrics.Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "FILE\tORIG. COMPLEX.\tOBF. COMPLEX.\t% CHANGE\tORIG. GAS\tOBF. GAS\t% CHANGE\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%d\t%s\t\n", r.Unit,
			r.Original.Complexity, r.Obfuscated.Complexity, r.ComplexityChange(),
			r.Original.Gas, r.Obfuscated.Gas, r.GasChange())
	}
	return tw.Flush()
}

// WriteRuns prints ledger history.
func WriteRuns(w io.Writer, runs []storage.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tINPUT\tUNITS\tCHANGED\tFAILED\tSELECTORS\tSEED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Input, r.Units, r.Changed, r.Failed, r.Selectors, r.Seed)
	}
	return tw.Flush()
}
