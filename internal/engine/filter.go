package engine

import (
	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// FilterBySeverity removes diagnostics below the threshold severity.
func FilterBySeverity(diags []model.Diagnostic, threshold model.Severity) []model.Diagnostic {
	var out []model.Diagnostic
	for _, d := range diags {
		if model.SeverityGTE(d.Severity, threshold) {
			out = append(out, d)
		}
	}
	return out
}

// FilterByStages keeps only diagnostics of the listed stages when the list is non-empty.
func FilterByStages(diags []model.Diagnostic, stages []string) []model.Diagnostic {
	if len(stages) == 0 {
		return diags
	}
	allowed := map[string]struct{}{}
	for _, id := range stages {
		allowed[id] = struct{}{}
	}
	var out []model.Diagnostic
	for _, d := range diags {
		if _, ok := allowed[d.Stage]; ok {
			out = append(out, d)
		}
	}
	return out
}
