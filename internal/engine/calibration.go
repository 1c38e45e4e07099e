package engine

import (
	"sort"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// mergeDiagnostics collapses diagnostics sharing a fingerprint, keeping the
// highest severity, and orders the rest by stage, unit and line.
func mergeDiagnostics(in []model.Diagnostic) []model.Diagnostic {
	byFP := map[string]int{}
	var out []model.Diagnostic
	for _, d := range in {
		if i, ok := byFP[d.Fingerprint]; ok && d.Fingerprint != "" {
			if model.SeverityGTE(d.Severity, out[i].Severity) {
				out[i].Severity = d.Severity
			}
			continue
		}
		byFP[d.Fingerprint] = len(out)
		out = append(out, d)
	}
	order := map[string]int{}
	for i, d := range out {
		if _, ok := order[d.Stage]; !ok {
			order[d.Stage] = i
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Stage != b.Stage {
			return order[a.Stage] < order[b.Stage]
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.Line < b.Line
	})
	return out
}
