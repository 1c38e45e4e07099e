package engine

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

type baseline struct {
	GeneratedAt  time.Time       `json:"generatedAt"`
	Fingerprints map[string]bool `json:"fingerprints"`
}

// LoadBaseline reads a baseline file: either a bare JSON array of diagnostic
// fingerprints or the full object form. An empty path yields an empty baseline.
func LoadBaseline(path string) (baseline, error) {
	var b baseline
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	var fp []string
	if err := json.Unmarshal(data, &fp); err == nil {
		m := make(map[string]bool, len(fp))
		for _, f := range fp {
			m[f] = true
		}
		b.Fingerprints = m
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, err
	}
	if b.Fingerprints == nil {
		b.Fingerprints = map[string]bool{}
	}
	return b, nil
}

// FilterByBaseline drops diagnostics already recorded in b.
func FilterByBaseline(diags []model.Diagnostic, b baseline) []model.Diagnostic {
	if len(b.Fingerprints) == 0 {
		return diags
	}
	var out []model.Diagnostic
	for _, d := range diags {
		if d.Fingerprint != "" && b.Fingerprints[d.Fingerprint] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// WriteBaseline stores the fingerprints of diags as a sorted JSON array.
func WriteBaseline(path string, diags []model.Diagnostic) error {
	if path == "" {
		return nil
	}
	m := make(map[string]bool)
	for _, d := range diags {
		if d.Fingerprint != "" {
			m[d.Fingerprint] = true
		}
	}
	arr := make([]string, 0, len(m))
	for k := range m {
		arr = append(arr, k)
	}
	sort.Strings(arr)
	data, err := json.MarshalIndent(arr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
