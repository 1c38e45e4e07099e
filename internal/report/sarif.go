package report

import (
	"encoding/json"
	"path/filepath"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

type sarif struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}
type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules,omitempty"`
}
type sarifRule struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Help sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLoc        `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}
type sarifLoc struct {
	Physical sarifPhys `json:"physicalLocation"`
}
type sarifPhys struct {
	ArtifactLocation sarifArt     `json:"artifactLocation"`
	Region           *sarifRegion `json:"region,omitempty"`
}
type sarifArt struct {
	URI string `json:"uri"`
}
type sarifRegion struct {
	StartLine int `json:"startLine"`
}

var classHelp = map[string]string{
	model.ClassValidation:  "Unit rejected by the compiler",
	model.ClassSkip:        "Unit without a version pragma",
	model.ClassCollision:   "Obfuscated selector collision",
	model.ClassUnsupported: "No predicate for role and interaction kind",
	model.ClassMissing:     "No verified selector for a custom call",
	model.ClassIO:          "File read or write failure",
	model.ClassTransform:   "Transform note",
	model.ClassPipeline:    "Pipeline failure",
}

// ToSARIF renders diagnostics as a SARIF 2.1.0 log. The rule id is
// <stage>/<class>; units are resolved against dir for the artifact URI.
func ToSARIF(diags []model.Diagnostic, dir string) ([]byte, error) {
	results := []sarifResult{}
	seen := map[string]bool{}
	var rules []sarifRule
	for _, d := range diags {
		level := "note"
		switch d.Severity {
		case model.SeverityWarning:
			level = "warning"
		case model.SeverityError:
			level = "error"
		}
		id := d.Stage + "/" + d.Class
		if !seen[id] {
			seen[id] = true
			rules = append(rules, sarifRule{ID: id, Name: d.Class, Help: sarifMessage{Text: classHelp[d.Class]}})
		}
		r := sarifResult{
			RuleID:  id,
			Level:   level,
			Message: sarifMessage{Text: d.Message},
		}
		if d.Fingerprint != "" {
			r.PartialFingerprints = map[string]string{"ccobf/v1": d.Fingerprint}
		}
		if d.Unit != "" {
			loc := sarifLoc{Physical: sarifPhys{ArtifactLocation: sarifArt{URI: filepath.ToSlash(filepath.Join(dir, d.Unit))}}}
			if d.Line > 0 {
				loc.Physical.Region = &sarifRegion{StartLine: d.Line}
			}
			r.Locations = []sarifLoc{loc}
		}
		results = append(results, r)
	}
	s := sarif{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs:    []sarifRun{{Tool: sarifTool{Driver: sarifDriver{Name: "ccobf", Rules: rules}}, Results: results}},
	}
	return json.MarshalIndent(s, "", "  ")
}
