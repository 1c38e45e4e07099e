package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/apex/log"
)

var (
	reHighCall    = regexp.MustCompile(`\w+\.\w+\(`)
	reLowCall     = regexp.MustCompile(`\.(call|delegatecall|staticcall)\b`)
	reLowCond     = regexp.MustCompile(`if\s*\(.*\.(call|delegatecall|staticcall)`)
	reOpaque      = regexp.MustCompile(`if\s*\(.*(call|delegatecall|staticcall).*&&.*\)`)
	reProxyWord   = regexp.MustCompile(`(fallback|delegateTo|implementation|forwardTo|functionSelector)`)
	reNewProxy    = regexp.MustCompile(`new\s+Proxy\s*\(`)
	reNewContract = regexp.MustCompile(`new\s+[A-Z]\w+`)
	reCreate2     = regexp.MustCompile(`(?i)create2`)
)

// Score is the static interaction complexity of one unit and a weighted gas proxy.
type Score struct {
	Complexity int `json:"complexity"`
	Gas        int `json:"gas"`
}

// ScoreUnit counts call, predicate, proxy and construction patterns in content.
func ScoreUnit(content string) Score {
	var s Score
	high := len(reHighCall.FindAllStringIndex(content, -1))
	s.Complexity += high
	s.Gas += high

	low := len(reLowCall.FindAllStringIndex(content, -1))
	conds := len(reLowCond.FindAllStringIndex(content, -1))
	s.Complexity += low + conds
	s.Gas += low + conds*2

	opaque := len(reOpaque.FindAllStringIndex(content, -1))
	s.Complexity += opaque
	s.Gas += opaque * 2

	words := reProxyWord.FindAllString(content, -1)
	distinct := map[string]bool{}
	for _, w := range words {
		distinct[w] = true
	}
	s.Complexity += len(distinct)
	s.Gas += len(words) * 2

	proxies := len(reNewProxy.FindAllStringIndex(content, -1))
	s.Complexity += proxies
	s.Gas += proxies * 4

	news := len(reNewContract.FindAllStringIndex(content, -1))
	create2 := len(reCreate2.FindAllStringIndex(content, -1))
	s.Complexity += news
	s.Gas += news*2 + create2*3
	return s
}

// Comparison pairs the scores of a unit before and after obfuscation.
type Comparison struct {
	Unit       string `json:"unit"`
	Original   Score  `json:"original"`
	Obfuscated Score  `json:"obfuscated"`
}

func (c Comparison) ComplexityChange() string {
	return PercentChange(c.Original.Complexity, c.Obfuscated.Complexity)
}

func (c Comparison) GasChange() string { return PercentChange(c.Original.Gas, c.Obfuscated.Gas) }

// PercentChange formats the relative change from orig to obf. Growth from zero
// has no meaningful ratio and is reported as "new".
func PercentChange(orig, obf int) string {
	switch {
	case orig == 0 && obf == 0:
		return "0%"
	case orig == 0:
		return "new"
	}
	return fmt.Sprintf("%+.2f%%", float64(obf-orig)*100/float64(orig))
}

// CompareDirs scores every unit with extension ext present in both folders.
// Units missing from the obfuscated folder are logged and left out.
func CompareDirs(origDir, obfDir, ext string) ([]Comparison, error) {
	entries, err := os.ReadDir(origDir)
	if err != nil {
		return nil, err
	}
	var out []Comparison
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		orig, err := os.ReadFile(filepath.Join(origDir, e.Name()))
		if err != nil {
			return nil, err
		}
		obf, err := os.ReadFile(filepath.Join(obfDir, e.Name()))
		if err != nil {
			log.WithField("unit", e.Name()).WithError(err).Warn("no obfuscated counterpart")
			continue
		}
		out = append(out, Comparison{Unit: e.Name(), Original: ScoreUnit(string(orig)), Obfuscated: ScoreUnit(string(obf))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}
