// Package extractor scans source units and produces interaction records.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

var (
	rePragma     = regexp.MustCompile(`pragma\s+solidity`)
	reHighLevel  = regexp.MustCompile(`\b(\w+)\.(\w+)\s*\(`)
	reLowLevel   = regexp.MustCompile(`\b(\w+)\.(call|staticcall)\s*(?:\{[^{}]*\})?\s*\(`)
	reDelegate   = regexp.MustCompile(`\b(\w+)\.delegatecall\s*\(`)
	reFactory    = regexp.MustCompile(`\bnew\s+(\w+)\s*\(`)
	reMsgSender  = regexp.MustCompile(`msg\.sender`)
	reRequire    = regexp.MustCompile(`\brequire\b`)
	reDelegateEx = regexp.MustCompile(`\.delegatecall\s*\(`)

	proxyKeywords = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bdelegatecall\b`),
		regexp.MustCompile(`(?i)\bupgradeTo\b`),
		regexp.MustCompile(`(?i)\bimplementation\b`),
		regexp.MustCompile(`(?i)\bgetImplementation\b`),
		regexp.MustCompile(`(?i)\bproxyAdmin\b`),
		regexp.MustCompile(`(?i)\b_upgrade\b`),
	}

	lowLevelNames = map[string]bool{"call": true, "delegatecall": true, "staticcall": true}
	// elementary allocations are not contract deployments
	allocTypes = map[string]bool{"bytes": true, "string": true}
)

// HighLevelCalls matches identifier.identifier( call heads that are not low-level calls.
func HighLevelCalls(src *solidity.Source) []solidity.Call {
	var out []solidity.Call
	for _, c := range src.FindCalls(reHighLevel) {
		if lowLevelNames[c.Groups[1]] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FactorySites matches `new Identifier(` construction expressions.
func FactorySites(src *solidity.Source) []solidity.Call {
	var out []solidity.Call
	for _, c := range src.FindCalls(reFactory) {
		if allocTypes[c.Groups[0]] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HasProxyKeyword reports whether any upgradeability keyword appears outside comments and strings.
func HasProxyKeyword(masked string) bool {
	for _, re := range proxyKeywords {
		if re.MatchString(masked) {
			return true
		}
	}
	return false
}

// ClassifyRole applies the fixed priority: caller identity with an assertion,
// then proxy keywords, then a delegated call.
func ClassifyRole(masked string) model.Role {
	switch {
	case reMsgSender.MatchString(masked) && reRequire.MatchString(masked):
		return model.RoleInitiator
	case HasProxyKeyword(masked):
		return model.RoleMiddleware
	case reDelegateEx.MatchString(masked):
		return model.RoleExecutor
	default:
		return model.RoleUnknown
	}
}

// ExtractUnit returns the interaction records of one unit in detection order:
// high-level, low-level, delegated, factory, proxy. Units without a version
// pragma yield model.ErrExtractionSkip.
func ExtractUnit(unit model.Unit) ([]model.Interaction, error) {
	src := solidity.Scan(unit.Content)
	if !rePragma.MatchString(src.Masked) {
		return nil, model.ErrExtractionSkip
	}
	role := ClassifyRole(src.Masked)
	out := []model.Interaction{}

	for _, c := range HighLevelCalls(src) {
		out = append(out, model.Interaction{
			Caller:            unit.Name,
			Callee:            c.Groups[0],
			Function:          c.Groups[1],
			Kind:              model.KindHighLevel,
			Role:              role,
			FunctionSignature: fmt.Sprintf("%s(%s)", c.Groups[1], c.Args),
			ContractAddress:   model.ZeroAddress,
			Line:              c.Line,
		})
	}
	for _, c := range src.FindCalls(reLowLevel) {
		out = append(out, model.Interaction{
			Caller:            unit.Name,
			Callee:            c.Groups[0],
			Function:          c.Groups[1],
			Kind:              model.KindLowLevel,
			Role:              role,
			FunctionSignature: fmt.Sprintf("%s(%s)", c.Groups[1], c.Args),
			ContractAddress:   c.Groups[0],
			Line:              c.Line,
		})
	}
	for _, c := range src.FindCalls(reDelegate) {
		out = append(out, model.Interaction{
			Caller:            unit.Name,
			Callee:            c.Groups[0],
			Function:          "delegatecall",
			Kind:              model.KindDelegateCall,
			Role:              role,
			FunctionSignature: fmt.Sprintf("delegatecall(%s)", c.Args),
			Line:              c.Line,
		})
	}
	for _, c := range FactorySites(src) {
		out = append(out, model.Interaction{
			Caller: unit.Name,
			Callee: c.Groups[0],
			Kind:   model.KindFactoryDeployment,
			Role:   role,
			Line:   c.Line,
		})
	}
	if HasProxyKeyword(src.Masked) {
		out = append(out, model.Interaction{
			Caller:  unit.Name,
			Kind:    model.KindProxy,
			Role:    model.RoleMiddleware,
			Details: "Detected keywords indicating proxy pattern",
		})
	}
	return out, nil
}

// Result is the outcome for one unit of a batch.
type Result struct {
	Unit    string
	Records []model.Interaction
	Err     error
}

// ExtractBatch runs ExtractUnit over units on a bounded worker pool. Units are
// independent; results come back sorted by unit name.
func ExtractBatch(ctx context.Context, units []model.Unit, workers int) []Result {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}
	ch := make(chan Result, len(units))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for _, u := range units {
		u := u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				ch <- Result{Unit: u.Name, Err: err}
				return
			}
			recs, err := ExtractUnit(u)
			if err != nil {
				log.WithFields(log.Fields{"unit": u.Name, "reason": err}).Info("skipping unit")
			}
			ch <- Result{Unit: u.Name, Records: recs, Err: err}
		}()
	}
	wg.Wait()
	close(ch)
	out := make([]Result, 0, len(units))
	for r := range ch {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return strings.Compare(out[i].Unit, out[j].Unit) < 0 })
	return out
}

// Flatten concatenates the records of successful results.
func Flatten(results []Result) []model.Interaction {
	out := []model.Interaction{}
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Records...)
		}
	}
	return out
}
