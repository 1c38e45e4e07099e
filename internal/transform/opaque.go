package transform

import (
	"context"
	"regexp"

	"github.com/rollno10/crossContractObfuscation/internal/extractor"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

var (
	reLowLevelCall = regexp.MustCompile(`\b(\w+)\.(call|staticcall)\s*(?:\{[^{}]*\})?\s*\(`)
	reDelegateCall = regexp.MustCompile(`\b(\w+)\.delegatecall\s*\(`)
	reCastCall     = regexp.MustCompile(`\b([A-Z]\w*)\s*\([^()]*\)\s*\.\s*(\w+)\s*\(`)
	reIfaceName    = regexp.MustCompile(`^I[A-Z]`)
)

// predicateKinds is the order in which kinds are considered inside a function.
var predicateKinds = []model.InteractionKind{
	model.KindHighLevel,
	model.KindLowLevel,
	model.KindInterfaceCall,
	model.KindDelegateCall,
}

type opaquePredicates struct{}

func (opaquePredicates) Meta() model.StageMeta {
	return model.StageMeta{ID: "opaque_predicates", Title: "Opaque predicate insertion", Order: 1}
}

// Apply inserts at most one inert guard per kind per function body. High-level
// guards go at function entry, the other kinds before their first trigger
// statement. Units without rules come back untouched.
func (o opaquePredicates) Apply(_ context.Context, unit model.Unit, env *Env) (Result, error) {
	res := Result{Content: unit.Content}
	roles := map[model.InteractionKind]model.Role{}
	for _, r := range env.Rules.ForUnit(unit.Name) {
		if _, seen := roles[r.Kind]; !seen {
			roles[r.Kind] = r.Role
		}
	}
	if len(roles) == 0 {
		return res, nil
	}

	src := solidity.Scan(unit.Content)
	triggers := map[model.InteractionKind][]int{
		model.KindHighLevel:     starts(extractor.HighLevelCalls(src)),
		model.KindLowLevel:      starts(src.FindCalls(reLowLevelCall)),
		model.KindDelegateCall:  starts(src.FindCalls(reDelegateCall)),
		model.KindInterfaceCall: starts(castCalls(src)),
	}
	synth := env.Predicates(env.Rand(o.Meta().ID, unit.Name))
	unsupported := map[model.InteractionKind]bool{}

	var edits []solidity.Edit
	for _, fn := range src.Functions {
		if !fn.HasBody() || fn.Nested || fn.Kind == "modifier" || fn.HasWord("pure") {
			continue
		}
		if src.Line(fn.Open) == src.Line(fn.Close) {
			continue
		}
		applied := map[model.InteractionKind]bool{}
		for _, kind := range predicateKinds {
			role, ok := roles[kind]
			if !ok || applied[kind] {
				continue
			}
			at := -1
			for _, off := range triggers[kind] {
				if insideBody(src, fn, off) {
					at = off
					break
				}
			}
			if at < 0 {
				continue
			}
			pred, err := synth.Pick(role, kind)
			if err != nil {
				if !unsupported[kind] {
					res.warn(src.Line(at), err)
					unsupported[kind] = true
				}
				continue
			}
			edit := insertAtEntry(src, fn, pred)
			if kind != model.KindHighLevel {
				if edit, ok = insertBefore(src, at, pred); !ok {
					continue
				}
			}
			applied[kind] = true
			edits = append(edits, edit)
		}
	}
	if len(edits) == 0 {
		return res, nil
	}
	out, dropped := solidity.ApplyEdits(unit.Content, edits)
	for _, e := range dropped {
		res.info(src.Line(e.Start), "overlapping predicate skipped")
	}
	res.Content = out
	res.info(0, "inserted opaque predicates")
	return res, nil
}

// castCalls finds `IName(expr).fn(` calls through an interface-typed cast.
func castCalls(src *solidity.Source) []solidity.Call {
	ifaces := map[string]bool{}
	for _, b := range src.Blocks {
		if b.Kind == "interface" {
			ifaces[b.Name] = true
		}
	}
	var out []solidity.Call
	for _, c := range src.FindCalls(reCastCall) {
		if ifaces[c.Groups[0]] || reIfaceName.MatchString(c.Groups[0]) {
			out = append(out, c)
		}
	}
	return out
}

func starts(calls []solidity.Call) []int {
	out := make([]int, len(calls))
	for i, c := range calls {
		out[i] = c.Start
	}
	return out
}
