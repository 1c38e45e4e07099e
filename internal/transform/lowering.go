package transform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

var reMemberCall = regexp.MustCompile(`\b(\w+)\.(\w+)\s*\(`)

// tokenPrimitives maps well-known token entry points to the canonical
// signature used for the raw call.
var tokenPrimitives = map[string]string{
	"transfer":         "transfer(address,uint256)",
	"approve":          "approve(address,uint256)",
	"mint":             "mint(address,uint256)",
	"transferFrom":     "transferFrom(address,address,uint256)",
	"safeTransfer":     "transfer(address,uint256)",
	"safeApprove":      "approve(address,uint256)",
	"safeTransferFrom": "transferFrom(address,address,uint256)",
}

// builtin receivers and members that are never external calls
var (
	nonCallees = map[string]bool{
		"super": true, "this": true, "abi": true, "msg": true, "block": true, "tx": true,
		"type": true, "bytes": true, "string": true, "address": true,
	}
	builtinMembers = map[string]bool{
		"push": true, "pop": true, "send": true, "concat": true,
		"call": true, "delegatecall": true, "staticcall": true,
	}
)

type highToLow struct{}

func (highToLow) Meta() model.StageMeta {
	return model.StageMeta{ID: "lowering", Title: "High-to-low call lowering", Order: 5}
}

// Apply lowers `callee.fn(args);` statements of high-level units to raw calls
// with a success check. Custom functions need a compiler-verified selector;
// without one the site is left as written.
func (h highToLow) Apply(ctx context.Context, unit model.Unit, env *Env) (Result, error) {
	res := Result{Content: unit.Content}
	if env.Rules.PrimaryKind(unit.Name) != model.KindHighLevel {
		return res, nil
	}
	src := solidity.Scan(unit.Content)
	table := h.selectorTable(ctx, unit, env, &res)
	libraries := map[string]bool{}
	for _, b := range src.Blocks {
		if b.Kind == "library" {
			libraries[b.Name] = true
		}
	}

	var edits []solidity.Edit
	for _, c := range src.FindCalls(reMemberCall) {
		callee, fn := c.Groups[0], c.Groups[1]
		if nonCallees[callee] || libraries[callee] || builtinMembers[fn] {
			continue
		}
		if !isStatement(src, c) {
			continue
		}
		if f, ok := src.FunctionAt(c.Start); !ok || f.Nested {
			continue
		}
		args := selector.SplitParams(c.Args)
		argText := strings.Join(args, ", ")
		end := c.End
		for end < len(src.Masked) && src.Masked[end] != ';' {
			end++
		}
		var low string
		switch sig, known := tokenPrimitives[fn]; {
		case fn == "transfer" && len(args) == 1:
			low = fmt.Sprintf(`{ (bool success, ) = payable(address(%s)).call{value: %s}(""); require(success, "Transfer failed"); }`, callee, argText)
		case known && arity(sig) == len(args):
			low = fmt.Sprintf(`{ (bool success, ) = address(%s).call(abi.encodeWithSignature("%s", %s)); require(success, "%s failed"); }`, callee, sig, argText, fn)
		default:
			entry, err := table.Resolve(fn, len(args))
			if err != nil {
				res.warn(c.Line, err)
				continue
			}
			encoded := fmt.Sprintf("abi.encodeWithSelector(bytes4(%s))", entry.Selector.Hex())
			if len(args) > 0 {
				encoded = fmt.Sprintf("abi.encodeWithSelector(bytes4(%s), %s)", entry.Selector.Hex(), argText)
			}
			low = fmt.Sprintf(`{ (bool success, ) = address(%s).call(%s); require(success, "Call failed"); }`, callee, encoded)
		}
		edits = append(edits, solidity.Edit{Start: c.Start, End: end + 1, Text: low})
	}
	if len(edits) == 0 {
		return res, nil
	}
	out, dropped := solidity.ApplyEdits(unit.Content, edits)
	for _, e := range dropped {
		res.info(src.Line(e.Start), "overlapping rewrite skipped")
	}
	res.Content = out
	return res, nil
}

func (highToLow) selectorTable(ctx context.Context, unit model.Unit, env *Env, res *Result) *solidity.SelectorTable {
	if env.Compiler == nil {
		res.info(0, "no compiler configured, custom calls stay high-level")
		return solidity.NewSelectorTable(nil)
	}
	tree, err := env.Compiler.StructuralTree(ctx, unit)
	if err != nil {
		if errors.Is(err, model.ErrCompilerUnavailable) {
			res.info(0, err.Error())
		} else {
			res.warn(0, err)
		}
		return solidity.NewSelectorTable(nil)
	}
	return solidity.NewSelectorTable(tree)
}

// isStatement reports whether the call is a whole expression statement:
// nothing before it since the previous delimiter and only `;` after it.
func isStatement(src *solidity.Source, c solidity.Call) bool {
	if statementStart(src, c.Start) != c.Start {
		return false
	}
	for i := c.End; i < len(src.Masked); i++ {
		switch src.Masked[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case ';':
			return true
		default:
			return false
		}
	}
	return false
}

func arity(sig string) int {
	inner := sig[strings.Index(sig, "(")+1 : len(sig)-1]
	return len(selector.SplitParams(inner))
}
