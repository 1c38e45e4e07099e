package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

// lowLevelTag is the synthetic signature obfuscated for dispatch routes.
const lowLevelTag = "low_level_call"

var (
	rePlainLowLevel = regexp.MustCompile(`\b(\w+)\.(call|staticcall)\s*\(`)
	reEnumDecl      = regexp.MustCompile(`\benum\s+(\w+)`)
	reWord          = regexp.MustCompile(`\b[A-Za-z_]\w*\b`)
)

// Dispatch helpers are private and named per contract, so a base and a derived
// contract in one unit never declare the same member.
const dispatchHelper = `%[1]sfunction %[2]s(bytes4 route, address target, bytes memory data) private returns (bool, bytes memory) {
%[1]s    if (route == bytes4(0) && data.length == type(uint256).max) revert();
%[1]s    return target.call(data);
%[1]s}
`

const dispatchStaticHelper = `%[1]sfunction %[2]s(bytes4 route, address target, bytes memory data) private view returns (bool, bytes memory) {
%[1]s    if (route == bytes4(0) && data.length == type(uint256).max) revert();
%[1]s    return target.staticcall(data);
%[1]s}
`

type dynamicDispatch struct{}

func (dynamicDispatch) Meta() model.StageMeta {
	return model.StageMeta{ID: "dynamic_dispatch", Title: "Dynamic dispatch indirection", Order: 2}
}

// Apply registers an obfuscated selector for every function definition, guards
// external functions with a canonical msg.sig check and routes plain low-level
// calls through a per-contract dispatch helper keyed by an obfuscated tag.
func (d dynamicDispatch) Apply(_ context.Context, unit model.Unit, env *Env) (Result, error) {
	res := Result{Content: unit.Content}
	src := solidity.Scan(unit.Content)
	rnd := env.Rand(d.Meta().ID, unit.Name)
	salts := env.Salts(rnd)
	aliases := typeAliases(src)

	var edits []solidity.Edit
	for _, fn := range src.Functions {
		if fn.Kind != "function" || fn.Nested || !fn.HasBody() {
			continue
		}
		sig, err := selector.CanonicalSignature(fn.Name, resolveTypes(fn.Params, aliases))
		if err != nil {
			res.info(src.Line(fn.Start), fmt.Sprintf("no canonical signature for %s: %v", fn.Name, err))
			continue
		}
		if _, _, err := env.Selectors.RegisterFresh(sig, unit.Name+":"+fn.Contract, salts, env.retries()); err != nil {
			res.warn(src.Line(fn.Start), err)
			continue
		}
		block, ok := src.Block(fn.Contract)
		if !ok || block.Kind != "contract" || !fn.HasWord("external") || src.Line(fn.Open) == src.Line(fn.Close) {
			continue
		}
		guard := fmt.Sprintf(`require(msg.sig == bytes4(keccak256("%s")), "Invalid function selector");`, sig)
		edits = append(edits, insertAtEntry(src, fn, guard))
	}

	helpers := map[string]map[bool]bool{}
	for _, c := range src.FindCalls(rePlainLowLevel) {
		fn, ok := src.FunctionAt(c.Start)
		if !ok || fn.Nested {
			continue
		}
		block, ok := src.BlockAt(c.Start)
		if !ok || block.Kind == "interface" || block.Close < 0 {
			continue
		}
		salt, err := salts.Salt()
		if err != nil {
			res.warn(c.Line, err)
			continue
		}
		route := selector.Obfuscated(lowLevelTag, salt)
		static := c.Groups[1] == "staticcall"
		helper := dispatchName(block.Name, static)
		edits = append(edits, solidity.Edit{
			Start: c.Start,
			End:   c.End,
			Text:  fmt.Sprintf("%s(bytes4(%s), %s, %s)", helper, route.Hex(), c.Groups[0], strings.TrimSpace(c.Args)),
		})
		if helpers[block.Name] == nil {
			helpers[block.Name] = map[bool]bool{}
		}
		helpers[block.Name][static] = true
	}
	for _, b := range src.Blocks {
		need := helpers[b.Name]
		if len(need) == 0 {
			continue
		}
		indent := memberIndent(src, b)
		var members []string
		if name := dispatchName(b.Name, false); need[false] && !strings.Contains(src.Masked, "function "+name+"(") {
			members = append(members, fmt.Sprintf(dispatchHelper, indent, name))
		}
		if name := dispatchName(b.Name, true); need[true] && !strings.Contains(src.Masked, "function "+name+"(") {
			members = append(members, fmt.Sprintf(dispatchStaticHelper, indent, name))
		}
		if len(members) > 0 {
			edits = append(edits, appendMembers(src, b, members))
		}
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

func dispatchName(contract string, static bool) string {
	if static {
		return "_ccobfDispatchStatic_" + contract
	}
	return "_ccobfDispatch_" + contract
}

// typeAliases maps user-defined type names that the ABI encodes as elementary
// types: contracts and interfaces to address, enums to uint8.
func typeAliases(src *solidity.Source) map[string]string {
	out := map[string]string{}
	for _, b := range src.Blocks {
		if b.Kind != "library" {
			out[b.Name] = "address"
		}
	}
	for _, m := range reEnumDecl.FindAllStringSubmatch(src.Masked, -1) {
		out[m[1]] = "uint8"
	}
	return out
}

func resolveTypes(params string, aliases map[string]string) string {
	parts := selector.SplitParams(params)
	for i, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		head := fields[0]
		base := reWord.FindString(head)
		if alias, ok := aliases[base]; ok && strings.HasPrefix(head, base) {
			fields[0] = alias + head[len(base):]
		}
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", ")
}
