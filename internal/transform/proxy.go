package transform

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

const (
	eip1967ImplementationSlot = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"
	eip1967AdminSlot          = "0xb53127684a568b3173ae13b9f8a6016e243a63b6e8ee1178d6a717850b5d6103"
	implVar                   = "_ccobfImpl"
)

var (
	reImplVarDecl  = regexp.MustCompile(`\baddress\s+((?:(?:public|internal|private|override)\s+)*)implementation\s*[;=]`)
	reImplRef      = regexp.MustCompile(`\bimplementation\b`)
	reImplCall     = regexp.MustCompile(`\bimplementation\s*\(\s*\)`)
	reAdminVar     = regexp.MustCompile(`\baddress\s+(?:(?:public|internal|private|immutable|payable)\s+)*(_?(?:admin|owner|proxyAdmin))\s*[;=]`)
	reLocalAssign  = `\baddress\s+(?:payable\s+)?%s\s*=\s*([^;]+);`
	reDelegateHead = regexp.MustCompile(`\b(\w+)\.delegatecall\s*\(`)
	reAsmDelegate  = regexp.MustCompile(`\bdelegatecall\s*\(\s*gas\s*\(\s*\)\s*,\s*(\w+)\s*,`)
	reDelegateFn   = regexp.MustCompile(`\b_delegate\s*\(`)
	reInherits     = regexp.MustCompile(`\bis\b([^{]*)$`)
	reIdent        = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
)

type proxyIndirection struct{}

func (proxyIndirection) Meta() model.StageMeta {
	return model.StageMeta{ID: "proxy", Title: "Proxy/delegatecall indirection", Order: 4}
}

// Apply rewrites proxy contracts of units flagged with a proxy record. Other
// units are returned as they came in.
func (p proxyIndirection) Apply(_ context.Context, unit model.Unit, env *Env) (Result, error) {
	res := Result{Content: unit.Content}
	if !env.Rules.IsProxy(unit.Name) {
		return res, nil
	}
	src := solidity.Scan(unit.Content)
	rnd := env.Rand(p.Meta().ID, unit.Name)

	// Bases precede derived contracts in a unit, so file order visits the
	// most-base proxy of every inheritance chain first.
	var (
		edits    []solidity.Edit
		emitting = map[string]bool{}
	)
	for _, b := range src.Blocks {
		if b.Kind != "contract" || b.Close < 0 {
			continue
		}
		tag := make([]byte, 8)
		for i := range tag {
			tag[i] = byte(rnd.UintN(256))
		}
		parts, ok := proxyPartsOf(src, b)
		if !ok {
			continue
		}
		if base := rewrittenBase(src, b, emitting); base != "" {
			res.info(src.Line(b.Start), fmt.Sprintf("%s: proxy members inherited from %s", b.Name, base))
			continue
		}
		if heir, other := sharedHeir(src, b, emitting); heir != "" {
			res.Notes = append(res.Notes, Note{Line: src.Line(b.Start), Class: model.ClassTransform, Severity: model.SeverityWarning,
				Message: fmt.Sprintf("%s: left unchanged, %s also inherits proxy members from %s", b.Name, heir, other)})
			continue
		}
		emitting[b.Name] = true
		ce, notes := rewriteProxyContract(src, b, parts, hex.EncodeToString(tag))
		res.Notes = append(res.Notes, notes...)
		edits = append(edits, ce...)
	}
	if len(edits) == 0 {
		res.info(0, "proxy record present but no proxy accessor or fallback found")
		return res, nil
	}
	out, dropped := solidity.ApplyEdits(unit.Content, edits)
	for _, e := range dropped {
		res.info(src.Line(e.Start), "overlapping rewrite skipped")
	}
	res.Content = out
	return res, nil
}

type proxyParts struct {
	accessor *solidity.Function
	fallback *solidity.Function
	varAt    []int // submatch indexes of the implementation state variable
}

func findProxyParts(src *solidity.Source, b solidity.Block) proxyParts {
	var parts proxyParts
	for _, fn := range src.FunctionsIn(b.Name) {
		fn := fn
		switch {
		case fn.Kind == "function" && fn.Name == "implementation" && strings.TrimSpace(fn.Params) == "" && fn.HasBody():
			parts.accessor = &fn
		case fn.Kind == "fallback" && fn.HasBody():
			parts.fallback = &fn
		}
	}
	body := src.Masked[:b.Close]
	for _, m := range reImplVarDecl.FindAllStringSubmatchIndex(body, -1) {
		if m[0] <= b.Open {
			continue
		}
		if _, inFn := src.FunctionAt(m[0]); inFn {
			continue
		}
		parts.varAt = m
		break
	}
	return parts
}

// proxyPartsOf reports whether b has anything the proxy rewrite acts on.
func proxyPartsOf(src *solidity.Source, b solidity.Block) (proxyParts, bool) {
	parts := findProxyParts(src, b)
	if parts.fallback != nil && !delegates(src, *parts.fallback) {
		parts.fallback = nil
	}
	return parts, parts.accessor != nil || parts.fallback != nil || parts.varAt != nil
}

// rewrittenBase returns the first base of b that receives proxy members in this pass.
func rewrittenBase(src *solidity.Source, b solidity.Block, emitting map[string]bool) string {
	for _, name := range bases(src, b)[1:] {
		if emitting[name] {
			return name
		}
	}
	return ""
}

// sharedHeir finds a contract inheriting from both b and another contract that
// already receives proxy members. Emitting into b as well would give the heir
// two conflicting copies.
func sharedHeir(src *solidity.Source, b solidity.Block, emitting map[string]bool) (string, string) {
	for _, d := range src.Blocks {
		if d.Name == b.Name {
			continue
		}
		chain := bases(src, d)
		inherits := false
		for _, name := range chain {
			inherits = inherits || name == b.Name
		}
		if !inherits {
			continue
		}
		for _, name := range chain {
			if emitting[name] {
				return d.Name, name
			}
		}
	}
	return "", ""
}

// declaredInChain reports whether needle appears in the body of b or any of its bases.
func declaredInChain(src *solidity.Source, b solidity.Block, needle string) bool {
	for _, name := range bases(src, b) {
		blk, ok := src.Block(name)
		if ok && blk.Close > blk.Open && strings.Contains(src.Masked[blk.Open:blk.Close], needle) {
			return true
		}
	}
	return false
}

func rewriteProxyContract(src *solidity.Source, b solidity.Block, parts proxyParts, tag string) ([]solidity.Edit, []Note) {
	var (
		edits   []solidity.Edit
		notes   []Note
		members []string
		indent  = memberIndent(src, b)
		has     = func(name string) bool { return declaredInChain(src, b, name) }
	)
	skip := func(off int) bool {
		for _, fn := range []*solidity.Function{parts.accessor, parts.fallback} {
			if fn != nil && off >= fn.Start && off <= fn.Close {
				return true
			}
		}
		return false
	}

	var implHelper string
	switch {
	case parts.accessor != nil:
		acc := parts.accessor
		returns := "(address)"
		if i := strings.Index(acc.Header, "returns"); i >= 0 {
			returns = strings.TrimSpace(acc.Header[i+len("returns"):])
		}
		implHelper = fmt.Sprintf("%sfunction _ccobfImplementation() internal view returns %s {%s}\n", indent, returns, src.Text[acc.Open+1:acc.Close])
		edits = append(edits, solidity.Edit{
			Start: acc.Open + 1,
			End:   acc.Close,
			Text:  fmt.Sprintf("\n%s    return %s;\n%s", indent, decoyAddress(tag), indent),
		})
		for _, loc := range reImplCall.FindAllStringIndex(src.Masked[b.Open:b.Close], -1) {
			at := b.Open + loc[0]
			if skip(at) || (at > 0 && src.Masked[at-1] == '.') {
				continue
			}
			edits = append(edits, solidity.Edit{Start: at, End: b.Open + loc[1], Text: "_ccobfImplementation()"})
		}
	case parts.varAt != nil:
		m := parts.varAt
		mods := src.Masked[m[2]:m[3]]
		override := ""
		if strings.Contains(mods, "override") {
			override = " override"
		}
		nameAt := strings.LastIndex(src.Masked[m[0]:m[1]], "implementation") + m[0]
		edits = append(edits, solidity.Edit{Start: m[0], End: nameAt + len("implementation"), Text: "address internal " + implVar})
		for _, loc := range reImplRef.FindAllStringIndex(src.Masked[b.Open:b.Close], -1) {
			at := b.Open + loc[0]
			if at == nameAt || skip(at) || (at > 0 && src.Masked[at-1] == '.') {
				continue
			}
			fn, inFn := src.FunctionAt(at)
			if !inFn || reImplRef.MatchString(fn.Params) {
				continue
			}
			edits = append(edits, solidity.Edit{Start: at, End: b.Open + loc[1], Text: implVar})
		}
		members = append(members, fmt.Sprintf("%[1]sfunction implementation() external view%[2]s returns (address) {\n%[1]s    return %[3]s;\n%[1]s}\n", indent, override, decoyAddress(tag)))
		implHelper = fmt.Sprintf("%[1]sfunction _ccobfImplementation() internal view returns (address) {\n%[1]s    return %[2]s;\n%[1]s}\n", indent, implVar)
	default:
		expr := fallbackTarget(src, *parts.fallback)
		if expr == "" {
			implHelper = fmt.Sprintf("%[1]sfunction _ccobfImplementation() internal view returns (address impl) {\n%[1]s    bytes32 slot = %[2]s;\n%[1]s    assembly {\n%[1]s        impl := sload(slot)\n%[1]s    }\n%[1]s}\n", indent, eip1967ImplementationSlot)
			notes = append(notes, Note{Line: src.Line(parts.fallback.Start), Class: model.ClassTransform, Severity: model.SeverityWarning,
				Message: fmt.Sprintf("%s: implementation location not found, reading the EIP-1967 slot", b.Name)})
		} else {
			implHelper = fmt.Sprintf("%[1]sfunction _ccobfImplementation() internal view returns (address) {\n%[1]s    return %[2]s;\n%[1]s}\n", indent, expr)
		}
	}
	if !has("function _ccobfImplementation(") {
		members = append(members, implHelper)
	}
	if !has("function realImplementation(") {
		members = append(members, fmt.Sprintf("%[1]sfunction realImplementation() external view onlyAdmin returns (address) {\n%[1]s    return _ccobfImplementation();\n%[1]s}\n", indent))
	}

	if fb := parts.fallback; fb != nil {
		if strings.TrimSpace(fb.Params) != "" {
			notes = append(notes, Note{Line: src.Line(fb.Start), Class: model.ClassTransform, Severity: model.SeverityWarning,
				Message: fmt.Sprintf("%s: fallback with parameters left unchanged", b.Name)})
		} else {
			edits = append(edits, solidity.Edit{Start: fb.Open, End: fb.Close + 1, Text: fallbackBody(src.Indent(fb.Start))})
		}
	}
	if !has("function _ccobfLookupImplementation(") {
		members = append(members, fmt.Sprintf(`%[1]sfunction _ccobfLookupImplementation(bytes4 sig) internal view returns (address) {
%[1]s    if (sig == bytes4(keccak256("ccobf_%[2]s()"))) {
%[1]s        return _ccobfImplementation();
%[1]s    }
%[1]s    return _ccobfImplementation();
%[1]s}
`, indent, tag))
	}
	if !has("function _ccobfNextRoute(") {
		members = append(members, fmt.Sprintf("%[1]sfunction _ccobfNextRoute() internal pure returns (address) {\n%[1]s    return address(uint160(uint256(keccak256(\"ccobf.route.%[2]s\"))));\n%[1]s}\n", indent, tag))
	}
	if !hasModifier(src, b, "onlyAdmin") {
		members = append(members, adminModifier(src, b, indent))
	}
	if !hasFunctionKind(src, b, "receive") {
		members = append(members, indent+"receive() external payable {}\n")
	}
	edits = append(edits, appendMembers(src, b, members))
	return edits, notes
}

// decoyAddress is a plausible looking address computed from context that is
// never the implementation.
func decoyAddress(tag string) string {
	return fmt.Sprintf(`address(uint160(uint256(keccak256(abi.encodePacked(address(this), msg.sender, "%s")))))`, tag)
}

func fallbackBody(indent string) string {
	lines := []string{
		"{",
		"    address impl = _ccobfLookupImplementation(msg.sig);",
		`    require(impl != address(0), "Invalid implementation");`,
		"    (bool success, bytes memory result) = impl.delegatecall(msg.data);",
		"    if (!success) {",
		"        assembly {",
		"            revert(add(result, 32), mload(result))",
		"        }",
		"    }",
		"    address route = _ccobfNextRoute();",
		"    (bool routed, ) = route.delegatecall(msg.data);",
		`    require(routed, "Nested delegatecall failed");`,
		"    assembly {",
		"        return(add(result, 32), mload(result))",
		"    }",
		"}",
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = indent + lines[i]
	}
	return strings.Join(lines, "\n")
}

// delegates reports whether the fallback body performs a delegated call.
func delegates(src *solidity.Source, fb solidity.Function) bool {
	body := src.Masked[fb.Open+1 : fb.Close]
	return reDelegateHead.MatchString(body) || reAsmDelegate.MatchString(body) || reDelegateFn.MatchString(body)
}

// fallbackTarget recovers the implementation expression the original fallback
// delegated to, resolving one level of local `address x = expr;` assignment.
func fallbackTarget(src *solidity.Source, fb solidity.Function) string {
	body := src.Masked[fb.Open+1 : fb.Close]
	text := src.Text[fb.Open+1 : fb.Close]
	var expr string
	if m := reDelegateHead.FindStringSubmatch(body); m != nil {
		expr = m[1]
	} else if m := reAsmDelegate.FindStringSubmatch(body); m != nil {
		expr = m[1]
	} else if loc := reDelegateFn.FindStringIndex(body); loc != nil {
		if closeAt := strings.Index(body[loc[1]:], ");"); closeAt >= 0 {
			expr = strings.TrimSpace(text[loc[1] : loc[1]+closeAt])
		}
	}
	if !reIdent.MatchString(expr) {
		return expr
	}
	re := regexp.MustCompile(fmt.Sprintf(reLocalAssign, regexp.QuoteMeta(expr)))
	if loc := re.FindStringSubmatchIndex(body); loc != nil {
		return strings.TrimSpace(text[loc[2]:loc[3]])
	}
	if regexp.MustCompile(`\baddress\b[^;]*\b` + regexp.QuoteMeta(expr) + `\b`).MatchString(body) {
		// a local without a simple initializer
		return ""
	}
	return expr
}

// bases returns the names of b and every block it inherits from in this unit.
func bases(src *solidity.Source, b solidity.Block) []string {
	out := []string{b.Name}
	seen := map[string]bool{b.Name: true}
	for i := 0; i < len(out); i++ {
		blk, ok := src.Block(out[i])
		if !ok {
			continue
		}
		m := reInherits.FindStringSubmatch(src.Masked[blk.Start:blk.Open])
		if m == nil {
			continue
		}
		for _, part := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(part)
			if p := strings.IndexByte(name, '('); p >= 0 {
				name = strings.TrimSpace(name[:p])
			}
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func hasFunctionKind(src *solidity.Source, b solidity.Block, kind string) bool {
	for _, base := range bases(src, b) {
		for _, fn := range src.FunctionsIn(base) {
			if fn.Kind == kind {
				return true
			}
		}
	}
	return false
}

func hasModifier(src *solidity.Source, b solidity.Block, name string) bool {
	for _, base := range bases(src, b) {
		for _, fn := range src.FunctionsIn(base) {
			if fn.Kind == "modifier" && fn.Name == name {
				return true
			}
		}
	}
	return false
}

func adminModifier(src *solidity.Source, b solidity.Block, indent string) string {
	for _, m := range reAdminVar.FindAllStringSubmatchIndex(src.Masked[:b.Close], -1) {
		if m[0] <= b.Open {
			continue
		}
		if _, inFn := src.FunctionAt(m[0]); inFn {
			continue
		}
		return fmt.Sprintf("%[1]smodifier onlyAdmin() {\n%[1]s    require(msg.sender == %[2]s, \"Only admin can call this function\");\n%[1]s    _;\n%[1]s}\n", indent, src.Text[m[2]:m[3]])
	}
	return fmt.Sprintf(`%[1]smodifier onlyAdmin() {
%[1]s    address admin;
%[1]s    bytes32 slot = %[2]s;
%[1]s    assembly {
%[1]s        admin := sload(slot)
%[1]s    }
%[1]s    require(msg.sender == admin, "Only admin can call this function");
%[1]s    _;
%[1]s}
`, indent, eip1967AdminSlot)
}
