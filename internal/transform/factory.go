package transform

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/rollno10/crossContractObfuscation/internal/extractor"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

const factoryPrefix = "ObfuscatedFactory_"

type factoryIndirection struct{}

func (factoryIndirection) Meta() model.StageMeta {
	return model.StageMeta{ID: "factory", Title: "Factory-based instantiation indirection", Order: 3}
}

// Apply rewrites `new T(args)` into ObfuscatedFactory_T.deploy(route, salt, args, decoy1, decoy2)
// and appends one internal factory library per target type. The library runs
// in the caller's context, so every branch deploys from the same address the
// original expression would.
func (f factoryIndirection) Apply(_ context.Context, unit model.Unit, env *Env) (Result, error) {
	res := Result{Content: unit.Content}
	src := solidity.Scan(unit.Content)
	rnd := env.Rand(f.Meta().ID, unit.Name)

	params := map[string][]string{}
	var (
		edits []solidity.Edit
		sites = map[int]string{} // edit start -> target
	)
	for _, c := range extractor.FactorySites(src) {
		target := c.Groups[0]
		if b, ok := src.BlockAt(c.Start); ok && strings.HasPrefix(b.Name, factoryPrefix) {
			continue
		}
		types, err := constructorTypes(src, target)
		if err != nil {
			res.warn(c.Line, err)
			continue
		}
		args := selector.SplitParams(c.Args)
		if len(args) != len(types) {
			res.warn(c.Line, fmt.Errorf("new %s: %d arguments, constructor takes %d", target, len(args), len(types)))
			continue
		}
		params[target] = types
		sites[c.Start] = target

		decoy := make([]byte, 6)
		for i := range decoy {
			decoy[i] = byte(rnd.UintN(256))
		}
		call := []string{
			fmt.Sprint(rnd.IntN(3)),
			"keccak256(abi.encode(block.timestamp, block.number, gasleft()))",
		}
		call = append(call, args...)
		call = append(call, fmt.Sprint(rnd.Uint32()), fmt.Sprintf("%q", hex.EncodeToString(decoy)))
		edits = append(edits, solidity.Edit{
			Start: c.Start,
			End:   c.End,
			Text:  fmt.Sprintf("%s%s.deploy(%s)", factoryPrefix, target, strings.Join(call, ", ")),
		})
	}
	if len(edits) == 0 {
		return res, nil
	}

	out, dropped := solidity.ApplyEdits(unit.Content, edits)
	skipped := map[int]bool{}
	for _, e := range dropped {
		skipped[e.Start] = true
		res.info(src.Line(e.Start), fmt.Sprintf("new %s nested in another rewritten construction, left as written", sites[e.Start]))
	}
	used := map[string]bool{}
	for _, e := range edits {
		if !skipped[e.Start] {
			used[sites[e.Start]] = true
		}
	}
	targets := make([]string, 0, len(used))
	for t := range used {
		if _, exists := src.Block(factoryPrefix + t); !exists {
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)
	var b strings.Builder
	b.WriteString(strings.TrimRight(out, "\n"))
	b.WriteString("\n")
	for _, t := range targets {
		b.WriteString("\n")
		b.WriteString(factoryLibrary(t, params[t]))
	}
	res.Content = b.String()
	res.info(0, fmt.Sprintf("rewrote %d construction sites", len(edits)-len(dropped)))
	return res, nil
}

// constructorTypes returns the parameter types of target's constructor with
// names dropped and reference types forced to memory. A contract without an
// explicit constructor takes no arguments.
func constructorTypes(src *solidity.Source, target string) ([]string, error) {
	b, ok := src.Block(target)
	if !ok || b.Kind != "contract" {
		return nil, fmt.Errorf("new %s: contract not declared in this unit", target)
	}
	if b.Abstract {
		return nil, fmt.Errorf("new %s: contract is abstract", target)
	}
	for _, fn := range src.FunctionsIn(target) {
		if fn.Kind != "constructor" {
			continue
		}
		var types []string
		for _, p := range selector.SplitParams(fn.Params) {
			fields := strings.Fields(p)
			if len(fields) == 0 {
				return nil, fmt.Errorf("new %s: empty constructor parameter", target)
			}
			typ := fields[0]
			rest := fields[1:]
			for len(rest) > 0 && (strings.HasPrefix(rest[0], "[") || rest[0] == "payable") {
				if rest[0] == "payable" {
					typ += " payable"
				} else {
					typ += rest[0]
				}
				rest = rest[1:]
			}
			if len(rest) > 0 && (rest[0] == "memory" || rest[0] == "calldata" || rest[0] == "storage") {
				typ += " memory"
			}
			types = append(types, typ)
		}
		return types, nil
	}
	return nil, nil
}

func factoryLibrary(target string, types []string) string {
	var (
		decl []string
		args []string
	)
	for i, t := range types {
		decl = append(decl, fmt.Sprintf("%s a%d", t, i))
		args = append(args, fmt.Sprintf("a%d", i))
	}
	params := append([]string{"uint256 route", "bytes32 salt"}, decl...)
	params = append(params, "uint256 decoy1", "string memory decoy2")
	a := strings.Join(args, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "library %s%s {\n", factoryPrefix, target)
	fmt.Fprintf(&b, "    function deploy(%s) internal returns (%s) {\n", strings.Join(params, ", "), target)
	fmt.Fprintf(&b, "        if (route == 0) {\n")
	fmt.Fprintf(&b, "            return new %s(%s);\n", target, a)
	fmt.Fprintf(&b, "        } else if (route == 1) {\n")
	fmt.Fprintf(&b, "            %s deployed = new %s(%s);\n", target, target, a)
	fmt.Fprintf(&b, "            return deployed;\n")
	fmt.Fprintf(&b, "        }\n")
	fmt.Fprintf(&b, "        bytes32 mixed = keccak256(abi.encodePacked(salt, decoy1, bytes(decoy2)));\n")
	fmt.Fprintf(&b, "        return new %s{salt: mixed}(%s);\n", target, a)
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}
