package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	reTypeArrays = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*((?:\[\s*\d*\s*\])*)$`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

var dataLocations = map[string]bool{"memory": true, "calldata": true, "storage": true}

// CanonicalSignature builds name(type,type,...) from a raw Solidity parameter list
// such as "address to, uint amount". Parameter names and data locations are dropped
// and aliases expanded. Types the ABI cannot express without resolution (structs,
// contracts, enums, function types) are rejected.
func CanonicalSignature(name, rawParams string) (string, error) {
	var types []string
	for _, p := range SplitParams(rawParams) {
		t, err := paramType(p)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		types = append(types, t)
	}
	return methodSig(name, types)
}

// SignatureFromTypeStrings builds a canonical signature from compiler typeString values
// (e.g. "uint256[] memory", "contract IERC20", "address payable").
func SignatureFromTypeStrings(name string, typeStrings []string) (string, error) {
	var types []string
	for _, ts := range typeStrings {
		t, err := typeFromTypeString(ts)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		types = append(types, t)
	}
	return methodSig(name, types)
}

func methodSig(name string, types []string) (string, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return "", fmt.Errorf("type %q: %w", t, err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	m := abi.NewMethod(name, name, abi.Function, "", false, false, args, nil)
	return m.Sig, nil
}

// SplitParams splits a parameter or argument list on top-level commas.
func SplitParams(raw string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range raw {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(raw[start:]); last != "" || len(out) > 0 {
		out = append(out, last)
	}
	return out
}

func paramType(p string) (string, error) {
	fields := strings.Fields(p)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty parameter")
	}
	// arrays may be written "uint256 [] memory"
	typ := fields[0]
	rest := fields[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "[") {
		typ += rest[0]
		rest = rest[1:]
	}
	if typ == "address" && len(rest) > 0 && strings.HasPrefix(rest[0], "payable") {
		typ += strings.TrimPrefix(rest[0], "payable")
		rest = rest[1:]
	}
	if len(rest) > 0 && dataLocations[rest[0]] {
		rest = rest[1:]
	}
	if len(rest) > 1 {
		return "", fmt.Errorf("unrecognised parameter %q", p)
	}
	return expandAliases(typ)
}

func typeFromTypeString(ts string) (string, error) {
	ts = strings.TrimSpace(ts)
	for loc := range dataLocations {
		ts = strings.TrimSuffix(ts, " "+loc)
		ts = strings.ReplaceAll(ts, " "+loc+"[", "[")
	}
	switch {
	case strings.HasPrefix(ts, "contract "), strings.HasPrefix(ts, "address payable"):
		return "address" + arraySuffix(ts), nil
	case strings.HasPrefix(ts, "enum "):
		return "uint8" + arraySuffix(ts), nil
	case strings.HasPrefix(ts, "struct "), strings.HasPrefix(ts, "function "), strings.HasPrefix(ts, "mapping"):
		return "", fmt.Errorf("unsupported type %q", ts)
	}
	return expandAliases(ts)
}

func arraySuffix(ts string) string {
	if i := strings.Index(ts, "["); i >= 0 {
		return reSpaces.ReplaceAllString(ts[i:], "")
	}
	return ""
}

func expandAliases(t string) (string, error) {
	m := reTypeArrays.FindStringSubmatch(strings.TrimSpace(t))
	if m == nil {
		return "", fmt.Errorf("unsupported type %q", t)
	}
	base, dims := m[1], reSpaces.ReplaceAllString(m[2], "")
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	case "byte":
		base = "bytes1"
	}
	return base + dims, nil
}
