package solidity

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
)

// SelectorEntry is one verified function selector.
type SelectorEntry struct {
	Name      string
	Signature string
	Selector  selector.Selector
}

// SelectorTable maps (function name, arity) to verified selectors gathered
// from a structural tree.
type SelectorTable struct {
	entries map[string][]SelectorEntry
}

func tableKey(name string, arity int) string { return fmt.Sprintf("%s/%d", name, arity) }

// NewSelectorTable builds a table from the AST function definitions and the
// ABIs in tree. Library members are left out: they are not reachable through a
// plain call. A nil tree yields an empty table.
func NewSelectorTable(tree *Tree) *SelectorTable {
	t := &SelectorTable{entries: map[string][]SelectorEntry{}}
	if tree == nil {
		return t
	}
	libraries := map[string]bool{}
	if tree.AST != nil {
		for _, n := range tree.AST.Nodes {
			walkNodes(n, func(node map[string]any) {
				if node["nodeType"] != "ContractDefinition" {
					return
				}
				if node["contractKind"] == "library" {
					name, _ := node["name"].(string)
					libraries[name] = true
					return
				}
				members, _ := node["nodes"].([]any)
				for _, m := range members {
					if fn, ok := m.(map[string]any); ok && fn["nodeType"] == "FunctionDefinition" {
						t.addDefinition(fn)
					}
				}
			})
		}
	}
	names := make([]string, 0, len(tree.ABIs))
	for name := range tree.ABIs {
		if !libraries[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		parsed, err := abi.JSON(bytes.NewReader(tree.ABIs[name]))
		if err != nil {
			continue
		}
		for _, m := range parsed.Methods {
			var sel selector.Selector
			copy(sel[:], m.ID)
			t.Add(SelectorEntry{Name: m.RawName, Signature: m.Sig, Selector: sel})
		}
	}
	return t
}

func (t *SelectorTable) addDefinition(node map[string]any) {
	name, _ := node["name"].(string)
	want, _ := node["functionSelector"].(string)
	if name == "" || want == "" {
		return
	}
	var types []string
	if params, ok := node["parameters"].(map[string]any); ok {
		list, _ := params["parameters"].([]any)
		for _, p := range list {
			pm, _ := p.(map[string]any)
			td, _ := pm["typeDescriptions"].(map[string]any)
			ts, _ := td["typeString"].(string)
			types = append(types, ts)
		}
	}
	sig, err := selector.SignatureFromTypeStrings(name, types)
	if err != nil {
		return
	}
	sel := selector.Canonical(sig)
	if !strings.EqualFold(strings.TrimPrefix(sel.Hex(), "0x"), strings.TrimPrefix(want, "0x")) {
		return
	}
	t.Add(SelectorEntry{Name: name, Signature: sig, Selector: sel})
}

// Add records an entry; duplicate signatures are ignored.
func (t *SelectorTable) Add(e SelectorEntry) {
	arity := len(selector.SplitParams(e.Signature[strings.Index(e.Signature, "(")+1 : len(e.Signature)-1]))
	key := tableKey(e.Name, arity)
	for _, have := range t.entries[key] {
		if have.Signature == e.Signature {
			return
		}
	}
	t.entries[key] = append(t.entries[key], e)
}

// Resolve returns the single verified entry for (name, arity). Zero or
// ambiguous matches give *model.MissingSelectorError.
func (t *SelectorTable) Resolve(name string, arity int) (SelectorEntry, error) {
	found := t.entries[tableKey(name, arity)]
	if len(found) != 1 {
		return SelectorEntry{}, &model.MissingSelectorError{Function: name, Arity: arity}
	}
	return found[0], nil
}

func (t *SelectorTable) Len() int {
	n := 0
	for _, es := range t.entries {
		n += len(es)
	}
	return n
}

func walkNodes(v any, fn func(map[string]any)) {
	switch n := v.(type) {
	case map[string]any:
		fn(n)
		for _, child := range n {
			walkNodes(child, fn)
		}
	case []any:
		for _, child := range n {
			walkNodes(child, fn)
		}
	}
}
