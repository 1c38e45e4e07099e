package selector

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// Entry is the registry value for an obfuscated selector.
type Entry struct {
	FunctionSignature string `json:"function_signature"`
	ContractAddress   string `json:"contract_address"`
}

// Registry maps obfuscated selectors to the signature they mask. Safe for concurrent use;
// Register is an atomic check-and-insert.
type Registry struct {
	mu      sync.Mutex
	entries map[Selector]Entry
}

func NewRegistry() *Registry { return &Registry{entries: map[Selector]Entry{}} }

// Register inserts Obfuscated(signature, salt). Re-inserting the same signature under
// the same key is a no-op; a different signature on an existing key is a CollisionError.
func (r *Registry) Register(signature string, salt uint32, address string) (Selector, error) {
	key := Obfuscated(signature, salt)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[key]; ok {
		if prev.FunctionSignature != signature {
			return key, &model.CollisionError{Selector: key.Hex(), Existing: prev.FunctionSignature, Incoming: signature}
		}
		return key, nil
	}
	r.entries[key] = Entry{FunctionSignature: signature, ContractAddress: address}
	return key, nil
}

// RegisterFresh draws salts from src until registration succeeds or retries run out.
func (r *Registry) RegisterFresh(signature, address string, src SaltSource, retries int) (Selector, uint32, error) {
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		salt, err := src.Salt()
		if err != nil {
			return Selector{}, 0, err
		}
		sel, err := r.Register(signature, salt, address)
		if err == nil {
			return sel, salt, nil
		}
		lastErr = err
	}
	return Selector{}, 0, fmt.Errorf("register %s after %d attempts: %w", signature, retries, lastErr)
}

func (r *Registry) Lookup(sel Selector) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sel]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the entries keyed by selector hex.
func (r *Registry) Snapshot() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k.Hex()] = v
	}
	return out
}

// Keys returns the selector hex keys in sorted order.
func (r *Registry) Keys() []string {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the registry as a JSON object keyed by selector hex.
func (r *Registry) Save(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write registry %s: %w", path, err)
	}
	return nil
}

// Load reads a registry file written by Save.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	r := NewRegistry()
	for k, v := range raw {
		sel, err := Parse(k)
		if err != nil {
			return nil, err
		}
		r.entries[sel] = v
	}
	return r, nil
}
