// Package rules persists interaction records as the rule store and answers
// per-unit queries for the transform stages.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// Store is the immutable record set shared by every stage of a run.
type Store struct {
	Interactions []model.Interaction `json:"interactions"`

	byUnit map[string][]model.Interaction
}

func New(records []model.Interaction) *Store {
	s := &Store{Interactions: records}
	if s.Interactions == nil {
		s.Interactions = []model.Interaction{}
	}
	s.index()
	return s
}

func (s *Store) index() {
	s.byUnit = map[string][]model.Interaction{}
	for _, r := range s.Interactions {
		s.byUnit[r.Caller] = append(s.byUnit[r.Caller], r)
	}
}

// Save writes the store as interaction_<unix>.json under dir and returns the path.
// A second save in the same second gets a numeric suffix.
func (s *Store) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(struct {
		Interactions []model.Interaction `json:"interactions"`
	}{s.Interactions}, "", "    ")
	if err != nil {
		return "", err
	}
	stamp := time.Now().Unix()
	path := filepath.Join(dir, fmt.Sprintf("interaction_%d.json", stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("interaction_%d_%d.json", stamp, i))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Latest returns the most recently modified .json file in dir.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", model.ErrNoRuleStore, dir)
		}
		return "", err
	}
	type cand struct {
		path string
		mod  time.Time
	}
	var cands []cand
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		cands = append(cands, cand{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("%w in %s", model.ErrNoRuleStore, dir)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].mod.Equal(cands[j].mod) {
			return cands[i].path > cands[j].path
		}
		return cands[i].mod.After(cands[j].mod)
	})
	return cands[0].path, nil
}

// Load reads and validates a rule store: the root must be an object holding an
// `interactions` array.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("invalid rule store %s: root element is not an object: %w", path, err)
	}
	raw, ok := root["interactions"]
	if !ok {
		return nil, fmt.Errorf("invalid rule store %s: missing 'interactions' key", path)
	}
	var records []model.Interaction
	if err := json.Unmarshal(raw, &records); err != nil || records == nil {
		return nil, fmt.Errorf("invalid rule store %s: 'interactions' is not a list", path)
	}
	for i := range records {
		records[i].Kind = model.ParseKind(string(records[i].Kind))
		records[i].Role = model.ParseRole(string(records[i].Role))
	}
	return New(records), nil
}

// LoadLatest loads the newest rule store in dir.
func LoadLatest(dir string) (*Store, string, error) {
	path, err := Latest(dir)
	if err != nil {
		return nil, "", err
	}
	s, err := Load(path)
	return s, path, err
}

// ForUnit returns the records whose caller is the unit name, in store order.
func (s *Store) ForUnit(name string) []model.Interaction { return s.byUnit[name] }

// IsProxy reports whether the unit carries a proxy record.
func (s *Store) IsProxy(name string) bool {
	for _, r := range s.byUnit[name] {
		if r.Kind == model.KindProxy {
			return true
		}
	}
	return false
}

// PrimaryKind is the kind of the unit's first record, or "" when it has none.
func (s *Store) PrimaryKind(name string) model.InteractionKind {
	if rs := s.byUnit[name]; len(rs) > 0 {
		return rs[0].Kind
	}
	return ""
}

// Kinds returns the distinct kinds recorded for the unit, in first-seen order.
func (s *Store) Kinds(name string) []model.InteractionKind {
	var out []model.InteractionKind
	seen := map[model.InteractionKind]bool{}
	for _, r := range s.byUnit[name] {
		if !seen[r.Kind] {
			seen[r.Kind] = true
			out = append(out, r.Kind)
		}
	}
	return out
}

// Role returns the unit's role. All records of a unit share it except the
// proxy record, which is always middleware.
func (s *Store) Role(name string) model.Role {
	for _, r := range s.byUnit[name] {
		if r.Kind != model.KindProxy {
			return r.Role
		}
	}
	if rs := s.byUnit[name]; len(rs) > 0 {
		return rs[0].Role
	}
	return model.RoleUnknown
}

// Units returns the distinct callers in the store, sorted.
func (s *Store) Units() []string {
	out := make([]string, 0, len(s.byUnit))
	for u := range s.byUnit {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
