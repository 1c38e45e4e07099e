// Package predicate selects semantically inert guard statements for opaque
// predicate insertion.
package predicate

import (
	mrand "math/rand/v2"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// Synthesizer picks catalog entries with its own random source. It is not safe
// for concurrent use; stages build one per unit.
type Synthesizer struct {
	rnd *mrand.Rand
}

func New(rnd *mrand.Rand) *Synthesizer {
	if rnd == nil {
		rnd = mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}
	return &Synthesizer{rnd: rnd}
}

// Pick returns a random guard for (role, kind) or *model.UnsupportedCombinationError.
func (s *Synthesizer) Pick(role model.Role, kind model.InteractionKind) (string, error) {
	entries := Entries(role, kind)
	if len(entries) == 0 {
		return "", &model.UnsupportedCombinationError{Role: role, Kind: kind}
	}
	return entries[s.rnd.IntN(len(entries))], nil
}

// Entries returns the catalog cell for (role, kind); nil when absent.
func Entries(role model.Role, kind model.InteractionKind) []string {
	return catalog[role][kind]
}

// Supports reports whether the catalog has a cell for kind under any role.
func Supports(kind model.InteractionKind) bool {
	for _, cells := range catalog {
		if len(cells[kind]) > 0 {
			return true
		}
	}
	return false
}
