package transform

import (
	"hash/fnv"
	mrand "math/rand/v2"

	"github.com/rollno10/crossContractObfuscation/internal/predicate"
	"github.com/rollno10/crossContractObfuscation/internal/rules"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
)

const defaultCollisionRetries = 8

// Env is the read-mostly context shared by every stage of one obfuscation run.
type Env struct {
	Rules     *rules.Store
	Selectors *selector.Registry
	// Compiler may be nil; stages needing structural output then degrade.
	Compiler solidity.Compiler
	// Seed zero means nondeterministic randomness and crypto salts.
	Seed             uint64
	CollisionRetries int
}

func NewEnv(store *rules.Store, compiler solidity.Compiler, seed uint64) *Env {
	if store == nil {
		store = rules.New(nil)
	}
	return &Env{
		Rules:            store,
		Selectors:        selector.NewRegistry(),
		Compiler:         compiler,
		Seed:             seed,
		CollisionRetries: defaultCollisionRetries,
	}
}

// Rand returns a random source private to one (stage, unit) pair so parallel
// workers never share one and seeded runs stay reproducible.
func (e *Env) Rand(stage, unit string) *mrand.Rand {
	if e.Seed == 0 {
		return mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}
	h := fnv.New64a()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write([]byte(unit))
	return mrand.New(mrand.NewPCG(e.Seed, h.Sum64()))
}

// Salts returns the salt source for selector registration.
func (e *Env) Salts(rnd *mrand.Rand) selector.SaltSource {
	if e.Seed == 0 {
		return selector.CryptoSalts()
	}
	return selector.SeededSalts(rnd)
}

func (e *Env) Predicates(rnd *mrand.Rand) *predicate.Synthesizer { return predicate.New(rnd) }

func (e *Env) retries() int {
	if e.CollisionRetries <= 0 {
		return defaultCollisionRetries
	}
	return e.CollisionRetries
}
