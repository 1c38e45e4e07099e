// Package selector derives canonical and salted 4-byte call selectors and keeps
// the per-run registry that makes obfuscated selectors reversible.
package selector

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is a 4-byte function identifier.
type Selector [4]byte

func (s Selector) Hex() string { return hexutil.Encode(s[:]) }

func (s Selector) Uint32() uint32 { return binary.BigEndian.Uint32(s[:]) }

// Mask XORs the selector with the big-endian encoding of salt. Mask is its own inverse.
func (s Selector) Mask(salt uint32) Selector {
	var m [4]byte
	binary.BigEndian.PutUint32(m[:], salt)
	var out Selector
	for i := range s {
		out[i] = s[i] ^ m[i]
	}
	return out
}

// Parse decodes a 0x-prefixed 4-byte hex string.
func Parse(s string) (Selector, error) {
	var out Selector
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("parse selector %q: %w", s, err)
	}
	if len(b) != 4 {
		return out, fmt.Errorf("parse selector %q: want 4 bytes, got %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Canonical returns the first four bytes of keccak256(signature).
func Canonical(signature string) Selector {
	var out Selector
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

// Obfuscated returns Canonical(signature) masked with salt.
func Obfuscated(signature string, salt uint32) Selector {
	return Canonical(signature).Mask(salt)
}

// SaltSource yields per-call-site salts drawn from the full 32-bit space.
type SaltSource interface {
	Salt() (uint32, error)
}

type cryptoSalts struct{}

func (cryptoSalts) Salt() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read salt: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// CryptoSalts draws salts from crypto/rand.
func CryptoSalts() SaltSource { return cryptoSalts{} }

type seededSalts struct{ r *mrand.Rand }

func (s seededSalts) Salt() (uint32, error) { return s.r.Uint32(), nil }

// SeededSalts draws salts from r. Used when a run seed is configured so output is reproducible.
func SeededSalts(r *mrand.Rand) SaltSource { return seededSalts{r: r} }
