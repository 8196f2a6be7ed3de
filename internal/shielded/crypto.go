// crypto.go - MiMC hashing and field conversions.

package shielded

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/solveil/veil/internal/types"
)

// Hash computes MiMC(inputs...) with a fresh hasher. The hasher state
// carries over between Sum calls, so it is never reused.
func Hash(inputs ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range inputs {
		b := inputs[i].Bytes()
		// Canonical 32-byte blocks never fail to decode.
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashPair is the accumulator node hash H(left, right).
func HashPair(left, right types.Hash) types.Hash {
	return ToHash(Hash(ToElement(left), ToElement(right)))
}

// Commitment returns H(nullifier, secret).
func Commitment(nullifier, secret fr.Element) types.Hash {
	return ToHash(Hash(nullifier, secret))
}

// NullifierHash returns H(nullifier).
func NullifierHash(nullifier fr.Element) types.Hash {
	return ToHash(Hash(nullifier))
}

// IsCanonical reports whether h encodes a field element strictly below r.
func IsCanonical(h types.Hash) bool {
	var e fr.Element
	return e.SetBytesCanonical(h[:]) == nil
}

// ValidCommitment reports whether h may be inserted as a leaf.
func ValidCommitment(h types.Hash) bool {
	return !h.IsZero() && IsCanonical(h)
}

// ToElement interprets h as a big-endian integer reduced mod r.
func ToElement(h types.Hash) fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

// ToHash encodes e as 32 big-endian bytes.
func ToHash(e fr.Element) types.Hash {
	return types.Hash(e.Bytes())
}

// AddressToField maps an address into the scalar field as the low 248 bits
// of keccak256(address). Prover and verifier must both use it.
func AddressToField(a types.Address) fr.Element {
	d := crypto.Keccak256(a[:])
	d[0] = 0
	var e fr.Element
	e.SetBytes(d)
	return e
}

// BigInt returns the canonical integer value of h mod r, the form gnark
// witnesses take.
func BigInt(h types.Hash) *big.Int {
	e := ToElement(h)
	return e.BigInt(new(big.Int))
}
