package shielded

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/solveil/veil/internal/types"
)

func TestHashIsDeterministic(t *testing.T) {
	var a, b fr.Element
	a.SetUint64(1)
	b.SetUint64(2)

	h1 := Hash(a, b)
	h2 := Hash(a, b)
	if !h1.Equal(&h2) {
		t.Fatal("MiMC hash is not deterministic")
	}
	swapped := Hash(b, a)
	if h1.Equal(&swapped) {
		t.Fatal("hash must depend on input order")
	}
	single := Hash(a)
	if single.Equal(&h1) {
		t.Fatal("arity must change the hash")
	}
}

func TestNoteCommitment(t *testing.T) {
	n, err := NewNote()
	if err != nil {
		t.Fatalf("NewNote failed: %v", err)
	}
	if n.Commitment() != Commitment(n.Nullifier, n.Secret) {
		t.Error("note commitment mismatch")
	}
	if n.NullifierHash() == n.Commitment() {
		t.Error("nullifier hash must differ from commitment")
	}
	if !ValidCommitment(n.Commitment()) {
		t.Error("note commitment should be a valid leaf")
	}

	parsed, err := ParseNote(n.String())
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}
	if parsed.Commitment() != n.Commitment() {
		t.Error("parsed note commits to a different leaf")
	}

	if _, err := ParseNote("veil-note-00"); err == nil {
		t.Error("short note should be rejected")
	}
	if _, err := ParseNote("tornado-note"); err == nil {
		t.Error("foreign prefix should be rejected")
	}
}

func TestCanonicalCommitments(t *testing.T) {
	if ValidCommitment(types.Hash{}) {
		t.Error("zero commitment must be rejected")
	}
	var max types.Hash
	for i := range max {
		max[i] = 0xff
	}
	if IsCanonical(max) {
		t.Error("2^256-1 is above the BN254 modulus")
	}

	mod := fr.Modulus()
	var r types.Hash
	mod.FillBytes(r[:])
	if IsCanonical(r) {
		t.Error("the modulus itself is not canonical")
	}
	mod.Sub(mod, big.NewInt(1))
	mod.FillBytes(r[:])
	if !IsCanonical(r) {
		t.Error("r-1 is canonical")
	}
}

func TestAddressReduction(t *testing.T) {
	var addr types.Address
	for i := range addr {
		addr[i] = 0xff
	}
	e := AddressToField(addr)
	if !IsCanonical(ToHash(e)) {
		t.Error("mapped address must be canonical")
	}
	// Low 248 bits of the digest, top byte cleared.
	want := types.BytesToHash(crypto.Keccak256(addr[:]))
	want[0] = 0
	if ToHash(e) != want {
		t.Errorf("AddressToField = %s, want %s", ToHash(e), want)
	}
	other := addr
	other[31] ^= 1
	o := AddressToField(other)
	if e.Equal(&o) {
		t.Error("distinct addresses must map to distinct field elements")
	}
	if BigInt(types.Hash(addr)).Cmp(fr.Modulus()) >= 0 {
		t.Error("BigInt must reduce mod r")
	}
}
