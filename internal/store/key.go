package store

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/solveil/veil/internal/types"
)

// Key addresses one record. Kind namespaces the record type; ID is derived
// from the kind and the record's seeds, so the same seeds always resolve to
// the same record and different kinds never collide.
type Key struct {
	Kind string
	ID   types.Hash
}

// Derive computes the key of kind for seeds:
// ID = keccak256(len(kind) || kind || len(seed0) || seed0 || ...).
func Derive(kind string, seeds ...[]byte) Key {
	parts := make([][]byte, 0, 2+2*len(seeds))
	parts = append(parts, lengthPrefix(len(kind)), []byte(kind))
	for _, s := range seeds {
		parts = append(parts, lengthPrefix(len(s)), s)
	}
	return Key{Kind: kind, ID: types.Hash(crypto.Keccak256Hash(parts...))}
}

// DeriveAddress derives a program-owned account address (vaults, emitters).
func DeriveAddress(kind string, seeds ...[]byte) types.Address {
	return types.Address(Derive(kind, seeds...).ID)
}

// Bytes is the on-disk key: kind, a zero separator, then the 32-byte id.
func (k Key) Bytes() []byte {
	b := make([]byte, 0, len(k.Kind)+1+types.HashLength)
	b = append(b, k.Kind...)
	b = append(b, 0)
	return append(b, k.ID[:]...)
}

func (k Key) String() string { return k.Kind + "/" + k.ID.String() }

func (k Key) IsZero() bool { return k.Kind == "" && k.ID.IsZero() }

func kindPrefix(kind string) []byte {
	return append([]byte(kind), 0)
}

func lengthPrefix(n int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return b[:]
}

// U16 encodes v as a big-endian seed.
func U16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

// U32 encodes v as a big-endian seed.
func U32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// U64 encodes v as a big-endian seed.
func U64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
