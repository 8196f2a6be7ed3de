// types.go - Primitive value types shared by every veil component.
//
// Hashes, addresses and asset identifiers are all 32-byte values. Chain
// identifiers follow the 16-bit numbering used by the cross-chain transport.

package types

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// HashLength is the byte length of Hash, Address and AssetID.
const HashLength = 32

// Hash is a 32-byte value: commitments, nullifier hashes, Merkle roots,
// message digests.
type Hash [HashLength]byte

// Address identifies an account (user, vault, relayer, treasury).
type Address [HashLength]byte

// AssetID identifies a fungible asset.
type AssetID [HashLength]byte

// ChainID is the transport-level chain identifier.
type ChainID uint16

// Well-known chain identifiers.
const (
	ChainSolana   ChainID = 1
	ChainEthereum ChainID = 2
	ChainOptimism ChainID = 24
	ChainArbitrum ChainID = 23
	ChainBase     ChainID = 30
)

// NativeAsset is the asset id used for the ledger's native currency.
var NativeAsset = AssetID{}

func (h Hash) IsZero() bool      { return h == Hash{} }
func (a Address) IsZero() bool   { return a == Address{} }
func (a AssetID) IsNative() bool { return a == NativeAsset }

func (h Hash) Bytes() []byte    { return h[:] }
func (a Address) Bytes() []byte { return a[:] }
func (a AssetID) Bytes() []byte { return a[:] }

func (h Hash) String() string    { return "0x" + hex.EncodeToString(h[:]) }
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }
func (a AssetID) String() string { return "0x" + hex.EncodeToString(a[:]) }

// MarshalText encodes as 0x-prefixed hex so JSON/YAML stay readable.
func (h Hash) MarshalText() ([]byte, error)    { return []byte(h.String()), nil }
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
func (a AssetID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := decodeFixed(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (a *Address) UnmarshalText(b []byte) error {
	v, err := decodeFixed(string(b))
	if err != nil {
		return err
	}
	*a = Address(v)
	return nil
}

func (a *AssetID) UnmarshalText(b []byte) error {
	v, err := decodeFixed(string(b))
	if err != nil {
		return err
	}
	*a = AssetID(v)
	return nil
}

// HexToHash parses a 0x-prefixed (or bare) hex string of at most 32 bytes.
// Shorter inputs are left-padded.
func HexToHash(s string) (Hash, error) { return decodeFixed(s) }

// HexToAddress is HexToHash for addresses.
func HexToAddress(s string) (Address, error) {
	h, err := decodeFixed(s)
	return Address(h), err
}

// HexToAsset is HexToHash for asset ids.
func HexToAsset(s string) (AssetID, error) {
	h, err := decodeFixed(s)
	return AssetID(h), err
}

// BytesToHash left-pads b (or keeps its last 32 bytes) into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func decodeFixed(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrap(err, "invalid hex")
	}
	if len(b) > HashLength {
		return Hash{}, errors.Errorf("hex value is %d bytes, want at most %d", len(b), HashLength)
	}
	return BytesToHash(b), nil
}
