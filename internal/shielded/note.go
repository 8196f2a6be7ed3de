// note.go - Deposit notes.
//
// A Note is the depositor's secret: knowing (nullifier, secret) for a leaf
// in the accumulator is what a withdrawal proof demonstrates.

package shielded

import (
	"encoding/hex"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/types"
)

const notePrefix = "veil-note-"

// Note is the pre-image of a deposit commitment.
type Note struct {
	Nullifier fr.Element
	Secret    fr.Element
}

// NewNote draws a note with fresh randomness from crypto/rand.
func NewNote() (*Note, error) {
	var n Note
	if _, err := n.Nullifier.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "random nullifier")
	}
	if _, err := n.Secret.SetRandom(); err != nil {
		return nil, errors.Wrap(err, "random secret")
	}
	return &n, nil
}

// Commitment is the leaf deposited for this note.
func (n *Note) Commitment() types.Hash { return Commitment(n.Nullifier, n.Secret) }

// NullifierHash is published when the note is withdrawn.
func (n *Note) NullifierHash() types.Hash { return NullifierHash(n.Nullifier) }

// String encodes the note for backup: veil-note-<nullifier><secret> in hex.
func (n *Note) String() string {
	a, b := n.Nullifier.Bytes(), n.Secret.Bytes()
	return notePrefix + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}

// ParseNote decodes the output of Note.String.
func ParseNote(s string) (*Note, error) {
	if !strings.HasPrefix(s, notePrefix) {
		return nil, errors.Errorf("note must start with %q", notePrefix)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, notePrefix))
	if err != nil {
		return nil, errors.Wrap(err, "note hex")
	}
	if len(raw) != 2*fr.Bytes {
		return nil, errors.Errorf("note is %d bytes, want %d", len(raw), 2*fr.Bytes)
	}
	var n Note
	if err := n.Nullifier.SetBytesCanonical(raw[:fr.Bytes]); err != nil {
		return nil, errors.Wrap(err, "note nullifier")
	}
	if err := n.Secret.SetBytesCanonical(raw[fr.Bytes:]); err != nil {
		return nil, errors.Wrap(err, "note secret")
	}
	return &n, nil
}
