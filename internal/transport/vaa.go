// Package transport is the reference cross-chain messaging layer: signed
// verifiable action approvals (VAAs), a guardian that publishes them for the
// local bridge, and an HTTP node that gossips them between chains.
package transport

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/types"
)

const (
	// Version is the only VAA version produced and accepted.
	Version = 1
	// SignatureSize is r || s || v.
	SignatureSize = 65

	headerSize = 1 + 4 + 1
	bodyHeader = 4 + 4 + 2 + 32 + 8 + 1
)

var (
	ErrMalformed   = errors.New("malformed vaa")
	ErrNoQuorum    = errors.New("vaa lacks guardian quorum")
	ErrBadGuardian = errors.New("vaa signed by unknown guardian")
)

// Signature is one guardian's signature over the VAA digest.
type Signature struct {
	Index     uint8
	Signature [SignatureSize]byte
}

// VAA is a guardian-attested message from one emitter.
type VAA struct {
	Version          uint8
	GuardianSetIndex uint32
	Signatures       []Signature

	Timestamp        uint32
	Nonce            uint32
	EmitterChain     types.ChainID
	EmitterAddress   types.Hash
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// Body is the signed part of the VAA.
func (v *VAA) Body() []byte {
	b := make([]byte, bodyHeader, bodyHeader+len(v.Payload))
	binary.BigEndian.PutUint32(b[0:4], v.Timestamp)
	binary.BigEndian.PutUint32(b[4:8], v.Nonce)
	binary.BigEndian.PutUint16(b[8:10], uint16(v.EmitterChain))
	copy(b[10:42], v.EmitterAddress[:])
	binary.BigEndian.PutUint64(b[42:50], v.Sequence)
	b[50] = v.ConsistencyLevel
	return append(b, v.Payload...)
}

// Digest is keccak256(keccak256(body)); guardians sign it and the bridge
// uses it as the replay key.
func (v *VAA) Digest() types.Hash {
	inner := crypto.Keccak256(v.Body())
	return types.Hash(crypto.Keccak256Hash(inner))
}

// Sign appends the signature of the guardian at index.
func (v *VAA) Sign(key *ecdsa.PrivateKey, index uint8) error {
	d := v.Digest()
	sig, err := crypto.Sign(d[:], key)
	if err != nil {
		return errors.Wrap(err, "sign vaa")
	}
	var s Signature
	s.Index = index
	copy(s.Signature[:], sig)
	v.Signatures = append(v.Signatures, s)
	sort.Slice(v.Signatures, func(i, j int) bool { return v.Signatures[i].Index < v.Signatures[j].Index })
	return nil
}

// Quorum is the number of signatures needed from a set of n guardians.
func Quorum(n int) int { return n*2/3 + 1 }

// GuardianSet is the ordered list of guardian addresses accepted under one
// set index.
type GuardianSet struct {
	Index uint32
	Keys  []common.Address
}

// Verify checks that v was stamped with set's index and that a quorum of
// its guardians signed it. Signature indices must be strictly increasing.
func (v *VAA) Verify(set GuardianSet) error {
	if v.Version != Version {
		return errors.Wrapf(ErrMalformed, "version %d", v.Version)
	}
	if v.GuardianSetIndex != set.Index {
		return errors.Wrapf(ErrBadGuardian, "guardian set %d, want %d", v.GuardianSetIndex, set.Index)
	}
	guardians := set.Keys
	if len(guardians) == 0 {
		return errors.Wrap(ErrNoQuorum, "empty guardian set")
	}
	if len(v.Signatures) < Quorum(len(guardians)) {
		return errors.Wrapf(ErrNoQuorum, "%d of %d signatures", len(v.Signatures), Quorum(len(guardians)))
	}
	d := v.Digest()
	last := -1
	for _, s := range v.Signatures {
		if int(s.Index) <= last {
			return errors.Wrapf(ErrMalformed, "signature index %d out of order", s.Index)
		}
		last = int(s.Index)
		if int(s.Index) >= len(guardians) {
			return errors.Wrapf(ErrBadGuardian, "index %d", s.Index)
		}
		pub, err := crypto.SigToPub(d[:], s.Signature[:])
		if err != nil {
			return errors.Wrapf(ErrBadGuardian, "recover index %d: %v", s.Index, err)
		}
		if crypto.PubkeyToAddress(*pub) != guardians[s.Index] {
			return errors.Wrapf(ErrBadGuardian, "index %d", s.Index)
		}
	}
	return nil
}

// Marshal encodes v in the version 1 wire layout.
func (v *VAA) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(v.Version)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], v.GuardianSetIndex)
	buf.Write(u32[:])
	buf.WriteByte(uint8(len(v.Signatures)))
	for _, s := range v.Signatures {
		buf.WriteByte(s.Index)
		buf.Write(s.Signature[:])
	}
	buf.Write(v.Body())
	return buf.Bytes()
}

// Unmarshal decodes a version 1 VAA.
func Unmarshal(b []byte) (*VAA, error) {
	if len(b) < headerSize {
		return nil, errors.Wrapf(ErrMalformed, "%d bytes", len(b))
	}
	r := bytes.NewReader(b)
	v := &VAA{}
	v.Version, _ = r.ReadByte()
	if v.Version != Version {
		return nil, errors.Wrapf(ErrMalformed, "version %d", v.Version)
	}
	var u32 [4]byte
	_, _ = io.ReadFull(r, u32[:])
	v.GuardianSetIndex = binary.BigEndian.Uint32(u32[:])
	n, _ := r.ReadByte()
	for i := 0; i < int(n); i++ {
		var s Signature
		idx, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, "truncated signatures")
		}
		s.Index = idx
		if _, err := io.ReadFull(r, s.Signature[:]); err != nil {
			return nil, errors.Wrap(ErrMalformed, "truncated signatures")
		}
		v.Signatures = append(v.Signatures, s)
	}

	body := b[len(b)-r.Len():]
	if len(body) < bodyHeader {
		return nil, errors.Wrapf(ErrMalformed, "body is %d bytes", len(body))
	}
	v.Timestamp = binary.BigEndian.Uint32(body[0:4])
	v.Nonce = binary.BigEndian.Uint32(body[4:8])
	v.EmitterChain = types.ChainID(binary.BigEndian.Uint16(body[8:10]))
	copy(v.EmitterAddress[:], body[10:42])
	v.Sequence = binary.BigEndian.Uint64(body[42:50])
	v.ConsistencyLevel = body[50]
	v.Payload = append([]byte(nil), body[bodyHeader:]...)
	return v, nil
}

// Inbound is the view of v the bridge consumes.
func (v *VAA) Inbound() bridge.Inbound {
	return bridge.Inbound{
		EmitterChain:   v.EmitterChain,
		EmitterAddress: v.EmitterAddress,
		Sequence:       v.Sequence,
		Payload:        v.Payload,
		Digest:         v.Digest(),
	}
}
