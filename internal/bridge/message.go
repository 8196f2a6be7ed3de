package bridge

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/types"
)

const (
	// PayloadTag marks a commitment transfer.
	PayloadTag = 100
	// PayloadSize is the encoded length of a Payload.
	PayloadSize = 1 + 8 + 32 + 2 + 2 + 32 + 32 + 4
	// MinPayloadSize is the shortest payload accepted inbound; the nonce
	// is optional.
	MinPayloadSize = PayloadSize - 4
)

// Payload is the cross-chain commitment transfer message. Integers are
// big-endian on the wire.
type Payload struct {
	NetAmount   uint64
	Asset       types.AssetID
	SourceChain types.ChainID
	DestChain   types.ChainID
	DestAddress types.Hash
	Commitment  types.Hash
	Nonce       uint32
}

// Encode returns the PayloadSize-byte wire form of p.
func (p *Payload) Encode() []byte {
	b := make([]byte, PayloadSize)
	b[0] = PayloadTag
	binary.BigEndian.PutUint64(b[1:9], p.NetAmount)
	copy(b[9:41], p.Asset[:])
	binary.BigEndian.PutUint16(b[41:43], uint16(p.SourceChain))
	binary.BigEndian.PutUint16(b[43:45], uint16(p.DestChain))
	copy(b[45:77], p.DestAddress[:])
	copy(b[77:109], p.Commitment[:])
	binary.BigEndian.PutUint32(b[109:113], p.Nonce)
	return b
}

// DecodePayload parses b. Trailing bytes past the nonce are ignored.
func DecodePayload(b []byte) (*Payload, error) {
	if len(b) < MinPayloadSize {
		return nil, errors.Wrapf(codes.ErrInvalidMessage, "payload is %d bytes, need %d", len(b), MinPayloadSize)
	}
	if b[0] != PayloadTag {
		return nil, errors.Wrapf(codes.ErrInvalidMessage, "payload tag %d", b[0])
	}
	p := &Payload{
		NetAmount:   binary.BigEndian.Uint64(b[1:9]),
		SourceChain: types.ChainID(binary.BigEndian.Uint16(b[41:43])),
		DestChain:   types.ChainID(binary.BigEndian.Uint16(b[43:45])),
	}
	copy(p.Asset[:], b[9:41])
	copy(p.DestAddress[:], b[45:77])
	copy(p.Commitment[:], b[77:109])
	if len(b) >= PayloadSize {
		p.Nonce = binary.BigEndian.Uint32(b[109:113])
	}
	return p, nil
}
