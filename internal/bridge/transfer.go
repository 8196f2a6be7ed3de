package bridge

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const transferKind = "bridge_transfer"

// Status is the lifecycle state of an outbound transfer.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// ParseStatus maps a status name back to its value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	}
	return 0, errors.Wrapf(codes.ErrInvalidMessage, "unknown transfer status %q", s)
}

// Transfer is the record of one outbound transfer, keyed by its transport
// sequence.
type Transfer struct {
	Sequence    uint64
	DestChain   types.ChainID
	Amount      uint64
	Asset       types.AssetID
	RemoteAsset types.AssetID
	Commitment  types.Hash
	DestAddress types.Hash
	Nonce       uint32
	Timestamp   int64
	Status      Status
}

// TransferKey is the key of the transfer published with seq.
func TransferKey(seq uint64) store.Key {
	return store.Derive(transferKind, store.U64(seq))
}

// LoadTransfer returns the transfer published with seq.
func LoadTransfer(tx *store.Txn, seq uint64) (*Transfer, error) {
	var t Transfer
	ok, err := tx.Get(TransferKey(seq), &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrTransferNotFound, "sequence %d", seq)
	}
	return &t, nil
}

// SetTransferStatus moves a pending transfer to Completed or Failed. Both
// are terminal.
func SetTransferStatus(tx *store.Txn, caller types.Address, seq uint64, status Status) (*Transfer, error) {
	if _, err := loadAuthorized(tx, caller); err != nil {
		return nil, err
	}
	if status != StatusCompleted && status != StatusFailed {
		return nil, errors.Wrapf(codes.ErrInvalidMessage, "cannot move transfer to %s", status)
	}
	t, err := LoadTransfer(tx, seq)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, errors.Wrapf(codes.ErrTransferAlreadyFinalized, "sequence %d is %s", seq, t.Status)
	}
	t.Status = status
	return t, tx.Put(TransferKey(seq), t)
}
