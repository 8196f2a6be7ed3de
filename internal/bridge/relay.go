package bridge

import (
	"context"

	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/accumulator"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/pool"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/token"
	"github.com/solveil/veil/internal/types"
)

const processedKind = "processed"

// Publisher hands an outbound payload to the cross-chain transport and
// returns the sequence number it was assigned under this bridge's emitter.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, nonce uint32, finality uint8) (uint64, error)
}

// Inbound is a transport message whose authenticity the transport has
// already checked.
type Inbound struct {
	EmitterChain   types.ChainID
	EmitterAddress types.Hash
	Sequence       uint64
	Payload        []byte
	Digest         types.Hash
}

// Relay runs outbound and inbound transfers.
type Relay struct {
	Tokens    token.Transferrer
	Publisher Publisher
}

// InitiateRequest asks to send Amount of Asset to DestChain.
type InitiateRequest struct {
	Asset       types.AssetID
	Amount      uint64
	DestChain   types.ChainID
	DestAddress types.Hash
	Commitment  types.Hash
	Nonce       uint32
}

// OutboundReceipt describes a published transfer.
type OutboundReceipt struct {
	Transfer  *Transfer
	Fee       uint64
	LeafIndex uint64
	Root      types.Hash
}

// Initiate locks Amount from caller, pays the bridge fee to the treasury,
// mirrors the commitment into the outbound accumulator and publishes the
// net amount to DestChain. Range checks run before any balance moves.
func (r *Relay) Initiate(ctx context.Context, tx *store.Txn, caller types.Address, req InitiateRequest, now int64) (*OutboundReceipt, error) {
	c, err := Load(tx)
	if err != nil {
		return nil, err
	}
	if c.Paused {
		return nil, errors.Wrap(codes.ErrBridgePaused, "initiate")
	}
	_, tc, err := c.Lookup(req.DestChain, req.Asset)
	if err != nil {
		return nil, err
	}
	if !tc.Enabled {
		return nil, errors.Wrapf(codes.ErrTokenNotEnabled, "asset %s to chain %d", req.Asset, req.DestChain)
	}
	if req.Amount < tc.MinAmount || req.Amount > tc.MaxAmount {
		return nil, errors.Wrapf(codes.ErrInvalidAmount, "amount %d outside [%d, %d]", req.Amount, tc.MinAmount, tc.MaxAmount)
	}
	if !shielded.ValidCommitment(req.Commitment) {
		return nil, errors.Wrapf(codes.ErrInvalidCommitment, "commitment %s", req.Commitment)
	}

	fee, ok := types.ApplyBasisPoints(req.Amount, c.FeeBasisPoints)
	if !ok {
		return nil, errors.Wrap(codes.ErrCalculation, "bridge fee")
	}
	net, ok := types.CheckedSub(req.Amount, fee)
	if !ok {
		return nil, errors.Wrap(codes.ErrCalculation, "net amount")
	}

	if err := r.Tokens.Transfer(tx, req.Asset, caller, c.Vault, req.Amount); err != nil {
		return nil, err
	}
	if fee > 0 {
		if err := r.Tokens.Transfer(tx, req.Asset, c.Vault, c.Treasury, fee); err != nil {
			return nil, err
		}
	}
	index, root, err := accumulator.Insert(tx, c.OutboundTree, req.Commitment, now)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		NetAmount:   net,
		Asset:       req.Asset,
		SourceChain: c.LocalChain,
		DestChain:   req.DestChain,
		DestAddress: req.DestAddress,
		Commitment:  req.Commitment,
		Nonce:       req.Nonce,
	}
	seq, err := r.Publisher.Publish(ctx, payload.Encode(), req.Nonce, c.Finality)
	if err != nil {
		return nil, errors.Wrap(err, "publish transfer")
	}

	t := &Transfer{
		Sequence:    seq,
		DestChain:   req.DestChain,
		Amount:      net,
		Asset:       req.Asset,
		RemoteAsset: tc.RemoteAsset,
		Commitment:  req.Commitment,
		DestAddress: req.DestAddress,
		Nonce:       req.Nonce,
		Timestamp:   now,
		Status:      StatusPending,
	}
	if err := tx.Create(TransferKey(seq), t); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errors.Wrapf(codes.ErrInternal, "transport reused sequence %d", seq)
		}
		return nil, err
	}
	return &OutboundReceipt{Transfer: t, Fee: fee, LeafIndex: index, Root: root}, nil
}

// InboundReceipt describes an admitted inbound message.
type InboundReceipt struct {
	Digest      types.Hash
	SourceChain types.ChainID
	Sequence    uint64
	Pool        store.Key
	Commitment  types.Hash
	Amount      uint64
	LeafIndex   uint64
	Root        types.Hash
	Timestamp   int64
}

type processed struct {
	Digest    types.Hash
	Timestamp int64
}

// ProcessedKey is the replay marker of the message with digest.
func ProcessedKey(digest types.Hash) store.Key {
	return store.Derive(processedKind, digest[:])
}

// IsProcessed reports whether the message with digest was admitted.
func IsProcessed(tx *store.Txn, digest types.Hash) (bool, error) {
	return tx.Has(ProcessedKey(digest))
}

// ProcessInbound admits msg once. handle must be the emitter record the
// caller resolved for the message's claimed origin. The commitment joins
// the local pool for (net amount, local asset); no value is released here.
func (r *Relay) ProcessInbound(tx *store.Txn, msg Inbound, handle store.Key, now int64) (*InboundReceipt, error) {
	c, err := Load(tx)
	if err != nil {
		return nil, err
	}
	if c.Paused {
		return nil, errors.Wrap(codes.ErrBridgePaused, "process inbound")
	}

	if handle != EmitterKey(msg.EmitterChain, msg.EmitterAddress) {
		return nil, errors.Wrapf(codes.ErrInvalidExternalEmitter, "handle %s does not match chain %d emitter %s", handle, msg.EmitterChain, msg.EmitterAddress)
	}
	e, err := LoadEmitter(tx, handle)
	if err != nil {
		if errors.Is(err, codes.ErrEmitterNotFound) {
			return nil, errors.Wrapf(codes.ErrInvalidExternalEmitter, "unknown emitter %s on chain %d", msg.EmitterAddress, msg.EmitterChain)
		}
		return nil, err
	}
	if !e.Active {
		return nil, errors.Wrapf(codes.ErrInvalidExternalEmitter, "emitter %s on chain %d is inactive", msg.EmitterAddress, msg.EmitterChain)
	}

	p, err := DecodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	if p.SourceChain != msg.EmitterChain {
		return nil, errors.Wrapf(codes.ErrInvalidMessage, "payload source %d, emitter chain %d", p.SourceChain, msg.EmitterChain)
	}
	if p.DestChain != c.LocalChain {
		return nil, errors.Wrapf(codes.ErrInvalidMessage, "payload destination %d, local chain %d", p.DestChain, c.LocalChain)
	}

	if err := tx.Create(ProcessedKey(msg.Digest), processed{Digest: msg.Digest, Timestamp: now}); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errors.Wrapf(codes.ErrMessageAlreadyProcessed, "digest %s", msg.Digest)
		}
		return nil, err
	}

	_, tc, err := c.LookupRemote(msg.EmitterChain, p.Asset)
	if err != nil {
		return nil, err
	}
	id := pool.Key(p.NetAmount, tc.LocalAsset)
	m, err := pool.Mirror(tx, id, p.Commitment, now)
	if err != nil {
		return nil, err
	}
	return &InboundReceipt{
		Digest:      msg.Digest,
		SourceChain: msg.EmitterChain,
		Sequence:    msg.Sequence,
		Pool:        id,
		Commitment:  p.Commitment,
		Amount:      p.NetAmount,
		LeafIndex:   m.LeafIndex,
		Root:        m.Root,
		Timestamp:   now,
	}, nil
}
