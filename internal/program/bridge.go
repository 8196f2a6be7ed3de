package program

import (
	"context"

	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/bridge"
	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/events"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

func bridgeConfigEvent(c *bridge.Config) events.BridgeConfig {
	return events.BridgeConfig{
		Authority:      c.Authority,
		Treasury:       c.Treasury,
		FeeBasisPoints: c.FeeBasisPoints,
		Finality:       c.Finality,
		Paused:         c.Paused,
		LocalChain:     c.LocalChain,
	}
}

// InitializeBridge creates the bridge with caller as its authority.
func (p *Program) InitializeBridge(ctx context.Context, caller types.Address, s bridge.Settings) (*bridge.Config, error) {
	var out *bridge.Config
	err := p.exec(ctx, "initialize_bridge", func(u *unit) error {
		c, err := bridge.Initialize(u.tx, caller, s)
		if err != nil {
			return err
		}
		out = c
		u.emit(events.TypeBridgeInitialized, bridgeConfigEvent(c))
		return nil
	})
	return out, err
}

// UpdateBridge changes fee, finality, pause flag or treasury.
func (p *Program) UpdateBridge(ctx context.Context, caller types.Address, upd bridge.ConfigUpdate) (*bridge.Config, error) {
	var out *bridge.Config
	err := p.exec(ctx, "update_bridge", func(u *unit) error {
		c, err := bridge.UpdateConfig(u.tx, caller, upd)
		if err != nil {
			return err
		}
		out = c
		u.emit(events.TypeBridgeConfigUpdated, bridgeConfigEvent(c))
		return nil
	})
	return out, err
}

// SetBridgePaused pauses or resumes the bridge.
func (p *Program) SetBridgePaused(ctx context.Context, caller types.Address, paused bool) (*bridge.Config, error) {
	return p.UpdateBridge(ctx, caller, bridge.ConfigUpdate{Paused: &paused})
}

// AddChain adds a destination chain.
func (p *Program) AddChain(ctx context.Context, caller types.Address, chain types.ChainID) error {
	return p.exec(ctx, "add_chain", func(u *unit) error {
		if _, err := bridge.AddChain(u.tx, caller, chain); err != nil {
			return err
		}
		u.emit(events.TypeChainAdded, events.Chain{Chain: chain})
		return nil
	})
}

// AddToken configures a token on chain.
func (p *Program) AddToken(ctx context.Context, caller types.Address, chain types.ChainID, t bridge.TokenConfig) error {
	return p.exec(ctx, "add_token", func(u *unit) error {
		if _, err := bridge.AddToken(u.tx, caller, chain, t); err != nil {
			return err
		}
		u.emit(events.TypeTokenAdded, tokenEvent(chain, t))
		return nil
	})
}

// SetTokenEnabled toggles a configured token.
func (p *Program) SetTokenEnabled(ctx context.Context, caller types.Address, chain types.ChainID, asset types.AssetID, enabled bool) error {
	return p.exec(ctx, "set_token_enabled", func(u *unit) error {
		t, err := bridge.SetTokenEnabled(u.tx, caller, chain, asset, enabled)
		if err != nil {
			return err
		}
		u.emit(events.TypeTokenUpdated, tokenEvent(chain, *t))
		return nil
	})
}

func tokenEvent(chain types.ChainID, t bridge.TokenConfig) events.Token {
	return events.Token{
		Chain:       chain,
		LocalAsset:  t.LocalAsset,
		RemoteAsset: t.RemoteAsset,
		MinAmount:   t.MinAmount,
		MaxAmount:   t.MaxAmount,
		Enabled:     t.Enabled,
	}
}

// RegisterEmitter trusts a foreign bridge emitter.
func (p *Program) RegisterEmitter(ctx context.Context, caller types.Address, chain types.ChainID, addr types.Hash) (*bridge.Emitter, error) {
	var out *bridge.Emitter
	err := p.exec(ctx, "register_emitter", func(u *unit) error {
		e, err := bridge.RegisterEmitter(u.tx, caller, chain, addr, u.ts())
		if err != nil {
			return err
		}
		out = e
		u.emit(events.TypeEmitterRegistered, events.Emitter{Chain: chain, Address: addr, Active: true})
		return nil
	})
	return out, err
}

// SetEmitterActive activates or deactivates a foreign emitter.
func (p *Program) SetEmitterActive(ctx context.Context, caller types.Address, chain types.ChainID, addr types.Hash, active bool) (*bridge.Emitter, error) {
	var out *bridge.Emitter
	err := p.exec(ctx, "set_emitter_active", func(u *unit) error {
		e, err := bridge.SetEmitterActive(u.tx, caller, chain, addr, active, u.ts())
		if err != nil {
			return err
		}
		out = e
		u.emit(events.TypeEmitterUpdated, events.Emitter{Chain: chain, Address: addr, Active: active})
		return nil
	})
	return out, err
}

// InitiateTransfer sends a commitment and its value to another chain.
func (p *Program) InitiateTransfer(ctx context.Context, caller types.Address, req bridge.InitiateRequest) (*bridge.OutboundReceipt, error) {
	if p.relay.Publisher == nil {
		return nil, errors.Wrap(codes.ErrBridgeNotInitialized, "no transport configured")
	}
	var out *bridge.OutboundReceipt
	err := p.exec(ctx, "initiate_transfer", func(u *unit) error {
		r, err := p.relay.Initiate(ctx, u.tx, caller, req, u.ts())
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeTransferInitiated, events.TransferInitiated{
			Sequence:    r.Transfer.Sequence,
			DestChain:   r.Transfer.DestChain,
			Asset:       r.Transfer.Asset,
			Amount:      r.Transfer.Amount,
			Fee:         r.Fee,
			Commitment:  r.Transfer.Commitment,
			DestAddress: r.Transfer.DestAddress,
			Nonce:       r.Transfer.Nonce,
		})
		return nil
	})
	return out, err
}

// ProcessInbound admits an authenticated inbound message. handle is the
// emitter record the relayer names for the message's origin.
func (p *Program) ProcessInbound(ctx context.Context, msg bridge.Inbound, handle store.Key) (*bridge.InboundReceipt, error) {
	var out *bridge.InboundReceipt
	err := p.exec(ctx, "process_inbound", func(u *unit) error {
		r, err := p.relay.ProcessInbound(u.tx, msg, handle, u.ts())
		if err != nil {
			return err
		}
		out = r
		u.emit(events.TypeIncomingTransfer, events.IncomingTransfer{
			Digest:      r.Digest,
			SourceChain: r.SourceChain,
			Sequence:    r.Sequence,
			Pool:        r.Pool,
			Commitment:  r.Commitment,
			LeafIndex:   r.LeafIndex,
			Amount:      r.Amount,
		})
		return nil
	})
	return out, err
}

// SetTransferStatus records the destination-side outcome of a transfer.
func (p *Program) SetTransferStatus(ctx context.Context, caller types.Address, seq uint64, status bridge.Status) (*bridge.Transfer, error) {
	var out *bridge.Transfer
	err := p.exec(ctx, "set_transfer_status", func(u *unit) error {
		t, err := bridge.SetTransferStatus(u.tx, caller, seq, status)
		if err != nil {
			return err
		}
		out = t
		u.emit(events.TypeTransferStatusChanged, events.TransferStatus{Sequence: seq, Status: status.String()})
		return nil
	})
	return out, err
}

// BridgeConfig returns the bridge record.
func (p *Program) BridgeConfig() (*bridge.Config, error) {
	var out *bridge.Config
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = bridge.Load(tx)
		return err
	})
	return out, err
}

// TransferRecord returns the outbound transfer published with seq.
func (p *Program) TransferRecord(seq uint64) (*bridge.Transfer, error) {
	var out *bridge.Transfer
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = bridge.LoadTransfer(tx, seq)
		return err
	})
	return out, err
}

// Emitter returns the foreign emitter at (chain, addr).
func (p *Program) Emitter(chain types.ChainID, addr types.Hash) (*bridge.Emitter, error) {
	var out *bridge.Emitter
	err := p.view(func(tx *store.Txn) error {
		var err error
		out, err = bridge.LoadEmitter(tx, bridge.EmitterKey(chain, addr))
		return err
	})
	return out, err
}

// IsProcessed reports whether the inbound message with digest was admitted.
func (p *Program) IsProcessed(digest types.Hash) (bool, error) {
	var ok bool
	err := p.view(func(tx *store.Txn) error {
		var err error
		ok, err = bridge.IsProcessed(tx, digest)
		return err
	})
	return ok, err
}
