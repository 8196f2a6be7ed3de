package bridge

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const externalEmitterKind = "external_emitter"

// Emitter is a trusted bridge contract on another chain.
type Emitter struct {
	Chain       types.ChainID
	Address     types.Hash
	Active      bool
	LastUpdated int64
}

// EmitterKey is the handle of the emitter at (chain, addr).
func EmitterKey(chain types.ChainID, addr types.Hash) store.Key {
	return store.Derive(externalEmitterKind, store.U16(uint16(chain)), addr[:])
}

// RegisterEmitter trusts (chain, addr). Registering an existing emitter
// reactivates it.
func RegisterEmitter(tx *store.Txn, caller types.Address, chain types.ChainID, addr types.Hash, now int64) (*Emitter, error) {
	if _, err := loadAuthorized(tx, caller); err != nil {
		return nil, err
	}
	if addr.IsZero() {
		return nil, errors.Wrap(codes.ErrInvalidExternalEmitter, "zero emitter address")
	}
	e := &Emitter{Chain: chain, Address: addr, Active: true, LastUpdated: now}
	return e, tx.Put(EmitterKey(chain, addr), e)
}

// SetEmitterActive changes whether messages from (chain, addr) are accepted.
func SetEmitterActive(tx *store.Txn, caller types.Address, chain types.ChainID, addr types.Hash, active bool, now int64) (*Emitter, error) {
	if _, err := loadAuthorized(tx, caller); err != nil {
		return nil, err
	}
	e, err := LoadEmitter(tx, EmitterKey(chain, addr))
	if err != nil {
		return nil, err
	}
	e.Active = active
	e.LastUpdated = now
	return e, tx.Put(EmitterKey(chain, addr), e)
}

// LoadEmitter returns the emitter stored under handle.
func LoadEmitter(tx *store.Txn, handle store.Key) (*Emitter, error) {
	var e Emitter
	ok, err := tx.Get(handle, &e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrEmitterNotFound, "emitter %s", handle)
	}
	return &e, nil
}
