// Package relayer keeps the registry of withdrawal relayers and their
// running statistics. A relayer submits withdrawals on a depositor's
// behalf and is paid the fee the proof commits to.
package relayer

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const kind = "relayer"

// MaxFeeBasisPoints caps the fee a relayer may advertise (5%).
const MaxFeeBasisPoints = 500

// Relayer is one registered relayer.
type Relayer struct {
	Authority      types.Address
	Active         bool
	FeeBasisPoints uint16
	TotalRelayed   uint64
	TotalFees      uint64
	TotalProcessed uint64
	RegisteredAt   int64
}

// Key derives the record key for the relayer at addr.
func Key(addr types.Address) store.Key {
	return store.Derive(kind, addr[:])
}

// Register creates an active relayer record for addr.
func Register(tx *store.Txn, addr types.Address, feeBP uint16, now int64) (*Relayer, error) {
	if addr.IsZero() {
		return nil, errors.Wrap(codes.ErrInvalidRelayer, "zero relayer address")
	}
	if feeBP > MaxFeeBasisPoints {
		return nil, errors.Wrapf(codes.ErrFeeTooHigh, "relayer fee %d bp", feeBP)
	}
	r := &Relayer{Authority: addr, Active: true, FeeBasisPoints: feeBP, RegisteredAt: now}
	if err := tx.Create(Key(addr), r); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errors.Wrapf(codes.ErrRelayerAlreadyRegistered, "relayer %s", addr)
		}
		return nil, err
	}
	return r, nil
}

// Load returns the relayer at addr.
func Load(tx *store.Txn, addr types.Address) (*Relayer, error) {
	var r Relayer
	ok, err := tx.Get(Key(addr), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrRelayerNotFound, "relayer %s", addr)
	}
	return &r, nil
}

// Update changes the advertised fee and the active flag; nil leaves a field
// unchanged.
func Update(tx *store.Txn, addr types.Address, feeBP *uint16, active *bool) (*Relayer, error) {
	r, err := Load(tx, addr)
	if err != nil {
		return nil, err
	}
	if feeBP != nil {
		if *feeBP > MaxFeeBasisPoints {
			return nil, errors.Wrapf(codes.ErrFeeTooHigh, "relayer fee %d bp", *feeBP)
		}
		r.FeeBasisPoints = *feeBP
	}
	if active != nil {
		r.Active = *active
	}
	return r, tx.Put(Key(addr), r)
}

// RequireActive loads the relayer at addr and checks it may take fees.
func RequireActive(tx *store.Txn, addr types.Address) (*Relayer, error) {
	r, err := Load(tx, addr)
	if errors.Is(err, codes.ErrRelayerNotFound) {
		return nil, errors.Wrapf(codes.ErrInvalidRelayer, "relayer %s", addr)
	}
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, errors.Wrapf(codes.ErrRelayerInactive, "relayer %s", addr)
	}
	return r, nil
}

// RecordRelay adds one relayed withdrawal to r's statistics and persists it.
func RecordRelay(tx *store.Txn, r *Relayer, net, fee uint64) error {
	relayed, ok1 := types.CheckedAdd(r.TotalRelayed, net)
	fees, ok2 := types.CheckedAdd(r.TotalFees, fee)
	processed, ok3 := types.CheckedAdd(r.TotalProcessed, 1)
	if !ok1 || !ok2 || !ok3 {
		return errors.Wrap(codes.ErrCalculation, "relayer statistics overflow")
	}
	r.TotalRelayed, r.TotalFees, r.TotalProcessed = relayed, fees, processed
	return tx.Put(Key(r.Authority), r)
}
