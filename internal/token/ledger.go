// Package token is the fungible-balance ledger the pools and the bridge
// move value through.
//
// Balances live in the same store as everything else, so a transfer made
// inside a unit of work commits or aborts together with the operation that
// made it.
package token

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const balanceKind = "balance"

// Transferrer moves value between accounts inside a unit of work.
type Transferrer interface {
	Transfer(tx *store.Txn, asset types.AssetID, from, to types.Address, amount uint64) error
}

// Ledger is the store-backed Transferrer.
type Ledger struct{}

type balance struct {
	Amount uint64
}

func balanceKey(asset types.AssetID, owner types.Address) store.Key {
	return store.Derive(balanceKind, asset[:], owner[:])
}

// BalanceOf returns owner's balance of asset.
func (Ledger) BalanceOf(tx *store.Txn, asset types.AssetID, owner types.Address) (uint64, error) {
	var b balance
	if _, err := tx.Get(balanceKey(asset, owner), &b); err != nil {
		return 0, err
	}
	return b.Amount, nil
}

func (l Ledger) set(tx *store.Txn, asset types.AssetID, owner types.Address, amount uint64) error {
	return tx.Put(balanceKey(asset, owner), balance{Amount: amount})
}

// Mint credits amount of asset to owner out of thin air. It backs genesis
// allocations and faucets; protocol flows only use Transfer.
func (l Ledger) Mint(tx *store.Txn, asset types.AssetID, owner types.Address, amount uint64) error {
	cur, err := l.BalanceOf(tx, asset, owner)
	if err != nil {
		return err
	}
	next, ok := types.CheckedAdd(cur, amount)
	if !ok {
		return errors.Wrap(codes.ErrCalculation, "mint overflows balance")
	}
	return l.set(tx, asset, owner, next)
}

// Transfer moves amount of asset from one account to another.
func (l Ledger) Transfer(tx *store.Txn, asset types.AssetID, from, to types.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	src, err := l.BalanceOf(tx, asset, from)
	if err != nil {
		return err
	}
	if src < amount {
		return errors.Wrapf(codes.ErrInsufficientFunds, "%s holds %d, needs %d", from, src, amount)
	}
	dst, err := l.BalanceOf(tx, asset, to)
	if err != nil {
		return err
	}
	next, ok := types.CheckedAdd(dst, amount)
	if !ok {
		return errors.Wrap(codes.ErrCalculation, "transfer overflows balance")
	}
	if err := l.set(tx, asset, from, src-amount); err != nil {
		return err
	}
	return l.set(tx, asset, to, next)
}
