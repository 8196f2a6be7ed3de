// Package nullifier is the per-pool spent set.
//
// A record exists for every nullifier hash that has been withdrawn from a
// pool. Insertion is insert-if-absent inside the caller's unit of work, so
// it doubles as the double-spend guard: of two racing withdrawals with the
// same nullifier exactly one can commit.
package nullifier

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const kind = "nullifier"

// Record marks a nullifier hash as spent in one pool.
type Record struct {
	Hash      types.Hash
	Pool      store.Key
	Spent     bool
	SpentAt   int64
	Recipient types.Address
}

// Key derives the record key for hash in pool.
func Key(pool store.Key, hash types.Hash) store.Key {
	return store.Derive(kind, hash[:], pool.ID[:])
}

// Insert marks hash spent. It fails with ErrNullifierAlreadySpent if the
// record already exists.
func Insert(tx *store.Txn, pool store.Key, hash types.Hash, recipient types.Address, now int64) error {
	rec := Record{Hash: hash, Pool: pool, Spent: true, SpentAt: now, Recipient: recipient}
	err := tx.Create(Key(pool, hash), rec)
	if errors.Is(err, store.ErrExists) {
		return errors.Wrapf(codes.ErrNullifierAlreadySpent, "nullifier %s", hash)
	}
	return err
}

// Contains reports whether hash has been spent in pool.
func Contains(tx *store.Txn, pool store.Key, hash types.Hash) (bool, error) {
	return tx.Has(Key(pool, hash))
}

// Get returns the spent record for hash, or nil if it was never spent.
func Get(tx *store.Txn, pool store.Key, hash types.Hash) (*Record, error) {
	var r Record
	ok, err := tx.Get(Key(pool, hash), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}
