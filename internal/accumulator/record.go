package accumulator

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/store"
	"github.com/solveil/veil/internal/types"
)

const (
	treeKind = "merkle_tree"
	leafKind = "leaf"
)

// Key derives the record key of the tree owned by owner (a pool or bridge).
func Key(owner store.Key) store.Key {
	return store.Derive(treeKind, []byte(owner.Kind), owner.ID[:])
}

// Leaf is one mirrored leaf: the commitment and when it was appended.
type Leaf struct {
	Commitment types.Hash
	Index      uint64
	Timestamp  int64
}

func leafKey(tree store.Key, index uint64) store.Key {
	return store.Derive(leafKind, tree.ID[:], store.U64(index))
}

// Create stores a fresh tree at key.
func Create(tx *store.Txn, key store.Key, depth uint8) (*Tree, error) {
	t, err := New(depth)
	if err != nil {
		return nil, err
	}
	if err := tx.Create(key, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads the tree at key.
func Load(tx *store.Txn, key store.Key) (*Tree, error) {
	var t Tree
	ok, err := tx.Get(key, &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(codes.ErrInternal, "missing tree %s", key)
	}
	return &t, nil
}

// Insert appends commitment to the tree at key, persists the tree and the
// leaf mirror, and returns the leaf index and the new root.
func Insert(tx *store.Txn, key store.Key, commitment types.Hash, now int64) (uint64, types.Hash, error) {
	t, err := Load(tx, key)
	if err != nil {
		return 0, types.Hash{}, err
	}
	index, err := t.Append(commitment)
	if err != nil {
		return 0, types.Hash{}, err
	}
	if err := tx.Put(key, t); err != nil {
		return 0, types.Hash{}, err
	}
	if err := tx.Put(leafKey(key, index), Leaf{Commitment: commitment, Index: index, Timestamp: now}); err != nil {
		return 0, types.Hash{}, err
	}
	return index, t.Root, nil
}

// Leaves returns the mirrored leaves [from, to) of the tree at key.
func Leaves(tx *store.Txn, key store.Key, from, to uint64) ([]Leaf, error) {
	if to < from {
		return nil, nil
	}
	out := make([]Leaf, 0, to-from)
	for i := from; i < to; i++ {
		var l Leaf
		ok, err := tx.Get(leafKey(key, i), &l)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, l)
	}
	return out, nil
}
