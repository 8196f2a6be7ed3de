// tree.go - Append-only incremental Merkle tree with a recent-root window.
//
// Only the rightmost filled node of each level is kept (Filled), so an append
// costs MaxDepth hashes and the record size is O(MaxDepth). A withdrawal may
// reference any of the last RootHistorySize roots, which lets proofs built
// against a slightly stale root still land after concurrent deposits.

package accumulator

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/types"
)

const (
	// MinDepth and MaxDepth bound the configurable tree height.
	MinDepth = 10
	MaxDepth = 32
	// RootHistorySize is how many recent roots IsKnownRoot accepts.
	RootHistorySize = 30
)

var zeros [MaxDepth + 1]types.Hash

func init() {
	for i := 1; i <= MaxDepth; i++ {
		zeros[i] = shielded.HashPair(zeros[i-1], zeros[i-1])
	}
}

// Zero returns the root of an empty subtree of the given height.
func Zero(level int) types.Hash { return zeros[level] }

// Tree is the persisted accumulator state.
type Tree struct {
	Depth     uint8
	LeafCount uint64
	Root      types.Hash
	Filled    []types.Hash
	Roots     [RootHistorySize]types.Hash
	RootIndex uint32
}

// New returns an empty tree of the given depth.
func New(depth uint8) (*Tree, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, errors.Wrapf(codes.ErrInvalidTreeDepth, "depth %d", depth)
	}
	t := &Tree{
		Depth:  depth,
		Root:   zeros[depth],
		Filled: make([]types.Hash, depth),
	}
	copy(t.Filled, zeros[:depth])
	t.Roots[0] = t.Root
	return t, nil
}

// Capacity is the number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 { return uint64(1) << t.Depth }

// Append inserts leaf at index LeafCount and returns that index.
func (t *Tree) Append(leaf types.Hash) (uint64, error) {
	if t.LeafCount >= t.Capacity() {
		return 0, errors.Wrapf(codes.ErrTreeFull, "capacity %d", t.Capacity())
	}
	index := t.LeafCount
	cur := leaf
	idx := index
	for level := 0; level < int(t.Depth); level++ {
		if idx&1 == 0 {
			t.Filled[level] = cur
			cur = shielded.HashPair(cur, zeros[level])
		} else {
			cur = shielded.HashPair(t.Filled[level], cur)
		}
		idx >>= 1
	}

	t.RootIndex = (t.RootIndex + 1) % RootHistorySize
	t.Roots[t.RootIndex] = cur
	t.Root = cur
	t.LeafCount++
	return index, nil
}

// IsKnownRoot reports whether root is one of the last RootHistorySize roots.
// The zero value is never a known root.
func (t *Tree) IsKnownRoot(root types.Hash) bool {
	if root.IsZero() {
		return false
	}
	i := t.RootIndex
	for n := 0; n < RootHistorySize; n++ {
		if t.Roots[i] == root {
			return true
		}
		if i == 0 {
			i = RootHistorySize
		}
		i--
	}
	return false
}
