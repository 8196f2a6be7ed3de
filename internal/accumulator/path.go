package accumulator

import (
	"github.com/pkg/errors"

	"github.com/solveil/veil/internal/codes"
	"github.com/solveil/veil/internal/shielded"
	"github.com/solveil/veil/internal/types"
)

// Path is a Merkle authentication path from a leaf to the root.
// Indices[i] is 1 when the running node is the right child at level i.
type Path struct {
	Elements []types.Hash
	Indices  []uint8
}

// Root folds leaf up the path.
func (p Path) Root(leaf types.Hash) types.Hash {
	cur := leaf
	for i, sib := range p.Elements {
		if p.Indices[i] == 0 {
			cur = shielded.HashPair(cur, sib)
		} else {
			cur = shielded.HashPair(sib, cur)
		}
	}
	return cur
}

// BuildPath rebuilds the path for leaves[index] in a tree of the given depth
// whose first len(leaves) leaves are known. It is the client side of the
// leaf mirror: the result proves against the tree root after those appends.
func BuildPath(depth uint8, leaves []types.Hash, index uint64) (Path, error) {
	if depth < MinDepth || depth > MaxDepth {
		return Path{}, errors.Wrapf(codes.ErrInvalidTreeDepth, "depth %d", depth)
	}
	if index >= uint64(len(leaves)) {
		return Path{}, errors.Errorf("leaf %d not in %d known leaves", index, len(leaves))
	}

	p := Path{Elements: make([]types.Hash, depth), Indices: make([]uint8, depth)}
	level := append([]types.Hash(nil), leaves...)
	idx := index
	for l := 0; l < int(depth); l++ {
		sib := idx ^ 1
		if sib < uint64(len(level)) {
			p.Elements[l] = level[sib]
		} else {
			p.Elements[l] = zeros[l]
		}
		p.Indices[l] = uint8(idx & 1)

		next := make([]types.Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := zeros[l]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = shielded.HashPair(left, right)
		}
		level = next
		idx >>= 1
	}
	return p, nil
}
