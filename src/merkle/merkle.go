// Package merkle implements Bitcoin merkle trees over transaction ids and
// the inclusion proofs (branches) used for SPV confirmation.
package merkle

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/types"
)

// maxDepth bounds the number of digests in a branch. A block can not hold
// more than 2^32 transactions.
const maxDepth = 32

// hashPair returns the parent node of two merkle nodes.
func hashPair(left, right types.Hash32) types.Hash32 {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return types.Hash32(chainhash.DoubleHashH(buf[:]))
}

// nextLevel hashes a tree level into its parent level. An odd node at the
// end is paired with itself.
func nextLevel(level []types.Hash32) []types.Hash32 {
	next := make([]types.Hash32, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(level[i], right))
	}
	return next
}

// Root computes the merkle root of the given leaves.
// The root of an empty list is the zero hash.
func Root(leaves []types.Hash32) types.Hash32 {
	if len(leaves) == 0 {
		return types.ZeroHash
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// Prove builds the branch proving that leaves[index] is part of the tree.
func Prove(leaves []types.Hash32, index uint32) (Proof, error) {
	if int(index) >= len(leaves) {
		return Proof{}, errors.Errorf("leaf index %d out of range (%d leaves)", index, len(leaves))
	}

	branch := Branch{
		Leaf:  leaves[index],
		Index: index,
	}

	level := leaves
	pos := int(index)
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos
		}
		branch.Digests = append(branch.Digests, level[sibling])
		level = nextLevel(level)
		pos /= 2
	}

	return Proof{Branch: branch, Root: level[0]}, nil
}
