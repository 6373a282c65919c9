package merkle

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/types"
)

// Branch is the path from a leaf to the root of a merkle tree.
// Digests are the sibling hashes ordered from the leaf upwards.
type Branch struct {
	Leaf    types.Hash32
	Index   uint32
	Digests []types.Hash32
}

// Derive recomputes the root the branch leads to.
func (b Branch) Derive() types.Hash32 {
	root, _ := b.derive()
	return root
}

// derive also reports whether every step is possible in a real tree. The
// last node of an odd level is paired with itself, so a right child equal
// to its left sibling only exists at a position past the end of the level.
func (b Branch) derive() (types.Hash32, bool) {
	node := b.Leaf
	index := b.Index
	ok := true
	for _, d := range b.Digests {
		if index&1 == 1 {
			if d == node {
				ok = false
			}
			node = hashPair(d, node)
		} else {
			node = hashPair(node, d)
		}
		index >>= 1
	}
	return node, ok
}

// Proof is a branch together with the root it claims to lead to.
// The zero Proof is invalid.
type Proof struct {
	Branch
	Root types.Hash32
}

// Valid reports whether the branch hashes to Root through positions that
// exist in the tree.
func (p Proof) Valid() bool {
	if p.Root.IsZero() || len(p.Digests) > maxDepth {
		return false
	}
	if len(p.Digests) < maxDepth && uint64(p.Index) >= uint64(1)<<uint(len(p.Digests)) {
		return false
	}
	root, ok := p.derive()
	return ok && root == p.Root
}

// LeafIndex is the position of the leaf within the tree.
func (p Proof) LeafIndex() uint32 {
	return p.Index
}

// LeafDigest is the hash the proof proves membership of.
func (p Proof) LeafDigest() types.Hash32 {
	return p.Leaf
}

// MarshalBinary encodes the proof as leaf, index, digests, root.
func (p Proof) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(p.Leaf[:])
	if err := binary.Write(&buf, binary.LittleEndian, p.Index); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(len(p.Digests))); err != nil {
		return nil, err
	}
	for _, d := range p.Digests {
		buf.Write(d[:])
	}
	buf.Write(p.Root[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a proof written by MarshalBinary.
func (p *Proof) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var proof Proof
	if _, err := io.ReadFull(r, proof.Leaf[:]); err != nil {
		return errors.Wrap(err, "could not read leaf")
	}
	if err := binary.Read(r, binary.LittleEndian, &proof.Index); err != nil {
		return errors.Wrap(err, "could not read index")
	}
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return errors.Wrap(err, "could not read digest count")
	}
	if n > maxDepth {
		return errors.Errorf("too many digests: %d", n)
	}
	if n > 0 {
		proof.Digests = make([]types.Hash32, n)
	}
	for i := range proof.Digests {
		if _, err := io.ReadFull(r, proof.Digests[i][:]); err != nil {
			return errors.Wrapf(err, "could not read digest %d", i)
		}
	}
	if _, err := io.ReadFull(r, proof.Root[:]); err != nil {
		return errors.Wrap(err, "could not read root")
	}
	if r.Len() != 0 {
		return errors.Errorf("%d trailing bytes", r.Len())
	}

	*p = proof
	return nil
}
