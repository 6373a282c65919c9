// Package rules holds the context free validity predicates for headers and
// blocks. They answer true or false and never say why a check failed.
package rules

import (
	"bytes"
	"math"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/timechain-go/src/types"
)

// CheckHeader performs the structural checks on a decoded header: the
// version is at least 1, the merkle root is set and the timestamp is not
// the epoch. Timestamps are serialized as 32 bit unsigned seconds.
func CheckHeader(h *wire.BlockHeader) bool {
	ts := h.Timestamp.Unix()
	return h.Version >= 1 &&
		h.MerkleRoot != (chainhash.Hash{}) &&
		ts > 0 && ts <= math.MaxUint32
}

// CheckProofOfWork reports whether the header hash is at or below the
// target encoded in its bits. A target of zero or below never passes.
func CheckProofOfWork(h *wire.BlockHeader) bool {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return false
	}
	hash := h.BlockHash()
	return blockchain.HashToBig(&hash).Cmp(target) <= 0
}

// ValidHeader checks an 80 byte serialized header.
func ValidHeader(raw []byte) bool {
	if len(raw) != types.HeaderSize {
		return false
	}
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return false
	}
	return CheckHeader(&h) && CheckProofOfWork(&h)
}

// ValidHeaderOf checks a decoded header. The empty header is never valid.
func ValidHeaderOf(h types.Header) bool {
	if h.IsZero() {
		return false
	}
	w := h.Wire()
	if w.BlockHash() != h.Hash.Chainhash() {
		return false
	}
	return CheckHeader(w) && CheckProofOfWork(w)
}
