package types

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// HeaderSize is the size of a serialized block header.
const HeaderSize = wire.MaxBlockHeaderPayload

// Header is a decoded block header together with its hash.
// The zero Header stands for "no header" and is what unconfirmed records carry.
type Header struct {
	Version    int32     `json:"version"`
	Parent     Hash32    `json:"parent"`
	MerkleRoot Hash32    `json:"merkleRoot"`
	Timestamp  time.Time `json:"timestamp"`
	Bits       uint32    `json:"bits"`
	Nonce      uint32    `json:"nonce"`
	Hash       Hash32    `json:"hash"`
}

// NewHeaderFromWire copies a btcd header and computes its hash.
func NewHeaderFromWire(h *wire.BlockHeader) Header {
	hash := h.BlockHash()
	return Header{
		Version:    h.Version,
		Parent:     NewHashFromChainhash(&h.PrevBlock),
		MerkleRoot: NewHashFromChainhash(&h.MerkleRoot),
		Timestamp:  h.Timestamp.UTC(),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
		Hash:       NewHashFromChainhash(&hash),
	}
}

// NewHeaderFromBytes decodes an 80 byte header.
func NewHeaderFromBytes(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, errors.Errorf("invalid header size %d", len(raw))
	}
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return Header{}, errors.Wrap(err, "could not decode header")
	}
	return NewHeaderFromWire(&h), nil
}

// Wire returns the btcd representation of the header.
func (h Header) Wire() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  h.Parent.Chainhash(),
		MerkleRoot: h.MerkleRoot.Chainhash(),
		Timestamp:  h.Timestamp,
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// Bytes returns the 80 byte serialization.
func (h Header) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := h.Wire().Serialize(&buf); err != nil {
		// writing to a bytes.Buffer does not fail
		panic(err)
	}
	return buf.Bytes()
}

// IsZero reports whether h is the empty header. Headers are identified by
// their hash, so only headers built by NewHeaderFromWire or NewHeaderFromBytes
// are non-empty.
func (h Header) IsZero() bool {
	return h.Hash.IsZero()
}

// Equal compares headers by hash.
func (h Header) Equal(o Header) bool {
	return h.Hash == o.Hash
}

// Compare orders headers by timestamp and then by hash.
// The empty header sorts after every other header.
func (h Header) Compare(o Header) int {
	hz, oz := h.IsZero(), o.IsZero()
	switch {
	case hz && oz:
		return 0
	case hz:
		return 1
	case oz:
		return -1
	}

	if h.Timestamp.Before(o.Timestamp) {
		return -1
	}
	if h.Timestamp.After(o.Timestamp) {
		return 1
	}
	return h.Hash.Compare(o.Hash)
}
