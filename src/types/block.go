package types

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// Block is a block as the storage layer tracks it.
type Block struct {
	Hash      Hash32    `json:"hash"`
	Parent    Hash32    `json:"parent"`
	FirstSeen time.Time `json:"firstSeen"`
	Height    uint32    `json:"height"`
	IsBest    bool      `json:"isBest"`
	TxIDs     []TxID    `json:"txids"`
	Header    Header    `json:"header"`
	Raw       []byte    `json:"-"`
}

type StoredBlock struct {
	DBID int64
	Block
}

// RawBlock is a serialized block as it was received from a node.
type RawBlock struct {
	Raw       []byte
	FirstSeen time.Time
}

// NewBlockFromBytes decodes a serialized block. Height and IsBest are left
// for the caller to fill in.
func NewBlockFromBytes(raw []byte, firstSeen time.Time) (*Block, *wire.MsgBlock, error) {
	var msg wire.MsgBlock
	reader := bytes.NewReader(raw)
	if err := msg.Deserialize(reader); err != nil {
		return nil, nil, errors.Wrap(err, "could not decode block")
	}
	if reader.Len() != 0 {
		return nil, nil, errors.Errorf("%d trailing bytes after block", reader.Len())
	}

	header := NewHeaderFromWire(&msg.Header)
	txids := make([]TxID, len(msg.Transactions))
	for i, tx := range msg.Transactions {
		h := tx.TxHash()
		txids[i] = NewHashFromChainhash(&h)
	}

	return &Block{
		Hash:      header.Hash,
		Parent:    header.Parent,
		FirstSeen: firstSeen,
		TxIDs:     txids,
		Header:    header,
		Raw:       raw,
	}, &msg, nil
}
