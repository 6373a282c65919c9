package types

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// Transaction represents a Bitcoin transaction as the storage layer tracks it.
type Transaction struct {
	TxID      TxID      `json:"txid"`
	FirstSeen time.Time `json:"firstSeen"`
	Raw       []byte    `json:"-"`
}

type StoredTransaction struct {
	DBID int64
	Transaction
}

// RawTransaction is a serialized transaction as it was received from a node.
type RawTransaction struct {
	Raw       []byte
	FirstSeen time.Time
}

// NewTransactionFromBytes decodes raw and computes its TxID. raw must be
// exactly one transaction.
func NewTransactionFromBytes(raw []byte, firstSeen time.Time) (*Transaction, error) {
	var msg wire.MsgTx
	reader := bytes.NewReader(raw)
	if err := msg.Deserialize(reader); err != nil {
		return nil, errors.Wrap(err, "could not decode transaction")
	}
	if reader.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes after transaction", reader.Len())
	}
	h := msg.TxHash()
	return &Transaction{
		TxID:      NewHashFromChainhash(&h),
		FirstSeen: firstSeen,
		Raw:       raw,
	}, nil
}
