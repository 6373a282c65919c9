package test

import (
	"bytes"
	"math"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/types"
)

// RegtestBits is the easiest difficulty target. Roughly every second nonce
// satisfies it, so headers can be mined inside unit tests.
var RegtestBits = chaincfg.RegressionNetParams.PowLimitBits

// TrueScript is an output script anyone can spend with an empty input script.
var TrueScript = []byte{txscript.OP_TRUE}

// NewCoinbaseTx returns a coinbase transaction paying `value` to TrueScript.
// The seed makes the coinbase (and hence its TxID) unique.
func NewCoinbaseTx(seed string, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: math.MaxUint32},
		SignatureScript:  append([]byte{0x01, 0x00}, []byte(seed)...),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, TrueScript))
	return tx
}

// NewSpendTx returns a transaction spending `from` into outputs of the given
// values, all paying to TrueScript.
func NewSpendTx(from []wire.OutPoint, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, op := range from {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: op.Hash, Index: op.Index}, nil, nil))
	}
	for _, v := range values {
		tx.AddTxOut(wire.NewTxOut(v, TrueScript))
	}
	return tx
}

// OutPoint references output `index` of tx.
func OutPoint(tx *wire.MsgTx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: index}
}

// TxID returns the TxID of tx.
func TxID(tx *wire.MsgTx) types.TxID {
	h := tx.TxHash()
	return types.NewHashFromChainhash(&h)
}

// SerializeTx returns the wire serialization of tx.
func SerializeTx(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SerializeBlock returns the wire serialization of b.
func SerializeBlock(b *wire.MsgBlock) []byte {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func hasWork(h *wire.BlockHeader) bool {
	hash := h.BlockHash()
	return blockchain.HashToBig(&hash).Cmp(blockchain.CompactToBig(h.Bits)) <= 0
}

// MineHeader increments the nonce of h until it satisfies its target.
func MineHeader(h *wire.BlockHeader) {
	for !hasWork(h) {
		h.Nonce++
	}
}

// UnmineHeader increments the nonce of h until it does not satisfy its target.
func UnmineHeader(h *wire.BlockHeader) {
	for hasWork(h) {
		h.Nonce++
	}
}

// NewHeader returns a mined regtest header committing to merkleRoot.
func NewHeader(parent, merkleRoot types.Hash32, timestamp time.Time) *wire.BlockHeader {
	h := &wire.BlockHeader{
		Version:    1,
		PrevBlock:  parent.Chainhash(),
		MerkleRoot: merkleRoot.Chainhash(),
		Timestamp:  timestamp,
		Bits:       RegtestBits,
	}
	MineHeader(h)
	return h
}

// TxIDs returns the TxIDs of txs in order.
func TxIDs(txs []*wire.MsgTx) []types.TxID {
	res := make([]types.TxID, len(txs))
	for i, tx := range txs {
		res[i] = TxID(tx)
	}
	return res
}

// NewBlock assembles a mined block on top of parent.
func NewBlock(parent types.Hash32, timestamp time.Time, txs ...*wire.MsgTx) *wire.MsgBlock {
	header := NewHeader(parent, merkle.Root(TxIDs(txs)), timestamp)
	return &wire.MsgBlock{
		Header:       *header,
		Transactions: txs,
	}
}

// BlockHash returns the hash of b.
func BlockHash(b *wire.MsgBlock) types.Hash32 {
	h := b.BlockHash()
	return types.NewHashFromChainhash(&h)
}
