package rules

import (
	"bytes"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/types"
)

// WireParser splits blocks in the Bitcoin wire format. Transactions are
// returned as subslices of the input.
type WireParser struct{}

func (WireParser) Header(block []byte) ([]byte, error) {
	if len(block) < types.HeaderSize {
		return nil, errors.Errorf("block too short: %d bytes", len(block))
	}
	return block[:types.HeaderSize], nil
}

func (WireParser) Transactions(block []byte) ([][]byte, error) {
	var msg wire.MsgBlock
	locs, err := msg.DeserializeTxLoc(bytes.NewBuffer(block))
	if err != nil {
		return nil, errors.Wrap(err, "could not decode block")
	}
	txs := make([][]byte, len(locs))
	for i, loc := range locs {
		txs[i] = block[loc.TxStart : loc.TxStart+loc.TxLen]
	}
	return txs, nil
}

func parseTx(raw []byte) (*wire.MsgTx, bool) {
	var tx wire.MsgTx
	r := bytes.NewReader(raw)
	if err := tx.Deserialize(r); err != nil || r.Len() != 0 {
		return nil, false
	}
	return &tx, true
}

// IsCoinbase reports whether raw is a coinbase transaction.
func IsCoinbase(raw []byte) bool {
	tx, ok := parseTx(raw)
	return ok && blockchain.IsCoinBaseTx(tx)
}

// IsSaneTransaction runs the context free transaction checks of btcd. A
// coinbase is not acceptable here since only the first transaction of a
// block may be one.
func IsSaneTransaction(raw []byte) bool {
	tx, ok := parseTx(raw)
	if !ok || blockchain.IsCoinBaseTx(tx) {
		return false
	}
	return blockchain.CheckTransactionSanity(btcutil.NewTx(tx)) == nil
}

// TransactionsMerkleRoot computes the merkle root over serialized
// transactions using btcd's merkle tree store.
func TransactionsMerkleRoot(txs [][]byte) (types.Hash32, error) {
	if len(txs) == 0 {
		return types.ZeroHash, errors.Errorf("no transactions")
	}
	utilTxs := make([]*btcutil.Tx, len(txs))
	for i, raw := range txs {
		tx, ok := parseTx(raw)
		if !ok {
			return types.ZeroHash, errors.Errorf("could not decode transaction %d", i)
		}
		utilTxs[i] = btcutil.NewTx(tx)
	}
	store := blockchain.BuildMerkleTreeStore(utilTxs, false)
	return types.NewHashFromChainhash(store[len(store)-1]), nil
}

// StandardBlockRule returns a BlockRule backed by btcd's parser and checks.
func StandardBlockRule() *BlockRule {
	rule, err := NewBlockRule(BlockConfig{
		Parser:     WireParser{},
		IsCoinbase: IsCoinbase,
		IsValid:    IsSaneTransaction,
		MerkleRoot: TransactionsMerkleRoot,
	})
	if err != nil {
		panic(err)
	}
	return rule
}
