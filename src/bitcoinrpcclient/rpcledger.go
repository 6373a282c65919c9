package bitcoinrpcclient

import (
	"bytes"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/types"
)

var _ ledger.Timechain = (*BitcoinRPCClient)(nil)

// isNotFound reports whether bitcoind answered that a transaction or block
// does not exist.
func isNotFound(err error) bool {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey
}

// isRejection reports whether bitcoind refused a transaction, as opposed to
// the request failing.
func isRejection(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr)
}

// Headers returns the best chain headers from height `since` to the tip.
func (rpcClient *BitcoinRPCClient) Headers(since uint32) ([]types.Header, error) {
	count, err := rpcClient.GetBlockCount()
	if err != nil {
		return nil, errors.Wrap(err, "getblockcount failed")
	}

	var res []types.Header
	for height := int64(since); height <= count; height++ {
		hash, err := rpcClient.GetBlockHash(height)
		if err != nil {
			return nil, errors.Wrapf(err, "getblockhash %d failed", height)
		}
		header, err := rpcClient.GetBlockHeader(hash)
		if err != nil {
			return nil, errors.Wrapf(err, "getblockheader %s failed", hash)
		}
		res = append(res, types.NewHeaderFromWire(header))
	}
	return res, nil
}

// Header returns the header with the given hash, the zero header if bitcoind
// does not know it.
func (rpcClient *BitcoinRPCClient) Header(hash types.Hash32) (types.Header, error) {
	h := hash.Chainhash()
	header, err := rpcClient.GetBlockHeader(&h)
	if isNotFound(err) {
		return types.Header{}, nil
	}
	if err != nil {
		return types.Header{}, errors.Wrapf(err, "getblockheader %s failed", h)
	}
	return types.NewHeaderFromWire(header), nil
}

// BlockHeight returns the height of a best chain block.
func (rpcClient *BitcoinRPCClient) BlockHeight(hash types.Hash32) (uint32, error) {
	h := hash.Chainhash()
	res, err := rpcClient.GetBlockHeaderVerbose(&h)
	if err != nil {
		return 0, errors.Wrapf(err, "getblockheader %s failed", h)
	}
	if res.Confirmations < 0 {
		return 0, errors.Errorf("block %s is not in the best chain", h)
	}
	return uint32(res.Height), nil
}

// Block returns the serialized block, nil if bitcoind does not know it.
func (rpcClient *BitcoinRPCClient) Block(hash types.Hash32) ([]byte, error) {
	h := hash.Chainhash()
	block, err := rpcClient.GetBlock(&h)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getblock %s failed", h)
	}

	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// Transaction looks a transaction up with getrawtransaction, which needs
// bitcoind to run with -txindex for transactions outside the mempool.
// Confirmed transactions come with a proof built from their block.
func (rpcClient *BitcoinRPCClient) Transaction(id types.TxID) (ledger.Entry, error) {
	entry := ledger.Entry{ID: id}

	h := id.Chainhash()
	res, err := rpcClient.GetRawTransactionVerbose(&h)
	if isNotFound(err) {
		return entry, nil
	}
	if err != nil {
		return entry, errors.Wrapf(err, "getrawtransaction %s failed", h)
	}

	raw, err := decodeHex(res.Hex)
	if err != nil {
		return entry, err
	}

	if res.BlockHash == "" || res.Confirmations == 0 {
		entry.Record = ledger.NewUnconfirmed(raw)
		return entry, nil
	}

	blockHash, err := types.NewHashFromRPCString(res.BlockHash)
	if err != nil {
		return entry, errors.Wrapf(err, "invalid block hash %s", res.BlockHash)
	}
	bh := blockHash.Chainhash()
	block, err := rpcClient.GetBlock(&bh)
	if err != nil {
		return entry, errors.Wrapf(err, "getblock %s failed", bh)
	}

	entry.Record, err = RecordFromBlock(id, raw, block)
	return entry, err
}

// RecordFromBlock builds the confirmed record of transaction id found in
// block.
func RecordFromBlock(id types.TxID, raw []byte, block *wire.MsgBlock) (ledger.Record, error) {
	txids := make([]types.TxID, len(block.Transactions))
	index := -1
	for i, tx := range block.Transactions {
		h := tx.TxHash()
		txids[i] = types.NewHashFromChainhash(&h)
		if txids[i] == id {
			index = i
		}
	}
	if index < 0 {
		return ledger.Record{}, errors.Errorf("transaction %s not in block %s", id.RPCString(), block.BlockHash())
	}

	proof, err := merkle.Prove(txids, uint32(index))
	if err != nil {
		return ledger.Record{}, err
	}
	return ledger.NewConfirmed(raw, proof, types.NewHeaderFromWire(&block.Header)), nil
}

// Broadcast submits raw with sendrawtransaction. Transactions bitcoind
// refuses, and bytes that are not a transaction, are reported as false.
func (rpcClient *BitcoinRPCClient) Broadcast(raw []byte) (bool, error) {
	var tx wire.MsgTx
	reader := bytes.NewReader(raw)
	if err := tx.Deserialize(reader); err != nil {
		log.WithError(err).Debug("not broadcasting malformed transaction")
		return false, nil
	}
	if reader.Len() != 0 {
		log.WithField("trailing", reader.Len()).Debug("not broadcasting transaction with trailing bytes")
		return false, nil
	}

	txid, err := rpcClient.SendRawTransaction(&tx, false)
	if isRejection(err) {
		log.WithError(err).WithField("txid", tx.TxHash()).Info("transaction rejected")
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "sendrawtransaction failed")
	}

	log.WithField("txid", txid).Info("broadcast transaction")
	return true, nil
}
