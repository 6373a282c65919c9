package bitcoinrpcclient

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/types"
)

// GetRawMempoolVerboseResult implements the current version of `getrawmempool`.
// https://bitcoin.org/en/developer-reference#getrawmempool
// The version provided by btcsuite uses a deprecated format.
type GetRawMempoolVerboseResult struct {
	Weight            int32    `json:"weight"`
	Time              int64    `json:"time"`
	Height            int64    `json:"height"`
	Depends           []string `json:"depends"`
	Bip125Replaceable bool     `json:"bip125-replaceable"`
	Fees              struct {
		Base float64 `json:"base"`
	} `json:"fees"`
}

// MempoolEntry is a mempool transaction id and the time bitcoind first saw it.
type MempoolEntry struct {
	TxID      types.TxID
	FirstSeen time.Time
}

// GetRawMempoolVerbose returns the transactions in the mempool
func (rpcClient *BitcoinRPCClient) GetRawMempoolVerbose() (map[string]GetRawMempoolVerboseResult, error) {
	jsonArgVerbose, err := json.Marshal(true)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	rawResult, err := rpcClient.RawRequest("getrawmempool", []json.RawMessage{jsonArgVerbose})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var mempoolItems map[string]GetRawMempoolVerboseResult
	err = json.Unmarshal(rawResult, &mempoolItems)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return mempoolItems, nil
}

// RawMempoolToEntries converts the result of GetRawMempoolVerbose to entries
// ordered by first seen time, so parents come before their children.
func RawMempoolToEntries(
	rpcMempool map[string]GetRawMempoolVerboseResult,
) (res []MempoolEntry, err error) {
	for txHashStr, txInfo := range rpcMempool {
		if len(txHashStr) != 64 {
			return nil, errors.Errorf("invalid txhash size %d", len(txHashStr)/2)
		}
		txid, err := types.NewHashFromRPCString(txHashStr)
		if err != nil {
			return nil, errors.Wrapf(err, "error decoding tx hash %s", txHashStr)
		}

		res = append(res, MempoolEntry{
			TxID:      txid,
			FirstSeen: time.Unix(txInfo.Time, 0).UTC(),
		})
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].FirstSeen.Equal(res[j].FirstSeen) {
			return res[i].FirstSeen.Before(res[j].FirstSeen)
		}
		return res[i].TxID.Compare(res[j].TxID) < 0
	})
	return res, nil
}

// MempoolTransactions fetches the serialization of every mempool transaction.
// Transactions that leave the mempool while fetching are skipped.
func (rpcClient *BitcoinRPCClient) MempoolTransactions() ([]types.RawTransaction, error) {
	mempool, err := rpcClient.GetRawMempoolVerbose()
	if err != nil {
		return nil, err
	}
	entries, err := RawMempoolToEntries(mempool)
	if err != nil {
		return nil, err
	}

	res := make([]types.RawTransaction, 0, len(entries))
	for _, e := range entries {
		entry, err := rpcClient.Transaction(e.TxID)
		if err != nil {
			return nil, err
		}
		if !entry.Record.Valid() {
			log.WithField("txid", e.TxID.RPCString()).Debug("transaction left the mempool")
			continue
		}
		res = append(res, types.RawTransaction{
			Raw:       entry.Record.Bytes(),
			FirstSeen: e.FirstSeen,
		})
	}
	return res, nil
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	return b, errors.Wrap(err, "invalid hex")
}
