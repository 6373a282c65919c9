// ledgertool inspects transactions and keys.
//
//	ledgertool [options] verify <txid>
//	ledgertool [options] wif <key>
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/bitcoinrpcclient"
	"github.com/0xb10c/timechain-go/src/config"
	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/ledgercache"
	"github.com/0xb10c/timechain-go/src/script"
	"github.com/0xb10c/timechain-go/src/storage"
	"github.com/0xb10c/timechain-go/src/types"
	"github.com/0xb10c/timechain-go/src/wif"
)

const usage = "usage: ledgertool [options] verify <txid> | wif <key>"

func main() {
	cfg, args, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	cfg.NoLogFile = true
	if _, err := config.InitLog(cfg); err != nil {
		log.Fatal(err)
	}

	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var res interface{}
	switch args[0] {
	case "verify":
		res, err = verify(cfg, args[1])
	case "wif":
		res, err = convertWIF(cfg, args[1])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal(err)
	}
}

// openSource prefers bitcoind and falls back to the daemon's database. Both
// are read through the lookup cache.
func openSource(cfg *config.Config) (*ledgercache.Cache, func(), error) {
	var upstream ledger.Source
	var closeUpstream func()

	if cfg.RPCAddress != "" {
		rpc, err := bitcoinrpcclient.NewBitcoinRPCClient(cfg.RPCAddress)
		if err != nil {
			return nil, nil, err
		}
		upstream, closeUpstream = rpc, rpc.Shutdown
	} else {
		store, err := storage.NewStorage(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		upstream, closeUpstream = store, func() { store.Close() }
	}

	cache, err := ledgercache.Open(cfg.CacheDir, upstream)
	if err != nil {
		closeUpstream()
		return nil, nil, err
	}
	return cache, func() {
		cache.Close()
		closeUpstream()
	}, nil
}

type verifyResult struct {
	TxID         string   `json:"txid"`
	Known        bool     `json:"known"`
	Confirmed    bool     `json:"confirmed"`
	Block        string   `json:"block,omitempty"`
	Time         int64    `json:"time,omitempty"`
	Spent        float64  `json:"spent"`
	Sent         float64  `json:"sent"`
	Fee          float64  `json:"fee"`
	SigOps       int      `json:"sigops"`
	Valid        bool     `json:"valid"`
	ValidMempool bool     `json:"validUnconfirmed"`
	Missing      []string `json:"missing,omitempty"`
}

func verify(cfg *config.Config, txid string) (*verifyResult, error) {
	id, err := types.NewHashFromRPCString(txid)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid txid %s", txid)
	}

	src, closeSrc, err := openSource(cfg)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	entry, err := src.Transaction(id)
	if err != nil {
		return nil, err
	}
	res := &verifyResult{TxID: txid, Known: entry.Record.Valid()}
	if !res.Known {
		return res, nil
	}

	v, err := ledger.MakeVertex(src, entry.Record)
	if err != nil {
		return nil, err
	}

	engine := script.NewStandardEngine()
	res.Confirmed = entry.Record.Confirmed()
	if res.Confirmed {
		res.Block = entry.Record.Header().Hash.RPCString()
		res.Time = entry.Record.Time().Unix()
	}
	res.Spent = v.Spent().ToBTC()
	res.Sent = v.Sent().ToBTC()
	res.Fee = v.Fee().ToBTC()
	res.SigOps = v.SigOps(engine)
	res.Valid = v.Valid(ledger.Policy{Scripts: engine})
	res.ValidMempool = v.Valid(ledger.Policy{AllowUnconfirmed: true, Scripts: engine})
	for dep, r := range v.Dependencies() {
		if !r.Valid() {
			res.Missing = append(res.Missing, dep.RPCString())
		}
	}
	return res, nil
}

type wifResult struct {
	Key        string `json:"key"`
	Network    string `json:"network"`
	Compressed bool   `json:"compressed"`
	Address    string `json:"address"`
}

// convertWIF re-encodes key for the configured network.
func convertWIF(cfg *config.Config, key string) (*wifResult, error) {
	w, err := wif.Decode(key)
	if err != nil {
		return nil, err
	}
	w.Prefix = cfg.NetParams().PrivateKeyID

	address, err := w.Address(cfg.NetParams())
	if err != nil {
		return nil, err
	}
	return &wifResult{
		Key:        w.String(),
		Network:    cfg.NetParams().Name,
		Compressed: w.Compressed,
		Address:    address.EncodeAddress(),
	}, nil
}
