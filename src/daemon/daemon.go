// Package daemon feeds transactions and blocks announced by bitcoind into
// storage and serves the stored chain as a ledger.Timechain.
package daemon

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/rules"
	"github.com/0xb10c/timechain-go/src/storage"
	"github.com/0xb10c/timechain-go/src/types"
)

// ErrNoNode is returned by Broadcast when the daemon runs without a node.
var ErrNoNode = errors.New("no node to broadcast to")

// maxBackfill is the number of missing ancestors fetched for a new block.
const maxBackfill = 64

var errMissingAncestors = errors.New("missing ancestors")

// Feed delivers raw transactions and blocks until stopped.
type Feed interface {
	Run() error
	Stop()
	Transactions() <-chan types.RawTransaction
	Blocks() <-chan types.RawBlock
}

// Node is a full node the daemon asks for data the feed missed and relays
// transactions to.
type Node interface {
	ledger.Timechain
	BlockHeight(hash types.Hash32) (uint32, error)
	MempoolTransactions() ([]types.RawTransaction, error)
}

// Daemon stores everything the feed delivers.
type Daemon struct {
	feed      Feed
	node      Node
	storage   *storage.Storage
	blockRule *rules.BlockRule
}

var _ ledger.Timechain = (*Daemon)(nil)

// NewDaemon returns a daemon writing to store. node may be nil, in which
// case nothing is backfilled and Broadcast fails.
func NewDaemon(feed Feed, node Node, store *storage.Storage) *Daemon {
	return &Daemon{
		feed:      feed,
		node:      node,
		storage:   store,
		blockRule: rules.StandardBlockRule(),
	}
}

// Run processes the feed until Stop is called or storage fails.
func (d *Daemon) Run() error {
	log.Info("starting daemon")

	var g errgroup.Group
	g.Go(d.feed.Run)

	g.Go(func() error {
		for tx := range d.feed.Transactions() {
			d.HandleTransaction(tx)
		}
		return nil
	})

	g.Go(func() error {
		for b := range d.feed.Blocks() {
			if err := d.HandleBlock(b); err != nil {
				d.Stop()
				// drain so the feed is not blocked
				for range d.feed.Blocks() {
				}
				return err
			}
		}
		return nil
	})

	if d.node != nil {
		g.Go(d.backfillMempool)
	}

	return g.Wait()
}

// Stop makes Run return.
func (d *Daemon) Stop() {
	d.feed.Stop()
}

// Close closes the storage.
func (d *Daemon) Close() error {
	return d.storage.Close()
}

func (d *Daemon) backfillMempool() error {
	txs, err := d.node.MempoolTransactions()
	if err != nil {
		// the feed keeps working without the backfill
		log.WithError(err).Warn("could not backfill mempool")
		return nil
	}
	for _, tx := range txs {
		d.HandleTransaction(tx)
	}
	log.WithField("count", len(txs)).Info("backfilled mempool")
	return nil
}

// HandleTransaction stores a transaction. Malformed transactions are logged
// and dropped.
func (d *Daemon) HandleTransaction(tx types.RawTransaction) {
	stored, err := d.storage.InsertTransaction(tx.Raw, tx.FirstSeen)
	if err != nil {
		log.WithError(err).Warn("could not store transaction")
		return
	}
	log.WithField("txid", stored.TxID.RPCString()).Debug("stored transaction")
}

// HandleBlock validates and stores a block. Missing ancestors are fetched
// from the node. Invalid blocks and blocks whose ancestors cannot be found
// are logged and dropped, only storage failures are returned.
func (d *Daemon) HandleBlock(b types.RawBlock) error {
	if !d.blockRule.Valid(b.Raw) {
		log.WithField("size", len(b.Raw)).Warn("dropping invalid block")
		return nil
	}

	block, _, err := types.NewBlockFromBytes(b.Raw, b.FirstSeen)
	if err != nil {
		return err
	}
	logger := log.WithField("hash", block.Hash.RPCString())

	best, err := d.storage.BestBlockNow()
	if err != nil {
		return err
	}
	if best == nil && d.node != nil {
		height, err := d.node.BlockHeight(block.Hash)
		if err != nil {
			logger.WithError(err).Warn("dropping block, node does not know its height")
			return nil
		}
		_, err = d.storage.InsertBlockAtHeight(b.Raw, height, b.FirstSeen)
		return err
	}

	_, err = d.storage.InsertBlock(b.Raw, b.FirstSeen)
	if errors.Cause(err) != storage.ErrUnknownParent {
		return err
	}
	if d.node == nil {
		logger.Warn("dropping block with unknown parent")
		return nil
	}

	logger.Info("fetching missing ancestors")
	if err := d.backfillAncestors(block.Parent); err != nil {
		if errors.Cause(err) != errMissingAncestors {
			return err
		}
		logger.WithError(err).Warn("dropping block")
		return nil
	}
	_, err = d.storage.InsertBlock(b.Raw, b.FirstSeen)
	return err
}

// backfillAncestors stores the blocks between the stored chain and hash.
// It fails with errMissingAncestors if the node cannot close the gap.
func (d *Daemon) backfillAncestors(hash types.Hash32) error {
	var missing [][]byte
	for i := 0; i < maxBackfill; i++ {
		raw, err := d.node.Block(hash)
		if err != nil {
			return errors.Wrapf(errMissingAncestors, "could not fetch block %s: %v", hash.RPCString(), err)
		}
		if raw == nil || !d.blockRule.Valid(raw) {
			return errors.Wrapf(errMissingAncestors, "node has no valid block %s", hash.RPCString())
		}

		block, _, err := types.NewBlockFromBytes(raw, time.Time{})
		if err != nil {
			return err
		}
		if block.Hash != hash {
			return errors.Wrapf(errMissingAncestors, "node returned block %s for %s", block.Hash.RPCString(), hash.RPCString())
		}
		missing = append(missing, raw)

		parent, err := d.storage.BlockByHash(block.Parent)
		if err != nil {
			return err
		}
		if parent != nil {
			// insert oldest first
			for j := len(missing) - 1; j >= 0; j-- {
				if _, err := d.storage.InsertBlock(missing[j], time.Now().UTC()); err != nil {
					return err
				}
			}
			return nil
		}
		hash = block.Parent
	}
	return errors.Wrapf(errMissingAncestors, "more than %d blocks missing", maxBackfill)
}

// Headers returns stored best chain headers.
func (d *Daemon) Headers(since uint32) ([]types.Header, error) {
	return d.storage.Headers(since)
}

// Transaction looks a transaction up in storage.
func (d *Daemon) Transaction(id types.TxID) (ledger.Entry, error) {
	return d.storage.Transaction(id)
}

// Header looks a header up in storage.
func (d *Daemon) Header(hash types.Hash32) (types.Header, error) {
	return d.storage.Header(hash)
}

// Block looks a block up in storage.
func (d *Daemon) Block(hash types.Hash32) ([]byte, error) {
	return d.storage.Block(hash)
}

// Broadcast relays raw through the node and stores it as unconfirmed once
// the node accepted it.
func (d *Daemon) Broadcast(raw []byte) (bool, error) {
	if d.node == nil {
		return false, ErrNoNode
	}
	ok, err := d.node.Broadcast(raw)
	if err != nil || !ok {
		return ok, err
	}
	if _, err := d.storage.InsertTransaction(raw, time.Now().UTC()); err != nil {
		return true, errors.Wrap(err, "broadcast but not stored")
	}
	return true, nil
}
