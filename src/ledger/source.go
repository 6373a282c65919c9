// Package ledger models transactions as SPV confirmable records and builds
// the local spend graph of a transaction from a chain data source.
package ledger

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/0xb10c/timechain-go/src/types"
)

// Source is the read API of a chain data source.
//
// Lookups for unknown data are not errors: Transaction returns an absent
// record, Header the zero header and Block nil. Errors are reserved for
// failures of the source itself (I/O, transport).
type Source interface {
	// Headers returns the best chain headers from height `since` on, in
	// height order.
	Headers(since uint32) ([]types.Header, error)
	// Transaction looks up a transaction by id.
	Transaction(id types.TxID) (Entry, error)
	// Header looks up a header by its hash.
	Header(hash types.Hash32) (types.Header, error)
	// Block looks up a serialized block by its header hash.
	Block(hash types.Hash32) ([]byte, error)
}

// Timechain is a Source that can also relay transactions.
type Timechain interface {
	Source
	// Broadcast submits a serialized transaction for relay. true means the
	// transaction was accepted for propagation, not that it is confirmed.
	// Rejections are reported as false with a nil error.
	Broadcast(raw []byte) (bool, error)
}

// maxConcurrentLookups bounds the lookups MakeVertex has in flight.
const maxConcurrentLookups = 8

// MakeVertex resolves the transactions spent by r through src. Every
// distinct referenced id is looked up once; ids src does not know are
// kept as absent records.
func MakeVertex(src Source, r Record) (Vertex, error) {
	var ids []types.TxID
	seen := map[types.TxID]struct{}{}
	for _, in := range r.Inputs() {
		id := types.NewHashFromChainhash(&in.PreviousOutPoint.Hash)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var mtx sync.Mutex
	previous := make(map[types.TxID]Record, len(ids))

	var g errgroup.Group
	g.SetLimit(maxConcurrentLookups)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			entry, err := src.Transaction(id)
			if err != nil {
				return errors.Wrapf(err, "could not look up transaction %s", id)
			}
			mtx.Lock()
			previous[id] = entry.Record
			mtx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Vertex{}, err
	}

	return NewVertex(r, previous), nil
}
