// Package ledgercache keeps confirmed records, headers and blocks fetched
// from a slower ledger.Source in a local leveldb.
//
// Only data that does not change is cached: confirmed records, headers and
// blocks. Absent and unconfirmed records as well as Headers are always
// asked from upstream. A cached record stays confirmed by the header it was
// first seen with, even if that block is later reorged out of the best chain.
package ledgercache

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/types"
)

// ErrReadOnly is returned by Broadcast when upstream cannot relay.
var ErrReadOnly = errors.New("upstream source cannot broadcast")

const (
	prefixRecord byte = 't'
	prefixHeader byte = 'h'
	prefixBlock  byte = 'b'
)

var defaultOptions = opt.Options{
	Compression:        opt.NoCompression,
	BlockCacheCapacity: 32 * opt.MiB,
	WriteBuffer:        16 * opt.MiB,
}

// Cache is a read-through ledger.Timechain in front of upstream.
type Cache struct {
	db       *leveldb.DB
	upstream ledger.Source
}

var _ ledger.Timechain = (*Cache)(nil)

// New wraps an open leveldb. The caller keeps ownership of db.
func New(db *leveldb.DB, upstream ledger.Source) *Cache {
	return &Cache{db: db, upstream: upstream}
}

// Open opens (or creates) the leveldb at path. Close releases it.
func Open(path string, upstream ledger.Source) (*Cache, error) {
	db, err := leveldb.OpenFile(path, &defaultOptions)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.WithError(err).WithField("path", path).Warn("cache corruption detected, recovering")
		db, err = leveldb.RecoverFile(path, &defaultOptions)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not open cache %s", path)
	}
	return New(db, upstream), nil
}

// Close closes the underlying leveldb.
func (c *Cache) Close() error {
	return c.db.Close()
}

func key(prefix byte, h types.Hash32) []byte {
	return append([]byte{prefix}, h[:]...)
}

func (c *Cache) get(k []byte) ([]byte, error) {
	data, err := c.db.Get(k, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "cache read failed")
	}
	return data, nil
}

func (c *Cache) put(k, v []byte) {
	// a failed write only costs a later upstream lookup
	if err := c.db.Put(k, v, nil); err != nil {
		log.WithError(err).Warn("cache write failed")
	}
}

// Headers is passed through to upstream.
func (c *Cache) Headers(since uint32) ([]types.Header, error) {
	return c.upstream.Headers(since)
}

// Header returns the header with the given hash.
func (c *Cache) Header(hash types.Hash32) (types.Header, error) {
	k := key(prefixHeader, hash)
	data, err := c.get(k)
	if err != nil {
		return types.Header{}, err
	}
	if data != nil {
		return types.NewHeaderFromBytes(data)
	}

	header, err := c.upstream.Header(hash)
	if err != nil || header.IsZero() {
		return header, err
	}
	c.put(k, header.Bytes())
	return header, nil
}

// Block returns the serialized block with the given header hash.
func (c *Cache) Block(hash types.Hash32) ([]byte, error) {
	k := key(prefixBlock, hash)
	data, err := c.get(k)
	if err != nil || data != nil {
		return data, err
	}

	raw, err := c.upstream.Block(hash)
	if err != nil || raw == nil {
		return raw, err
	}
	c.put(k, raw)
	return raw, nil
}

// Transaction returns the record of a transaction. Confirmed records are
// served from the cache once seen.
func (c *Cache) Transaction(id types.TxID) (ledger.Entry, error) {
	k := key(prefixRecord, id)
	data, err := c.get(k)
	if err != nil {
		return ledger.Entry{ID: id}, err
	}
	if data != nil {
		r, err := decodeRecord(data)
		if err == nil {
			log.WithField("txid", id.RPCString()).Trace("cache hit")
			return ledger.Entry{ID: id, Record: r}, nil
		}
		log.WithError(err).WithField("txid", id.RPCString()).Warn("dropping corrupt cache entry")
		if err := c.db.Delete(k, nil); err != nil {
			return ledger.Entry{ID: id}, errors.Wrap(err, "cache delete failed")
		}
	}

	entry, err := c.upstream.Transaction(id)
	if err != nil {
		return entry, err
	}
	if entry.Record.Confirmed() {
		data, err := encodeRecord(entry.Record)
		if err != nil {
			return entry, err
		}
		c.put(k, data)
	}
	return entry, nil
}

// Broadcast relays through upstream if it is a ledger.Timechain.
func (c *Cache) Broadcast(raw []byte) (bool, error) {
	tc, ok := c.upstream.(ledger.Timechain)
	if !ok {
		return false, ErrReadOnly
	}
	return tc.Broadcast(raw)
}

// encodeRecord serializes a confirmed record as
// header (80 bytes) | varbytes proof | varbytes transaction.
func encodeRecord(r ledger.Record) ([]byte, error) {
	proof, err := r.Proof().MarshalBinary()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(r.Header().Bytes())
	if err := wire.WriteVarBytes(&buf, 0, proof); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, r.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (ledger.Record, error) {
	if len(data) < types.HeaderSize {
		return ledger.Record{}, errors.New("short record")
	}
	header, err := types.NewHeaderFromBytes(data[:types.HeaderSize])
	if err != nil {
		return ledger.Record{}, err
	}

	reader := bytes.NewReader(data[types.HeaderSize:])
	proofBytes, err := wire.ReadVarBytes(reader, 0, uint32(len(data)), "proof")
	if err != nil {
		return ledger.Record{}, errors.Wrap(err, "could not read proof")
	}
	raw, err := wire.ReadVarBytes(reader, 0, uint32(len(data)), "transaction")
	if err != nil {
		return ledger.Record{}, errors.Wrap(err, "could not read transaction")
	}
	if reader.Len() != 0 {
		return ledger.Record{}, errors.New("trailing bytes after record")
	}

	var proof merkle.Proof
	if err := proof.UnmarshalBinary(proofBytes); err != nil {
		return ledger.Record{}, err
	}
	return ledger.NewConfirmed(raw, proof, header), nil
}
