package ledger

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/rules"
	"github.com/0xb10c/timechain-go/src/types"
)

// ErrInvalidRecord is returned when the id of an absent record is requested.
var ErrInvalidRecord = errors.New("invalid record")

type recordKind uint8

const (
	absent recordKind = iota
	unconfirmed
	proven
)

// Record is a transaction paired with the merkle proof and header that
// confirm it. A Record is one of
//
//   - absent: nothing is known about the transaction (the zero Record)
//   - unconfirmed: only the transaction bytes are known
//   - proven: bytes, proof and header were supplied together
//
// A proven record is only Confirmed if the three link up cryptographically.
// Records are immutable and safe to share between goroutines.
type Record struct {
	kind   recordKind
	raw    []byte
	tx     *wire.MsgTx
	id     types.TxID
	proof  merkle.Proof
	header types.Header
}

func newRecord(kind recordKind, raw []byte) Record {
	if raw == nil {
		return Record{}
	}

	r := Record{
		kind: kind,
		raw:  make([]byte, len(raw)),
	}
	copy(r.raw, raw)

	var tx wire.MsgTx
	reader := bytes.NewReader(r.raw)
	if err := tx.Deserialize(reader); err == nil && reader.Len() == 0 {
		r.tx = &tx
		h := tx.TxHash()
		r.id = types.NewHashFromChainhash(&h)
	} else {
		r.id = types.Hash32(chainhash.DoubleHashH(r.raw))
	}
	return r
}

// Absent returns the record standing for an unknown transaction.
func Absent() Record {
	return Record{}
}

// NewUnconfirmed returns a record for a transaction without confirmation.
// A nil raw yields an absent record.
func NewUnconfirmed(raw []byte) Record {
	return newRecord(unconfirmed, raw)
}

// NewConfirmed returns a record for a transaction claimed to be included in
// the block with the given header. A nil raw yields an absent record.
func NewConfirmed(raw []byte, proof merkle.Proof, header types.Header) Record {
	r := newRecord(proven, raw)
	if r.kind == absent {
		return r
	}
	r.proof = proof
	r.header = header
	return r
}

// Valid reports whether the record holds a transaction at all.
func (r Record) Valid() bool {
	return r.kind != absent
}

// Confirmed reports whether the header is valid, the proof is valid, the
// proof's leaf is the transaction id and the proof's root is the header's
// merkle root.
func (r Record) Confirmed() bool {
	return r.kind == proven &&
		rules.ValidHeaderOf(r.header) &&
		r.id == r.proof.LeafDigest() &&
		r.proof.Valid() &&
		r.proof.Root == r.header.MerkleRoot
}

// ID returns the transaction id.
func (r Record) ID() (types.TxID, error) {
	if r.kind == absent {
		return types.ZeroHash, ErrInvalidRecord
	}
	return r.id, nil
}

// Bytes returns a copy of the serialized transaction, nil if absent.
func (r Record) Bytes() []byte {
	if r.raw == nil {
		return nil
	}
	res := make([]byte, len(r.raw))
	copy(res, r.raw)
	return res
}

// Proof returns the merkle proof, the zero proof unless confirmed.
func (r Record) Proof() merkle.Proof {
	return r.proof
}

// Header returns the header of the confirming block, the zero header unless
// confirmed.
func (r Record) Header() types.Header {
	return r.header
}

// Time returns the timestamp of the confirming block. Check Confirmed first.
func (r Record) Time() time.Time {
	return r.header.Timestamp
}

// Parsed reports whether the bytes are a well formed transaction.
func (r Record) Parsed() bool {
	return r.tx != nil
}

// Tx returns a copy of the decoded transaction, nil if it does not parse.
func (r Record) Tx() *wire.MsgTx {
	if r.tx == nil {
		return nil
	}
	return r.tx.Copy()
}

// Output returns output i. Out of range or unparsable yields a zero output.
func (r Record) Output(i uint32) wire.TxOut {
	if r.tx == nil || uint64(i) >= uint64(len(r.tx.TxOut)) {
		return wire.TxOut{}
	}
	return *r.tx.TxOut[i]
}

// Input returns input i. Out of range or unparsable yields a zero input.
func (r Record) Input(i uint32) wire.TxIn {
	if r.tx == nil || uint64(i) >= uint64(len(r.tx.TxIn)) {
		return wire.TxIn{}
	}
	return *r.tx.TxIn[i]
}

// Outputs returns all outputs, empty if unparsable.
func (r Record) Outputs() []wire.TxOut {
	if r.tx == nil {
		return nil
	}
	res := make([]wire.TxOut, len(r.tx.TxOut))
	for i, out := range r.tx.TxOut {
		res[i] = *out
	}
	return res
}

// Inputs returns all inputs, empty if unparsable.
func (r Record) Inputs() []wire.TxIn {
	if r.tx == nil {
		return nil
	}
	res := make([]wire.TxIn, len(r.tx.TxIn))
	for i, in := range r.tx.TxIn {
		res[i] = *in
	}
	return res
}

// Sent is the sum of all output values.
func (r Record) Sent() btcutil.Amount {
	var sum btcutil.Amount
	for _, out := range r.Outputs() {
		sum += btcutil.Amount(out.Value)
	}
	return sum
}

// Equal compares records by header and position in the block. It trusts
// that the same header and index imply the same transaction and does not
// compare the bytes.
func (r Record) Equal(o Record) bool {
	return r.header.Equal(o.header) && r.proof.LeafIndex() == o.proof.LeafIndex()
}

// Compare orders records by header (see types.Header.Compare) and then by
// position in the block. Unconfirmed records sort after confirmed ones.
func (r Record) Compare(o Record) int {
	if c := r.header.Compare(o.header); c != 0 {
		return c
	}
	switch a, b := r.proof.LeafIndex(), o.proof.LeafIndex(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Less reports whether r sorts before o.
func (r Record) Less(o Record) bool {
	return r.Compare(o) < 0
}

// Entry is a record keyed by the id it was looked up with.
type Entry struct {
	ID     types.TxID
	Record Record
}
