package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/timechain-go/src/types"
)

// ScriptVerifier executes input `index` of tx against the output it spends.
// spent holds the spent output of every input, in input order.
type ScriptVerifier interface {
	Verify(tx *wire.MsgTx, index int, spent []wire.TxOut) error
}

// SigOpCounter counts the signature operations of a transaction.
type SigOpCounter interface {
	SigOps(tx *wire.MsgTx) int
}

// Policy controls what Vertex.Valid accepts.
type Policy struct {
	// AllowUnconfirmed accepts a vertex whose own record is not confirmed.
	AllowUnconfirmed bool
	// Scripts verifies every input against the output it spends. Script
	// evaluation is skipped when nil.
	Scripts ScriptVerifier
}

// Vertex is a record together with the records of every transaction its
// inputs spend from. It is a snapshot and does not change when the source
// it was built from does.
type Vertex struct {
	Record   Record
	previous map[types.TxID]Record
}

// NewVertex builds a vertex from an already resolved dependency map. Ids
// referenced by r's inputs but missing from previous are treated as absent.
func NewVertex(r Record, previous map[types.TxID]Record) Vertex {
	p := make(map[types.TxID]Record, len(previous))
	for id, rec := range previous {
		p[id] = rec
	}
	return Vertex{Record: r, previous: p}
}

// Dependencies returns a copy of the dependency map.
func (v Vertex) Dependencies() map[types.TxID]Record {
	res := make(map[types.TxID]Record, len(v.previous))
	for id, rec := range v.previous {
		res[id] = rec
	}
	return res
}

func (v Vertex) prevout(i uint32, in wire.TxIn) Prevout {
	id := types.NewHashFromChainhash(&in.PreviousOutPoint.Hash)
	return Prevout{
		previous: Entry{ID: id, Record: v.previous[id]},
		index:    i,
		input:    in,
	}
}

// Prevouts returns one Prevout per input, in input order.
func (v Vertex) Prevouts() []Prevout {
	inputs := v.Record.Inputs()
	res := make([]Prevout, len(inputs))
	for i, in := range inputs {
		res[i] = v.prevout(uint32(i), in)
	}
	return res
}

// At returns the Prevout of input i. An out of range i yields a Prevout for
// the zero input, which is never valid.
func (v Vertex) At(i uint32) Prevout {
	return v.prevout(i, v.Record.Input(i))
}

// Spent is the sum of the values of all outputs spent by the inputs.
func (v Vertex) Spent() btcutil.Amount {
	var sum btcutil.Amount
	for _, p := range v.Prevouts() {
		sum += p.Spent()
	}
	return sum
}

// Sent is the sum of the record's own outputs.
func (v Vertex) Sent() btcutil.Amount {
	return v.Record.Sent()
}

// Fee is Spent minus Sent.
func (v Vertex) Fee() btcutil.Amount {
	return v.Spent() - v.Sent()
}

// Valid reports whether the record is acceptable under p, every prevout is
// valid and, if p has a script verifier, every input unlocks its output.
func (v Vertex) Valid(p Policy) bool {
	if p.AllowUnconfirmed {
		if !v.Record.Valid() {
			return false
		}
	} else if !v.Record.Confirmed() {
		return false
	}

	tx := v.Record.Tx()
	if tx == nil {
		return false
	}

	prevouts := v.Prevouts()
	spent := make([]wire.TxOut, len(prevouts))
	for i, prevout := range prevouts {
		if !prevout.Valid() {
			return false
		}
		spent[i] = prevout.Output()
	}

	if p.Scripts == nil {
		return true
	}
	for i := range prevouts {
		if err := p.Scripts.Verify(tx, i, spent); err != nil {
			return false
		}
	}
	return true
}

// SigOps counts the signature operations of the record with c.
func (v Vertex) SigOps(c SigOpCounter) int {
	tx := v.Record.Tx()
	if tx == nil {
		return 0
	}
	return c.SigOps(tx)
}
