package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/timechain-go/src/types"
)

// Prevout is an input paired with the record of the transaction it spends
// from. Prevouts are only handed out by a Vertex.
type Prevout struct {
	previous Entry
	index    uint32
	input    wire.TxIn
}

// Previous is the entry of the spent transaction.
func (p Prevout) Previous() Entry {
	return p.previous
}

// InputIndex is the position of the input in the spending transaction.
func (p Prevout) InputIndex() uint32 {
	return p.index
}

// OutputIndex is the position of the spent output in the previous
// transaction.
func (p Prevout) OutputIndex() uint32 {
	return p.input.PreviousOutPoint.Index
}

// Input returns the spending input.
func (p Prevout) Input() wire.TxIn {
	return p.input
}

// Output returns the spent output, a zero output if it is not known.
func (p Prevout) Output() wire.TxOut {
	return p.previous.Record.Output(p.OutputIndex())
}

// Spent is the value of the spent output.
func (p Prevout) Spent() btcutil.Amount {
	return btcutil.Amount(p.Output().Value)
}

// Edge returns the input and spent output as an Edge.
func (p Prevout) Edge() Edge {
	return Edge{Input: p.input, Output: p.Output()}
}

// Valid reports whether the previous record is valid and is the
// transaction the input references. Whether the input unlocks the output is
// left to a ScriptVerifier.
func (p Prevout) Valid() bool {
	id, err := p.previous.Record.ID()
	if err != nil {
		return false
	}
	ref := types.NewHashFromChainhash(&p.input.PreviousOutPoint.Hash)
	return id == ref && p.previous.ID == ref
}
