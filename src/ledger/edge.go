package ledger

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/timechain-go/src/script"
)

// Edge is an input and the output it spends, without the surrounding
// transactions.
type Edge struct {
	Input  wire.TxIn
	Output wire.TxOut
}

// Valid checks that the output value is in range and that both scripts
// parse.
func (e Edge) Valid() bool {
	return e.Output.Value >= 0 && e.Output.Value <= btcutil.MaxSatoshi &&
		script.Parses(e.Output.PkScript) &&
		script.Parses(e.Input.SignatureScript)
}
