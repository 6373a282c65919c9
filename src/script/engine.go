// Package script evaluates and inspects transaction scripts with btcd's
// txscript engine.
package script

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

const defaultSigCacheSize = 10000

// Engine verifies inputs against the outputs they spend and counts
// signature operations. It is safe for concurrent use.
type Engine struct {
	flags    txscript.ScriptFlags
	sigCache *txscript.SigCache
}

// NewEngine returns an Engine verifying with the given script flags.
func NewEngine(flags txscript.ScriptFlags) *Engine {
	return &Engine{
		flags:    flags,
		sigCache: txscript.NewSigCache(defaultSigCacheSize),
	}
}

// NewStandardEngine returns an Engine using the standard relay policy flags.
func NewStandardEngine() *Engine {
	return NewEngine(txscript.StandardVerifyFlags)
}

// Verify executes input `index` of tx against the output it spends. spent
// holds the spent output for every input of tx, in input order, so that
// signature hashes committing to all prevouts can be computed.
func (e *Engine) Verify(tx *wire.MsgTx, index int, spent []wire.TxOut) error {
	if index < 0 || index >= len(tx.TxIn) {
		return errors.Errorf("input index %d out of range", index)
	}
	if len(spent) != len(tx.TxIn) {
		return errors.Errorf("got %d spent outputs for %d inputs", len(spent), len(tx.TxIn))
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(spent))
	for i := range spent {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = &spent[i]
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)

	vm, err := txscript.NewEngine(
		spent[index].PkScript, tx, index, e.flags, e.sigCache,
		txscript.NewTxSigHashes(tx, fetcher), spent[index].Value, fetcher,
	)
	if err != nil {
		return errors.Wrapf(err, "could not create script engine for input %d", index)
	}
	if err := vm.Execute(); err != nil {
		return errors.Wrapf(err, "input %d failed script verification", index)
	}
	return nil
}

// SigOps counts the signature operations in all input and output scripts of
// tx using the legacy (imprecise) counting rules.
func (e *Engine) SigOps(tx *wire.MsgTx) int {
	total := 0
	for _, in := range tx.TxIn {
		total += txscript.GetSigOpCount(in.SignatureScript)
	}
	for _, out := range tx.TxOut {
		total += txscript.GetSigOpCount(out.PkScript)
	}
	return total
}

// Parses reports whether script is a well formed sequence of opcodes.
func Parses(script []byte) bool {
	_, err := txscript.DisasmString(script)
	return err == nil
}
