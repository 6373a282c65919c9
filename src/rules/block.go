package rules

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/types"
)

// ErrMissingDelegate is returned by NewBlockRule when the integrating
// application did not supply a parser or predicate. It is a configuration
// error and never the result of validating a block.
var ErrMissingDelegate = errors.New("missing block rule delegate")

// BlockParser splits a serialized block into its header and transactions.
type BlockParser interface {
	// Header returns the 80 byte header slice.
	Header(block []byte) ([]byte, error)
	// Transactions returns the serialized transactions in block order.
	Transactions(block []byte) ([][]byte, error)
}

// TxPredicate is a yes/no question about a serialized transaction.
type TxPredicate func(tx []byte) bool

// MerkleRootFunc computes the merkle root of serialized transactions.
type MerkleRootFunc func(txs [][]byte) (types.Hash32, error)

// BlockConfig holds the delegates a BlockRule is built from. All fields are
// required.
type BlockConfig struct {
	Parser     BlockParser
	IsCoinbase TxPredicate
	IsValid    TxPredicate
	MerkleRoot MerkleRootFunc
}

// BlockRule decides the structural validity of serialized blocks.
// It holds no mutable state and may be shared between goroutines.
type BlockRule struct {
	parser     BlockParser
	isCoinbase TxPredicate
	isValid    TxPredicate
	merkleRoot MerkleRootFunc
}

// NewBlockRule returns a BlockRule using the delegates in cfg.
func NewBlockRule(cfg BlockConfig) (*BlockRule, error) {
	switch {
	case cfg.Parser == nil:
		return nil, errors.Wrap(ErrMissingDelegate, "block parser")
	case cfg.IsCoinbase == nil:
		return nil, errors.Wrap(ErrMissingDelegate, "coinbase predicate")
	case cfg.IsValid == nil:
		return nil, errors.Wrap(ErrMissingDelegate, "transaction predicate")
	case cfg.MerkleRoot == nil:
		return nil, errors.Wrap(ErrMissingDelegate, "merkle root function")
	}
	return &BlockRule{
		parser:     cfg.Parser,
		isCoinbase: cfg.IsCoinbase,
		isValid:    cfg.IsValid,
		merkleRoot: cfg.MerkleRoot,
	}, nil
}

// Valid reports whether block has a valid header, a coinbase followed by
// valid transactions, and a merkle root matching its transactions.
func (r *BlockRule) Valid(block []byte) bool {
	rawHeader, err := r.parser.Header(block)
	if err != nil || !ValidHeader(rawHeader) {
		return false
	}
	header, err := types.NewHeaderFromBytes(rawHeader)
	if err != nil {
		return false
	}

	txs, err := r.parser.Transactions(block)
	if err != nil {
		log.WithField("block", header.Hash).Debugf("could not parse transactions: %s", err)
		return false
	}

	// A block must have at least one transaction and the first one must be
	// a coinbase.
	if len(txs) == 0 || !r.isCoinbase(txs[0]) {
		return false
	}

	for _, tx := range txs[1:] {
		if !r.isValid(tx) {
			return false
		}
	}

	root, err := r.merkleRoot(txs)
	if err != nil {
		return false
	}
	return root == header.MerkleRoot
}
