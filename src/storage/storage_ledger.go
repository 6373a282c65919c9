package storage

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/types"
)

var _ ledger.Source = (*Storage)(nil)

// Headers returns the headers of the best chain from height `since` on.
func (s *Storage) Headers(since uint32) ([]types.Header, error) {
	iter, err := s.BestBlocks(since)
	if err != nil {
		return nil, err
	}
	blocks, err := iter.Collect()
	if err != nil {
		return nil, err
	}
	res := make([]types.Header, len(blocks))
	for i, b := range blocks {
		res[i] = b.Header
	}
	return res, nil
}

// Header returns the header with the given hash, the zero header if unknown.
func (s *Storage) Header(hash types.Hash32) (types.Header, error) {
	block, err := s.BlockByHash(hash)
	if err != nil || block == nil {
		return types.Header{}, err
	}
	return block.Header, nil
}

// Block returns the serialized block, nil if unknown.
func (s *Storage) Block(hash types.Hash32) ([]byte, error) {
	return s.BlockBytes(hash)
}

// Transaction returns the record of a transaction. Transactions included in
// a best chain block are returned confirmed, others unconfirmed.
func (s *Storage) Transaction(id types.TxID) (ledger.Entry, error) {
	entry := ledger.Entry{ID: id}

	tx, err := s.TransactionByID(id)
	if err != nil || tx == nil {
		return entry, err
	}

	var headerBytes, proofBytes []byte
	err = s.db.QueryRow(`
		SELECT
			b.header, tb.proof
		FROM
			"transaction_block" tb
		JOIN
			"block" b ON b.id = tb.block_id
		WHERE
			tb.transaction_id = ? AND b.is_best = 1
		LIMIT 1
		`, tx.DBID,
	).Scan(&headerBytes, &proofBytes)

	switch {
	case err == sql.ErrNoRows:
		entry.Record = ledger.NewUnconfirmed(tx.Raw)
		return entry, nil
	case err != nil:
		return entry, errors.Wrapf(err, "could not look up block of transaction %s", id)
	}

	header, err := types.NewHeaderFromBytes(headerBytes)
	if err != nil {
		return entry, errors.Wrapf(err, "corrupt header for transaction %s", id)
	}
	var proof merkle.Proof
	if err := proof.UnmarshalBinary(proofBytes); err != nil {
		return entry, errors.Wrapf(err, "corrupt proof for transaction %s", id)
	}

	entry.Record = ledger.NewConfirmed(tx.Raw, proof, header)
	return entry, nil
}
