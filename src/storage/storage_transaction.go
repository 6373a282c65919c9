package storage

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/timechain-go/src/types"
)

// TransactionQueryByTime selects transactions first seen in a time window.
type TransactionQueryByTime struct {
	FirstSeenAfter      *time.Time
	FirstSeenBeforeOrAt *time.Time
}

func (q TransactionQueryByTime) Where() string {
	var clause []string
	if q.FirstSeenAfter != nil {
		clause = append(clause, fmt.Sprintf("(first_seen > %d)", q.FirstSeenAfter.Unix()))
	}
	if q.FirstSeenBeforeOrAt != nil {
		clause = append(clause, fmt.Sprintf("(first_seen <= %d)", q.FirstSeenBeforeOrAt.Unix()))
	}
	return strings.Join(clause, " AND ")
}

func (q TransactionQueryByTime) Order() string {
	return "first_seen ASC, id ASC"
}

func (q TransactionQueryByTime) Limit() int {
	return 0
}

type TxIterator struct {
	rows *sql.Rows
	err  error
}

func (i *TxIterator) Next() *types.StoredTransaction {
	if i.err != nil || !i.rows.Next() {
		return nil
	}

	var txidBytes []byte
	var firstSeenSeconds int64
	var tx types.StoredTransaction
	err := i.rows.Scan(
		&tx.DBID,
		&txidBytes,
		&firstSeenSeconds,
		&tx.Raw,
	)
	if err != nil {
		i.err = errors.Wrap(err, "could not scan transaction")
		return nil
	}

	tx.TxID = types.NewHashFromBytes(txidBytes)
	tx.FirstSeen = time.Unix(firstSeenSeconds, 0).UTC()
	return &tx
}

func (i *TxIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.rows.Err()
}

func (i *TxIterator) Collect() (res []types.StoredTransaction, err error) {
	defer i.Close()
	for tx := i.Next(); tx != nil; tx = i.Next() {
		res = append(res, *tx)
	}
	return res, i.Err()
}

func (i *TxIterator) Close() error {
	return i.rows.Close()
}

func serializeTx(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func insertTransaction(e execer, tx *types.Transaction) (int64, error) {
	const insertTransaction string = `
	INSERT INTO "transaction" (txid, raw, first_seen) VALUES(?, ?, ?)
	ON CONFLICT(txid) DO
		UPDATE SET
			first_seen = excluded.first_seen
		WHERE
			first_seen > excluded.first_seen
	`

	// The firstSeen timestamp might not be to be monotonic, since transactions
	// can be inserted from multiple sources (ZMQ, blocks and getrawmempool RPC).
	// https://www.sqlite.org/lang_UPSERT.html
	_, err := e.Exec(insertTransaction, tx.TxID[:], tx.Raw, tx.FirstSeen.UTC().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "could not insert a transaction into table `transaction`")
	}

	// LastInsertId is stale when the upsert took the update path
	var id int64
	err = e.QueryRow(`SELECT id FROM "transaction" WHERE txid = ?`, tx.TxID[:]).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "could not read id of transaction %s", tx.TxID)
	}
	return id, nil
}

// InsertTransaction stores a serialized transaction, keeping the earliest
// first seen time if it is already known.
func (s *Storage) InsertTransaction(raw []byte, firstSeen time.Time) (*types.StoredTransaction, error) {
	tx, err := types.NewTransactionFromBytes(raw, firstSeen)
	if err != nil {
		return nil, err
	}
	id, err := insertTransaction(s.db, tx)
	if err != nil {
		return nil, err
	}
	return &types.StoredTransaction{DBID: id, Transaction: *tx}, nil
}

func (s *Storage) QueryTransactions(q Query) (*TxIterator, error) {
	rows, err := s.db.Query(formatQuery(
		[]string{"id", "txid", "first_seen", "raw"},
		"transaction",
		q,
	))
	if err != nil {
		return nil, errors.Wrapf(err, "error in transaction query %v", q)
	}

	return &TxIterator{rows: rows}, nil
}

// TransactionByID returns the stored transaction, nil if unknown.
func (s *Storage) TransactionByID(txid types.TxID) (*types.StoredTransaction, error) {
	txIter, err := s.QueryTransactions(StaticQuery{
		where: fmt.Sprintf("txid = x'%s'", txid),
		limit: 1,
	})
	if err != nil {
		return nil, err
	}
	defer txIter.Close()
	return txIter.Next(), txIter.Err()
}

// NextTransactions pages through transactions by first seen time.
func (s *Storage) NextTransactions(t time.Time, dbid int64, limit int) (*TxIterator, error) {
	return s.QueryTransactions(StaticQuery{
		// since there can be multiple txs with the same timestamp, we must use the dbid to query as well
		where: fmt.Sprintf(
			"(first_seen > %d) OR ((first_seen = %d) AND (id > %d))",
			t.Unix(), t.Unix(), dbid),
		order: "first_seen ASC, id ASC",
		limit: limit,
	})
}

// TxCount returns the number of stored transactions.
func (s *Storage) TxCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM "transaction"`).Scan(&count)
	return count, errors.Wrap(err, "could not count transactions")
}
