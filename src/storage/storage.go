// Package storage persists headers, blocks and transactions in sqlite and
// serves them as a ledger.Source.
package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const schema = `
	CREATE TABLE IF NOT EXISTS "block" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash BLOB NOT NULL UNIQUE,
		parent BLOB NOT NULL,
		height INTEGER NOT NULL,
		is_best INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		header BLOB NOT NULL,
		raw BLOB
	);
	CREATE INDEX IF NOT EXISTS block_height ON "block" (height);

	CREATE TABLE IF NOT EXISTS "transaction" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		txid BLOB NOT NULL UNIQUE,
		raw BLOB NOT NULL,
		first_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS "transaction_block" (
		transaction_id INTEGER NOT NULL REFERENCES "transaction" (id),
		block_id INTEGER NOT NULL REFERENCES "block" (id),
		block_index INTEGER NOT NULL,
		proof BLOB NOT NULL,
		PRIMARY KEY (transaction_id, block_id)
	);
	CREATE INDEX IF NOT EXISTS transaction_block_block ON "transaction_block" (block_id);
`

// Storage is a sqlite backed store of the chain data seen so far.
type Storage struct {
	db *sql.DB
}

// NewStorage opens (and if needed creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open database %s", path)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := Storage{db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Debug("opened storage")
	return &s, nil
}

func (s *Storage) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "could not create schema")
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// execer is implemented by *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// queryer is implemented by *sql.DB and *sql.Tx
type queryer interface {
	execer
	Query(query string, args ...interface{}) (*sql.Rows, error)
}
