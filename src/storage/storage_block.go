package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/types"
)

// ErrUnknownParent is returned when a block extends a block that is not stored.
var ErrUnknownParent = errors.New("unknown parent block")

var blockFields = []string{"id", "hash", "parent", "first_seen", "height", "is_best", "header"}

// BlockIterator helps fetching blocks row-by-row
type BlockIterator struct {
	rows *sql.Rows
	err  error
}

// Next returns next block, nil when the rows are exhausted or a row could
// not be read. Check Err afterwards.
func (i *BlockIterator) Next() *types.StoredBlock {
	if i.err != nil || !i.rows.Next() {
		return nil
	}

	var blockHashBytes []byte
	var parentHashBytes []byte
	var headerBytes []byte
	var firstSeen int64
	var block types.StoredBlock
	err := i.rows.Scan(
		&block.DBID,
		&blockHashBytes,
		&parentHashBytes,
		&firstSeen,
		&block.Height,
		&block.IsBest,
		&headerBytes,
	)
	if err != nil {
		i.err = errors.Wrap(err, "could not scan block")
		return nil
	}
	header, err := types.NewHeaderFromBytes(headerBytes)
	if err != nil {
		i.err = errors.Wrapf(err, "corrupt header of block %d", block.DBID)
		return nil
	}
	block.Hash = types.NewHashFromBytes(blockHashBytes)
	block.Parent = types.NewHashFromBytes(parentHashBytes)
	block.FirstSeen = time.Unix(firstSeen, 0).UTC()
	block.Header = header
	return &block
}

// Err returns the first error hit while iterating.
func (i *BlockIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.rows.Err()
}

// Close underlying cursor
func (i *BlockIterator) Close() error {
	return i.rows.Close()
}

// Collect returns remaining blocks as list and closes cursor
func (i *BlockIterator) Collect() (res []types.StoredBlock, err error) {
	defer i.Close()
	for b := i.Next(); b != nil; b = i.Next() {
		res = append(res, *b)
	}
	return res, i.Err()
}

// QueryBlocks runs q against the block table.
func (s *Storage) QueryBlocks(q Query) (*BlockIterator, error) {
	return queryBlocks(s.db, q)
}

func queryBlocks(db queryer, q Query) (*BlockIterator, error) {
	rows, err := db.Query(formatQuery(blockFields, "block", q))
	if err != nil {
		return nil, errors.Wrapf(err, "error in block query %v", q)
	}
	return &BlockIterator{rows: rows}, nil
}

func queryBlock(db queryer, q Query) (*types.StoredBlock, error) {
	blockIter, err := queryBlocks(db, q)
	if err != nil {
		return nil, err
	}
	defer blockIter.Close()
	return blockIter.Next(), blockIter.Err()
}

func blockByHash(db queryer, h types.Hash32) (*types.StoredBlock, error) {
	return queryBlock(db, StaticQuery{
		where: fmt.Sprintf(`hash = x'%s'`, h),
		limit: 1,
	})
}

func bestBlock(db queryer) (*types.StoredBlock, error) {
	return queryBlock(db, StaticQuery{
		where: `is_best = 1`,
		order: "height DESC",
		limit: 1,
	})
}

// BlockByHash returns the stored block, nil if unknown.
func (s *Storage) BlockByHash(h types.Hash32) (*types.StoredBlock, error) {
	return blockByHash(s.db, h)
}

// BestBlockNow returns the tip of the best chain, nil if no block is stored.
func (s *Storage) BestBlockNow() (*types.StoredBlock, error) {
	return bestBlock(s.db)
}

// BestBlocks returns the best chain from height `since` on.
func (s *Storage) BestBlocks(since uint32) (*BlockIterator, error) {
	return s.QueryBlocks(StaticQuery{
		where: fmt.Sprintf(`(is_best = 1) AND (height >= %d)`, since),
		order: "height ASC",
	})
}

// CommonAncestor returns closest block that is a parent of both `a` and `b`.
// If no parent can be found, returns error.
func (s *Storage) CommonAncestor(a, b *types.StoredBlock) (*types.StoredBlock, error) {
	return commonAncestor(s.db, a, b)
}

func commonAncestor(db queryer, a, b *types.StoredBlock) (*types.StoredBlock, error) {
	for {
		if a.Height < b.Height {
			// make sure that b is never ahead of a
			a, b = b, a
		}

		if a.Hash == b.Hash {
			return a, nil
		}

		if a.Height == b.Height+1 && a.Parent == b.Hash {
			return b, nil
		}

		parent, err := blockByHash(db, a.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "error retrieving parent")
		}
		if parent == nil {
			return nil, errors.Errorf("parent not found: %s", a.Parent)
		}
		a = parent
	}
}

// WalkBlocks runs function `f` up the parent chain from blocks `start` to `end` (not including `end`)
// If end is nil, called once for `start`
func (s *Storage) WalkBlocks(start, end *types.StoredBlock, f func(*types.StoredBlock) error) error {
	return walkBlocks(s.db, start, end, f)
}

func walkBlocks(db queryer, start, end *types.StoredBlock, f func(*types.StoredBlock) error) error {
	current := start
	for end == nil || current.Hash != end.Hash {
		if err := f(current); err != nil {
			return err
		}
		if end == nil {
			return nil
		}

		parent, err := blockByHash(db, current.Parent)
		if err != nil {
			return err
		}
		if parent == nil {
			return errors.Errorf("walk left the stored chain at %s", current.Hash)
		}
		current = parent
	}
	return nil
}

func logReorg(lastBest, newBest, commonAncestor *types.StoredBlock) {
	log.WithFields(log.Fields{
		"lastBest":       lastBest.Hash.RPCString(),
		"lastBestHeight": lastBest.Height,
		"newBest":        newBest.Hash.RPCString(),
		"newBestHeight":  newBest.Height,
		"commonAncestor": commonAncestor.Hash.RPCString(),
		"depth":          lastBest.Height - commonAncestor.Height,
	}).Warn("reorg")
}

func setBest(db execer, block *types.StoredBlock, isBest bool) error {
	_, err := db.Exec(`UPDATE "block" SET is_best = ? WHERE id = ?`, isBest, block.DBID)
	return errors.Wrapf(err, "could not update is_best of block %s", block.Hash)
}

// updateBestBlock moves the best chain flag to the chain ending in newBest.
// In the default case newBest extends lastBest and only newBest is flagged.
// In case of a reorg, the blocks of the old chain down to the common
// ancestor lose the flag and the blocks of the new chain gain it.
func updateBestBlock(db queryer, lastBest, newBest *types.StoredBlock) error {
	log.WithFields(log.Fields{
		"hash":   newBest.Hash.RPCString(),
		"height": newBest.Height,
	}).Debug("new best block")

	if lastBest == nil {
		return setBest(db, newBest, true)
	}

	ancestor, err := commonAncestor(db, newBest, lastBest)
	if err != nil {
		return err
	}

	if ancestor.Hash != lastBest.Hash {
		logReorg(lastBest, newBest, ancestor)
	}

	err = walkBlocks(db, lastBest, ancestor, func(block *types.StoredBlock) error {
		return setBest(db, block, false)
	})
	if err != nil {
		return err
	}

	return walkBlocks(db, newBest, ancestor, func(block *types.StoredBlock) error {
		return setBest(db, block, true)
	})
}

func (s *Storage) insertBlock(tx *sql.Tx, block *types.Block) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO
			"block" (hash, parent, height, is_best, first_seen, header, raw)
		VALUES
			(?, ?, ?, 0, ?, ?, ?)
		`,
		block.Hash[:],
		block.Parent[:],
		block.Height,
		block.FirstSeen.UTC().Unix(),
		block.Header.Bytes(),
		block.Raw,
	)
	if err != nil {
		return 0, errors.Wrap(err, "could not insert a block into table `block`")
	}
	return res.LastInsertId()
}

// insertTransactionBlock stores every transaction of the block together with
// the merkle proof of its position.
func (s *Storage) insertTransactionBlock(tx *sql.Tx, blockID int64, block *types.Block, msg *wire.MsgBlock) error {
	for index, t := range msg.Transactions {
		proof, err := merkle.Prove(block.TxIDs, uint32(index))
		if err != nil {
			return errors.Wrapf(err, "could not prove transaction %d of block %s", index, block.Hash)
		}
		proofBytes, err := proof.MarshalBinary()
		if err != nil {
			return err
		}

		txDBID, err := insertTransaction(tx, &types.Transaction{
			TxID:      block.TxIDs[index],
			FirstSeen: block.FirstSeen,
			Raw:       serializeTx(t),
		})
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT OR IGNORE INTO
				"transaction_block" (transaction_id, block_id, block_index, proof)
			VALUES
				(?, ?, ?, ?)
			`, txDBID, blockID, index, proofBytes,
		)
		if err != nil {
			return errors.Wrap(err, `error inserting to table "transaction_block"`)
		}
	}
	return nil
}

// InsertBlock stores a serialized block. The parent must already be stored
// unless this is the first block, which is placed at height 0; use
// InsertBlockAtHeight to start from a later block. Blocks already known are
// left untouched.
func (s *Storage) InsertBlock(raw []byte, firstSeen time.Time) (*types.StoredBlock, error) {
	block, msg, err := types.NewBlockFromBytes(raw, firstSeen)
	if err != nil {
		return nil, err
	}
	return s.storeBlock(block, msg, nil)
}

// InsertBlockAtHeight stores a serialized block whose height is known from
// elsewhere, typically the first block of an empty store.
func (s *Storage) InsertBlockAtHeight(raw []byte, height uint32, firstSeen time.Time) (*types.StoredBlock, error) {
	block, msg, err := types.NewBlockFromBytes(raw, firstSeen)
	if err != nil {
		return nil, err
	}
	return s.storeBlock(block, msg, &height)
}

// storeBlock stores the block, its transactions and the best chain update
// in a single database transaction. A nil height is derived from the parent.
func (s *Storage) storeBlock(block *types.Block, msg *wire.MsgBlock, height *uint32) (*types.StoredBlock, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	// no-op once committed
	defer tx.Rollback()

	known, err := blockByHash(tx, block.Hash)
	if err != nil || known != nil {
		return known, err
	}

	parent, err := blockByHash(tx, block.Parent)
	if err != nil {
		return nil, err
	}
	currentBest, err := bestBlock(tx)
	if err != nil {
		return nil, err
	}

	switch {
	case parent != nil:
		if height != nil && *height != parent.Height+1 {
			return nil, errors.Errorf(
				"invalid block height %d for block %s (parent %s height=%d)",
				*height, block.Hash, parent.Hash, parent.Height,
			)
		}
		block.Height = parent.Height + 1
	case currentBest != nil:
		return nil, errors.Wrapf(ErrUnknownParent, "block %s extends %s", block.Hash, block.Parent)
	case height != nil:
		block.Height = *height
	}

	blockID, err := s.insertBlock(tx, block)
	if err != nil {
		return nil, err
	}
	if err := s.insertTransactionBlock(tx, blockID, block, msg); err != nil {
		return nil, err
	}

	stored := &types.StoredBlock{DBID: blockID, Block: *block}

	// the first block seen wins among blocks of the same height
	if currentBest == nil || stored.Height > currentBest.Height {
		if err := updateBestBlock(tx, currentBest, stored); err != nil {
			return nil, err
		}
		stored.IsBest = true
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "could not commit block")
	}

	log.WithFields(log.Fields{
		"hash":   stored.Hash.RPCString(),
		"height": stored.Height,
		"txs":    len(stored.TxIDs),
		"best":   stored.IsBest,
	}).Info("stored block")

	return stored, nil
}

// BlockBytes returns the serialized block, nil if unknown.
func (s *Storage) BlockBytes(h types.Hash32) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT raw FROM "block" WHERE hash = ?`, h[:]).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read block %s", h)
	}
	return raw, nil
}
