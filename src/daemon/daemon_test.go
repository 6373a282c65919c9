package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/timechain-go/src/ledger"
	"github.com/0xb10c/timechain-go/src/storage"
	"github.com/0xb10c/timechain-go/src/test"
	"github.com/0xb10c/timechain-go/src/types"
)

type fakeFeed struct {
	txs      chan types.RawTransaction
	blocks   chan types.RawBlock
	quit     chan struct{}
	stopOnce sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		txs:    make(chan types.RawTransaction),
		blocks: make(chan types.RawBlock),
		quit:   make(chan struct{}),
	}
}

// Run closes both channels on return like the zmq subscriber does.
func (f *fakeFeed) Run() error {
	defer close(f.blocks)
	defer close(f.txs)
	<-f.quit
	return nil
}

func (f *fakeFeed) Stop() {
	f.stopOnce.Do(func() { close(f.quit) })
}

func (f *fakeFeed) Transactions() <-chan types.RawTransaction {
	return f.txs
}

func (f *fakeFeed) Blocks() <-chan types.RawBlock {
	return f.blocks
}

type fakeNode struct {
	mtx       sync.Mutex
	blocks    map[types.Hash32][]byte
	heights   map[types.Hash32]uint32
	mempool   []types.RawTransaction
	accept    bool
	broadcast [][]byte
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		blocks:  map[types.Hash32][]byte{},
		heights: map[types.Hash32]uint32{},
		accept:  true,
	}
}

func (n *fakeNode) add(b *wire.MsgBlock, height uint32) {
	n.blocks[test.BlockHash(b)] = test.SerializeBlock(b)
	n.heights[test.BlockHash(b)] = height
}

func (n *fakeNode) Headers(since uint32) ([]types.Header, error) { return nil, nil }

func (n *fakeNode) Transaction(id types.TxID) (ledger.Entry, error) {
	return ledger.Entry{ID: id}, nil
}

func (n *fakeNode) Header(hash types.Hash32) (types.Header, error) { return types.Header{}, nil }

func (n *fakeNode) Block(hash types.Hash32) ([]byte, error) {
	return n.blocks[hash], nil
}

func (n *fakeNode) Broadcast(raw []byte) (bool, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.broadcast = append(n.broadcast, raw)
	return n.accept, nil
}

func (n *fakeNode) BlockHeight(hash types.Hash32) (uint32, error) {
	return n.heights[hash], nil
}

func (n *fakeNode) MempoolTransactions() ([]types.RawTransaction, error) {
	return n.mempool, nil
}

func newTestStorage(t *testing.T) *storage.Storage {
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// chain returns three blocks, the last one spending the first coinbase.
func chain() (blocks []*wire.MsgBlock, spend *wire.MsgTx) {
	cb0 := test.NewCoinbaseTx("daemon-b0", 50*1e8)
	b0 := test.NewBlock(test.GenerateHash32("genesis"), test.GetTime(0), cb0)
	b1 := test.NewBlock(test.BlockHash(b0), test.GetTime(600), test.NewCoinbaseTx("daemon-b1", 50*1e8))
	spend = test.NewSpendTx([]wire.OutPoint{test.OutPoint(cb0, 0)}, 49*1e8)
	b2 := test.NewBlock(test.BlockHash(b1), test.GetTime(1200), test.NewCoinbaseTx("daemon-b2", 50*1e8), spend)
	return []*wire.MsgBlock{b0, b1, b2}, spend
}

func rawBlock(b *wire.MsgBlock, seconds int) types.RawBlock {
	return types.RawBlock{Raw: test.SerializeBlock(b), FirstSeen: test.GetTime(seconds)}
}

func TestDaemon_HandleBlock(t *testing.T) {
	blocks, spend := chain()
	node := newFakeNode()
	for i, b := range blocks {
		node.add(b, uint32(500+i))
	}
	d := NewDaemon(newFakeFeed(), node, newTestStorage(t))

	// the first block gets its height from the node
	require.NoError(t, d.HandleBlock(rawBlock(blocks[0], 0)))
	headers, err := d.Headers(500)
	require.NoError(t, err)
	require.Len(t, headers, 1)

	// block 1 was missed and is fetched from the node
	require.NoError(t, d.HandleBlock(rawBlock(blocks[2], 1200)))
	headers, err = d.Headers(0)
	require.NoError(t, err)
	require.Len(t, headers, 3)
	assert.Equal(t, test.BlockHash(blocks[2]), headers[2].Hash)

	entry, err := d.Transaction(test.TxID(spend))
	require.NoError(t, err)
	assert.True(t, entry.Record.Confirmed())

	v, err := ledger.MakeVertex(d, entry.Record)
	require.NoError(t, err)
	assert.True(t, v.Valid(ledger.Policy{}))

	header, err := d.Header(test.BlockHash(blocks[1]))
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(blocks[1]), header.Hash)
	raw, err := d.Block(test.BlockHash(blocks[1]))
	require.NoError(t, err)
	assert.Equal(t, test.SerializeBlock(blocks[1]), raw)
}

func TestDaemon_HandleInvalidBlock(t *testing.T) {
	blocks, _ := chain()
	s := newTestStorage(t)
	d := NewDaemon(newFakeFeed(), nil, s)

	unmined := *blocks[0]
	test.UnmineHeader(&unmined.Header)
	require.NoError(t, d.HandleBlock(rawBlock(&unmined, 0)))
	require.NoError(t, d.HandleBlock(types.RawBlock{Raw: []byte{0x01}}))

	best, err := s.BestBlockNow()
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestDaemon_MissedBlock(t *testing.T) {
	blocks, spend := chain()
	feed := newFakeFeed()
	s := newTestStorage(t)
	d := NewDaemon(feed, nil, s)

	done := make(chan error)
	go func() { done <- d.Run() }()

	// block 1 never arrives, without a node block 2 is dropped
	feed.blocks <- rawBlock(blocks[0], 0)
	feed.blocks <- rawBlock(blocks[2], 1200)
	feed.txs <- types.RawTransaction{Raw: test.SerializeTx(spend), FirstSeen: test.GetTime(1300)}

	d.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	best, err := s.BestBlockNow()
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, test.BlockHash(blocks[0]), best.Hash)

	entry, err := d.Transaction(test.TxID(spend))
	require.NoError(t, err)
	assert.True(t, entry.Record.Valid())
	assert.False(t, entry.Record.Confirmed())
}

func TestDaemon_MissingAncestors(t *testing.T) {
	blocks, _ := chain()
	node := newFakeNode()
	node.add(blocks[0], 0)
	s := newTestStorage(t)
	d := NewDaemon(newFakeFeed(), node, s)

	require.NoError(t, d.HandleBlock(rawBlock(blocks[0], 0)))
	// the node does not know block 1 either
	require.NoError(t, d.HandleBlock(rawBlock(blocks[2], 1200)))
	best, err := s.BestBlockNow()
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(blocks[0]), best.Hash)

	// a node answering with a different block does not close the gap
	node.blocks[test.BlockHash(blocks[1])] = test.SerializeBlock(blocks[0])
	require.NoError(t, d.HandleBlock(rawBlock(blocks[2], 1200)))
	best, err = s.BestBlockNow()
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(blocks[0]), best.Hash)

	// the chain continues once block 1 shows up
	require.NoError(t, d.HandleBlock(rawBlock(blocks[1], 600)))
	require.NoError(t, d.HandleBlock(rawBlock(blocks[2], 1200)))
	best, err = s.BestBlockNow()
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(blocks[2]), best.Hash)
}

func TestDaemon_TooManyMissing(t *testing.T) {
	node := newFakeNode()
	parent := test.GenerateHash32("far genesis")
	var long []*wire.MsgBlock
	// maxBackfill+1 blocks lie between the first block and the tip
	for i := 0; i < maxBackfill+3; i++ {
		b := test.NewBlock(parent, test.GetTime(i*600), test.NewCoinbaseTx(fmt.Sprintf("long-%d", i), 50*1e8))
		node.add(b, uint32(i))
		long = append(long, b)
		parent = test.BlockHash(b)
	}
	s := newTestStorage(t)
	d := NewDaemon(newFakeFeed(), node, s)

	require.NoError(t, d.HandleBlock(rawBlock(long[0], 0)))
	tip := long[len(long)-1]
	require.NoError(t, d.HandleBlock(rawBlock(tip, 0)))
	best, err := s.BestBlockNow()
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(long[0]), best.Hash)

	// one block less and the gap is closed
	require.NoError(t, d.HandleBlock(rawBlock(long[len(long)-2], 0)))
	best, err = s.BestBlockNow()
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(long[len(long)-2]), best.Hash)
}

func TestDaemon_Broadcast(t *testing.T) {
	_, spend := chain()
	raw := test.SerializeTx(spend)

	d := NewDaemon(newFakeFeed(), nil, newTestStorage(t))
	_, err := d.Broadcast(raw)
	assert.Equal(t, ErrNoNode, err)

	node := newFakeNode()
	node.accept = false
	d = NewDaemon(newFakeFeed(), node, newTestStorage(t))
	ok, err := d.Broadcast(raw)
	require.NoError(t, err)
	assert.False(t, ok)
	entry, err := d.Transaction(test.TxID(spend))
	require.NoError(t, err)
	assert.False(t, entry.Record.Valid())

	node.accept = true
	ok, err = d.Broadcast(raw)
	require.NoError(t, err)
	assert.True(t, ok)
	entry, err = d.Transaction(test.TxID(spend))
	require.NoError(t, err)
	assert.True(t, entry.Record.Valid())
	assert.False(t, entry.Record.Confirmed())
	assert.Len(t, node.broadcast, 2)
}

func TestDaemon_Run(t *testing.T) {
	blocks, spend := chain()
	feed := newFakeFeed()
	node := newFakeNode()
	for i, b := range blocks {
		node.add(b, uint32(i))
	}
	mempoolTx := test.NewSpendTx([]wire.OutPoint{test.OutPoint(spend, 0)}, 48*1e8)
	node.mempool = []types.RawTransaction{{Raw: test.SerializeTx(mempoolTx), FirstSeen: test.GetTime(1300)}}

	s := newTestStorage(t)
	d := NewDaemon(feed, node, s)

	done := make(chan error)
	go func() { done <- d.Run() }()

	feed.txs <- types.RawTransaction{Raw: test.SerializeTx(spend), FirstSeen: test.GetTime(100)}
	feed.txs <- types.RawTransaction{Raw: []byte{0x01}, FirstSeen: test.GetTime(100)}
	for i, b := range blocks {
		feed.blocks <- rawBlock(b, i*600)
	}

	d.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	entry, err := d.Transaction(test.TxID(spend))
	require.NoError(t, err)
	assert.True(t, entry.Record.Confirmed())

	entry, err = d.Transaction(test.TxID(mempoolTx))
	require.NoError(t, err)
	assert.True(t, entry.Record.Valid())
	assert.False(t, entry.Record.Confirmed())

	byID, err := s.TransactionByID(test.TxID(spend))
	require.NoError(t, err)
	assert.Equal(t, test.GetTime(100), byID.FirstSeen)
}
