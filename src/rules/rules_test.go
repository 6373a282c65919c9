package rules_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/timechain-go/src/rules"
	"github.com/0xb10c/timechain-go/src/test"
	"github.com/0xb10c/timechain-go/src/types"
)

func headerBytes(h *wire.BlockHeader) []byte {
	return types.NewHeaderFromWire(h).Bytes()
}

func TestValidHeader(t *testing.T) {
	root := test.GenerateHash32("root")
	parent := test.GenerateHash32("parent")

	h := test.NewHeader(parent, root, test.GetTime(0))
	assert.True(t, rules.ValidHeader(headerBytes(h)))
	assert.True(t, rules.ValidHeaderOf(types.NewHeaderFromWire(h)))

	assert.False(t, rules.ValidHeader(headerBytes(h)[:79]))
	assert.False(t, rules.ValidHeader(append(headerBytes(h), 0)))
	assert.False(t, rules.ValidHeaderOf(types.Header{}))

	// proof of work and every other field are fine, but the time is the epoch
	epoch := test.NewHeader(parent, root, time.Unix(0, 0))
	assert.True(t, rules.CheckProofOfWork(epoch))
	assert.False(t, rules.ValidHeader(headerBytes(epoch)))

	version := *h
	version.Version = 0
	test.MineHeader(&version)
	assert.False(t, rules.ValidHeader(headerBytes(&version)))

	noRoot := test.NewHeader(parent, types.ZeroHash, test.GetTime(0))
	assert.False(t, rules.ValidHeader(headerBytes(noRoot)))

	unmined := *h
	test.UnmineHeader(&unmined)
	assert.True(t, rules.CheckHeader(&unmined))
	assert.False(t, rules.ValidHeader(headerBytes(&unmined)))
	assert.False(t, rules.ValidHeaderOf(types.NewHeaderFromWire(&unmined)))

	noTarget := *h
	noTarget.Bits = 0
	assert.False(t, rules.CheckProofOfWork(&noTarget))

	tampered := types.NewHeaderFromWire(h)
	tampered.Nonce++
	assert.False(t, rules.ValidHeaderOf(tampered))
}

type testChain struct {
	coinbase *wire.MsgTx
	spend    *wire.MsgTx
}

func newTestChain() testChain {
	coinbase := test.NewCoinbaseTx("block", 50*1e8)
	return testChain{
		coinbase: coinbase,
		spend:    test.NewSpendTx([]wire.OutPoint{test.OutPoint(coinbase, 0)}, 10*1e8, 39*1e8),
	}
}

func TestBlockRule_Standard(t *testing.T) {
	rule := rules.StandardBlockRule()
	c := newTestChain()
	parent := test.GenerateHash32("parent")

	block := test.NewBlock(parent, test.GetTime(0), c.coinbase, c.spend)
	assert.True(t, rule.Valid(test.SerializeBlock(block)))

	coinbaseOnly := test.NewBlock(parent, test.GetTime(0), c.coinbase)
	assert.True(t, rule.Valid(test.SerializeBlock(coinbaseOnly)))

	// no transactions at all
	empty := &wire.MsgBlock{Header: *test.NewHeader(parent, test.GenerateHash32("root"), test.GetTime(0))}
	assert.False(t, rule.Valid(test.SerializeBlock(empty)))

	noCoinbase := test.NewBlock(parent, test.GetTime(0), c.spend)
	assert.False(t, rule.Valid(test.SerializeBlock(noCoinbase)))

	secondCoinbase := test.NewBlock(parent, test.GetTime(0), c.coinbase, test.NewCoinbaseTx("second", 1))
	assert.False(t, rule.Valid(test.SerializeBlock(secondCoinbase)))

	// every transaction is fine, but the header commits to something else
	wrongRoot := test.NewBlock(parent, test.GetTime(0), c.coinbase, c.spend)
	wrongRoot.Header.MerkleRoot = test.GenerateHash32("other root").Chainhash()
	test.MineHeader(&wrongRoot.Header)
	assert.False(t, rule.Valid(test.SerializeBlock(wrongRoot)))

	badWork := test.NewBlock(parent, test.GetTime(0), c.coinbase, c.spend)
	test.UnmineHeader(&badWork.Header)
	assert.False(t, rule.Valid(test.SerializeBlock(badWork)))

	raw := test.SerializeBlock(block)
	assert.False(t, rule.Valid(raw[:len(raw)-1]))
	assert.False(t, rule.Valid(raw[:40]))
}

func TestBlockRule_Delegates(t *testing.T) {
	c := newTestChain()
	block := test.SerializeBlock(test.NewBlock(test.GenerateHash32("parent"), test.GetTime(0), c.coinbase, c.spend, c.spend))

	var coinbaseCalls, validCalls int
	cfg := rules.BlockConfig{
		Parser: rules.WireParser{},
		IsCoinbase: func(tx []byte) bool {
			coinbaseCalls++
			return true
		},
		IsValid: func(tx []byte) bool {
			validCalls++
			return true
		},
		MerkleRoot: rules.TransactionsMerkleRoot,
	}
	rule, err := rules.NewBlockRule(cfg)
	require.NoError(t, err)
	assert.True(t, rule.Valid(block))
	assert.Equal(t, 1, coinbaseCalls)
	assert.Equal(t, 2, validCalls)

	cfg.IsValid = func([]byte) bool { return false }
	rule, err = rules.NewBlockRule(cfg)
	require.NoError(t, err)
	assert.False(t, rule.Valid(block))

	cfg.IsValid = func([]byte) bool { return true }
	cfg.MerkleRoot = func([][]byte) (types.Hash32, error) {
		return types.ZeroHash, errors.New("unavailable")
	}
	rule, err = rules.NewBlockRule(cfg)
	require.NoError(t, err)
	assert.False(t, rule.Valid(block))
}

func TestNewBlockRule_MissingDelegate(t *testing.T) {
	complete := rules.BlockConfig{
		Parser:     rules.WireParser{},
		IsCoinbase: rules.IsCoinbase,
		IsValid:    rules.IsSaneTransaction,
		MerkleRoot: rules.TransactionsMerkleRoot,
	}

	missing := []func(*rules.BlockConfig){
		func(c *rules.BlockConfig) { c.Parser = nil },
		func(c *rules.BlockConfig) { c.IsCoinbase = nil },
		func(c *rules.BlockConfig) { c.IsValid = nil },
		func(c *rules.BlockConfig) { c.MerkleRoot = nil },
	}
	for _, remove := range missing {
		cfg := complete
		remove(&cfg)
		rule, err := rules.NewBlockRule(cfg)
		require.Error(t, err)
		assert.Nil(t, rule)
		assert.Equal(t, rules.ErrMissingDelegate, errors.Cause(err))
	}

	_, err := rules.NewBlockRule(complete)
	require.NoError(t, err)
}
