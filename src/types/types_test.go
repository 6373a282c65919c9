package types_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/timechain-go/src/test"
	"github.com/0xb10c/timechain-go/src/types"
)

func TestHash32_RPCString(t *testing.T) {
	h := test.GenerateHash32("hash")
	parsed, err := types.NewHashFromRPCString(h.RPCString())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Equal(t, h.Reversed().String(), h.RPCString())
	assert.Equal(t, h, h.Reversed().Reversed())

	_, err = types.NewHashFromRPCString("xyz")
	assert.Error(t, err)

	assert.True(t, types.ZeroHash.IsZero())
	assert.False(t, h.IsZero())
	assert.Panics(t, func() { types.NewHashFromBytes(h[:31]) })
}

func TestHeader_Bytes(t *testing.T) {
	w := test.NewHeader(test.GenerateHash32("parent"), test.GenerateHash32("root"), test.GetTime(0))
	h := types.NewHeaderFromWire(w)
	hash := w.BlockHash()
	assert.Equal(t, types.NewHashFromChainhash(&hash), h.Hash)
	assert.Equal(t, test.GenerateHash32("parent"), h.Parent)
	assert.Equal(t, test.GenerateHash32("root"), h.MerkleRoot)
	assert.False(t, h.IsZero())

	raw := h.Bytes()
	require.Len(t, raw, types.HeaderSize)
	decoded, err := types.NewHeaderFromBytes(raw)
	require.NoError(t, err)
	assert.True(t, h.Equal(decoded))
	assert.True(t, h.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, raw, decoded.Bytes())
	assert.Equal(t, hash, decoded.Wire().BlockHash())

	_, err = types.NewHeaderFromBytes(raw[1:])
	assert.Error(t, err)
	_, err = types.NewHeaderFromBytes(append(raw, 0))
	assert.Error(t, err)
}

func TestHeader_Compare(t *testing.T) {
	parent := test.GenerateHash32("parent")
	early := types.NewHeaderFromWire(test.NewHeader(parent, test.GenerateHash32("a"), test.GetTime(0)))
	late := types.NewHeaderFromWire(test.NewHeader(parent, test.GenerateHash32("b"), test.GetTime(600)))
	sameTime := types.NewHeaderFromWire(test.NewHeader(parent, test.GenerateHash32("c"), test.GetTime(0)))
	var zero types.Header

	assert.Equal(t, -1, early.Compare(late))
	assert.Equal(t, 1, late.Compare(early))
	assert.Equal(t, 0, early.Compare(early))
	assert.Equal(t, 1, zero.Compare(late))
	assert.Equal(t, -1, late.Compare(zero))
	assert.Equal(t, 0, zero.Compare(zero))
	assert.Equal(t, early.Hash.Compare(sameTime.Hash), early.Compare(sameTime))

	headers := []types.Header{zero, late, sameTime, early}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Compare(headers[j]) < 0 })
	assert.Equal(t, late, headers[2])
	assert.True(t, headers[3].IsZero())
	assert.False(t, early.Equal(sameTime))
	assert.True(t, zero.Equal(types.Header{}))
}

func TestNewBlockFromBytes(t *testing.T) {
	coinbase := test.NewCoinbaseTx("types", 1)
	b := test.NewBlock(test.GenerateHash32("parent"), test.GetTime(0), coinbase)
	raw := test.SerializeBlock(b)

	block, msg, err := types.NewBlockFromBytes(raw, test.GetTime(5))
	require.NoError(t, err)
	assert.Equal(t, test.BlockHash(b), block.Hash)
	assert.Equal(t, test.GenerateHash32("parent"), block.Parent)
	assert.Equal(t, []types.TxID{test.TxID(coinbase)}, block.TxIDs)
	assert.Equal(t, test.GetTime(5), block.FirstSeen)
	assert.Len(t, msg.Transactions, 1)

	_, _, err = types.NewBlockFromBytes(raw[:len(raw)-1], test.GetTime(5))
	assert.Error(t, err)
	_, _, err = types.NewBlockFromBytes(append(raw, 0x00), test.GetTime(5))
	assert.Error(t, err)
}

func TestNewTransactionFromBytes(t *testing.T) {
	coinbase := test.NewCoinbaseTx("types", 1)
	tx, err := types.NewTransactionFromBytes(test.SerializeTx(coinbase), test.GetTime(0))
	require.NoError(t, err)
	assert.Equal(t, test.TxID(coinbase), tx.TxID)

	_, err = types.NewTransactionFromBytes([]byte{0x01}, test.GetTime(0))
	assert.Error(t, err)

	// the prefix is a transaction, the whole is not
	_, err = types.NewTransactionFromBytes(append(test.SerializeTx(coinbase), 0x00), test.GetTime(0))
	assert.Error(t, err)
}
