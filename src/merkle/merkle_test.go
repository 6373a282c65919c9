package merkle_test

import (
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/timechain-go/src/merkle"
	"github.com/0xb10c/timechain-go/src/test"
	"github.com/0xb10c/timechain-go/src/types"
)

func testTransactions(n int) []*wire.MsgTx {
	txs := []*wire.MsgTx{test.NewCoinbaseTx("merkle", 50)}
	for i := 1; i < n; i++ {
		txs = append(txs, test.NewSpendTx(
			[]wire.OutPoint{{Hash: test.GenerateHash32(fmt.Sprintf("prev-%d", i)).Chainhash()}},
			int64(i),
		))
	}
	return txs
}

func TestRoot_MatchesBlockchain(t *testing.T) {
	for n := 1; n <= 9; n++ {
		txs := testTransactions(n)
		utilTxs := make([]*btcutil.Tx, len(txs))
		for i, tx := range txs {
			utilTxs[i] = btcutil.NewTx(tx)
		}
		store := blockchain.BuildMerkleTreeStore(utilTxs, false)
		expected := types.NewHashFromChainhash(store[len(store)-1])

		assert.Equal(t, expected, merkle.Root(test.TxIDs(txs)), "n=%d", n)
	}
}

func TestRoot_Empty(t *testing.T) {
	assert.True(t, merkle.Root(nil).IsZero())
}

func TestProve(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := test.TxIDs(testTransactions(n))
		root := merkle.Root(leaves)
		for i := range leaves {
			proof, err := merkle.Prove(leaves, uint32(i))
			require.NoError(t, err)
			assert.True(t, proof.Valid(), "n=%d i=%d", n, i)
			assert.Equal(t, root, proof.Root)
			assert.Equal(t, leaves[i], proof.LeafDigest())
			assert.Equal(t, uint32(i), proof.LeafIndex())
		}
	}

	_, err := merkle.Prove(test.TxIDs(testTransactions(3)), 3)
	require.Error(t, err)
}

func TestProof_Invalid(t *testing.T) {
	leaves := test.TxIDs(testTransactions(5))
	proof, err := merkle.Prove(leaves, 2)
	require.NoError(t, err)
	require.True(t, proof.Valid())

	assert.False(t, merkle.Proof{}.Valid())

	wrongLeaf := proof
	wrongLeaf.Leaf = leaves[3]
	assert.False(t, wrongLeaf.Valid())

	wrongIndex := proof
	wrongIndex.Index = 3
	assert.False(t, wrongIndex.Valid())

	outOfRange := proof
	outOfRange.Index = 2 + 1<<uint(len(proof.Digests))
	assert.False(t, outOfRange.Valid())

	wrongDigest := proof
	wrongDigest.Digests = append([]types.Hash32{}, proof.Digests...)
	wrongDigest.Digests[1] = test.GenerateHash32("not a digest")
	assert.False(t, wrongDigest.Valid())

	wrongRoot := proof
	wrongRoot.Root = test.GenerateHash32("not a root")
	assert.False(t, wrongRoot.Valid())

	// the last leaf of an odd level is hashed with itself, the position
	// right of it does not exist
	odd := test.TxIDs(testTransactions(3))
	last, err := merkle.Prove(odd, 2)
	require.NoError(t, err)
	require.True(t, last.Valid())
	phantom := last
	phantom.Index = 3
	assert.Equal(t, last.Root, phantom.Derive())
	assert.False(t, phantom.Valid())
}

func TestProof_Binary(t *testing.T) {
	leaves := test.TxIDs(testTransactions(7))
	for i := range leaves {
		proof, err := merkle.Prove(leaves, uint32(i))
		require.NoError(t, err)

		data, err := proof.MarshalBinary()
		require.NoError(t, err)

		var decoded merkle.Proof
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.Equal(t, proof, decoded)
		assert.True(t, decoded.Valid())
	}

	single, err := merkle.Prove(leaves[:1], 0)
	require.NoError(t, err)
	data, err := single.MarshalBinary()
	require.NoError(t, err)
	var decoded merkle.Proof
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, single, decoded)

	var truncated merkle.Proof
	assert.Error(t, truncated.UnmarshalBinary(data[:len(data)-1]))
	assert.Error(t, truncated.UnmarshalBinary(append(data, 0)))
}
