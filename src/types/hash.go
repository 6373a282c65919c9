package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash32 is a 32 byte / 256 bit hash.
// This hash is used for block header hashes, merkle nodes and transaction IDs.
// The bytes are kept in internal (wire) order.
type Hash32 [32]byte

// TxID is the double-SHA256 of a transaction's serialization without witness data.
type TxID = Hash32

// ZeroHash is the all-zero hash. It is never the hash of real data.
var ZeroHash Hash32

func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// NewHashFromBytes returns a new Hash32 from a 32-length byte slice.
// Panics on length mismatch.
func NewHashFromBytes(bytes []byte) (res Hash32) {
	if len(bytes) != 32 {
		// for ergonomics, we do not return an error here
		panic(fmt.Errorf("invalid hash length"))
	}
	copy(res[:], bytes)
	return
}

// NewHashFromArray returns a new Hash32 from a 32-length byte array.
func NewHashFromArray(bytes [32]byte) Hash32 {
	return NewHashFromBytes(bytes[:])
}

// NewHashFromChainhash converts a btcd hash. Both use internal byte order.
func NewHashFromChainhash(h *chainhash.Hash) Hash32 {
	return Hash32(*h)
}

// NewHashFromRPCString parses the reversed hex representation used by
// bitcoind's RPC interface.
func NewHashFromRPCString(s string) (Hash32, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return ZeroHash, err
	}
	return NewHashFromChainhash(h), nil
}

// Chainhash returns the hash as a btcd chainhash.Hash.
func (h Hash32) Chainhash() chainhash.Hash {
	return chainhash.Hash(h)
}

// RPCString returns the reversed hex representation used by bitcoind.
func (h Hash32) RPCString() string {
	return h.Reversed().String()
}

// IsZero reports whether h is the zero hash.
func (h Hash32) IsZero() bool {
	return h == ZeroHash
}

// Compare orders hashes bytewise.
func (h Hash32) Compare(o Hash32) int {
	return bytes.Compare(h[:], o[:])
}

// Reversed returns a Hash with the byte sequence in reverse order.
//
// Some parts of the btcd api, for instance the SendSimpleTransaction call,
// return byte arrays that have the internal TxID byte order
// (but show the reversed rpc byte order in String()).
// This method helps converting between both representations.
//
// More info: https://bitcoin.stackexchange.com/a/32767/3811
func (h Hash32) Reversed() (res Hash32) {
	for i := range h {
		res[31-i] = h[i]
	}
	return
}
