package wif_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/timechain-go/src/test"
	"github.com/0xb10c/timechain-go/src/wif"
)

func TestRoundTrip(t *testing.T) {
	secret := [wif.SecretSize]byte(test.GenerateHash32("secret"))

	for _, compressed := range []bool{true, false} {
		for _, prefix := range []byte{wif.MainNetPrefix, wif.TestNetPrefix, 0x42} {
			s := wif.Encode(prefix, secret, compressed)
			w, err := wif.Decode(s)
			require.NoError(t, err)
			assert.Equal(t, prefix, w.Prefix)
			assert.Equal(t, secret, w.Secret)
			assert.Equal(t, compressed, w.Compressed)
			assert.Equal(t, s, w.String())
		}
	}
}

func TestKnownVector(t *testing.T) {
	// private key 1
	var secret [wif.SecretSize]byte
	secret[31] = 1

	assert.Equal(t, "5HpHagT65TZzG1PH3CSu63k8DbpvD8s5ip4nEB3kEsreAnchuDf",
		wif.Encode(wif.MainNetPrefix, secret, false))
	assert.Equal(t, "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn",
		wif.Encode(wif.MainNetPrefix, secret, true))
}

func TestBtcutilInterop(t *testing.T) {
	for _, compressed := range []bool{true, false} {
		expected := test.GetPrivateKeyWIF("interop", compressed)

		w, err := wif.Decode(expected.String())
		require.NoError(t, err)
		assert.Equal(t, compressed, w.Compressed)
		assert.Equal(t, expected.PrivKey.Serialize(), w.Secret[:])

		converted, err := w.Btcutil()
		require.NoError(t, err)
		assert.Equal(t, expected.String(), converted.String())
		assert.Equal(t, compressed, converted.CompressPubKey)
	}
}

func TestDecode_Invalid(t *testing.T) {
	secret := [wif.SecretSize]byte(test.GenerateHash32("secret"))

	_, err := wif.Decode("not base58 0OIl")
	assert.Error(t, err)

	s := wif.Encode(wif.MainNetPrefix, secret, true)
	_, err = wif.Decode(s[:len(s)-1])
	assert.Error(t, err)

	badMarker := base58.CheckEncode(append(secret[:], 0x02), wif.MainNetPrefix)
	_, err = wif.Decode(badMarker)
	assert.Error(t, err)

	short := base58.CheckEncode(secret[:31], wif.MainNetPrefix)
	_, err = wif.Decode(short)
	assert.Error(t, err)
}

func TestWIF_Address(t *testing.T) {
	w, err := wif.Decode(test.GetPrivateKeyWIF("alice", true).String())
	require.NoError(t, err)
	address, err := w.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, test.GetAddress("alice").EncodeAddress(), address.EncodeAddress())

	// the uncompressed key hashes to a different address
	w.Compressed = false
	address, err = w.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.NotEqual(t, test.GetAddress("alice").EncodeAddress(), address.EncodeAddress())
}
