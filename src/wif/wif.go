// Package wif converts private keys to and from the Wallet Import Format:
// base58check of a version prefix, the 32 byte secret and, for keys whose
// public key is used compressed, a trailing marker byte.
package wif

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

const (
	// SecretSize is the size of a private key.
	SecretSize = 32
	// CompressedSuffix marks a key whose public key is serialized compressed.
	CompressedSuffix = 0x01
)

// Common version prefixes.
var (
	MainNetPrefix = chaincfg.MainNetParams.PrivateKeyID
	TestNetPrefix = chaincfg.TestNet3Params.PrivateKeyID
)

// WIF is a decoded private key.
type WIF struct {
	Prefix     byte
	Secret     [SecretSize]byte
	Compressed bool
}

// Encode returns the WIF string for secret.
func Encode(prefix byte, secret [SecretSize]byte, compressed bool) string {
	payload := make([]byte, SecretSize, SecretSize+1)
	copy(payload, secret[:])
	if compressed {
		payload = append(payload, CompressedSuffix)
	}
	return base58.CheckEncode(payload, prefix)
}

// String encodes w.
func (w WIF) String() string {
	return Encode(w.Prefix, w.Secret, w.Compressed)
}

// Decode parses a WIF string.
func Decode(s string) (WIF, error) {
	payload, prefix, err := base58.CheckDecode(s)
	if err != nil {
		return WIF{}, errors.Wrap(err, "invalid base58check string")
	}

	w := WIF{Prefix: prefix}
	switch len(payload) {
	case SecretSize:
	case SecretSize + 1:
		if payload[SecretSize] != CompressedSuffix {
			return WIF{}, errors.Errorf("invalid compression marker 0x%02x", payload[SecretSize])
		}
		w.Compressed = true
	default:
		return WIF{}, errors.Errorf("invalid payload size %d", len(payload))
	}
	copy(w.Secret[:], payload[:SecretSize])
	return w, nil
}

// Btcutil converts w to btcutil's representation.
func (w WIF) Btcutil() (*btcutil.WIF, error) {
	return btcutil.DecodeWIF(w.String())
}

// Address returns the P2PKH address of the key on net.
func (w WIF) Address(net *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {
	_, pub := btcec.PrivKeyFromBytes(w.Secret[:])
	serialized := pub.SerializeUncompressed()
	if w.Compressed {
		serialized = pub.SerializeCompressed()
	}
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(serialized), net)
}
