package test

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/0xb10c/timechain-go/src/types"
)

// GenerateHash32 returns the hash of a provided preimage.
func GenerateHash32(seed string) types.Hash32 {
	return sha256.Sum256([]byte(seed))
}

// GetKeychain returns a keychain for a fixed seed
func GetKeychain(seed string) *hdkeychain.ExtendedKey {
	// NewMaster has a 16-byte limit, so we stretch it a bit here
	extendedSeed := GenerateHash32(seed)
	keychain, err := hdkeychain.NewMaster(extendedSeed[:], &chaincfg.RegressionNetParams)
	if err != nil {
		panic(err)
	}
	return keychain
}

// GetPrivateKey returns the master private key for a fixed seed
func GetPrivateKey(seed string) *btcec.PrivateKey {
	privKey, err := GetKeychain(seed).ECPrivKey()
	if err != nil {
		panic(err)
	}
	return privKey
}

// GetPrivateKeyWIF returns the private key in WIF (wallet import format)
func GetPrivateKeyWIF(seed string, compressed bool) *btcutil.WIF {
	wif, err := btcutil.NewWIF(GetPrivateKey(seed), &chaincfg.RegressionNetParams, compressed)
	if err != nil {
		panic(err)
	}
	return wif
}

// GetAddress returns the compressed P2PKH address for a seed
func GetAddress(seed string) btcutil.Address {
	pubKey := GetPrivateKey(seed).PubKey()
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), &chaincfg.RegressionNetParams,
	)
	if err != nil {
		panic(err)
	}
	return addr
}

// GetPkScript returns the P2PKH output script paying to the seed's address
func GetPkScript(seed string) []byte {
	script, err := txscript.PayToAddrScript(GetAddress(seed))
	if err != nil {
		panic(err)
	}
	return script
}

// MiningSeed is the seed used for deriving the mining address
var MiningSeed = "mining"

// MiningAddress is the address that collects block rewards
var MiningAddress = GetAddress(MiningSeed)
