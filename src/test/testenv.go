package test

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const zmqHost = "127.0.0.1"
const zmqPort = "28334"
const rpcPort = "18444"

// defaultBitcoind is used unless TEST_BITCOIND points elsewhere
const defaultBitcoind = "./../../testdata/bin/bitcoind/bitcoind"

// TestEnv is a bitcoind regtest node started for an integration test.
type TestEnv struct {
	cmd     *exec.Cmd
	rpc     *rpcclient.Client
	dataDir string
	user    string
	pass    string
}

func readCookie(dataDir string) (user, pass string, err error) {
	var cookie []byte
	// wait 1s for cookie file to appear
	for i := 0; i < 10; i++ {
		cookie, err = ioutil.ReadFile(filepath.Join(dataDir, "regtest", ".cookie"))
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return "", "", err
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return "", "", errors.Wrap(err, "no rpc cookie")
	}

	parts := strings.SplitN(strings.TrimSpace(string(cookie)), ":", 2)
	if len(parts) != 2 {
		return "", "", errors.Errorf("malformed rpc cookie")
	}
	return parts[0], parts[1], nil
}

func newBitcoindRPC(user, pass string) (*rpcclient.Client, error) {
	cfg := &rpcclient.ConnConfig{
		Host:         "127.0.0.1:" + rpcPort,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	rpc, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, err
	}

	for i := 0; i < 100; i++ {
		n, err := rpc.GetBlockCount()
		if err == nil {
			log.WithField("blockCount", n).Debug("bitcoind ready")
			return rpc, nil
		}

		// RPC_IN_WARMUP
		if rpcErr, ok := err.(*btcjson.RPCError); !ok || rpcErr.Code != -28 {
			log.WithError(err).Debug("waiting for bitcoind")
		}
		time.Sleep(100 * time.Millisecond)
	}

	rpc.Shutdown()
	return nil, errors.New("timed out waiting for bitcoind")
}

// NewTestEnv starts a fresh regtest bitcoind publishing raw transactions and
// blocks over ZMQ.
func NewTestEnv() (testEnv *TestEnv, err error) {
	dataDir, err := ioutil.TempDir("", "test-timechain-go")
	if err != nil {
		return nil, errors.Wrap(err, "could not create the data directory")
	}

	bitcoind := os.Getenv("TEST_BITCOIND")
	if bitcoind == "" {
		bitcoind = defaultBitcoind
	}

	zmqURL := fmt.Sprintf("tcp://%s:%s", zmqHost, zmqPort)
	args := []string{
		"-regtest",
		"-datadir=" + dataDir,
		"-txindex",
		"-rpcallowip=127.0.0.1",
		"-rpcbind=127.0.0.1",
		"-rpcport=" + rpcPort,
		"-zmqpubrawblock=" + zmqURL,
		"-zmqpubrawtx=" + zmqURL,
		// It takes a while until the fee estimation is ready on regtest. To send
		// wallet transactions the `-fallbackfee` must be set.
		"-fallbackfee=0.00001",
	}
	cmd := exec.Command(bitcoind, args...)
	if err = cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "could not start bitcoind")
	}

	env := &TestEnv{cmd: cmd, dataDir: dataDir}
	defer func() {
		if err != nil {
			env.Quit()
		}
	}()

	env.user, env.pass, err = readCookie(dataDir)
	if err != nil {
		return nil, err
	}
	env.rpc, err = newBitcoindRPC(env.user, env.pass)
	if err != nil {
		return nil, errors.Wrap(err, "could not start a new bitcoind RPC")
	}

	// newer versions of bitcoind do not create a wallet by default
	if _, err := env.rpc.CreateWallet("test"); err != nil {
		log.WithError(err).Debug("could not create wallet")
	}

	return env, nil
}

// RPCAddress is the rpc address including credentials.
func (e *TestEnv) RPCAddress() string {
	return fmt.Sprintf("http://%s:%s@127.0.0.1:%s", e.user, e.pass, rpcPort)
}

// ZMQAddress is the endpoint bitcoind publishes on.
func (e *TestEnv) ZMQAddress() string {
	return fmt.Sprintf("tcp://%s:%s", zmqHost, zmqPort)
}

// GenerateToAddress mines `nBlocks` to the passed address and returns the block
// hashes.
func (e *TestEnv) GenerateToAddress(nBlocks int, address btcutil.Address) ([]*chainhash.Hash, error) {
	jsonNBlocks, err := json.Marshal(nBlocks)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	jsonAddress, err := json.Marshal(address.String())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	res, err := e.rpc.RawRequest("generatetoaddress", []json.RawMessage{jsonNBlocks, jsonAddress})
	if err != nil {
		return nil, errors.Wrap(err, "generatetoaddress failed")
	}

	var result []string
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal the response as JSON")
	}

	chainhashes := make([]*chainhash.Hash, len(result))
	for i, hashString := range result {
		chainhashes[i], err = chainhash.NewHashFromStr(hashString)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create a new chainhash from '%s'", hashString)
		}
	}
	return chainhashes, nil
}

// GenerateBlocks mines `nBlocks` to MiningAddress.
func (e *TestEnv) GenerateBlocks(nBlocks int) ([]*chainhash.Hash, error) {
	return e.GenerateToAddress(nBlocks, MiningAddress)
}

// SendSimpleTransaction sends 0.1 BTC from the node's wallet to the passed
// address. The wallet needs mature funds, see FundWallet.
func (e *TestEnv) SendSimpleTransaction(address btcutil.Address) (*chainhash.Hash, error) {
	amount, err := btcutil.NewAmount(0.1)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return e.rpc.SendToAddress(address, amount)
}

// FundWallet mines enough blocks to the node's wallet for it to spend the
// first coinbase.
func (e *TestEnv) FundWallet() error {
	address, err := e.rpc.GetNewAddress("")
	if err != nil {
		return errors.Wrap(err, "getnewaddress failed")
	}
	_, err = e.GenerateToAddress(101, address)
	return err
}

// Quit stops bitcoind with SIGINT and removes its data directory. Panics if
// the process exited for some other reason.
func (e *TestEnv) Quit() {
	defer os.RemoveAll(e.dataDir)
	if e.rpc != nil {
		e.rpc.Shutdown()
	}

	err := e.cmd.Process.Signal(syscall.SIGINT)
	if err != nil {
		panic(err)
	}

	err = e.cmd.Wait()
	if err == nil {
		return
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		panic(err)
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		panic(err)
	}

	if status.ExitStatus() == 1 {
		return
	}

	if status.Signaled() && status.Signal() == syscall.SIGINT {
		return
	}

	panic(err)
}
