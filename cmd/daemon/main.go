package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/bitcoinrpcclient"
	"github.com/0xb10c/timechain-go/src/config"
	"github.com/0xb10c/timechain-go/src/daemon"
	"github.com/0xb10c/timechain-go/src/storage"
	"github.com/0xb10c/timechain-go/src/zmqsubscriber"
)

func main() {
	cfg, _, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	logCloser, err := config.InitLog(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logCloser.Close()

	log.WithField("network", cfg.NetParams().Name).Info("Starting Timechain Daemon")

	zmqSub, err := zmqsubscriber.NewZMQSubscriber(cfg.ZMQAddress)
	if err != nil {
		log.Fatalf("Could not setup ZMQ subscriber: %s", err)
	}
	defer zmqSub.Close()

	var node daemon.Node
	if cfg.RPCAddress != "" {
		rpc, err := bitcoinrpcclient.NewBitcoinRPCClient(cfg.RPCAddress)
		if err != nil {
			log.Fatalf("Could not connect to bitcoind: %s", err)
		}
		defer rpc.Shutdown()
		node = rpc
	} else {
		log.Warn("no --rpc-address, running without backfill and broadcast")
	}

	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		log.Fatalf("Could not initialize storage: %s", err)
	}

	d := daemon.NewDaemon(zmqSub, node, store)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		s := <-c
		log.Infof("Received signal %s, shutting down", s)
		d.Stop()
	}()

	errRun := d.Run()
	if errRun != nil {
		log.Errorf("Error during operation, shutting down: %s", errRun)
	}

	errClose := d.Close()
	if errClose != nil {
		log.Errorf("Error during shutdown: %s", errClose)
	}

	if errRun != nil || errClose != nil {
		os.Exit(1)
	}
}
