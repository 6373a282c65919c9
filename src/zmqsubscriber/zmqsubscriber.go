// Package zmqsubscriber receives raw transactions and blocks from bitcoind's
// ZMQ interface.
package zmqsubscriber

import (
	"encoding/binary"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/0xb10c/timechain-go/src/types"
)

const (
	TopicRawTx    = "rawtx"
	TopicRawBlock = "rawblock"
)

// pollInterval bounds how long Stop waits for the receive loop
const pollInterval = 250 * time.Millisecond

// Message is a decoded bitcoind ZMQ notification.
type Message struct {
	Topic    string
	Body     []byte
	Sequence uint32
}

// ParseMessage decodes the three frames bitcoind sends per notification:
// topic, body and a little endian sequence number.
func ParseMessage(frames [][]byte) (Message, error) {
	if len(frames) != 3 {
		return Message{}, errors.Errorf("unknown message format: %d frames", len(frames))
	}
	if len(frames[2]) != 4 {
		return Message{}, errors.Errorf("invalid sequence length %d", len(frames[2]))
	}
	return Message{
		Topic:    string(frames[0]),
		Body:     frames[1],
		Sequence: binary.LittleEndian.Uint32(frames[2]),
	}, nil
}

// ZMQSubscriber forwards rawtx and rawblock notifications to IncomingTx and
// IncomingBlocks.
type ZMQSubscriber struct {
	address        string
	socket         *zmq4.Socket
	IncomingTx     chan types.RawTransaction
	IncomingBlocks chan types.RawBlock

	sequence map[string]uint32
	quit     chan struct{}
	stopOnce sync.Once
}

// NewZMQSubscriber connects to a bitcoind ZMQ publisher such as
// tcp://127.0.0.1:28332. Call Run to start receiving.
func NewZMQSubscriber(address string) (*ZMQSubscriber, error) {
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, errors.Wrap(err, "could not create ZMQ socket")
	}

	for _, topic := range []string{TopicRawTx, TopicRawBlock} {
		if err := socket.SetSubscribe(topic); err != nil {
			socket.Close()
			return nil, errors.Wrapf(err, "could not subscribe to %s", topic)
		}
	}

	if err := socket.SetRcvtimeo(pollInterval); err != nil {
		socket.Close()
		return nil, errors.WithStack(err)
	}

	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, errors.Wrapf(err, "could not connect ZMQ subscriber to '%s'", address)
	}

	log.WithField("address", address).Info("connected ZMQ subscriber")

	return &ZMQSubscriber{
		address:        address,
		socket:         socket,
		IncomingTx:     make(chan types.RawTransaction),
		IncomingBlocks: make(chan types.RawBlock),
		sequence:       map[string]uint32{},
		quit:           make(chan struct{}),
	}, nil
}

// checkSequence warns when bitcoind's per topic counter skipped messages.
func (z *ZMQSubscriber) checkSequence(m Message) {
	last, ok := z.sequence[m.Topic]
	if ok && m.Sequence != last+1 {
		log.WithFields(log.Fields{
			"topic":    m.Topic,
			"expected": last + 1,
			"got":      m.Sequence,
		}).Warn("missed ZMQ messages")
	}
	z.sequence[m.Topic] = m.Sequence
}

// Run receives notifications until Stop is called. The channels are closed
// when Run returns.
func (z *ZMQSubscriber) Run() error {
	defer close(z.IncomingTx)
	defer close(z.IncomingBlocks)

	for {
		select {
		case <-z.quit:
			return nil
		default:
		}

		frames, err := z.socket.RecvMessageBytes(0)
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "could not receive ZMQ message")
		}
		firstSeen := time.Now().UTC()

		m, err := ParseMessage(frames)
		if err != nil {
			log.WithError(err).Warn("dropping ZMQ message")
			continue
		}
		z.checkSequence(m)

		log.WithFields(log.Fields{
			"topic": m.Topic,
			"size":  len(m.Body),
		}).Trace("received ZMQ message")

		switch m.Topic {
		case TopicRawTx:
			select {
			case z.IncomingTx <- types.RawTransaction{Raw: m.Body, FirstSeen: firstSeen}:
			case <-z.quit:
				return nil
			}
		case TopicRawBlock:
			select {
			case z.IncomingBlocks <- types.RawBlock{Raw: m.Body, FirstSeen: firstSeen}:
			case <-z.quit:
				return nil
			}
		default:
			log.WithField("topic", m.Topic).Warn("unknown ZMQ topic")
		}
	}
}

// Transactions is the channel raw transactions are delivered on.
func (z *ZMQSubscriber) Transactions() <-chan types.RawTransaction {
	return z.IncomingTx
}

// Blocks is the channel raw blocks are delivered on.
func (z *ZMQSubscriber) Blocks() <-chan types.RawBlock {
	return z.IncomingBlocks
}

// Stop makes Run return.
func (z *ZMQSubscriber) Stop() {
	z.stopOnce.Do(func() { close(z.quit) })
}

// Close closes the socket. Run must have returned.
func (z *ZMQSubscriber) Close() error {
	return z.socket.Close()
}
