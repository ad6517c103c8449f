// Package floodbus is a decentralized message bus. Every node floods the
// messages it publishes or receives to its outgoing connections, bounded by a
// hop limit, and suppresses duplicates with a cache of recently seen message
// ids. There is no broker and no fixed topology.
package floodbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/stats"
	"go.uber.org/multierr"

	"github.com/floodbus/go-floodbus/metrics"
	"github.com/floodbus/go-floodbus/seencache"
)

// AnyReceiver addresses a message to every node that subscribes to its type.
// It cannot be used as a node identifier.
const AnyReceiver = "any"

// ErrReservedIdentifier is returned by New for the identifier AnyReceiver.
var ErrReservedIdentifier = errors.New("node identifier is reserved")

var log = logging.Logger("floodbus")

// Bus is one node of the message bus.
type Bus struct {
	id string

	initialTTL     int
	capacity       int
	seenRatio      int
	forward        bool
	maxMessageSize int
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	readTimeout    time.Duration
	listenAddr     ma.Multiaddr
	clock          clock.Clock

	tracer *busTracer

	idGen *msgIDGenerator
	seen  *seencache.Cache
	subs  *subscriptions
	fwd   *forwarder
	dlv   *deliverer
	rcv   *receiver

	ctx       context.Context
	cancel    func()
	closeOnce sync.Once
	closeErr  error
}

// New creates a node with the given identifier, binds its listen address
// and starts receiving and dispatching messages.
func New(id string, opts ...Option) (*Bus, error) {
	if id == AnyReceiver {
		return nil, pkgerrors.Wrapf(ErrReservedIdentifier, "%q", id)
	}

	b := &Bus{
		id:             id,
		initialTTL:     DefaultInitialTTL,
		capacity:       DefaultMessageCapacity,
		seenRatio:      DefaultSeenCacheRatio,
		forward:        true,
		maxMessageSize: DefaultMaxMessageSize,
		dialTimeout:    DefaultDialTimeout,
		writeTimeout:   DefaultWriteTimeout,
		readTimeout:    DefaultReadTimeout,
		clock:          clock.New(),
	}

	for _, opt := range opts {
		err := opt(b)
		if err != nil {
			return nil, err
		}
	}

	if b.listenAddr == nil {
		addr, err := listenAddrForPort(DefaultListenPort)
		if err != nil {
			return nil, err
		}
		b.listenAddr = addr
	}

	b.idGen = newMsgIDGenerator(id)
	b.seen = seencache.New(b.capacity*b.seenRatio, seencache.WithClock(b.clock))
	b.subs = newSubscriptions()
	b.fwd = newForwarder(newSender(b.dialTimeout, b.writeTimeout))
	b.dlv = newDeliverer(b.capacity, b.tracer)

	rcv, err := listen(b.listenAddr, b.maxMessageSize, b.readTimeout, b.handleIncoming)
	if err != nil {
		return nil, err
	}
	b.rcv = rcv

	b.ctx, b.cancel = context.WithCancel(context.Background())

	go b.dlv.run()
	b.rcv.start()

	log.Debugf("node %s listening on %s", id, rcv.Multiaddr())
	return b, nil
}

// ID returns the node identifier.
func (b *Bus) ID() string {
	return b.id
}

// Addr returns the address the node actually listens on.
func (b *Bus) Addr() ma.Multiaddr {
	return b.rcv.Multiaddr()
}

// Publish sends payload to the node receiverID, or to every interested node
// when receiverID is AnyReceiver. Delivery is best effort: failures are
// logged and never reported to the caller.
func (b *Bus) Publish(receiverID, msgType string, payload interface{}) {
	env := &Envelope{
		MessageID:   b.idGen.Next(),
		SenderID:    b.id,
		ReceiverID:  receiverID,
		MessageType: msgType,
		TimeToLive:  b.initialTTL,
		Message:     payload,
	}

	// remember our own message so it is not handled again if it loops back
	b.seen.Add(env.MessageID)

	var accepts func(interface{}) bool
	if h, ok := b.subs.Get(msgType); ok {
		accepts = h.Accepts
	}

	data, err := EncodeEnvelope(env, accepts)
	if err != nil {
		log.Errorf("could not publish %s message: %s", msgType, err)
		return
	}

	stats.Record(b.ctx, metrics.MPublished.M(1))
	b.tracer.PublishMessage(env)

	n, err := b.fwd.Route(b.ctx, b.id, receiverID, data)
	if err != nil {
		log.Debugf("publishing %s: %s", env.MessageID, err)
	}
	log.Debugf("published %s message %s to %d connections", msgType, env.MessageID, n)
}

// PublishAny is Publish to AnyReceiver.
func (b *Bus) PublishAny(msgType string, payload interface{}) {
	b.Publish(AnyReceiver, msgType, payload)
}

// Subscribe registers h for its message type, replacing any previous
// handler for that type.
func (b *Bus) Subscribe(h Handler) {
	b.subs.Add(h)
}

// Unsubscribe removes the handler for msgType.
func (b *Bus) Unsubscribe(msgType string) {
	b.subs.Remove(msgType)
}

// Subscriptions lists the subscribed message types.
func (b *Bus) Subscriptions() []string {
	return b.subs.Types()
}

// AddConnection adds or replaces the outgoing connection to peer id.
func (b *Bus) AddConnection(id string, addr ma.Multiaddr) {
	b.fwd.AddConnection(id, addr)
}

// RemoveConnection removes the outgoing connection to peer id.
func (b *Bus) RemoveConnection(id string) {
	b.fwd.RemoveConnection(id)
}

// HasConnection reports whether there is an outgoing connection to peer id.
func (b *Bus) HasConnection(id string) bool {
	return b.fwd.HasConnection(id)
}

// Connections lists the peers with an outgoing connection.
func (b *Bus) Connections() []string {
	return b.fwd.Peers()
}

// Close stops accepting messages and stops the dispatch goroutine after the
// handler in progress returns. Queued deliveries are discarded.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.dlv.Stop()
		b.closeErr = multierr.Append(b.closeErr, b.rcv.Close())
	})
	return b.closeErr
}

// handleIncoming runs the receive pipeline for one raw envelope: duplicate
// check, relay, then local delivery.
func (b *Bus) handleIncoming(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while processing message: %v", r)
		}
	}()

	msgID := GetField(raw, FieldMessageID)
	if msgID == "" {
		log.Warnf("dropping message without %s", FieldMessageID)
		b.tracer.DropMessage("", "", "missing message id")
		return
	}

	if !b.seen.Add(msgID) {
		stats.Record(b.ctx, metrics.MDuplicates.M(1))
		b.tracer.DuplicateMessage(msgID)
		return
	}

	ttl, err := GetIntField(raw, FieldTimeToLive)
	if err != nil {
		log.Warnf("dropping message %s: %s", msgID, err)
		b.tracer.DropMessage(msgID, "", err.Error())
		return
	}
	ttl--

	senderID := GetField(raw, FieldSenderID)
	receiverID := GetField(raw, FieldReceiverID)

	if b.forward && ttl > 0 {
		b.relay(raw, msgID, senderID, receiverID, ttl)
	}

	msgType := GetField(raw, FieldMessageType)
	if !b.subs.Has(msgType) {
		return
	}
	if receiverID != b.id && receiverID != AnyReceiver {
		return
	}

	env, h, err := DecodeEnvelope(raw, b.subs)
	if err != nil {
		log.Warnf("dropping message %s: %s", msgID, err)
		b.tracer.DropMessage(msgID, msgType, err.Error())
		return
	}

	b.dlv.Enqueue(env, h)
}

// relay rewrites the hop count and sender of raw and passes it on, keeping
// it away from the neighbour it came from.
func (b *Bus) relay(raw []byte, msgID, from, to string, ttl int) {
	out, err := SetFields(raw, map[string]interface{}{
		FieldTimeToLive: ttl,
		FieldSenderID:   b.id,
	})
	if err != nil {
		log.Warnf("not forwarding message %s: %s", msgID, err)
		return
	}

	n, err := b.fwd.Route(b.ctx, from, to, out)
	if err != nil {
		log.Debugf("forwarding %s: %s", msgID, err)
	}
	if n > 0 {
		stats.Record(b.ctx, metrics.MForwarded.M(1))
		b.tracer.ForwardMessage(msgID, from, to, ttl)
	}
}
