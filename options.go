package floodbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	// DefaultInitialTTL is the hop budget given to published messages.
	DefaultInitialTTL = 5

	// DefaultListenPort is the TCP port a node listens on when no listen
	// address is configured.
	DefaultListenPort = 5678

	// DefaultMessageCapacity bounds the delivery queue.
	DefaultMessageCapacity = 1000

	// DefaultSeenCacheRatio is how many message ids are remembered per slot
	// of message capacity.
	DefaultSeenCacheRatio = 10

	// DefaultMaxMessageSize is 1mb.
	DefaultMaxMessageSize = 1 << 20

	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadTimeout  = 30 * time.Second
)

// Option configures a Bus.
type Option func(*Bus) error

// WithListenAddr sets the multiaddr the node accepts messages on, e.g.
// /ip4/127.0.0.1/tcp/4001. A tcp port of 0 picks a free port; see Bus.Addr.
func WithListenAddr(addr ma.Multiaddr) Option {
	return func(b *Bus) error {
		if addr == nil {
			return errors.New("listen address must not be nil")
		}
		b.listenAddr = addr
		return nil
	}
}

// WithListenPort listens on the given TCP port on all IPv4 interfaces.
func WithListenPort(port int) Option {
	return func(b *Bus) error {
		addr, err := listenAddrForPort(port)
		if err != nil {
			return err
		}
		b.listenAddr = addr
		return nil
	}
}

func listenAddrForPort(port int) (ma.Multiaddr, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid listen port %d", port)
	}
	return ma.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port))
}

// WithInitialTTL sets how many hops a published message may travel.
func WithInitialTTL(ttl int) Option {
	return func(b *Bus) error {
		if ttl <= 0 {
			return errors.New("initial time to live must always be positive")
		}
		b.initialTTL = ttl
		return nil
	}
}

// WithMessageCapacity sets how many received messages may wait for
// delivery. The seen-message cache is sized from it as well.
func WithMessageCapacity(capacity int) Option {
	return func(b *Bus) error {
		if capacity <= 0 {
			return errors.New("message capacity must always be positive")
		}
		b.capacity = capacity
		return nil
	}
}

// WithSeenCacheRatio sets the seen-message cache size as a multiple of the
// message capacity.
func WithSeenCacheRatio(ratio int) Option {
	return func(b *Bus) error {
		if ratio <= 0 {
			return errors.New("seen cache ratio must always be positive")
		}
		b.seenRatio = ratio
		return nil
	}
}

// WithForwarding enables or disables relaying received messages to
// neighbours (enabled by default).
func WithForwarding(enabled bool) Option {
	return func(b *Bus) error {
		b.forward = enabled
		return nil
	}
}

// WithMaxMessageSize sets the largest inbound message accepted, in bytes.
func WithMaxMessageSize(maxMessageSize int) Option {
	return func(b *Bus) error {
		if maxMessageSize <= 0 {
			return errors.New("max message size must always be positive")
		}
		b.maxMessageSize = maxMessageSize
		return nil
	}
}

// WithDialTimeout bounds connecting to a neighbour. Zero disables the bound.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Bus) error {
		if d < 0 {
			return errors.New("dial timeout must not be negative")
		}
		b.dialTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds writing a message to a neighbour. Zero disables
// the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bus) error {
		if d < 0 {
			return errors.New("write timeout must not be negative")
		}
		b.writeTimeout = d
		return nil
	}
}

// WithReadTimeout bounds reading an inbound message. Zero disables the
// bound.
func WithReadTimeout(d time.Duration) Option {
	return func(b *Bus) error {
		if d < 0 {
			return errors.New("read timeout must not be negative")
		}
		b.readTimeout = d
		return nil
	}
}

// WithClock sets the time source of the seen-message cache.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) error {
		b.clock = c
		return nil
	}
}

// WithEventTracer provides a tracer for the bus
func WithEventTracer(tracer EventTracer) Option {
	return func(b *Bus) error {
		if tracer == nil {
			b.tracer = nil
			return nil
		}
		b.tracer = &busTracer{tracer: tracer, id: b.id}
		return nil
	}
}
