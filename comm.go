package floodbus

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	pkgerrors "github.com/pkg/errors"
	"go.opencensus.io/stats"

	"github.com/floodbus/go-floodbus/metrics"
)

// ErrMessageTooLarge is returned for inbound messages over the size limit.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// acceptBackoff is how long the accept loop waits after an accept error
// before trying again.
const acceptBackoff = 50 * time.Millisecond

// sender writes one message per connection: dial, write, close.
type sender struct {
	dialer       manet.Dialer
	writeTimeout time.Duration
}

func newSender(dialTimeout, writeTimeout time.Duration) *sender {
	return &sender{
		dialer:       manet.Dialer{Dialer: net.Dialer{Timeout: dialTimeout}},
		writeTimeout: writeTimeout,
	}
}

func (s *sender) Send(ctx context.Context, addr ma.Multiaddr, data []byte) error {
	c, err := s.dialer.DialContext(ctx, addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "dialing %s", addr)
	}
	defer c.Close()

	if s.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return pkgerrors.Wrapf(err, "setting write deadline for %s", addr)
		}
	}

	if _, err := c.Write(data); err != nil {
		return pkgerrors.Wrapf(err, "writing to %s", addr)
	}

	// the receiver reads until EOF
	if hc, ok := c.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			return pkgerrors.Wrapf(err, "closing write side to %s", addr)
		}
	}

	stats.Record(ctx, metrics.MOutgoingMsgs.M(int64(len(data))))
	return nil
}

// receiver accepts inbound connections and reads one message from each.
type receiver struct {
	list        manet.Listener
	maxSize     int
	readTimeout time.Duration
	handle      func([]byte)

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func listen(addr ma.Multiaddr, maxSize int, readTimeout time.Duration, handle func([]byte)) (*receiver, error) {
	list, err := manet.Listen(addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "listening on %s", addr)
	}

	return &receiver{
		list:        list,
		maxSize:     maxSize,
		readTimeout: readTimeout,
		handle:      handle,
		closed:      make(chan struct{}),
	}, nil
}

func (r *receiver) Multiaddr() ma.Multiaddr {
	return r.list.Multiaddr()
}

func (r *receiver) start() {
	r.wg.Add(1)
	go r.acceptLoop()
}

func (r *receiver) acceptLoop() {
	defer r.wg.Done()

	for {
		c, err := r.list.Accept()
		if err != nil {
			select {
			case <-r.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			log.Warnf("error accepting connection on %s: %s", r.list.Multiaddr(), err)
			time.Sleep(acceptBackoff)
			continue
		}

		go r.handleConn(c)
	}
}

func (r *receiver) handleConn(c manet.Conn) {
	defer c.Close()

	data, err := r.readMessage(c)
	if err != nil {
		log.Infof("error reading message from %s: %s", c.RemoteMultiaddr(), err)
		return
	}

	log.Debugf("received %d bytes from %s", len(data), c.RemoteMultiaddr())
	stats.Record(context.Background(), metrics.MIncomingMsgs.M(int64(len(data))))
	r.handle(data)
}

// readMessage reads until the peer closes its write side.
func (r *receiver) readMessage(c manet.Conn) ([]byte, error) {
	if r.readTimeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
			return nil, err
		}
	}

	// grows from the pool as data arrives, so small messages stay small
	var buf pool.Buffer
	defer buf.Reset()

	if _, err := buf.ReadFrom(io.LimitReader(c, int64(r.maxSize)+1)); err != nil {
		return nil, err
	}
	if buf.Len() > r.maxSize {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}

// Close stops the accept loop and waits for it to exit. Connections already
// being read are left to finish.
func (r *receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.list.Close()
	})
	r.wg.Wait()
	return err
}
