package floodbus

import (
	"context"
	"sort"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	"go.opencensus.io/stats"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/floodbus/go-floodbus/metrics"
)

// messageSender delivers encoded messages to a single endpoint.
type messageSender interface {
	Send(ctx context.Context, addr ma.Multiaddr, data []byte) error
}

// forwarder holds the outgoing connections and decides which of them get a
// message.
type forwarder struct {
	lk    sync.RWMutex
	peers map[string]ma.Multiaddr

	sender messageSender
}

func newForwarder(s messageSender) *forwarder {
	return &forwarder{
		peers:  make(map[string]ma.Multiaddr),
		sender: s,
	}
}

func (f *forwarder) AddConnection(id string, addr ma.Multiaddr) {
	f.lk.Lock()
	f.peers[id] = addr
	f.lk.Unlock()
}

func (f *forwarder) RemoveConnection(id string) {
	f.lk.Lock()
	delete(f.peers, id)
	f.lk.Unlock()
}

func (f *forwarder) HasConnection(id string) bool {
	f.lk.RLock()
	defer f.lk.RUnlock()

	_, ok := f.peers[id]
	return ok
}

func (f *forwarder) Peers() []string {
	f.lk.RLock()
	out := make([]string, 0, len(f.peers))
	for id := range f.peers {
		out = append(out, id)
	}
	f.lk.RUnlock()

	sort.Strings(out)
	return out
}

// targets picks the neighbours for a message addressed to target that came in
// from exclude. A direct connection to target wins outright; otherwise the
// message floods to every neighbour but exclude.
func (f *forwarder) targets(exclude, target string) map[string]ma.Multiaddr {
	f.lk.RLock()
	defer f.lk.RUnlock()

	if addr, ok := f.peers[target]; ok {
		return map[string]ma.Multiaddr{target: addr}
	}

	out := make(map[string]ma.Multiaddr, len(f.peers))
	for id, addr := range f.peers {
		if id == exclude {
			continue
		}
		out[id] = addr
	}
	return out
}

// Route sends data to the neighbours selected by targets. Sends run
// concurrently and independently; the returned error aggregates every
// failed send and is only meant for logging.
func (f *forwarder) Route(ctx context.Context, exclude, target string, data []byte) (int, error) {
	peers := f.targets(exclude, target)

	var (
		mx   sync.Mutex
		errs error
		eg   errgroup.Group
	)
	for id, addr := range peers {
		id, addr := id, addr
		eg.Go(func() error {
			if err := f.sender.Send(ctx, addr, data); err != nil {
				stats.Record(ctx, metrics.MSendErrors.M(1))
				mx.Lock()
				errs = multierr.Append(errs, err)
				mx.Unlock()
				return nil
			}
			log.Debugf("sent message to %s", id)
			return nil
		})
	}
	_ = eg.Wait()

	return len(peers), errs
}
