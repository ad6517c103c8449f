package floodbus

import (
	"context"
	"sync"

	"go.opencensus.io/stats"

	"github.com/floodbus/go-floodbus/metrics"
)

type delivery struct {
	env     *Envelope
	handler Handler
}

// deliverer hands decoded payloads to their handlers on a single goroutine,
// in the order they were enqueued. The queue is bounded; when it is full new
// deliveries are dropped rather than blocking the network side.
type deliverer struct {
	queue chan delivery

	tracer *busTracer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newDeliverer(capacity int, tracer *busTracer) *deliverer {
	return &deliverer{
		queue:  make(chan delivery, capacity),
		tracer: tracer,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue queues a delivery without blocking. It reports false if the queue
// was full or the deliverer has been stopped.
func (d *deliverer) Enqueue(env *Envelope, h Handler) bool {
	select {
	case <-d.stop:
		return false
	default:
	}

	select {
	case d.queue <- delivery{env: env, handler: h}:
		return true
	default:
		stats.Record(context.Background(), metrics.MDropped.M(1))
		d.tracer.DropMessage(env.MessageID, env.MessageType, "delivery queue full")
		return false
	}
}

func (d *deliverer) run() {
	defer close(d.done)

	for {
		// check stop first so that a busy queue cannot starve it
		select {
		case <-d.stop:
			return
		default:
		}

		select {
		case dv := <-d.queue:
			d.deliver(dv)
		case <-d.stop:
			return
		}
	}
}

func (d *deliverer) deliver(dv delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler for %s panicked: %v", dv.env.MessageType, r)
		}
	}()

	dv.handler.Handle(dv.env.Message)
	stats.Record(context.Background(), metrics.MDelivered.M(1))
	d.tracer.DeliverMessage(dv.env)
}

// Stop makes the dispatch goroutine exit after the delivery in progress.
// Queued deliveries are discarded.
func (d *deliverer) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Done is closed once the dispatch goroutine has exited.
func (d *deliverer) Done() <-chan struct{} {
	return d.done
}

func (d *deliverer) Len() int {
	return len(d.queue)
}
