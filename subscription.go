package floodbus

import (
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Handler receives the payloads of one message type.
//
// Decode turns the raw JSON payload into the typed value passed to Handle.
// Accepts reports whether a value may be published under Type. Handle is
// only ever called from the bus's single dispatch goroutine.
type Handler interface {
	Type() string
	Accepts(v interface{}) bool
	Decode(raw []byte) (interface{}, error)
	Handle(v interface{})
}

// NoHandler is what a subscription lookup yields when nothing is registered.
var NoHandler Handler

type typedHandler[T any] struct {
	msgType string
	fn      func(T)
}

// NewHandler builds a Handler for payloads of type T published under msgType.
func NewHandler[T any](msgType string, fn func(T)) Handler {
	return &typedHandler[T]{msgType: msgType, fn: fn}
}

func (h *typedHandler[T]) Type() string {
	return h.msgType
}

func (h *typedHandler[T]) Accepts(v interface{}) bool {
	switch v.(type) {
	case T, *T:
		return true
	default:
		return false
	}
}

func (h *typedHandler[T]) Decode(raw []byte) (interface{}, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding %s", h.msgType)
	}
	return v, nil
}

func (h *typedHandler[T]) Handle(v interface{}) {
	h.fn(v.(T))
}

// subscriptions maps message types to the handler registered for them.
type subscriptions struct {
	lk sync.RWMutex
	m  map[string]Handler
}

var _ Registry = (*subscriptions)(nil)

func newSubscriptions() *subscriptions {
	return &subscriptions{m: make(map[string]Handler)}
}

// Add registers h, replacing any handler already registered for its type.
func (s *subscriptions) Add(h Handler) {
	s.lk.Lock()
	s.m[h.Type()] = h
	s.lk.Unlock()
}

func (s *subscriptions) Remove(msgType string) {
	s.lk.Lock()
	delete(s.m, msgType)
	s.lk.Unlock()
}

func (s *subscriptions) Has(msgType string) bool {
	s.lk.RLock()
	defer s.lk.RUnlock()

	_, ok := s.m[msgType]
	return ok
}

// Get returns the handler for msgType, or NoHandler and false.
func (s *subscriptions) Get(msgType string) (Handler, bool) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	h, ok := s.m[msgType]
	if !ok {
		return NoHandler, false
	}
	return h, true
}

func (s *subscriptions) Types() []string {
	s.lk.RLock()
	out := make([]string, 0, len(s.m))
	for t := range s.m {
		out = append(out, t)
	}
	s.lk.RUnlock()

	sort.Strings(out)
	return out
}
