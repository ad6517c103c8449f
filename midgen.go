package floodbus

import (
	"strconv"
	"sync/atomic"
)

// msgIDGenerator hands out message ids of the form "<origin>:<n>", with n
// counting up from 1 for the lifetime of the generator.
type msgIDGenerator struct {
	// accessed atomically; keep first for 64-bit alignment
	counter uint64

	origin string
}

func newMsgIDGenerator(origin string) *msgIDGenerator {
	return &msgIDGenerator{origin: origin}
}

// Next returns a fresh id. Safe for concurrent use.
func (m *msgIDGenerator) Next() string {
	n := atomic.AddUint64(&m.counter, 1)
	return m.origin + ":" + strconv.FormatUint(n, 10)
}
