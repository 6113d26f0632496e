package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// ErrWaitTimeout reports that no matching response arrived in time.
var ErrWaitTimeout = errors.New("timed out waiting for response")

type waitResult struct {
	msg protocol.Message
	err error
}

// Wait is one outstanding request/response registration.
type Wait struct {
	id      uint64
	msgType protocol.MessageType
	ch      chan waitResult
	timer   *time.Timer
}

// Await blocks until the wait resolves: a matching message, a failure or
// the deadline.
func (w *Wait) Await() (protocol.Message, error) {
	res := <-w.ch
	return res.msg, res.err
}

// Correlator turns the push-style wire protocol into request/response
// calls. Entries are keyed by a monotonic request id so concurrent
// in-flight waits for the same message type stay distinct; an inbound
// message resolves the oldest matching entry. Exactly one of resolve,
// fail or timeout fires per entry, and the entry is always removed.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Wait
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: map[uint64]*Wait{}}
}

// Expect registers a wait for msgType with a deadline.
func (c *Correlator) Expect(msgType protocol.MessageType, timeout time.Duration) *Wait {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	w := &Wait{
		id:      c.nextID,
		msgType: msgType,
		ch:      make(chan waitResult, 1),
	}
	c.pending[w.id] = w
	w.timer = time.AfterFunc(timeout, func() {
		c.finish(w.id, waitResult{err: fmt.Errorf("%w: %s", ErrWaitTimeout, msgType)})
	})
	return w
}

// Dispatch resolves the oldest entry waiting for msg's type and reports
// whether the message was claimed by a waiter.
func (c *Correlator) Dispatch(msg protocol.Message) bool {
	c.mu.Lock()
	var oldest *Wait
	for _, w := range c.pending {
		if w.msgType != msg.Type {
			continue
		}
		if oldest == nil || w.id < oldest.id {
			oldest = w
		}
	}
	c.mu.Unlock()

	if oldest == nil {
		return false
	}
	c.finish(oldest.id, waitResult{msg: msg})
	return true
}

// FailAll rejects every outstanding wait, used on teardown or disconnect.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	waits := make([]*Wait, 0, len(c.pending))
	for _, w := range c.pending {
		waits = append(waits, w)
	}
	c.mu.Unlock()

	for _, w := range waits {
		c.finish(w.id, waitResult{err: err})
	}
}

// finish removes the entry under the lock, guaranteeing single delivery,
// then cancels its timer. Stopping an already-fired timer is a no-op.
func (c *Correlator) finish(id uint64, res waitResult) {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	w.timer.Stop()
	w.ch <- res
}
