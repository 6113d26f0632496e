// Package transport provides the reconnecting message channel both client
// components (session and SFU bridge) speak over. Handlers are registered
// on the channel object and survive reconnects; every reconnect dials a
// fresh socket.
package transport

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

var errAlreadyConnected = errors.New("channel already connected")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventReconnecting
	EventMessage
)

// Event is delivered to registered handlers. Attempt is the reconnect
// attempt counter, set on EventReconnecting and EventConnected.
type Event struct {
	Kind    EventKind
	Message protocol.Message
	Attempt int
}

type Handler func(Event)

// Channel is a reconnecting websocket. Send fails loudly while not
// connected instead of queuing; callers re-send after a connected event.
type Channel struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	uri           string
	autoReconnect bool
	backoff       time.Duration
	attempts      int
	closed        bool
	retryTimer    *time.Timer

	handlersMu sync.Mutex
	handlers   map[EventKind]map[int]Handler
	nextID     int
}

func NewChannel() *Channel {
	return &Channel{
		handlers: map[EventKind]map[int]Handler{},
	}
}

// Connect dials uri and starts the read loop. With autoReconnect an
// unexpected close schedules a redial after backoff.
func (c *Channel) Connect(uri string, autoReconnect bool, backoff time.Duration) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return errAlreadyConnected
	}
	c.uri = uri
	c.autoReconnect = autoReconnect
	c.backoff = backoff
	c.closed = false
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial()
}

func (c *Channel) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.uri, nil)
	if err != nil {
		c.mu.Lock()
		if c.autoReconnect && !c.closed {
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			return err
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(Event{Kind: EventDisconnected})
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	attempt := c.attempts
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected, Attempt: attempt})
	go c.readLoop(conn)
	return nil
}

// scheduleReconnectLocked bumps the attempt counter and arms the retry
// timer; callers hold c.mu.
func (c *Channel) scheduleReconnectLocked() {
	c.state = StateReconnecting
	c.attempts++
	attempt := c.attempts
	c.retryTimer = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		if err := c.dial(); err != nil {
			log.Printf("reconnect attempt %d failed: %v", attempt, err)
		}
	})

	go c.emit(Event{Kind: EventReconnecting, Attempt: attempt})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, perr := protocol.ParseMessage(frame)
		if perr != nil {
			log.Printf("dropping unparseable frame: %v", perr)
			continue
		}
		c.emit(Event{Kind: EventMessage, Message: msg})
	}

	conn.Close()
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection superseded this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.closed || !c.autoReconnect {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(Event{Kind: EventDisconnected})
		return
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// Send writes one message and reports success. It never queues: sending
// while not connected returns false.
func (c *Channel) Send(msg protocol.Message) bool {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("failed to encode %s message: %v", msg.Type, err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("write failed: %v", err)
		return false
	}
	return true
}

// Disconnect closes the channel and cancels any pending reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed && c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts reports how many reconnects have been scheduled since Connect,
// letting callers distinguish "still retrying" from "gave up".
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// AddEventHandler registers fn for kind and returns a removal id.
func (c *Channel) AddEventHandler(kind EventKind, fn Handler) int {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[kind] == nil {
		c.handlers[kind] = map[int]Handler{}
	}
	c.handlers[kind][id] = fn
	return id
}

// RemoveEventHandler is a no-op for unknown ids.
func (c *Channel) RemoveEventHandler(kind EventKind, id int) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers[kind], id)
}

func (c *Channel) emit(evt Event) {
	c.handlersMu.Lock()
	fns := make([]Handler, 0, len(c.handlers[evt.Kind]))
	for _, fn := range c.handlers[evt.Kind] {
		fns = append(fns, fn)
	}
	c.handlersMu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
