package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connState tracks where a connection is in its lifecycle.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateActive
	stateIdleSuspected
	stateReaping
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateActive:
		return "active"
	case stateIdleSuspected:
		return "idle_suspected"
	case stateReaping:
		return "reaping"
	default:
		return "closed"
	}
}

// wsConn owns one gorilla connection. Data frames go through a bounded queue
// drained by a single writer goroutine; control frames use WriteControl,
// which gorilla allows concurrently with the writer.
type wsConn struct {
	conn         *websocket.Conn
	outbound     chan []byte
	done         chan struct{}
	writerDone   chan struct{}
	writeTimeout time.Duration
	closeOnce    sync.Once

	mu          sync.Mutex
	state       connState
	lastPing    time.Time
	pingPending time.Time
}

func newWSConn(conn *websocket.Conn, queueSize int, writeTimeout time.Duration, now time.Time) *wsConn {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &wsConn{
		conn:         conn,
		outbound:     make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		writeTimeout: writeTimeout,
		state:        stateConnecting,
		lastPing:     now,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("realtime: write frame: %v", err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// Enqueue queues frame without blocking.
func (c *wsConn) Enqueue(frame []byte) error {
	if frame == nil {
		return nil
	}
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return errConnectionClosed
	default:
		return errSendQueueFull
	}
}

// Ping sends a ping control frame and records it as outstanding.
func (c *wsConn) Ping(now time.Time) error {
	c.mu.Lock()
	c.lastPing = now
	if c.pingPending.IsZero() {
		c.pingPending = now
	}
	if c.state == stateActive {
		c.state = stateIdleSuspected
	}
	c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.controlTimeout()))
}

// PingOutstanding reports when the oldest unanswered ping was sent.
func (c *wsConn) PingOutstanding() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingPending, !c.pingPending.IsZero()
}

// LastPing reports when the last ping was sent, or when the connection was
// accepted if none has been.
func (c *wsConn) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// markAlive clears any outstanding ping.
func (c *wsConn) markAlive() {
	c.mu.Lock()
	c.pingPending = time.Time{}
	if c.state == stateIdleSuspected {
		c.state = stateActive
	}
	c.mu.Unlock()
}

func (c *wsConn) setState(state connState) {
	c.mu.Lock()
	if c.state != stateClosed {
		c.state = state
	}
	c.mu.Unlock()
}

func (c *wsConn) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close sends a close frame with code and closes the socket. Only the first
// call has any effect.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(stateClosed)
		close(c.done)
		if code != websocket.CloseAbnormalClosure {
			message := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(c.controlTimeout()))
		}
		_ = c.conn.Close()
	})
}

func (c *wsConn) controlTimeout() time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return time.Second
}
