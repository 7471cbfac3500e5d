package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is one upgraded WebSocket connection. Network I/O runs in dedicated
// goroutines; frames are handed to the Handler as they arrive and outbound
// frames go through a bounded queue drained by the writer goroutine.
type Conn struct {
	ID uint64
	ws *websocket.Conn

	OutQueue chan []byte // writer goroutine reads from here

	IP     string // host part of the remote address
	remote string

	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	mu      sync.Mutex // protects onClose
	onClose []func()

	log *zap.Logger
}

func newConn(ws *websocket.Conn, id uint64, ip string, outSize int, writeTimeout time.Duration, log *zap.Logger) *Conn {
	return &Conn{
		ID:           id,
		ws:           ws,
		OutQueue:     make(chan []byte, outSize),
		IP:           ip,
		remote:       ws.RemoteAddr().String(),
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("conn", id), zap.String("remote", ws.RemoteAddr().String())),
	}
}

// RemoteAddr returns the peer's address as host:port.
func (c *Conn) RemoteAddr() string { return c.remote }

// Send queues a frame for the writer goroutine. It never blocks: when the
// queue is full the connection is closed and false is returned.
func (c *Conn) Send(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.OutQueue <- data:
		return true
	case <-c.closeCh:
		return false
	default:
		c.log.Warn("output queue full, closing slow connection")
		c.Close()
		return false
	}
}

// OnClose registers fn to run once the connection has closed. If it is
// already closed fn runs immediately.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if !c.closed.Load() {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Close shuts the socket down and runs the close callbacks. Safe to call
// from any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		callbacks := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		close(c.closeCh)
		c.ws.Close()
		for _, fn := range callbacks {
			fn()
		}
	})
}

// CloseWithReason sends a WebSocket close frame before closing.
func (c *Conn) CloseWithReason(code int, reason string) {
	if !c.closed.Load() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.Close()
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// readLoop reads binary messages and hands them to h until the socket
// fails or allow rejects a frame.
func (c *Conn) readLoop(h Handler, allow func(*Conn) bool) {
	defer c.Close()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			c.log.Debug("ignoring non-binary message", zap.Int("type", kind))
			continue
		}
		if !allow(c) {
			c.log.Warn("frame rate exceeded, closing connection")
			c.CloseWithReason(websocket.ClosePolicyViolation, "rate limit")
			return
		}
		h.Frame(c, data)
	}
}

// writeLoop drains OutQueue onto the socket.
func (c *Conn) writeLoop() {
	defer c.Close()

	for {
		select {
		case data := <-c.OutQueue:
			if !c.writeOne(data) {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) writeOne(data []byte) bool {
	if len(data) > 0 {
		c.log.Debug("TX", zap.Uint8("code", data[0]), zap.Int("len", len(data)))
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if !c.closed.Load() {
			c.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
