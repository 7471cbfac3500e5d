package server

import (
	"time"

	"github.com/ws2dgo/server/internal/core/uid"
)

// Transport is the physical connection under a Client. Every method must be
// safe to call from any goroutine.
type Transport interface {
	// Send queues an encoded frame without blocking.
	Send(data []byte) bool
	Close()
	RemoteAddr() string
	// OnClose registers fn to run once the transport has closed, at once if
	// it already has.
	OnClose(fn func())
}

// Client is one accepted connection. Its id is the slot it holds in the
// server's connection set and is what the peer puts in byte 1 of every frame.
type Client struct {
	uid.Handle
	transport   Transport
	remote      string
	verified    bool
	connectedAt time.Time
}

func newClient(t Transport, now time.Time) *Client {
	return &Client{
		transport:   t,
		remote:      t.RemoteAddr(),
		verified:    true,
		connectedAt: now,
	}
}

func (c *Client) ID() int { return c.UID() }

// RemoteAddr is the address the client connected from.
func (c *Client) RemoteAddr() string { return c.remote }

// Verified reports whether the client answered the last heartbeat.
func (c *Client) Verified() bool { return c.verified }

func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// Transport returns the physical connection.
func (c *Client) Transport() Transport { return c.transport }
