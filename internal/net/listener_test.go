package net

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type frame struct {
	conn *Conn
	data []byte
}

type recorder struct {
	connected chan *Conn
	frames    chan frame
	echo      bool
}

func newRecorder(echo bool) *recorder {
	return &recorder{
		connected: make(chan *Conn, 8),
		frames:    make(chan frame, 64),
		echo:      echo,
	}
}

func (r *recorder) Connected(c *Conn) { r.connected <- c }

func (r *recorder) Frame(c *Conn, data []byte) {
	if r.echo {
		c.Send(data)
	}
	r.frames <- frame{conn: c, data: data}
}

func testOptions() Options {
	return Options{
		BindAddress:  "127.0.0.1:0",
		OutQueueSize: 8,
		ReadLimit:    1024,
		WriteTimeout: time.Second,
	}
}

func startListener(t *testing.T, opts Options, h Handler) *Listener {
	t.Helper()
	l, err := Listen(opts, h, zap.NewNop())
	require.NoError(t, err)
	go l.Serve()
	t.Cleanup(func() { l.Shutdown(context.Background()) })
	return l
}

func dial(t *testing.T, l *Listener) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitConn(t *testing.T, r *recorder) *Conn {
	t.Helper()
	select {
	case c := <-r.connected:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func TestFramesFlowBothWays(t *testing.T) {
	rec := newRecorder(true)
	l := startListener(t, testOptions(), rec)
	ws := dial(t, l)
	c := waitConn(t, rec)
	assert.Equal(t, "127.0.0.1", c.IP)
	assert.Equal(t, 1, l.Live())

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{3, 0, 9}))
	select {
	case f := <-rec.frames:
		assert.Same(t, c, f.conn)
		assert.Equal(t, []byte{3, 0, 9}, f.data)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{3, 0, 9}, data)
}

func TestTextMessagesIgnored(t *testing.T) {
	rec := newRecorder(false)
	l := startListener(t, testOptions(), rec)
	ws := dial(t, l)
	waitConn(t, rec)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	select {
	case f := <-rec.frames:
		assert.Equal(t, []byte{1, 2}, f.data)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
}

func TestClientCloseRunsOnClose(t *testing.T) {
	rec := newRecorder(false)
	l := startListener(t, testOptions(), rec)
	ws := dial(t, l)
	c := waitConn(t, rec)

	done := make(chan struct{})
	c.OnClose(func() { close(done) })
	ws.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.True(t, c.IsClosed())
	assert.False(t, c.Send([]byte{0}))
	assert.Eventually(t, func() bool { return l.Live() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOnCloseAfterCloseRunsImmediately(t *testing.T) {
	rec := newRecorder(false)
	l := startListener(t, testOptions(), rec)
	dial(t, l)
	c := waitConn(t, rec)

	c.Close()
	c.Close()
	called := 0
	c.OnClose(func() { called++ })
	assert.Equal(t, 1, called)
}

func TestServerCloseDisconnectsClient(t *testing.T) {
	rec := newRecorder(false)
	l := startListener(t, testOptions(), rec)
	ws := dial(t, l)
	c := waitConn(t, rec)

	c.CloseWithReason(websocket.ClosePolicyViolation, "spoofed")
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestFrameRateLimitClosesConnection(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = true
	opts.FramesPerSecond = 2
	rec := newRecorder(false)
	l := startListener(t, opts, rec)
	ws := dial(t, l)
	c := waitConn(t, rec)

	done := make(chan struct{})
	c.OnClose(func() { close(done) })
	for i := 0; i < 5; i++ {
		ws.WriteMessage(websocket.BinaryMessage, []byte{0, 0})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
	assert.Len(t, rec.frames, 2)
}

func TestConnectRateLimit(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = true
	opts.ConnectsPerMinute = 1
	rec := newRecorder(false)
	l := startListener(t, opts, rec)
	dial(t, l)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	rec := newRecorder(false)
	l, err := Listen(testOptions(), rec, zap.NewNop())
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- l.Serve() }()

	dial(t, l)
	c := waitConn(t, rec)
	require.NoError(t, l.Shutdown(context.Background()))
	assert.True(t, c.IsClosed())

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServesClientFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "game.html"), []byte("<canvas>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("let x"), 0o644))

	opts := testOptions()
	opts.ClientDir = dir
	opts.MainHTML = "game.html"
	l := startListener(t, opts, newRecorder(false))
	base := "http://" + l.Addr().String()

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
