package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	catrate "github.com/joeycumines/go-catrate"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Handler receives connection events from the network goroutines. Its
// methods are called concurrently and must not block for long.
type Handler interface {
	Connected(c *Conn)
	Frame(c *Conn, data []byte)
}

// Options configures a Listener.
type Options struct {
	BindAddress  string
	ClientDir    string // static files served at "/", empty disables
	MainHTML     string // file under ClientDir served for "/"
	OutQueueSize int
	ReadLimit    int64
	WriteTimeout time.Duration
	MaxSockets   int // concurrent sockets, 0 = unlimited

	RateLimit         bool
	FramesPerSecond   int // per connection, 0 = unlimited
	ConnectsPerMinute int // per remote host, 0 = unlimited
}

// Listener serves the static client and upgrades /ws requests.
type Listener struct {
	opts     Options
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	handler  Handler

	connects *catrate.Limiter
	frames   *catrate.Limiter

	nextID atomic.Uint64
	mu     sync.Mutex
	conns  map[uint64]*Conn

	closeOnce sync.Once
	log       *zap.Logger
}

// Listen binds the address in opts. Call Serve to start accepting.
func Listen(opts Options, h Handler, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", opts.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", opts.BindAddress, err)
	}
	if opts.MaxSockets > 0 {
		ln = netutil.LimitListener(ln, opts.MaxSockets)
	}

	l := &Listener{
		opts:     opts,
		listener: ln,
		handler:  h,
		conns:    make(map[uint64]*Conn),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if opts.RateLimit {
		if opts.ConnectsPerMinute > 0 {
			l.connects = catrate.NewLimiter(map[time.Duration]int{time.Minute: opts.ConnectsPerMinute})
		}
		if opts.FramesPerSecond > 0 {
			l.frames = catrate.NewLimiter(map[time.Duration]int{time.Second: opts.FramesPerSecond})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.serveWS)
	if opts.ClientDir != "" {
		mux.Handle("/", l.clientHandler())
	}
	l.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l, nil
}

// Serve accepts connections until Shutdown is called.
func (l *Listener) Serve() error {
	err := l.http.Serve(l.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting and closes every live connection.
func (l *Listener) Shutdown(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		err = l.http.Shutdown(ctx)

		l.mu.Lock()
		live := make([]*Conn, 0, len(l.conns))
		for _, c := range l.conns {
			live = append(live, c)
		}
		l.mu.Unlock()
		for _, c := range live {
			c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		}
	})
	return err
}

// Addr returns the listener's address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Live returns the number of open connections.
func (l *Listener) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *Listener) serveWS(w http.ResponseWriter, r *http.Request) {
	host := hostOf(r.RemoteAddr)
	if l.connects != nil {
		if _, ok := l.connects.Allow(host); !ok {
			l.log.Warn("connect rate exceeded", zap.String("host", host))
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if l.opts.ReadLimit > 0 {
		ws.SetReadLimit(l.opts.ReadLimit)
	}

	id := l.nextID.Add(1)
	c := newConn(ws, id, host, l.opts.OutQueueSize, l.opts.WriteTimeout, l.log)

	l.mu.Lock()
	l.conns[id] = c
	l.mu.Unlock()
	c.OnClose(func() {
		l.mu.Lock()
		delete(l.conns, id)
		l.mu.Unlock()
	})

	go c.writeLoop()
	l.handler.Connected(c)
	go c.readLoop(l.handler, l.allowFrame)
}

func (l *Listener) allowFrame(c *Conn) bool {
	if l.frames == nil {
		return true
	}
	_, ok := l.frames.Allow(c.ID)
	return ok
}

func (l *Listener) clientHandler() http.Handler {
	files := http.FileServer(http.Dir(l.opts.ClientDir))
	if l.opts.MainHTML == "" {
		return files
	}
	main := filepath.Join(l.opts.ClientDir, filepath.Clean("/"+l.opts.MainHTML))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, main)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
