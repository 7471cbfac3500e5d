package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ws2dgo/server/internal/config"
	"github.com/ws2dgo/server/internal/core/event"
	"github.com/ws2dgo/server/internal/core/sched"
	"github.com/ws2dgo/server/internal/core/system"
	"github.com/ws2dgo/server/internal/core/uid"
	"github.com/ws2dgo/server/internal/net/packet"
	"go.uber.org/zap"
)

// ErrSpoofed is returned when a frame claims a sender id that does not belong
// to the connection it arrived on.
var ErrSpoofed = errors.New("server: claimed sender does not match connection")

// Disconnect reasons, reported in ConnectionClosed events and the journal.
const (
	ReasonClosed    = "closed"
	ReasonHeartbeat = "heartbeat timeout"
	ReasonKicked    = "kicked"
	ReasonShutdown  = "shutdown"
)

// Journal receives connection lifecycle records. Record must not block.
type Journal interface {
	Record(kind string, clientID int, remote, reason string)
}

type nopJournal struct{}

func (nopJournal) Record(string, int, string, string) {}

// Packets is the packet registry the server dispatches with.
type Packets = packet.Registry[*Server, *Client]

// Server owns every connection, task and packet type. Its state is only
// touched by the loop goroutine; network goroutines reach it through the
// inbox.
type Server struct {
	cfg config.NetworkConfig

	clients *uid.Set[*Client]
	tasks   *sched.Scheduler
	packets *Packets
	bus     *event.Bus
	runner  *system.Runner
	pacer   *Pacer

	inbox   chan func()
	closeMu sync.Mutex
	closing []*Client // clients whose transport closed, drained each tick

	stop     chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool

	journal Journal
	now     func() time.Time
	log     *zap.Logger
}

func New(cfg config.NetworkConfig, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		clients: uid.NewBoundedSet[*Client](cfg.MaxConnections),
		tasks:   sched.NewScheduler(log.Named("sched")),
		packets: packet.NewRegistry[*Server, *Client](log.Named("packet")),
		bus:     event.NewBus(),
		runner:  system.NewRunner(),
		pacer:   NewPacer(cfg.TicksPerSecond, time.Now()),
		inbox:   make(chan func(), cfg.InboxSize),
		stop:    make(chan struct{}),
		journal: nopJournal{},
		now:     time.Now,
		log:     log,
	}
	s.runner.Register(InputSystem{srv: s})
	s.runner.Register(EventDispatchSystem{srv: s})
	s.runner.Register(SchedulerSystem{srv: s})
	return s
}

// SetJournal routes connection lifecycle records to j.
func (s *Server) SetJournal(j Journal) {
	if j == nil {
		j = nopJournal{}
	}
	s.journal = j
}

// RegisterPresets registers the packet types every game shares: Heartbeat
// (code 0) and ClientUID (code 1). It must run before any other registration.
func (s *Server) RegisterPresets() error {
	if _, err := packet.Register(s.packets, packet.NewHeartbeat, handleHeartbeat); err != nil {
		return fmt.Errorf("register heartbeat: %w", err)
	}
	if _, err := packet.Register[*Server, *Client](s.packets, packet.NewClientUID, nil); err != nil {
		return fmt.Errorf("register client uid: %w", err)
	}
	return nil
}

func (s *Server) Config() config.NetworkConfig { return s.cfg }
func (s *Server) Scheduler() *sched.Scheduler  { return s.tasks }
func (s *Server) Packets() *Packets            { return s.packets }
func (s *Server) Bus() *event.Bus              { return s.bus }
func (s *Server) Runner() *system.Runner       { return s.runner }
func (s *Server) Pacer() *Pacer                { return s.pacer }

// Client returns the connection holding id.
func (s *Server) Client(id int) (*Client, bool) { return s.clients.Get(id) }

// ClientCount returns the number of live connections.
func (s *Server) ClientCount() int { return s.clients.Len() }

// ForEachClient visits live connections in id order. fn may disconnect.
func (s *Server) ForEachClient(fn func(*Client)) { s.clients.ForEach(fn) }

// Send encodes p and queues it on c's transport.
func (s *Server) Send(c *Client, p packet.Payload) error {
	data, err := s.packets.Encode(p)
	if err != nil {
		return err
	}
	if !c.transport.Send(data) {
		return fmt.Errorf("send %T to client %d: transport closed", p, c.ID())
	}
	return nil
}

// Broadcast sends p to every live connection.
func (s *Server) Broadcast(p packet.Payload) error {
	data, err := s.packets.Encode(p)
	if err != nil {
		return err
	}
	s.clients.ForEach(func(c *Client) { c.transport.Send(data) })
	return nil
}

// Post queues fn to run on the loop goroutine at the start of the next tick.
// It blocks while the inbox is full and returns false once the server is
// stopping.
func (s *Server) Post(fn func()) bool {
	if s.stopping.Load() {
		return false
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.stop:
		return false
	}
}

// Accept hands a new transport to the loop.
func (s *Server) Accept(t Transport) {
	if !s.Post(func() { s.attach(t) }) {
		t.Close()
	}
}

// Receive hands one inbound frame to the loop.
func (s *Server) Receive(t Transport, data []byte) {
	s.Post(func() { s.handleFrame(t, data) })
}

func (s *Server) attach(t Transport) {
	if s.clients.IsFull() {
		s.log.Info("server full, refusing connection", zap.String("remote", t.RemoteAddr()))
		s.journal.Record("refused", uid.None, t.RemoteAddr(), "server full")
		t.Close()
		return
	}
	c := newClient(t, s.now())
	if _, err := s.clients.Add(c); err != nil {
		s.log.Info("refusing connection", zap.String("remote", t.RemoteAddr()), zap.Error(err))
		t.Close()
		return
	}
	t.OnClose(func() {
		s.closeMu.Lock()
		s.closing = append(s.closing, c)
		s.closeMu.Unlock()
	})

	if err := s.Send(c, &packet.ClientUID{ID: byte(c.ID())}); err != nil {
		s.log.Debug("client uid not delivered", zap.Int("client", c.ID()), zap.Error(err))
	}
	s.log.Info("client connected", zap.Int("client", c.ID()), zap.String("remote", c.remote))
	s.journal.Record("accepted", c.ID(), c.remote, "")
	event.Emit(s.bus, event.ConnectionOpened{ClientID: c.ID(), RemoteAddr: c.remote})
}

// Disconnect closes c's transport and releases its id. Calling it again for
// the same client does nothing.
func (s *Server) Disconnect(c *Client, reason string) {
	id := c.ID()
	if !s.clients.RemoveObject(c) {
		return
	}
	c.transport.Close()
	s.log.Info("client disconnected", zap.Int("client", id), zap.String("reason", reason))
	s.journal.Record("disconnected", id, c.remote, reason)
	event.Emit(s.bus, event.ConnectionClosed{ClientID: id, RemoteAddr: c.remote, Reason: reason})
}

func (s *Server) handleFrame(t Transport, data []byte) {
	resp, err := s.packets.Dispatch(s, data, func(claimed int) (*Client, error) {
		c, ok := s.clients.Get(claimed)
		if !ok || c.remote != t.RemoteAddr() {
			return nil, fmt.Errorf("%w: id %d from %s", ErrSpoofed, claimed, t.RemoteAddr())
		}
		return c, nil
	})
	switch {
	case errors.Is(err, ErrSpoofed):
		s.log.Warn("spoofed frame, closing connection", zap.String("remote", t.RemoteAddr()), zap.Error(err))
		s.journal.Record("spoofed", uid.None, t.RemoteAddr(), err.Error())
		t.Close()
		return
	case err != nil:
		s.log.Warn("frame dropped", zap.String("remote", t.RemoteAddr()), zap.Error(err))
		return
	}
	if resp != nil {
		t.Send(resp)
	}
}

// drainInbox runs the work posted since the last tick, then the disconnect
// path of every transport that closed.
func (s *Server) drainInbox() {
	for n := len(s.inbox); n > 0; n-- {
		s.call(<-s.inbox)
	}

	s.closeMu.Lock()
	closed := s.closing
	s.closing = nil
	s.closeMu.Unlock()
	for _, c := range closed {
		s.Disconnect(c, ReasonClosed)
	}
}

func (s *Server) call(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("inbox call panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}
