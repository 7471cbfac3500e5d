package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/core/system"
)

// startupLogDelay is how many ticks after start the "server started" line is
// logged.
const startupLogDelay = 30

// Run drives the tick loop on the calling goroutine until Shutdown is called
// or ctx is done. The packet registry is frozen before the first tick.
func (s *Server) Run(ctx context.Context) {
	s.packets.Freeze()
	s.startHeartbeat()
	s.tasks.RunTaskLater(func() {
		s.log.Info("server started",
			zap.Int("tps", s.cfg.TicksPerSecond),
			zap.Int("max_connections", s.cfg.MaxConnections),
		)
	}, startupLogDelay)

	tick := s.cfg.TickDuration()
	s.pacer.Reset(time.Now())
	timer := time.NewTimer(tick)
	timer.Stop()
	defer timer.Stop()

	for !s.stopping.Load() {
		s.runner.Tick(tick)

		delay := s.pacer.Tick(time.Now())
		if delay <= 0 {
			select {
			case <-ctx.Done():
				s.Shutdown()
			default:
			}
			continue
		}
		timer.Reset(delay)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			s.Shutdown()
		}
	}
	// Work queued before the stop, such as accepts and closed transports,
	// still runs so every connection leaves through Disconnect.
	s.runner.TickPhase(system.PhaseInput, tick)
	s.closeAll()
	s.log.Info("tick loop stopped", zap.Uint64("ticks", s.tasks.Ticks()))
}

// Shutdown makes Run return after its current tick. Safe to call from any
// goroutine, any number of times.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.stop)
	})
}

// Stopping reports whether Shutdown has been called.
func (s *Server) Stopping() bool { return s.stopping.Load() }

// Done is closed once Shutdown has been called.
func (s *Server) Done() <-chan struct{} { return s.stop }

// Tick runs one tick without pacing.
func (s *Server) Tick() {
	s.runner.Tick(s.cfg.TickDuration())
}

func (s *Server) closeAll() {
	s.clients.ForEach(func(c *Client) { s.Disconnect(c, ReasonShutdown) })
}
