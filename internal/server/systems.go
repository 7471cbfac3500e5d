package server

import (
	"time"

	"github.com/ws2dgo/server/internal/core/system"
)

// InputSystem drains the inbox: new connections, frames, console calls and
// closed transports. Phase 0 (Input).
type InputSystem struct {
	srv *Server
}

func (InputSystem) Phase() system.Phase { return system.PhaseInput }

func (s InputSystem) Update(time.Duration) { s.srv.drainInbox() }

// EventDispatchSystem swaps the event bus and delivers last tick's events.
// Phase 1 (PreUpdate).
type EventDispatchSystem struct {
	srv *Server
}

func (EventDispatchSystem) Phase() system.Phase { return system.PhasePreUpdate }

func (s EventDispatchSystem) Update(time.Duration) {
	s.srv.bus.SwapBuffers()
	s.srv.bus.DispatchAll()
}

// SchedulerSystem advances every scheduled task by one tick. Phase 2
// (Update).
type SchedulerSystem struct {
	srv *Server
}

func (SchedulerSystem) Phase() system.Phase { return system.PhaseUpdate }

func (s SchedulerSystem) Update(time.Duration) { s.srv.tasks.Tick() }
