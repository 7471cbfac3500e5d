package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: drain the network inbox
	PhasePreUpdate              // 1: deliver last tick's events
	PhaseUpdate                 // 2: scheduled tasks
	PhaseCleanup                // 3: flush per-tick state
)

// System is one step of the tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Func adapts a plain function to System.
type Func struct {
	P  Phase
	Fn func(dt time.Duration)
}

func (f Func) Phase() Phase            { return f.P }
func (f Func) Update(dt time.Duration) { f.Fn(dt) }
