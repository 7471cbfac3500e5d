package sched

import "github.com/ws2dgo/server/internal/core/uid"

// Kind distinguishes one-shot tasks from repeating ones.
type Kind int

const (
	OneShot Kind = iota
	Repeating
)

func (k Kind) String() string {
	if k == Repeating {
		return "repeating"
	}
	return "one-shot"
}

// Task is a unit of deferred work advanced once per tick.
//
// A one-shot task fires when its countdown is zero at the start of a tick and
// then completes. A repeating task restarts its countdown after firing so that
// it fires every cycle ticks. Suspended or completed tasks neither fire nor
// count down.
type Task struct {
	uid.Handle

	kind      Kind
	action    func()
	delay     int64
	cycle     int64
	suspended bool
	complete  bool
}

func newTimerTask(action func(), delay int64) *Task {
	return &Task{kind: OneShot, action: action, delay: delay}
}

func newRepeatingTask(action func(), cycle int64) *Task {
	return &Task{kind: Repeating, action: action, delay: cycle, cycle: cycle}
}

// tick advances the task by one tick. It reports whether the action should
// run now; the caller runs it so a panicking action cannot leave the task
// half-updated.
func (t *Task) tick() bool {
	if t.suspended || t.complete {
		return false
	}
	if t.delay > 0 {
		t.delay--
		return false
	}
	switch t.kind {
	case OneShot:
		t.complete = true
	case Repeating:
		// The firing tick counts as the first tick of the next cycle.
		t.delay = t.cycle - 1
	}
	return true
}

func (t *Task) Kind() Kind { return t.kind }

// Remaining returns the ticks left before the task next fires.
func (t *Task) Remaining() int64 {
	if t.delay < 0 {
		return 0
	}
	return t.delay
}

func (t *Task) Suspend() { t.suspended = true }

func (t *Task) Resume() { t.suspended = false }

// Stop completes the task regardless of its kind.
func (t *Task) Stop() { t.complete = true }

func (t *Task) Suspended() bool { return t.suspended }

func (t *Task) Finished() bool { return t.complete }
