package sched

import (
	"errors"
	"fmt"

	"github.com/ws2dgo/server/internal/core/uid"
	"go.uber.org/zap"
)

// ErrTaskNotFound is returned when a task id does not name a scheduled task.
var ErrTaskNotFound = errors.New("sched: task not found")

// Scheduler keeps the server's timed tasks. Tick must be called exactly once
// per server tick; all methods must be called from the tick goroutine.
type Scheduler struct {
	tasks *uid.Set[*Task]
	ticks uint64
	log   *zap.Logger
}

func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks: uid.NewSet[*Task](16),
		log:   log,
	}
}

// RunTaskLater schedules action to run once after delay ticks. A delay of
// zero or less runs it on the next tick.
func (s *Scheduler) RunTaskLater(action func(), delay int64) int {
	return s.add(newTimerTask(action, delay))
}

// RunTaskNextTick is RunTaskLater with a delay of one tick.
func (s *Scheduler) RunTaskNextTick(action func()) int {
	return s.RunTaskLater(action, 1)
}

// RunTaskRepeatedly schedules action to run every cycle ticks, the first
// time cycle+1 ticks from now.
func (s *Scheduler) RunTaskRepeatedly(action func(), cycle int64) int {
	return s.add(newRepeatingTask(action, cycle))
}

func (s *Scheduler) add(t *Task) int {
	// Unbounded sets never return an error.
	id, _ := s.tasks.Add(t)
	return id
}

func (s *Scheduler) SuspendTask(id int) error {
	t, ok := s.tasks.Get(id)
	if !ok {
		return fmt.Errorf("suspend task %d: %w", id, ErrTaskNotFound)
	}
	t.Suspend()
	return nil
}

func (s *Scheduler) ResumeTask(id int) error {
	t, ok := s.tasks.Get(id)
	if !ok {
		return fmt.Errorf("resume task %d: %w", id, ErrTaskNotFound)
	}
	t.Resume()
	return nil
}

// StopTask completes the task and frees its id.
func (s *Scheduler) StopTask(id int) error {
	t, ok := s.tasks.Remove(id)
	if !ok {
		return fmt.Errorf("stop task %d: %w", id, ErrTaskNotFound)
	}
	t.Stop()
	return nil
}

// Task returns the scheduled task with the given id.
func (s *Scheduler) Task(id int) (*Task, bool) {
	return s.tasks.Get(id)
}

// Tick advances every task in id order and reaps the finished ones. Tasks
// scheduled while Tick runs are first advanced on the following tick.
func (s *Scheduler) Tick() {
	s.ticks++
	s.tasks.ForEach(func(t *Task) {
		if t.tick() {
			s.run(t)
		}
		if t.Finished() {
			s.tasks.RemoveObject(t)
		}
	})
}

// run executes a task's action, recovering from panics so one failing task
// cannot take down the tick loop.
func (s *Scheduler) run(t *Task) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("scheduled task panicked",
				zap.Int("task", t.UID()),
				zap.Stringer("kind", t.Kind()),
				zap.Uint64("tick", s.ticks),
				zap.Any("panic", rec),
			)
		}
	}()
	t.action()
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int { return s.tasks.Len() }

// Ticks returns how many times Tick has been called.
func (s *Scheduler) Ticks() uint64 { return s.ticks }
