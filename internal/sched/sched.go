// Package sched is a single-threaded cooperative scheduler. Each
// registered task body runs at most once per period, never concurrently
// with another body, and must return after a bounded amount of work.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cjeanneret/thermoturret/internal/debug"
)

// Body performs one tick of a task.
type Body func(now time.Time) error

// Task describes a periodic cooperative task.
type Task struct {
	Name     string
	Priority int           // larger runs first when several tasks are ready
	Period   time.Duration // minimum time between two runs
	Shares   []string      // names of the shared values the task reads or writes
	Body     Body
}

// Stats are the per-task run counters.
type Stats struct {
	Runs        int
	Late        int           // runs started more than a tenth of a period after their due time
	Missed      int           // whole periods skipped because the task was too late
	MaxLateness time.Duration
	MaxDuration time.Duration
	Total       time.Duration
}

// Observer receives one call per task run.
type Observer interface {
	ObserveRun(task string, lateness, duration time.Duration, err error)
}

type entry struct {
	Task
	next  time.Time
	armed bool
	stats Stats
}

// Scheduler dispatches registered tasks by priority.
type Scheduler struct {
	now      func() time.Time
	entries  []*entry
	observer Observer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver reports every run to o.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task. A task is first due on the first dispatch after
// registration.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" {
		return errors.New("task name is empty")
	}
	if t.Period <= 0 {
		return fmt.Errorf("task %s: period must be > 0, got %v", t.Name, t.Period)
	}
	if t.Body == nil {
		return fmt.Errorf("task %s: body is nil", t.Name)
	}
	for _, e := range s.entries {
		if e.Name == t.Name {
			return fmt.Errorf("task %s already registered", t.Name)
		}
	}
	s.entries = append(s.entries, &entry{Task: t})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Priority > s.entries[j].Priority
	})
	debug.Verbose("Scheduler: registered %s (priority %d, period %v, shares %v)", t.Name, t.Priority, t.Period, t.Shares)
	return nil
}

// Dispatch runs the single highest-priority task that is due at now.
// Among ready tasks of equal priority the one waiting longest runs.
// It reports whether a task ran and returns that task's error.
func (s *Scheduler) Dispatch(now time.Time) (bool, error) {
	for _, e := range s.entries {
		if !e.armed {
			e.next, e.armed = now, true
		}
	}
	var pick *entry
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		if pick == nil {
			pick = e
			continue
		}
		if e.Priority < pick.Priority {
			break
		}
		if e.next.Before(pick.next) {
			pick = e
		}
	}
	if pick == nil {
		return false, nil
	}
	return true, s.run(pick, now)
}

func (s *Scheduler) run(e *entry, now time.Time) error {
	lateness := now.Sub(e.next)
	start := s.now()
	err := e.Body(now)
	took := s.now().Sub(start)

	st := &e.stats
	st.Runs++
	st.Total += took
	if took > st.MaxDuration {
		st.MaxDuration = took
	}
	if lateness > st.MaxLateness {
		st.MaxLateness = lateness
	}
	if lateness > e.Period/10 {
		st.Late++
	}

	e.next = e.next.Add(e.Period)
	if !now.Before(e.next) {
		// Too far behind: skip the missed periods instead of bursting.
		missed := int(now.Sub(e.next)/e.Period) + 1
		st.Missed += missed
		e.next = e.next.Add(time.Duration(missed) * e.Period)
	}

	if s.observer != nil {
		s.observer.ObserveRun(e.Name, lateness, took, err)
	}
	if err != nil {
		return fmt.Errorf("task %s: %w", e.Name, err)
	}
	return nil
}

// Run dispatches tasks until ctx is done or a task body fails. It
// returns ctx.Err() on cancellation and the wrapped task error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		return errors.New("no task registered")
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.Dispatch(s.now())
		if err != nil {
			return err
		}
		if ran {
			continue
		}
		timer.Reset(s.untilNext(s.now()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// untilNext returns how long until the earliest task is due.
func (s *Scheduler) untilNext(now time.Time) time.Duration {
	wait := time.Duration(-1)
	for _, e := range s.entries {
		d := e.next.Sub(now)
		if wait < 0 || d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// Stats returns the counters of the named task.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e.stats, true
		}
	}
	return Stats{}, false
}

// Tasks returns the registered tasks in dispatch order.
func (s *Scheduler) Tasks() []Task {
	out := make([]Task, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Task
	}
	return out
}

// Sharers returns the names of the tasks that declared the shared value.
func (s *Scheduler) Sharers(share string) []string {
	var names []string
	for _, e := range s.entries {
		for _, sh := range e.Shares {
			if sh == share {
				names = append(names, e.Name)
				break
			}
		}
	}
	return names
}
