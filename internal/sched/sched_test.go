package sched

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Unix(5000, 0)

type recorder struct {
	order []string
}

func (r *recorder) body(name string) Body {
	return func(time.Time) error {
		r.order = append(r.order, name)
		return nil
	}
}

type recordingObserver struct {
	runs []string
	errs int
}

func (o *recordingObserver) ObserveRun(task string, lateness, duration time.Duration, err error) {
	o.runs = append(o.runs, task)
	if err != nil {
		o.errs++
	}
}

func mustRegister(t *testing.T, s *Scheduler, task Task) {
	t.Helper()
	if err := s.Register(task); err != nil {
		t.Fatalf("Register(%s): %v", task.Name, err)
	}
}

func TestRegister_Validation(t *testing.T) {
	noop := func(time.Time) error { return nil }
	cases := []struct {
		name string
		task Task
	}{
		{"empty_name", Task{Period: time.Millisecond, Body: noop}},
		{"zero_period", Task{Name: "a", Body: noop}},
		{"nil_body", Task{Name: "a", Period: time.Millisecond}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := New().Register(tc.task); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	s := New()
	mustRegister(t, s, Task{Name: "a", Period: time.Millisecond, Body: noop})
	if err := s.Register(Task{Name: "a", Period: time.Millisecond, Body: noop}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestDispatch_HighestPriorityFirst(t *testing.T) {
	rec := &recorder{}
	s := New(WithClock(func() time.Time { return t0 }))
	mustRegister(t, s, Task{Name: "image", Priority: 1, Period: 50 * time.Millisecond, Body: rec.body("image")})
	mustRegister(t, s, Task{Name: "button", Priority: 3, Period: 10 * time.Millisecond, Body: rec.body("button")})
	mustRegister(t, s, Task{Name: "rotate", Priority: 2, Period: 10 * time.Millisecond, Body: rec.body("rotate")})

	// All three are due at t0; one dispatch runs exactly one task.
	for i := 0; i < 4; i++ {
		if _, err := s.Dispatch(t0); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"button", "rotate", "image"}
	if strings.Join(rec.order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", rec.order, want)
	}
	if ran, _ := s.Dispatch(t0); ran {
		t.Error("nothing should be due until the next period")
	}
}

func TestDispatch_AtMostOncePerPeriod(t *testing.T) {
	rec := &recorder{}
	s := New(WithClock(func() time.Time { return t0 }))
	mustRegister(t, s, Task{Name: "fast", Priority: 1, Period: 10 * time.Millisecond, Body: rec.body("fast")})
	mustRegister(t, s, Task{Name: "slow", Priority: 1, Period: 50 * time.Millisecond, Body: rec.body("slow")})

	for ms := 0; ms < 100; ms++ {
		now := t0.Add(time.Duration(ms) * time.Millisecond)
		for {
			ran, err := s.Dispatch(now)
			if err != nil {
				t.Fatal(err)
			}
			if !ran {
				break
			}
		}
	}
	fast, slow := 0, 0
	for _, name := range rec.order {
		if name == "fast" {
			fast++
		} else {
			slow++
		}
	}
	if fast != 10 || slow != 2 {
		t.Errorf("runs fast=%d slow=%d, want 10 and 2", fast, slow)
	}
}

func TestDispatch_EqualPriorityRoundRobin(t *testing.T) {
	rec := &recorder{}
	s := New(WithClock(func() time.Time { return t0 }))
	mustRegister(t, s, Task{Name: "a", Priority: 1, Period: 10 * time.Millisecond, Body: rec.body("a")})
	mustRegister(t, s, Task{Name: "b", Priority: 1, Period: 10 * time.Millisecond, Body: rec.body("b")})

	s.Dispatch(t0)
	// b has waited since t0; a is due again at t0+10ms.
	s.Dispatch(t0.Add(20 * time.Millisecond))
	if strings.Join(rec.order, ",") != "a,b" {
		t.Errorf("order = %v, want [a b]", rec.order)
	}
}

func TestDispatch_SkipsMissedPeriods(t *testing.T) {
	rec := &recorder{}
	s := New(WithClock(func() time.Time { return t0 }))
	mustRegister(t, s, Task{Name: "a", Priority: 1, Period: 10 * time.Millisecond, Body: rec.body("a")})

	s.Dispatch(t0)
	s.Dispatch(t0.Add(35 * time.Millisecond))
	if ran, _ := s.Dispatch(t0.Add(35 * time.Millisecond)); ran {
		t.Error("a late task must not run twice to catch up")
	}
	st, ok := s.Stats("a")
	if !ok {
		t.Fatal("Stats: task not found")
	}
	if st.Runs != 2 || st.Late != 1 || st.Missed != 2 {
		t.Errorf("Stats = %+v, want 2 runs, 1 late, 2 missed", st)
	}
	if st.MaxLateness != 25*time.Millisecond {
		t.Errorf("MaxLateness = %v, want 25ms", st.MaxLateness)
	}
	if ran, _ := s.Dispatch(t0.Add(40 * time.Millisecond)); !ran {
		t.Error("task should be due again on the period grid")
	}
}

func TestDispatch_ErrorIsWrappedAndObserved(t *testing.T) {
	boom := errors.New("boom")
	obs := &recordingObserver{}
	s := New(WithClock(func() time.Time { return t0 }), WithObserver(obs))
	mustRegister(t, s, Task{Name: "bad", Priority: 1, Period: time.Millisecond, Body: func(time.Time) error { return boom }})

	ran, err := s.Dispatch(t0)
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("Dispatch = (%v, %v), want (true, boom)", ran, err)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q should name the task", err)
	}
	if len(obs.runs) != 1 || obs.errs != 1 {
		t.Errorf("observer saw runs=%v errs=%d", obs.runs, obs.errs)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	count := 0
	s := New()
	mustRegister(t, s, Task{Name: "tick", Priority: 1, Period: time.Millisecond, Body: func(time.Time) error {
		count++
		return nil
	}})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want DeadlineExceeded", err)
	}
	if count == 0 {
		t.Error("task never ran")
	}
}

func TestRun_ReturnsTaskError(t *testing.T) {
	boom := errors.New("invalid state")
	runs := 0
	s := New()
	mustRegister(t, s, Task{Name: "fail", Priority: 1, Period: time.Millisecond, Body: func(time.Time) error {
		runs++
		if runs == 3 {
			return boom
		}
		return nil
	}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestRun_NoTasks(t *testing.T) {
	if err := New().Run(context.Background()); err == nil {
		t.Error("expected error with no tasks")
	}
}

func TestSharersAndTasks(t *testing.T) {
	noop := func(time.Time) error { return nil }
	s := New()
	mustRegister(t, s, Task{Name: "image", Priority: 1, Period: time.Millisecond, Shares: []string{"setpoint", "image_enabled"}, Body: noop})
	mustRegister(t, s, Task{Name: "rotate", Priority: 2, Period: time.Millisecond, Shares: []string{"setpoint"}, Body: noop})

	if got := s.Sharers("setpoint"); len(got) != 2 || got[0] != "rotate" || got[1] != "image" {
		t.Errorf("Sharers(setpoint) = %v, want [rotate image]", got)
	}
	if got := s.Sharers("image_enabled"); len(got) != 1 {
		t.Errorf("Sharers(image_enabled) = %v", got)
	}
	if tasks := s.Tasks(); tasks[0].Name != "rotate" {
		t.Errorf("Tasks()[0] = %s, want rotate", tasks[0].Name)
	}
}
