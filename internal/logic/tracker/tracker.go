package tracker

// Counter is a bounded hardware position counter.
// Count wraps modulo Max()+1.
type Counter interface {
	Count() uint32
	Max() uint32
}

// Tracker unwraps a bounded counter into an unbounded signed position.
//
// The half-range correction assumes the shaft never moves more than
// (Max+1)/2 counts between two reads. Callers must poll fast enough
// to uphold this; a violation silently yields a wrong direction.
type Tracker struct {
	counter  Counter
	prev     uint32
	position int64
}

// New creates a tracker whose logical zero is the counter's current value.
func New(c Counter) *Tracker {
	return &Tracker{
		counter: c,
		prev:    c.Count(),
	}
}

// Read samples the counter, accumulates the unwrapped delta and returns
// the current position.
func (t *Tracker) Read() int64 {
	t.update()
	return t.position
}

// Position returns the last accumulated position without sampling.
func (t *Tracker) Position() int64 {
	return t.position
}

// Zero moves the logical origin to the current position. The hardware
// counter and the previous sample are left untouched so later deltas
// stay correct.
func (t *Tracker) Zero() {
	t.position = 0
}

func (t *Tracker) update() {
	count := t.counter.Count()
	t.position += Unwrap(t.prev, count, t.counter.Max())
	t.prev = count
}

// Unwrap returns the signed motion between two raw samples of a counter
// whose maximum representable value is max.
func Unwrap(prev, count, max uint32) int64 {
	span := int64(max) + 1
	half := span / 2
	delta := int64(count) - int64(prev)
	switch {
	case delta > half:
		// wrapped downward through zero
		delta -= span
	case delta < -half:
		// wrapped upward through max
		delta += span
	}
	return delta
}
