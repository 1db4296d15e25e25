package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TurretCollector bundles Prometheus metrics for the scheduler and the
// aim-and-fire cycle.
type TurretCollector struct {
	gatherer prometheus.Gatherer

	TaskRuns     *prometheus.CounterVec
	TaskLateness *prometheus.HistogramVec
	TaskDuration *prometheus.HistogramVec

	Actuation prometheus.Gauge
	Position  prometheus.Gauge
	Setpoint  prometheus.Gauge

	Frames prometheus.Counter
	Shots  prometheus.Counter
	Cycles prometheus.Counter
}

// NewTurretCollector registers turret metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewTurretCollector(reg prometheus.Registerer) (*TurretCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turret_task_runs_total",
		Help: "Task ticks dispatched by the scheduler, labeled by task and result.",
	}, []string{"task", "result"}), "turret_task_runs_total")
	if err != nil {
		return nil, err
	}
	tickBuckets := []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1}
	lateness, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turret_task_lateness_seconds",
		Help:    "Delay between a task's due time and the start of its tick.",
		Buckets: tickBuckets,
	}, []string{"task"}), "turret_task_lateness_seconds")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turret_task_duration_seconds",
		Help:    "Time spent inside one task tick.",
		Buckets: tickBuckets,
	}, []string{"task"}), "turret_task_duration_seconds")
	if err != nil {
		return nil, err
	}

	actuation, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turret_actuation_command",
		Help: "Last unclamped PD controller output.",
	}), "turret_actuation_command")
	if err != nil {
		return nil, err
	}
	position, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turret_position_counts",
		Help: "Last unwrapped turret position.",
	}), "turret_position_counts")
	if err != nil {
		return nil, err
	}
	setpoint, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turret_setpoint_counts",
		Help: "Current position setpoint.",
	}), "turret_setpoint_counts")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turret_frames_parsed_total",
		Help: "Thermal frames turned into a setpoint.",
	}), "turret_frames_parsed_total")
	if err != nil {
		return nil, err
	}
	shots, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turret_shots_total",
		Help: "Trigger pulls.",
	}), "turret_shots_total")
	if err != nil {
		return nil, err
	}
	cycles, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turret_cycles_total",
		Help: "Aim-and-fire cycles started.",
	}), "turret_cycles_total")
	if err != nil {
		return nil, err
	}

	return &TurretCollector{
		gatherer:     gatherer,
		TaskRuns:     runs,
		TaskLateness: lateness,
		TaskDuration: duration,
		Actuation:    actuation,
		Position:     position,
		Setpoint:     setpoint,
		Frames:       frames,
		Shots:        shots,
		Cycles:       cycles,
	}, nil
}

// ObserveRun records one scheduler dispatch.
func (c *TurretCollector) ObserveRun(task string, lateness, duration time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.TaskRuns != nil {
		c.TaskRuns.WithLabelValues(task, result).Inc()
	}
	if c.TaskLateness != nil {
		c.TaskLateness.WithLabelValues(task).Observe(lateness.Seconds())
	}
	if c.TaskDuration != nil {
		c.TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
	}
}

// ObserveStep records one controller step.
func (c *TurretCollector) ObserveStep(u float64, position int64, setpoint float64) {
	if c == nil {
		return
	}
	if c.Actuation != nil {
		c.Actuation.Set(u)
	}
	if c.Position != nil {
		c.Position.Set(float64(position))
	}
	if c.Setpoint != nil {
		c.Setpoint.Set(setpoint)
	}
}

// FrameParsed counts a frame turned into a setpoint.
func (c *TurretCollector) FrameParsed() {
	if c != nil && c.Frames != nil {
		c.Frames.Inc()
	}
}

// ShotFired counts a trigger pull.
func (c *TurretCollector) ShotFired() {
	if c != nil && c.Shots != nil {
		c.Shots.Inc()
	}
}

// CycleStarted counts a new aim-and-fire cycle.
func (c *TurretCollector) CycleStarted() {
	if c != nil && c.Cycles != nil {
		c.Cycles.Inc()
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TurretCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
