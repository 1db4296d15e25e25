package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjeanneret/thermoturret/internal/config"
	"github.com/cjeanneret/thermoturret/internal/debug"
	"github.com/cjeanneret/thermoturret/internal/logic/control"
	"github.com/cjeanneret/thermoturret/internal/logic/coordinator"
	"github.com/cjeanneret/thermoturret/internal/logic/geometry"
	"github.com/cjeanneret/thermoturret/internal/logic/tracker"
	"github.com/cjeanneret/thermoturret/internal/observability"
	"github.com/cjeanneret/thermoturret/internal/sched"
	"github.com/cjeanneret/thermoturret/internal/web"
)

// overrides holds CLI values that replace configuration entries.
// Zero values mean "use the configuration"; Kd is a pointer because an
// explicit -kd 0 selects pure proportional control.
type overrides struct {
	Kp   float64
	Kd   *float64
	Mode string
}

// hardwareOpener opens the devices named by a configuration.
type hardwareOpener func(*config.Config) (*hardware, error)

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	kp := flag.Float64("kp", 0, "override proportional gain (0 = config)")
	kd := flag.Float64("kd", 0, "override derivative gain (unset = config, 0 = no damping)")
	mode := flag.String("mode", "", "override run mode: tasks or sequence")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	o := overrides{Kp: *kp, Mode: *mode}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "kd" {
			o.Kd = kd
		}
	})
	if err := validateCLIOverrides(o); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	cfg = applyOverridesToCopy(cfg, o)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock hardware", cfg.Defaults.MockHardware)
	debug.Value("Mode", cfg.Defaults.Mode)

	if err := run(ctx, cancel, cfg, webPort.port(), openHardware, prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("turret stopped: %v", err)
	}
}

// run owns the hardware for the lifetime of the process. The actuators
// are put in their safe state on every return path.
func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, port int,
	open hardwareOpener, reg prometheus.Registerer) (err error) {
	hw, err := open(cfg)
	if err != nil {
		return fmt.Errorf("open hardware: %w", err)
	}
	defer func() {
		if cerr := hw.Close(); cerr != nil {
			log.Printf("closing hardware failed: %v", cerr)
		}
	}()
	var (
		stopOnce sync.Once
		stopErr  error
	)
	safeStop := func() {
		stopOnce.Do(func() { stopErr = coordinator.Shutdown(hw.motor, hw.trigger, hw.led) })
	}
	defer func() {
		safeStop()
		if stopErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", stopErr))
		}
	}()

	t, err := buildTurret(cfg, hw, reg)
	if err != nil {
		return err
	}
	defer t.saves.Wait()

	if port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, hw.remote.Press, cancel, cfg)
		srv.Handlers().Metrics = t.collector.Handler()
		srv.Handlers().Target = hw.scene

		done := make(chan struct{})
		// Open SSE streams can hold the server for its grace period, so the
		// actuators are made safe before waiting on it.
		defer func() {
			safeStop()
			cancel()
			<-done
		}()
		go func() {
			defer close(done)
			if err := srv.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
				cancel()
			}
		}()
	}

	if err := waitForRelease(ctx, hw.button, cfg.ButtonPeriod()); err != nil {
		return ignoreCancel(err)
	}

	debug.Summary(fmt.Sprintf("Turret ready (%s mode), press start", cfg.Defaults.Mode))
	return ignoreCancel(t.scheduler.Run(ctx))
}

// turret is the assembled control stack over one set of hardware.
type turret struct {
	scheduler  *sched.Scheduler
	collector  *observability.TurretCollector
	controller *control.Controller
	localizer  *geometry.Localizer

	saves sync.WaitGroup
}

// buildTurret wires tracker, localizer, controller, coordinator and
// scheduler together.
func buildTurret(cfg *config.Config, hw *hardware, reg prometheus.Registerer) (*turret, error) {
	debug.Step(4, "Building geometry")
	fov, err := geometry.NewFOVCalculator(cfg)
	if err != nil {
		return nil, fmt.Errorf("create FOV calculator: %w", err)
	}
	counts := geometry.NewCountsCalculator(cfg)
	policy, err := geometry.ParsePolicy(cfg.Sensor.Policy)
	if err != nil {
		return nil, err
	}
	debug.Value("Turret FOV (deg)", fov.TurretFOV())
	debug.Value("Degrees per column", fov.DegreesPerColumn())
	debug.Value("Neutral setpoint", counts.NeutralSetpoint())
	debug.Value("Localizer policy", policy)

	debug.Step(5, "Building controller")
	trk := tracker.New(hw.counter)
	ctrl, err := control.New(trk, hw.motor, cfg.Controller.Kp, cfg.Controller.Kd, cfg.Controller.LogCapacity)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	ctrl.SetTargetVelocity(cfg.Controller.TargetVelocity)
	debug.PrintStruct("Controller config", cfg.Controller)

	collector, err := observability.NewTurretCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	t := &turret{
		scheduler:  sched.New(sched.WithObserver(collector)),
		collector:  collector,
		controller: ctrl,
		localizer:  geometry.NewLocalizer(fov, counts, policy),
	}

	deps := coordinator.Deps{
		Start:      hw.start,
		LED:        hw.led,
		Tracker:    trk,
		Motor:      hw.motor,
		Trigger:    hw.trigger,
		Source:     hw.source,
		Localizer:  t.localizer,
		Controller: ctrl,
		Recorder:   collector,
		OnFired:    t.saveLog(cfg.Defaults.LogDir),
	}
	settings := coordinator.SettingsFromConfig(cfg, counts.NeutralSetpoint())

	debug.Step(6, "Registering tasks")
	var tasks []sched.Task
	switch cfg.Defaults.Mode {
	case config.ModeSequence:
		seq, err := coordinator.NewSequencer(deps, settings)
		if err != nil {
			return nil, fmt.Errorf("create sequencer: %w", err)
		}
		tasks = []sched.Task{seq.Task()}
	default:
		c, err := coordinator.New(deps, settings)
		if err != nil {
			return nil, fmt.Errorf("create coordinator: %w", err)
		}
		tasks = c.Tasks()
	}
	for _, task := range tasks {
		if err := t.scheduler.Register(task); err != nil {
			return nil, err
		}
		debug.Verbose("Task %s: priority=%d period=%s", task.Name, task.Priority, task.Period)
	}
	return t, nil
}

// saveLog returns the OnFired hook. Writing happens off the tick path;
// run waits for pending writes before exiting.
func (t *turret) saveLog(dir string) func(string, control.StepLog) {
	return func(cycleID string, l control.StepLog) {
		debug.Info("Cycle %s complete: %d samples logged", cycleID, len(l.Samples))
		if dir == "" {
			return
		}
		t.saves.Add(1)
		go func() {
			defer t.saves.Done()
			if err := l.Save(dir, "cycle-"+cycleID); err != nil {
				debug.Error(fmt.Errorf("save step log: %w", err))
				return
			}
			debug.Live("Step log for cycle %s written to %s", cycleID, dir)
		}()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		debug.Info("Stopped by operator")
		return nil
	}
	return err
}

// validateCLIOverrides checks that the given CLI overrides are usable.
func validateCLIOverrides(o overrides) error {
	if o.Kp != 0 {
		if math.IsNaN(o.Kp) || math.IsInf(o.Kp, 0) || o.Kp <= 0 || o.Kp > 100 {
			return fmt.Errorf("kp must be in (0, 100], got %g", o.Kp)
		}
	}
	if o.Kd != nil {
		if kd := *o.Kd; math.IsNaN(kd) || math.IsInf(kd, 0) || kd < 0 || kd > 100 {
			return fmt.Errorf("kd must be in [0, 100], got %g", kd)
		}
	}
	switch o.Mode {
	case "", config.ModeTasks, config.ModeSequence:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", config.ModeTasks, config.ModeSequence, o.Mode)
	}
	return nil
}

// applyOverridesToCopy returns a new config with overrides applied.
func applyOverridesToCopy(base *config.Config, o overrides) *config.Config {
	cfg := *base
	if o.Kp > 0 {
		cfg.Controller.Kp = o.Kp
	}
	if o.Kd != nil {
		cfg.Controller.Kd = *o.Kd
	}
	if o.Mode != "" {
		cfg.Defaults.Mode = o.Mode
	}
	return &cfg
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
