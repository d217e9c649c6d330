package bot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"time"

	"jordanella.com/yys-helper/internal/adb"
	"jordanella.com/yys-helper/internal/config"
	"jordanella.com/yys-helper/internal/cv"
	"jordanella.com/yys-helper/internal/events"
	"jordanella.com/yys-helper/internal/logging"
	"jordanella.com/yys-helper/internal/task"
	"jordanella.com/yys-helper/pkg/templates"
)

// Bot is one helper session: a device, the template set and the task
// scripts, all loaded once before any task runs.
type Bot struct {
	config   *config.Config
	log      *logging.Logger
	registry *templates.TemplateRegistry
	library  *task.Library
	matcher  *cv.Matcher
	events   events.EventBus

	adb    *adb.Controller
	device task.Device
}

// Option configures a Bot.
type Option func(*Bot)

// WithDevice drives d instead of connecting through adb.
func WithDevice(d task.Device) Option {
	return func(b *Bot) { b.device = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(b *Bot) { b.log = l }
}

// WithEventBus publishes the events of every task run to bus.
func WithEventBus(bus events.EventBus) Option {
	return func(b *Bot) { b.events = bus }
}

// Lifecycle methods
func New(cfg *config.Config, opts ...Option) *Bot {
	b := &Bot{
		config:  cfg,
		log:     logging.NewNopLogger(),
		library: task.NewLibrary(),
		registry: templates.NewTemplateRegistry("").
			WithDefaultThreshold(cfg.Templates.DefaultThreshold),
		matcher: cv.NewMatcher(cv.WithPyramid(cfg.Matcher.Pyramid)),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// LoadAssets loads every template definition and task script. Problems are
// reported as *config.ConfigError.
func (b *Bot) LoadAssets() error {
	if err := b.LoadTemplates(); err != nil {
		return err
	}
	if err := b.LoadTasks(); err != nil {
		return err
	}

	stats := b.registry.CacheStats()
	b.log.InfoWithContext("assets loaded", map[string]interface{}{
		"templates": b.registry.Count(),
		"images":    stats.Images,
		"tasks":     len(b.library.List()),
	})
	return nil
}

// LoadTemplates decodes every template image. All missing or invalid
// templates are reported together.
func (b *Bot) LoadTemplates() error {
	if err := b.registry.LoadFromDirectory(b.config.Templates.Dir); err != nil {
		return &config.ConfigError{Path: b.config.Templates.Dir, Err: err}
	}
	return nil
}

// LoadTasks parses the task scripts without touching template images.
func (b *Bot) LoadTasks() error {
	if err := b.library.LoadDirectory(b.config.Tasks.Dir); err != nil {
		return &config.ConfigError{Path: b.config.Tasks.Dir, Err: err}
	}
	return nil
}

// Connect attaches to the configured device and, when enabled, launches the
// game. It is a no-op for an injected device.
func (b *Bot) Connect(ctx context.Context) error {
	if b.device != nil {
		return nil
	}

	ctrl, err := b.controller(b.config.ADB.Serial)
	if err != nil {
		return err
	}
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}

	fields := map[string]interface{}{"serial": ctrl.Serial()}
	if w, h, err := ctrl.ScreenSize(ctx); err != nil {
		b.log.WarnWithContext("could not read screen size", map[string]interface{}{"error": err})
	} else {
		fields["screen"] = fmt.Sprintf("%dx%d", w, h)
	}
	b.log.InfoWithContext("device connected", fields)

	if dc := b.config.Device; dc.LaunchGame {
		running, err := ctrl.IsAppRunning(ctx, dc.Package)
		if err != nil {
			return err
		}
		if !running {
			b.log.InfoWithContext("starting game", map[string]interface{}{"package": dc.Package})
			if err := ctrl.StartApp(ctx, dc.Package, dc.Activity); err != nil {
				return err
			}
		}
	}

	b.adb = ctrl
	b.device = ctrl
	return nil
}

// Disconnect releases a network device attached by Connect.
func (b *Bot) Disconnect(ctx context.Context) error {
	if b.adb == nil {
		return nil
	}
	return b.adb.Disconnect(ctx)
}

// Devices lists what adb can see, without connecting.
func (b *Bot) Devices(ctx context.Context) ([]adb.DeviceInfo, error) {
	ctrl, err := b.controller("")
	if err != nil {
		return nil, err
	}
	return ctrl.ListDevices(ctx)
}

func (b *Bot) controller(serial string) (*adb.Controller, error) {
	path, err := adb.FindADB(b.config.ADB.Path)
	if err != nil {
		return nil, &config.ConfigError{Err: fmt.Errorf("adb.path: %w", err)}
	}
	b.log.DebugWithContext("using adb", map[string]interface{}{"path": path})
	return adb.NewController(path, serial,
		adb.WithCommandTimeout(b.config.ADB.CommandTimeout),
		adb.WithScreencapFormat(adb.ScreencapFormat(b.config.ADB.Screencap)),
	), nil
}

// Tasks returns the loaded scripts sorted by name.
func (b *Bot) Tasks() []*task.Script {
	return b.library.List()
}

// Screenshot captures one frame at the device's own resolution.
func (b *Bot) Screenshot(ctx context.Context) (image.Image, error) {
	if b.device == nil {
		return nil, adb.ErrDeviceNotFound
	}
	return b.device.Screenshot(ctx)
}

// MatchImage scores a template against a saved frame, normalising the frame
// to the design resolution first when scaling is enabled.
func (b *Bot) MatchImage(frame image.Image, templateName string) (cv.MatchResult, cv.Template, error) {
	t, ok := b.registry.Get(templateName)
	if !ok {
		return cv.MatchResult{}, cv.Template{}, fmt.Errorf("%w: %s", templates.ErrUnknownTemplate, templateName)
	}
	if b.config.Device.Scale {
		frame = cv.Normalize(frame, b.design())
	}
	res, err := b.matcher.Best(cv.NewFrame(frame, time.Now()), t)
	return res, t, err
}

func (b *Bot) design() image.Point {
	return image.Pt(b.config.Device.DesignWidth, b.config.Device.DesignHeight)
}

// RunOptions adjust a single run from the command line.
type RunOptions struct {
	DryRun bool
	// MaxRounds overrides the script's limit when > 0.
	MaxRounds int
}

// RunTask runs the named script until it finishes, fails or ctx is
// cancelled.
func (b *Bot) RunTask(ctx context.Context, name string, ro RunOptions) (*task.Result, error) {
	script, err := b.library.Get(name)
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}
	program, err := task.Compile(script, b.registry)
	if err != nil {
		return nil, err
	}
	if b.device == nil {
		return nil, adb.ErrDeviceNotFound
	}

	cfg := b.config.ForTask(name)
	log := b.log.Named(name)

	dev := b.device
	if app, ok := dev.(appController); ok && cfg.Device.Package != "" {
		dev = &gameDevice{Device: dev, app: app, pkg: cfg.Device.Package, activity: cfg.Device.Activity, log: log}
	}
	if ro.DryRun {
		dev = &dryRunDevice{Device: dev, log: log}
	}
	if cfg.Device.Scale {
		dev = newScaledDevice(dev, b.design(), log)
	}

	opts := task.Options{
		CycleDelay:         cfg.Loop.CycleDelay,
		MaxUnmatchedCycles: cfg.Loop.MaxUnmatchedCycles,
		StuckRetries:       cfg.Loop.StuckRetries,
		Retry: task.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			Delay:      cfg.Retry.Delay,
			Jitter:     cfg.Retry.Jitter,
		},
		TapOffset:      cfg.Input.TapOffset,
		MinTapInterval: cfg.Input.MinTapInterval,
		MaxRounds:      ro.MaxRounds,
	}
	ropts := []task.RunnerOption{
		task.WithLogger(log),
		task.WithMatcher(b.matcher),
		task.OnCycle(func(c task.CycleInfo) {
			if c.Match == nil {
				log.DebugWithContext("no match", map[string]interface{}{
					"cycle":     c.Cycle,
					"state":     c.State,
					"unmatched": c.Unmatched,
				})
			}
		}),
	}
	if b.events != nil {
		ropts = append(ropts, task.WithEvents(b.events))
	}
	runner := task.NewRunner(program, dev, opts, ropts...)

	res, err := runner.Run(ctx)

	var stuck *task.StuckStateError
	if errors.As(err, &stuck) && cfg.Debug.SaveFrames {
		if path, serr := b.saveStuckFrame(program, stuck); serr != nil {
			log.Error("failed to save stuck frame", serr)
		} else {
			log.InfoWithContext("stuck frame saved", map[string]interface{}{"path": path})
		}
	}
	if res != nil {
		log.InfoWithContext("task summary", map[string]interface{}{
			"final_state": res.FinalState,
			"cycles":      res.Cycles,
			"rounds":      res.Rounds,
			"actions":     len(res.Actions),
			"duration":    res.Duration.Round(time.Second),
			"reason":      res.Reason,
		})
	}
	return res, err
}

// saveStuckFrame writes the last frame with the best candidate for every
// template of the stuck state drawn on it.
func (b *Bot) saveStuckFrame(p *task.Program, stuck *task.StuckStateError) (string, error) {
	if stuck.Frame == nil {
		return "", fmt.Errorf("no frame captured")
	}
	frame := cv.NewFrame(stuck.Frame, time.Now())
	var results []cv.MatchResult
	for _, t := range p.Templates(stuck.State) {
		if r, err := b.matcher.Best(frame, t); err == nil {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })

	name := fmt.Sprintf("%s_%s_%s.png", stuck.Task, stuck.State, time.Now().Format("20060102_150405"))
	path := filepath.Join(b.config.Debug.Dir, name)
	if err := cv.SaveDebugFrame(path, stuck.Frame, results...); err != nil {
		return "", err
	}
	return path, nil
}
