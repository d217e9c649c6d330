package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jordanella.com/yys-helper/internal/logging"
)

// Config is the shared configuration for every task.
type Config struct {
	ADB       ADBConfig       `mapstructure:"adb" yaml:"adb"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`
	Matcher   MatcherConfig   `mapstructure:"matcher" yaml:"matcher"`
	Tasks     TasksConfig     `mapstructure:"tasks" yaml:"tasks"`
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Input     InputConfig     `mapstructure:"input" yaml:"input"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`

	// Overrides replace loop and retry settings for a single task, keyed by
	// task name.
	Overrides map[string]TaskOverride `mapstructure:"overrides" yaml:"overrides,omitempty"`
}

type ADBConfig struct {
	// Path to the adb binary. Empty searches emulator install folders and PATH.
	Path           string        `mapstructure:"path" yaml:"path"`
	Serial         string        `mapstructure:"serial" yaml:"serial"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Screencap      string        `mapstructure:"screencap" yaml:"screencap"` // png or raw
}

// DeviceConfig describes the game screen. Scripts and templates are authored
// at the design resolution; frames and taps are scaled when the device
// differs.
type DeviceConfig struct {
	DesignWidth  int    `mapstructure:"design_width" yaml:"design_width"`
	DesignHeight int    `mapstructure:"design_height" yaml:"design_height"`
	Scale        bool   `mapstructure:"scale" yaml:"scale"`
	Package      string `mapstructure:"package" yaml:"package"`
	Activity     string `mapstructure:"activity" yaml:"activity"`
	// LaunchGame starts Package before the task when it is not running.
	LaunchGame bool `mapstructure:"launch_game" yaml:"launch_game"`
}

type TemplatesConfig struct {
	Dir              string  `mapstructure:"dir" yaml:"dir"`
	DefaultThreshold float64 `mapstructure:"default_threshold" yaml:"default_threshold"`
}

type MatcherConfig struct {
	// Pyramid > 1 searches a downscaled frame first.
	Pyramid int `mapstructure:"pyramid" yaml:"pyramid"`
}

type TasksConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LoopConfig struct {
	CycleDelay         time.Duration `mapstructure:"cycle_delay" yaml:"cycle_delay"`
	MaxUnmatchedCycles int           `mapstructure:"max_unmatched_cycles" yaml:"max_unmatched_cycles"`
	StuckRetries       int           `mapstructure:"stuck_retries" yaml:"stuck_retries"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Delay      time.Duration `mapstructure:"delay" yaml:"delay"`
	Jitter     float64       `mapstructure:"jitter" yaml:"jitter"`
}

type InputConfig struct {
	TapOffset      int           `mapstructure:"tap_offset" yaml:"tap_offset"`
	MinTapInterval time.Duration `mapstructure:"min_tap_interval" yaml:"min_tap_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
	File  bool   `mapstructure:"file" yaml:"file"`
	Color string `mapstructure:"color" yaml:"color"` // auto, always or never
}

type DebugConfig struct {
	// SaveFrames writes the last frame of a stuck state, with the best
	// scores drawn, to Dir.
	SaveFrames bool   `mapstructure:"save_frames" yaml:"save_frames"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
}

// TaskOverride holds per-task replacements. Unset fields keep the shared
// value.
type TaskOverride struct {
	Loop  LoopOverride  `mapstructure:"loop" yaml:"loop,omitempty"`
	Retry RetryOverride `mapstructure:"retry" yaml:"retry,omitempty"`
}

type LoopOverride struct {
	CycleDelay         *time.Duration `mapstructure:"cycle_delay" yaml:"cycle_delay,omitempty"`
	MaxUnmatchedCycles *int           `mapstructure:"max_unmatched_cycles" yaml:"max_unmatched_cycles,omitempty"`
	StuckRetries       *int           `mapstructure:"stuck_retries" yaml:"stuck_retries,omitempty"`
}

type RetryOverride struct {
	MaxRetries *int           `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	Delay      *time.Duration `mapstructure:"delay" yaml:"delay,omitempty"`
	Jitter     *float64       `mapstructure:"jitter" yaml:"jitter,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ADB: ADBConfig{
			Serial:         "127.0.0.1:16384",
			CommandTimeout: 15 * time.Second,
			Screencap:      "png",
		},
		Device: DeviceConfig{
			DesignWidth:  1280,
			DesignHeight: 720,
			Scale:        true,
			Package:      "com.netease.onmyoji",
		},
		Templates: TemplatesConfig{
			Dir:              "templates",
			DefaultThreshold: 0.8,
		},
		Matcher: MatcherConfig{Pyramid: 1},
		Tasks:   TasksConfig{Dir: "tasks"},
		Loop: LoopConfig{
			CycleDelay:         500 * time.Millisecond,
			MaxUnmatchedCycles: 30,
			StuckRetries:       2,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      time.Second,
			Jitter:     0.2,
		},
		Input: InputConfig{
			TapOffset:      5,
			MinTapInterval: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "log",
			File:  true,
			Color: "auto",
		},
		Debug: DebugConfig{
			Dir: "debug",
		},
	}
}

// ForTask returns a copy of c with the overrides for name applied.
func (c *Config) ForTask(name string) *Config {
	out := *c
	o, ok := c.Overrides[strings.ToLower(name)]
	if !ok {
		return &out
	}
	if v := o.Loop.CycleDelay; v != nil {
		out.Loop.CycleDelay = *v
	}
	if v := o.Loop.MaxUnmatchedCycles; v != nil {
		out.Loop.MaxUnmatchedCycles = *v
	}
	if v := o.Loop.StuckRetries; v != nil {
		out.Loop.StuckRetries = *v
	}
	if v := o.Retry.MaxRetries; v != nil {
		out.Retry.MaxRetries = *v
	}
	if v := o.Retry.Delay; v != nil {
		out.Retry.Delay = *v
	}
	if v := o.Retry.Jitter; v != nil {
		out.Retry.Jitter = *v
	}
	return &out
}

// ConfigError is an unreadable or invalid configuration. It is fatal at
// startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.ADB.Screencap != "png" && c.ADB.Screencap != "raw" {
		add("adb.screencap must be png or raw, got %q", c.ADB.Screencap)
	}
	if c.ADB.CommandTimeout <= 0 {
		add("adb.command_timeout must be positive")
	}
	if c.Device.DesignWidth <= 0 || c.Device.DesignHeight <= 0 {
		add("device design resolution must be positive, got %dx%d", c.Device.DesignWidth, c.Device.DesignHeight)
	}
	if c.Device.LaunchGame && c.Device.Package == "" {
		add("device.launch_game needs device.package")
	}
	if c.Templates.Dir == "" {
		add("templates.dir cannot be empty")
	}
	if t := c.Templates.DefaultThreshold; t <= 0 || t > 1 {
		add("templates.default_threshold must be in (0, 1], got %g", t)
	}
	if p := c.Matcher.Pyramid; p != 1 && p != 2 && p != 4 {
		add("matcher.pyramid must be 1, 2 or 4, got %d", p)
	}
	if c.Tasks.Dir == "" {
		add("tasks.dir cannot be empty")
	}
	validateLoop(c.Loop, "loop", add)
	validateRetry(c.Retry, "retry", add)
	if c.Input.TapOffset < 0 {
		add("input.tap_offset must not be negative")
	}
	if c.Input.MinTapInterval < 0 {
		add("input.min_tap_interval must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Color {
	case "auto", "always", "never":
	default:
		add("log.color must be auto, always or never, got %q", c.Log.Color)
	}
	if c.Debug.SaveFrames && c.Debug.Dir == "" {
		add("debug.dir cannot be empty when debug.save_frames is set")
	}

	for name := range c.Overrides {
		eff := c.ForTask(name)
		validateLoop(eff.Loop, "overrides."+name+".loop", add)
		validateRetry(eff.Retry, "overrides."+name+".retry", add)
	}

	if len(errs) == 0 {
		return nil
	}
	return &ConfigError{Err: errors.Join(errs...)}
}

func validateLoop(l LoopConfig, prefix string, add func(string, ...interface{})) {
	if l.CycleDelay < 0 {
		add("%s.cycle_delay must not be negative", prefix)
	}
	if l.MaxUnmatchedCycles < 0 {
		add("%s.max_unmatched_cycles must not be negative", prefix)
	}
	if l.StuckRetries < 0 {
		add("%s.stuck_retries must not be negative", prefix)
	}
}

func validateRetry(r RetryConfig, prefix string, add func(string, ...interface{})) {
	if r.MaxRetries < 0 {
		add("%s.max_retries must not be negative", prefix)
	}
	if r.Delay < 0 {
		add("%s.delay must not be negative", prefix)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		add("%s.jitter must be in [0, 1), got %g", prefix, r.Jitter)
	}
}
