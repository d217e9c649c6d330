package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. YYS_ADB_SERIAL.
const EnvPrefix = "YYS"

// Load reads the config at path. Files ending in .ini use the legacy
// Settings.ini layout; anything else goes through viper. Values not in the
// file fall back to Default, and YYS_* environment variables win over both.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		cfg, err = LoadFromINI(path)
	} else {
		cfg, err = loadViper(path)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

func loadViper(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("adb.path", d.ADB.Path)
	v.SetDefault("adb.serial", d.ADB.Serial)
	v.SetDefault("adb.command_timeout", d.ADB.CommandTimeout)
	v.SetDefault("adb.screencap", d.ADB.Screencap)

	v.SetDefault("device.design_width", d.Device.DesignWidth)
	v.SetDefault("device.design_height", d.Device.DesignHeight)
	v.SetDefault("device.scale", d.Device.Scale)
	v.SetDefault("device.package", d.Device.Package)
	v.SetDefault("device.activity", d.Device.Activity)
	v.SetDefault("device.launch_game", d.Device.LaunchGame)

	v.SetDefault("templates.dir", d.Templates.Dir)
	v.SetDefault("templates.default_threshold", d.Templates.DefaultThreshold)
	v.SetDefault("matcher.pyramid", d.Matcher.Pyramid)
	v.SetDefault("tasks.dir", d.Tasks.Dir)

	v.SetDefault("loop.cycle_delay", d.Loop.CycleDelay)
	v.SetDefault("loop.max_unmatched_cycles", d.Loop.MaxUnmatchedCycles)
	v.SetDefault("loop.stuck_retries", d.Loop.StuckRetries)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.delay", d.Retry.Delay)
	v.SetDefault("retry.jitter", d.Retry.Jitter)

	v.SetDefault("input.tap_offset", d.Input.TapOffset)
	v.SetDefault("input.min_tap_interval", d.Input.MinTapInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)

	v.SetDefault("debug.save_frames", d.Debug.SaveFrames)
	v.SetDefault("debug.dir", d.Debug.Dir)
}

// WriteDefault writes the built-in configuration as YAML. An existing file
// is left alone and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	var buf bytes.Buffer
	buf.WriteString("# yys-helper configuration\n")
	buf.WriteString("# Every key can be overridden with an environment variable, e.g. YYS_ADB_SERIAL.\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadFromINI loads configuration from a legacy Settings.ini file. Per-task
// overrides are not supported in this format.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	d := Default()
	config := &Config{}

	// ADB
	section := file.Section("adb")
	config.ADB.Path = section.Key("path").MustString(d.ADB.Path)
	config.ADB.Serial = section.Key("serial").MustString(d.ADB.Serial)
	config.ADB.CommandTimeout = section.Key("command_timeout").MustDuration(d.ADB.CommandTimeout)
	config.ADB.Screencap = section.Key("screencap").MustString(d.ADB.Screencap)

	// Device
	section = file.Section("device")
	config.Device.DesignWidth = section.Key("design_width").MustInt(d.Device.DesignWidth)
	config.Device.DesignHeight = section.Key("design_height").MustInt(d.Device.DesignHeight)
	config.Device.Scale = section.Key("scale").MustBool(d.Device.Scale)
	config.Device.Package = section.Key("package").MustString(d.Device.Package)
	config.Device.Activity = section.Key("activity").MustString(d.Device.Activity)
	config.Device.LaunchGame = section.Key("launch_game").MustBool(d.Device.LaunchGame)

	// Assets
	section = file.Section("templates")
	config.Templates.Dir = section.Key("dir").MustString(d.Templates.Dir)
	config.Templates.DefaultThreshold = section.Key("default_threshold").MustFloat64(d.Templates.DefaultThreshold)
	config.Matcher.Pyramid = file.Section("matcher").Key("pyramid").MustInt(d.Matcher.Pyramid)
	config.Tasks.Dir = file.Section("tasks").Key("dir").MustString(d.Tasks.Dir)

	// Loop
	section = file.Section("loop")
	config.Loop.CycleDelay = section.Key("cycle_delay").MustDuration(d.Loop.CycleDelay)
	config.Loop.MaxUnmatchedCycles = section.Key("max_unmatched_cycles").MustInt(d.Loop.MaxUnmatchedCycles)
	config.Loop.StuckRetries = section.Key("stuck_retries").MustInt(d.Loop.StuckRetries)

	// Retry
	section = file.Section("retry")
	config.Retry.MaxRetries = section.Key("max_retries").MustInt(d.Retry.MaxRetries)
	config.Retry.Delay = section.Key("delay").MustDuration(d.Retry.Delay)
	config.Retry.Jitter = section.Key("jitter").MustFloat64(d.Retry.Jitter)

	// Input
	section = file.Section("input")
	config.Input.TapOffset = section.Key("tap_offset").MustInt(d.Input.TapOffset)
	config.Input.MinTapInterval = section.Key("min_tap_interval").MustDuration(d.Input.MinTapInterval)

	// Logging
	section = file.Section("log")
	config.Log.Level = section.Key("level").MustString(d.Log.Level)
	config.Log.Dir = section.Key("dir").MustString(d.Log.Dir)
	config.Log.File = section.Key("file").MustBool(d.Log.File)
	config.Log.Color = section.Key("color").MustString(d.Log.Color)

	// Debug
	section = file.Section("debug")
	config.Debug.SaveFrames = section.Key("save_frames").MustBool(d.Debug.SaveFrames)
	config.Debug.Dir = section.Key("dir").MustString(d.Debug.Dir)

	return config, nil
}

// SaveToINI saves configuration to an INI file
func SaveToINI(config *Config, path string) error {
	file := ini.Empty()

	// ADB
	section := file.Section("adb")
	section.Key("path").SetValue(config.ADB.Path)
	section.Key("serial").SetValue(config.ADB.Serial)
	section.Key("command_timeout").SetValue(config.ADB.CommandTimeout.String())
	section.Key("screencap").SetValue(config.ADB.Screencap)

	// Device
	section = file.Section("device")
	section.Key("design_width").SetValue(fmt.Sprintf("%d", config.Device.DesignWidth))
	section.Key("design_height").SetValue(fmt.Sprintf("%d", config.Device.DesignHeight))
	section.Key("scale").SetValue(fmt.Sprintf("%t", config.Device.Scale))
	section.Key("package").SetValue(config.Device.Package)
	section.Key("activity").SetValue(config.Device.Activity)
	section.Key("launch_game").SetValue(fmt.Sprintf("%t", config.Device.LaunchGame))

	// Assets
	section = file.Section("templates")
	section.Key("dir").SetValue(config.Templates.Dir)
	section.Key("default_threshold").SetValue(fmt.Sprintf("%g", config.Templates.DefaultThreshold))
	file.Section("matcher").Key("pyramid").SetValue(fmt.Sprintf("%d", config.Matcher.Pyramid))
	file.Section("tasks").Key("dir").SetValue(config.Tasks.Dir)

	// Loop
	section = file.Section("loop")
	section.Key("cycle_delay").SetValue(config.Loop.CycleDelay.String())
	section.Key("max_unmatched_cycles").SetValue(fmt.Sprintf("%d", config.Loop.MaxUnmatchedCycles))
	section.Key("stuck_retries").SetValue(fmt.Sprintf("%d", config.Loop.StuckRetries))

	// Retry
	section = file.Section("retry")
	section.Key("max_retries").SetValue(fmt.Sprintf("%d", config.Retry.MaxRetries))
	section.Key("delay").SetValue(config.Retry.Delay.String())
	section.Key("jitter").SetValue(fmt.Sprintf("%g", config.Retry.Jitter))

	// Input
	section = file.Section("input")
	section.Key("tap_offset").SetValue(fmt.Sprintf("%d", config.Input.TapOffset))
	section.Key("min_tap_interval").SetValue(config.Input.MinTapInterval.String())

	// Logging
	section = file.Section("log")
	section.Key("level").SetValue(config.Log.Level)
	section.Key("dir").SetValue(config.Log.Dir)
	section.Key("file").SetValue(fmt.Sprintf("%t", config.Log.File))
	section.Key("color").SetValue(config.Log.Color)

	// Debug
	section = file.Section("debug")
	section.Key("save_frames").SetValue(fmt.Sprintf("%t", config.Debug.SaveFrames))
	section.Key("dir").SetValue(config.Debug.Dir)

	return file.SaveTo(path)
}
