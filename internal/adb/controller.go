package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// RunFunc executes the adb binary with args and returns its stdout.
// A non-zero exit must be reported as an error that carries stderr.
type RunFunc func(ctx context.Context, path string, args ...string) ([]byte, error)

// ScreencapFormat selects how frames are pulled off the device.
type ScreencapFormat string

const (
	ScreencapPNG ScreencapFormat = "png"
	ScreencapRaw ScreencapFormat = "raw"
)

// DefaultCommandTimeout bounds a single adb invocation.
const DefaultCommandTimeout = 15 * time.Second

// ADB controller type and lifecycle
type Controller struct {
	path      string
	serial    string
	timeout   time.Duration
	screencap ScreencapFormat
	run       RunFunc

	mu        sync.Mutex
	connected bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithCommandTimeout sets the per-invocation timeout. Zero disables it.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithScreencapFormat selects PNG or raw framebuffer capture.
func WithScreencapFormat(f ScreencapFormat) Option {
	return func(c *Controller) {
		if f != "" {
			c.screencap = f
		}
	}
}

// WithRunner replaces the process runner. Tests use it to script adb output.
func WithRunner(run RunFunc) Option {
	return func(c *Controller) {
		c.run = run
	}
}

// NewController creates a controller for serial. An empty serial picks the
// first online device on Connect.
func NewController(adbPath, serial string, opts ...Option) *Controller {
	c := &Controller{
		path:      adbPath,
		serial:    serial,
		timeout:   DefaultCommandTimeout,
		screencap: ScreencapPNG,
		run:       execRun,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serial returns the device serial in use.
func (c *Controller) Serial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// IsConnected reports whether Connect succeeded.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect makes sure the serial is enumerated by adb and online.
// Network serials (host:port) are attached with `adb connect` first, and an
// offline network device gets one reconnect attempt.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.serial == "" {
		devices, err := c.listDevices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.Online() {
				c.serial = d.Serial
				break
			}
		}
		if c.serial == "" {
			return &DeviceError{Serial: "(auto)"}
		}
	} else if IsNetworkSerial(c.serial) {
		c.attach(ctx)
	}

	state, err := c.stateOf(ctx, c.serial)
	if err != nil {
		return err
	}

	if state == StateOffline && IsNetworkSerial(c.serial) {
		c.invoke(ctx, "disconnect", c.serial)
		c.attach(ctx)
		if state, err = c.stateOf(ctx, c.serial); err != nil {
			return err
		}
	}

	if state != StateDevice {
		return &DeviceError{Serial: c.serial, State: state}
	}

	c.connected = true
	return nil
}

// Disconnect detaches a network device. USB devices are left alone.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	if !IsNetworkSerial(c.serial) {
		return nil
	}
	if _, err := c.invoke(ctx, "disconnect", c.serial); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", c.serial, err)
	}
	return nil
}

// ListDevices returns every device adb currently knows about.
func (c *Controller) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	return c.listDevices(ctx)
}

func (c *Controller) attach(ctx context.Context) {
	// `adb connect` exits 0 even when it fails; the devices listing that
	// follows is the source of truth.
	c.invoke(ctx, "connect", c.serial)
}

func (c *Controller) stateOf(ctx context.Context, serial string) (string, error) {
	devices, err := c.listDevices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.Serial == serial {
			return d.State, nil
		}
	}
	return "", &DeviceError{Serial: serial}
}

func (c *Controller) listDevices(ctx context.Context) ([]DeviceInfo, error) {
	out, err := c.invoke(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to list adb devices: %w", err)
	}
	return ParseDevices(string(out)), nil
}

// invoke runs adb with the controller's timeout applied.
func (c *Controller) invoke(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.run(ctx, c.path, args...)
}

// device runs adb against the selected serial.
func (c *Controller) device(ctx context.Context, args ...string) ([]byte, error) {
	return c.invoke(ctx, append([]string{"-s", c.serial}, args...)...)
}

func execRun(ctx context.Context, path string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("adb %s timed out: %w", strings.Join(args, " "), ctxErr)
		}
		return nil, fmt.Errorf("adb %s: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
