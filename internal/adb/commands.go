package adb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Input commands

// Tap sends a single touch at (x, y) in device pixels.
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	if _, err := c.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return &InputError{Serial: c.serial, Op: "tap", Err: err}
	}
	return nil
}

// Swipe drags from (x1, y1) to (x2, y2) over duration.
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	ms := duration.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	_, err := c.Shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(ms, 10))
	if err != nil {
		return &InputError{Serial: c.serial, Op: "swipe", Err: err}
	}
	return nil
}

// Key sends an Android key event. Bare names such as "BACK" are expanded to
// "KEYCODE_BACK"; numeric codes are passed through.
func (c *Controller) Key(ctx context.Context, key string) error {
	if _, err := c.Shell(ctx, "input", "keyevent", KeyCode(key)); err != nil {
		return &InputError{Serial: c.serial, Op: "keyevent", Err: err}
	}
	return nil
}

// KeyCode normalises a key name for `input keyevent`.
func KeyCode(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, err := strconv.Atoi(key); err == nil {
		return key
	}
	if strings.HasPrefix(key, "KEYCODE_") {
		return key
	}
	return "KEYCODE_" + key
}

// App management

// StartApp launches an activity, or the package's launcher activity when
// activity is empty.
func (c *Controller) StartApp(ctx context.Context, pkg, activity string) error {
	var err error
	if activity == "" {
		_, err = c.Shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	} else {
		if !strings.Contains(activity, "/") {
			activity = pkg + "/" + activity
		}
		_, err = c.Shell(ctx, "am", "start", "-n", activity)
	}
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", pkg, err)
	}
	return nil
}

// ForceStop kills the package.
func (c *Controller) ForceStop(ctx context.Context, pkg string) error {
	if _, err := c.Shell(ctx, "am", "force-stop", pkg); err != nil {
		return fmt.Errorf("failed to stop %s: %w", pkg, err)
	}
	return nil
}

// IsAppRunning reports whether the package has a live process.
func (c *Controller) IsAppRunning(ctx context.Context, pkg string) (bool, error) {
	out, err := c.Shell(ctx, "pidof", pkg)
	if err != nil {
		// pidof exits 1 when nothing matches and prints nothing.
		if strings.TrimSpace(out) == "" {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Shell commands

// Shell runs a command in the device shell and returns trimmed stdout.
func (c *Controller) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := c.device(ctx, append([]string{"shell"}, args...)...)
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("shell command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Device info

// ScreenSize returns the display size, preferring an override size when the
// emulator has one set.
func (c *Controller) ScreenSize(ctx context.Context) (width, height int, err error) {
	out, err := c.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	return ParseScreenSize(out)
}

// ParseScreenSize parses the output of `wm size`.
func ParseScreenSize(output string) (width, height int, err error) {
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var prefix string
		switch {
		case strings.HasPrefix(line, "Override size:"):
			prefix = "Override size:"
		case strings.HasPrefix(line, "Physical size:") && !found:
			prefix = "Physical size:"
		default:
			continue
		}
		var w, h int
		if _, scanErr := fmt.Sscanf(strings.TrimSpace(strings.TrimPrefix(line, prefix)), "%dx%d", &w, &h); scanErr != nil {
			continue
		}
		width, height, found = w, h, true
	}
	if !found {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", output)
	}
	return width, height, nil
}
