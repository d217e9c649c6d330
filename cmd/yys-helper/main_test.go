package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/yys-helper/internal/adb"
	"jordanella.com/yys-helper/internal/config"
	"jordanella.com/yys-helper/internal/task"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"stopped", fmt.Errorf("run: %w", task.ErrStopped), exitStopped},
		{"stuck", &task.StuckStateError{Task: "farm", State: "lobby"}, exitStuck},
		{"config", &config.ConfigError{Path: "config.yaml", Err: errors.New("bad")}, exitConfig},
		{"script", &task.ScriptError{Path: "a.yaml", Err: errors.New("bad")}, exitConfig},
		{"usage", &usageError{err: errors.New("accepts 1 arg(s)")}, exitConfig},
		{"device not found", &adb.DeviceError{Serial: "emulator-5554"}, exitDevice},
		{"retry exhausted", &task.RetryExhaustedError{Op: "capture", Attempts: 4, Err: &adb.CaptureError{Err: errors.New("eof")}}, exitDevice},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "config.yaml")
	_, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = execute(t, "config", "init", path)
	assert.Equal(t, exitConfig, exitCode(err))

	ini := filepath.Join(dir, "Settings.ini")
	_, err = execute(t, "config", "init", ini)
	require.NoError(t, err)
	_, err = os.Stat(ini)
	assert.NoError(t, err)
}

func TestUsageErrors(t *testing.T) {
	_, err := execute(t, "run")
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = execute(t, "run", "farm", "--max-rounds", "-1")
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = execute(t, "tasks", "--bogus")
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestDeviceFlags(t *testing.T) {
	cfg := config.Default()
	f := deviceFlags{instance: -1}
	require.NoError(t, f.apply(cfg))
	assert.Equal(t, "127.0.0.1:16384", cfg.ADB.Serial)

	f = deviceFlags{instance: 2}
	require.NoError(t, f.apply(cfg))
	assert.Equal(t, "127.0.0.1:16448", cfg.ADB.Serial)

	f = deviceFlags{serial: "emulator-5554", instance: -1}
	require.NoError(t, f.apply(cfg))
	assert.Equal(t, "emulator-5554", cfg.ADB.Serial)

	f = deviceFlags{instance: -3}
	assert.Equal(t, exitConfig, exitCode(f.apply(cfg)))

	_, err := execute(t, "run", "farm", "--serial", "a", "--instance", "1")
	assert.Equal(t, exitConfig, exitCode(err))
	assert.ErrorContains(t, err, "cannot be used together")

	_, err = execute(t, "screenshot", "out.png", "--serial", "a", "--instance", "0")
	assert.Equal(t, exitConfig, exitCode(err))
}

// checkoutConfig points a config at the shipped tasks and templates, which
// come without their images.
func checkoutConfig(t *testing.T) string {
	t.Helper()
	tasksDir, err := filepath.Abs(filepath.Join("..", "..", "tasks"))
	require.NoError(t, err)
	templatesDir, err := filepath.Abs(filepath.Join("..", "..", "templates"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("tasks:\n  dir: %q\ntemplates:\n  dir: %q\nlog:\n  file: false\n  color: never\n", tasksDir, templatesDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTasksWithoutTemplateImages(t *testing.T) {
	out, err := execute(t, "--config", checkoutConfig(t), "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "anniversary")
	assert.Contains(t, out, "exploration")
	assert.Contains(t, out, "kekkai_toppa")
}

func TestMatchReportsEveryMissingImage(t *testing.T) {
	frame := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(frame)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 32, 18))))
	require.NoError(t, f.Close())

	_, err = execute(t, "--config", checkoutConfig(t), "match", frame, "battle_icon")
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
	assert.Contains(t, err.Error(), "anniversary_start")
	assert.Contains(t, err.Error(), "battle_icon")
	assert.Contains(t, err.Error(), "treasure_box")
}
