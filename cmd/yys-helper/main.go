package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"jordanella.com/yys-helper/internal/adb"
	"jordanella.com/yys-helper/internal/config"
	"jordanella.com/yys-helper/internal/task"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitDevice  = 3
	exitStuck   = 4
	exitStopped = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	var (
		configErr *config.ConfigError
		scriptErr *task.ScriptError
		exhausted *task.RetryExhaustedError
		deviceErr *adb.DeviceError
		stuck     *task.StuckStateError
		usage     *usageError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, task.ErrStopped), errors.Is(err, context.Canceled):
		return exitStopped
	case errors.As(err, &stuck):
		return exitStuck
	case errors.As(err, &configErr), errors.As(err, &scriptErr), errors.As(err, &usage):
		return exitConfig
	case errors.As(err, &exhausted), errors.As(err, &deviceErr), errors.Is(err, adb.ErrDeviceNotFound):
		return exitDevice
	}
	return exitFailure
}

// usageError marks bad command-line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
