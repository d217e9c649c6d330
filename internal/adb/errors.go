package adb

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound is returned when adb cannot enumerate a usable device
// for the requested serial. It is never retried.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceError describes why a serial could not be used.
type DeviceError struct {
	Serial string
	State  string // state reported by `adb devices`, empty when absent
}

func (e *DeviceError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("adb device %q: %v", e.Serial, ErrDeviceNotFound)
	}
	return fmt.Sprintf("adb device %q is %s: %v", e.Serial, e.State, ErrDeviceNotFound)
}

func (e *DeviceError) Unwrap() error {
	return ErrDeviceNotFound
}

// CaptureError is a transport or decode fault while taking a screenshot.
type CaptureError struct {
	Serial string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("screencap on %s failed: %v", e.Serial, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// InputError is a transport fault while sending a tap, swipe or key event.
type InputError struct {
	Serial string
	Op     string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s on %s failed: %v", e.Op, e.Serial, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a capture or input fault that a caller
// may retry.
func IsTransient(err error) bool {
	var capErr *CaptureError
	var inErr *InputError
	return errors.As(err, &capErr) || errors.As(err, &inErr)
}
