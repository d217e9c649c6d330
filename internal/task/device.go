package task

import (
	"context"
	"image"
	"time"
)

// Device is the part of the ADB controller the loop drives. Tests and the
// dry-run mode substitute their own.
type Device interface {
	Screenshot(ctx context.Context) (image.Image, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	Key(ctx context.Context, key string) error
}

// AppDevice can also restart the game, for the restart_game action.
type AppDevice interface {
	Device
	RestartApp(ctx context.Context) error
}
