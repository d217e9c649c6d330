package bot

import (
	"context"
	"image"
	"time"

	"jordanella.com/yys-helper/internal/cv"
	"jordanella.com/yys-helper/internal/logging"
	"jordanella.com/yys-helper/internal/task"
)

// scaledDevice presents the device at the design resolution. Frames are
// resized down (or up) to it, and input coordinates are translated back to
// the size of the last captured frame.
type scaledDevice struct {
	task.Device
	design     image.Point
	translator *CoordinateTranslator
	log        *logging.Logger
}

func newScaledDevice(d task.Device, design image.Point, log *logging.Logger) *scaledDevice {
	return &scaledDevice{
		Device: d,
		design: design,
		translator: NewCoordinateTranslator(CoordinateConfig{
			SourceWidth: design.X, SourceHeight: design.Y,
			TargetWidth: design.X, TargetHeight: design.Y,
		}),
		log: log,
	}
}

func (s *scaledDevice) Screenshot(ctx context.Context) (image.Image, error) {
	img, err := s.Device.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	size := img.Bounds().Size()
	if cfg := s.translator.config; cfg.TargetWidth != size.X || cfg.TargetHeight != size.Y {
		s.translator = NewCoordinateTranslator(CoordinateConfig{
			SourceWidth: s.design.X, SourceHeight: s.design.Y,
			TargetWidth: size.X, TargetHeight: size.Y,
		})
		s.log.InfoWithContext("device resolution changed", map[string]interface{}{
			"translator": s.translator.String(),
		})
	}
	if s.translator.Identity() {
		return img, nil
	}
	return cv.Normalize(img, s.design), nil
}

func (s *scaledDevice) Tap(ctx context.Context, x, y int) error {
	p := s.translator.TranslatePoint(image.Pt(x, y))
	return s.Device.Tap(ctx, p.X, p.Y)
}

func (s *scaledDevice) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	from := s.translator.TranslatePoint(image.Pt(x1, y1))
	to := s.translator.TranslatePoint(image.Pt(x2, y2))
	return s.Device.Swipe(ctx, from.X, from.Y, to.X, to.Y, d)
}

func (s *scaledDevice) RestartApp(ctx context.Context) error {
	return restartApp(ctx, s.Device)
}

// appController is the part of *adb.Controller that manages the game
// process.
type appController interface {
	ForceStop(ctx context.Context, pkg string) error
	StartApp(ctx context.Context, pkg, activity string) error
}

// gameDevice adds game restarts to a device whose controller can stop and
// launch packages.
type gameDevice struct {
	task.Device
	app      appController
	pkg      string
	activity string
	log      *logging.Logger
}

// RestartApp force-stops the game and launches it again.
func (g *gameDevice) RestartApp(ctx context.Context) error {
	g.log.InfoWithContext("restarting game", map[string]interface{}{"package": g.pkg})
	if err := g.app.ForceStop(ctx, g.pkg); err != nil {
		return err
	}
	return g.app.StartApp(ctx, g.pkg, g.activity)
}

func restartApp(ctx context.Context, d task.Device) error {
	app, ok := d.(task.AppDevice)
	if !ok {
		return task.ErrRestartUnsupported
	}
	return app.RestartApp(ctx)
}

// dryRunDevice captures real frames but only logs input.
type dryRunDevice struct {
	task.Device
	log *logging.Logger
}

func (d *dryRunDevice) Tap(_ context.Context, x, y int) error {
	d.log.InfoWithContext("dry-run: tap not sent", map[string]interface{}{"x": x, "y": y})
	return nil
}

func (d *dryRunDevice) Swipe(_ context.Context, x1, y1, x2, y2 int, dur time.Duration) error {
	d.log.InfoWithContext("dry-run: swipe not sent", map[string]interface{}{
		"x1": x1, "y1": y1, "x2": x2, "y2": y2, "duration": dur,
	})
	return nil
}

func (d *dryRunDevice) Key(_ context.Context, key string) error {
	d.log.InfoWithContext("dry-run: key not sent", map[string]interface{}{"key": key})
	return nil
}

func (d *dryRunDevice) RestartApp(context.Context) error {
	if _, ok := d.Device.(task.AppDevice); !ok {
		return task.ErrRestartUnsupported
	}
	d.log.Info("dry-run: game restart not sent")
	return nil
}
