package adb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// Screenshot captures the current screen and decodes it. Any transport or
// decode fault is returned as a *CaptureError.
func (c *Controller) Screenshot(ctx context.Context) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch c.screencap {
	case ScreencapRaw:
		img, err = c.screenshotRaw(ctx)
	default:
		img, err = c.screenshotPNG(ctx)
	}
	if err != nil {
		return nil, &CaptureError{Serial: c.serial, Err: err}
	}
	return img, nil
}

func (c *Controller) screenshotPNG(ctx context.Context) (image.Image, error) {
	out, err := c.device(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	return DecodePNG(out)
}

func (c *Controller) screenshotRaw(ctx context.Context) (image.Image, error) {
	out, err := c.device(ctx, "exec-out", "screencap")
	if err != nil {
		return nil, err
	}
	return DecodeRaw(out)
}

// DecodePNG decodes `screencap -p` output. Some adb builds on Windows
// rewrite LF to CRLF in the stream; that is undone when the first decode
// fails.
func DecodePNG(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty screencap output")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	fixed := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if img, fixErr := png.Decode(bytes.NewReader(fixed)); fixErr == nil {
		return img, nil
	}
	return nil, fmt.Errorf("failed to decode png: %w", err)
}

// maxRawSide bounds the width and height read from a raw screencap header.
const maxRawSide = 16384

// DecodeRaw decodes raw `screencap` output: little-endian width, height and
// pixel format, optionally followed by a colour space word on newer
// Android releases, then RGBA_8888 pixels.
func DecodeRaw(data []byte) (image.Image, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("raw screencap too short: %d bytes", len(data))
	}
	w := binary.LittleEndian.Uint32(data[0:4])
	h := binary.LittleEndian.Uint32(data[4:8])
	if w == 0 || h == 0 || w > maxRawSide || h > maxRawSide {
		return nil, fmt.Errorf("invalid raw screencap size %dx%d", w, h)
	}

	pixels := uint64(w) * uint64(h) * 4
	if pixels > uint64(len(data)) {
		return nil, fmt.Errorf("raw screencap size mismatch: %dx%d with %d bytes", w, h, len(data))
	}
	header := uint64(len(data)) - pixels
	if header != 12 && header != 16 {
		return nil, fmt.Errorf("raw screencap size mismatch: %dx%d with %d bytes", w, h, len(data))
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	copy(img.Pix, data[header:])
	// The framebuffer alpha channel is not meaningful.
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img, nil
}
