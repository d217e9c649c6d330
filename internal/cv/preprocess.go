package cv

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/disintegration/gift"
)

// Grayscale converts img to an 8-bit luminance plane whose bounds start at
// the origin. Gray images already at the origin are returned as-is.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	filter := gift.New(gift.Grayscale())
	dst := image.NewGray(filter.Bounds(img.Bounds()))
	filter.Draw(dst, img)
	dst.Rect = dst.Rect.Sub(dst.Rect.Min)
	return dst
}

// Resize scales img to w x h with bilinear resampling. A zero dimension
// preserves the aspect ratio.
func Resize(img image.Image, w, h int) *image.RGBA {
	filter := gift.New(gift.Resize(w, h, gift.LinearResampling))
	dst := image.NewRGBA(filter.Bounds(img.Bounds()))
	filter.Draw(dst, img)
	dst.Rect = dst.Rect.Sub(dst.Rect.Min)
	return dst
}

// resizeGray scales a grayscale plane.
func resizeGray(img *image.Gray, w, h int) *image.Gray {
	filter := gift.New(gift.Resize(w, h, gift.LinearResampling))
	dst := image.NewGray(filter.Bounds(img.Bounds()))
	filter.Draw(dst, img)
	dst.Rect = dst.Rect.Sub(dst.Rect.Min)
	return dst
}

// Crop copies the part of img inside r.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	filter := gift.New(gift.Crop(r))
	dst := image.NewRGBA(filter.Bounds(img.Bounds()))
	filter.Draw(dst, img)
	dst.Rect = dst.Rect.Sub(dst.Rect.Min)
	return dst
}

// Normalize rescales a captured frame to the design resolution that
// templates and script coordinates were authored against. Frames already at
// that size, or a zero size, are returned unchanged.
func Normalize(img image.Image, size image.Point) image.Image {
	if size.X <= 0 || size.Y <= 0 || img.Bounds().Size() == size {
		return img
	}
	return Resize(img, size.X, size.Y)
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// LoadTemplateImage loads a template patch as grayscale and applies scale.
func LoadTemplateImage(path string, scale float64) (*image.Gray, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	gray := Grayscale(img)
	if scale > 0 && scale != 1 {
		size := gray.Bounds().Size()
		w := int(math.Round(float64(size.X) * scale))
		h := int(math.Round(float64(size.Y) * scale))
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("template %s scaled to %dx%d: %w", path, w, h, ErrInvalidImage)
		}
		gray = resizeGray(gray, w, h)
	}
	return gray, nil
}
