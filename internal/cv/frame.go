package cv

import (
	"image"
	"time"
)

// Frame is one captured screen. It lives for a single matching pass; the
// grayscale plane and integral tables are built on first use and shared by
// every template checked against it.
type Frame struct {
	Image    image.Image
	Captured time.Time

	gray   *image.Gray
	sum    []float64 // integral of pixel values, (w+1)*(h+1)
	sqsum  []float64 // integral of squared pixel values
	coarse map[int]*Frame
}

// NewFrame wraps a decoded screenshot.
func NewFrame(img image.Image, captured time.Time) *Frame {
	return &Frame{Image: img, Captured: captured}
}

// Gray returns the grayscale plane of the frame.
func (f *Frame) Gray() *image.Gray {
	if f.gray == nil {
		f.gray = Grayscale(f.Image)
	}
	return f.gray
}

// Bounds returns the frame rectangle in matching coordinates (origin 0,0).
func (f *Frame) Bounds() image.Rectangle {
	return f.Gray().Bounds()
}

func (f *Frame) integrals() ([]float64, []float64) {
	if f.sum != nil {
		return f.sum, f.sqsum
	}
	g := f.Gray()
	w, h := g.Rect.Dx(), g.Rect.Dy()
	stride := w + 1
	sum := make([]float64, stride*(h+1))
	sqsum := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var rowSum, rowSq float64
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, p := range row {
			v := float64(p)
			rowSum += v
			rowSq += v * v
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + rowSum
			sqsum[(y+1)*stride+x+1] = sqsum[y*stride+x+1] + rowSq
		}
	}
	f.sum, f.sqsum = sum, sqsum
	return sum, sqsum
}

// windowStats returns the sum and sum of squares of the w x h window at (x, y).
func (f *Frame) windowStats(x, y, w, h int) (float64, float64) {
	sum, sqsum := f.integrals()
	stride := f.gray.Rect.Dx() + 1
	a := y*stride + x
	b := y*stride + x + w
	c := (y+h)*stride + x
	d := (y+h)*stride + x + w
	return sum[d] - sum[b] - sum[c] + sum[a], sqsum[d] - sqsum[b] - sqsum[c] + sqsum[a]
}

// downscaled returns the frame reduced by factor, cached per frame.
func (f *Frame) downscaled(factor int) *Frame {
	if c, ok := f.coarse[factor]; ok {
		return c
	}
	size := f.Bounds().Size()
	small := resizeGray(f.Gray(), max(size.X/factor, 1), max(size.Y/factor, 1))
	c := &Frame{Image: small, Captured: f.Captured, gray: small}
	if f.coarse == nil {
		f.coarse = make(map[int]*Frame)
	}
	f.coarse[factor] = c
	return c
}
