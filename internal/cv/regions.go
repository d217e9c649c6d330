package cv

import "image"

// Region is an inclusive-exclusive rectangle in design coordinates, written
// the way templates and scripts spell it (x1,y1 top-left, x2,y2 bottom-right).
type Region struct {
	X1, Y1, X2, Y2 int
}

// NewRegion creates a new region
func NewRegion(x1, y1, x2, y2 int) Region {
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the width of the region
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns the height of the region
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}
