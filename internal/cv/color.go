package cv

import (
	"fmt"
	"image"
	"image/color"
)

// ColorCheck looks for a solid colour in a fixed region, e.g. a lit button
// or an empty stamina bar. It passes when the mean colour of Region is
// within Tolerance of RGB on every channel.
type ColorCheck struct {
	Name      string
	Region    Region
	RGB       color.RGBA
	Tolerance int
}

// Label names the check in logs and match results.
func (c ColorCheck) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("color(%d,%d,%d)@%d,%d", c.RGB.R, c.RGB.G, c.RGB.B, c.Region.X1, c.Region.Y1)
}

// MeanColor averages the pixels of img inside r. ok is false when r does not
// overlap img.
func MeanColor(img image.Image, r image.Rectangle) (mean color.RGBA, ok bool) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return color.RGBA{}, false
	}
	patch := Crop(img, r)
	var sr, sg, sb uint64
	for i := 0; i+3 < len(patch.Pix); i += 4 {
		sr += uint64(patch.Pix[i])
		sg += uint64(patch.Pix[i+1])
		sb += uint64(patch.Pix[i+2])
	}
	n := uint64(len(patch.Pix) / 4)
	return color.RGBA{
		R: uint8((sr + n/2) / n),
		G: uint8((sg + n/2) / n),
		B: uint8((sb + n/2) / n),
		A: 0xff,
	}, true
}

// Check scores the region of frame. Confidence is 1 minus the largest
// channel difference over 255, and the box is the region itself.
func (c ColorCheck) Check(frame *Frame) (*MatchResult, bool) {
	if frame == nil || frame.Image == nil {
		return nil, false
	}
	b := frame.Image.Bounds()
	area := c.Region.Rect().Add(b.Min)
	mean, ok := MeanColor(frame.Image, area)
	if !ok {
		return nil, false
	}
	diff := max(absDiff(mean.R, c.RGB.R), absDiff(mean.G, c.RGB.G), absDiff(mean.B, c.RGB.B))
	if diff > c.Tolerance {
		return nil, false
	}
	box := area.Intersect(b).Sub(b.Min)
	return &MatchResult{
		Label:      c.Label(),
		Confidence: 1 - float64(diff)/255,
		Location:   box.Min,
		Box:        box,
	}, true
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
