package cv

import (
	"errors"
	"image"
	"math"
)

// MatchResult contains template matching results
type MatchResult struct {
	Label      string
	Confidence float64 // normalized cross-correlation clamped to [0, 1]
	Location   image.Point
	Box        image.Rectangle
}

// Center returns the middle of the matched box.
func (r MatchResult) Center() image.Point {
	return image.Pt((r.Box.Min.X+r.Box.Max.X)/2, (r.Box.Min.Y+r.Box.Max.Y)/2)
}

// Error types
var (
	ErrTemplateTooLarge = errors.New("template larger than search image")
	ErrInvalidImage     = errors.New("invalid image provided")
)

const (
	flatEpsilon = 1e-9
	// coarseCandidates is how many coarse peaks are refined at full size.
	coarseCandidates = 3
	// minCoarseSide keeps downscaled templates large enough to correlate.
	minCoarseSide = 4
)

// Matcher scores templates against frames with zero-mean normalized
// cross-correlation.
type Matcher struct {
	pyramid int
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithPyramid enables a coarse-to-fine search: the frame is first scanned
// at 1/factor size and only the best coarse peaks are refined. 1 disables it.
func WithPyramid(factor int) MatcherOption {
	return func(m *Matcher) {
		if factor >= 1 {
			m.pyramid = factor
		}
	}
}

// NewMatcher returns an exhaustive matcher unless options say otherwise.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{pyramid: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultMatcher = NewMatcher()

// Match runs the default exhaustive matcher.
func Match(frame *Frame, t Template) (*MatchResult, bool) {
	return defaultMatcher.Match(frame, t)
}

// Match returns the best location of t in frame when its confidence reaches
// the template threshold. Anything below threshold is reported as absent.
func (m *Matcher) Match(frame *Frame, t Template) (*MatchResult, bool) {
	best, err := m.Best(frame, t)
	if err != nil || best.Confidence < t.Threshold {
		return nil, false
	}
	return &best, true
}

// Target is something a frame is searched for: a Template or a ColorCheck.
type Target interface {
	Label() string
}

// Find checks one target against frame.
func (m *Matcher) Find(frame *Frame, target Target) (*MatchResult, bool) {
	switch t := target.(type) {
	case Template:
		return m.Match(frame, t)
	case ColorCheck:
		return t.Check(frame)
	}
	return nil, false
}

// MatchFirst checks targets in order and returns the first one found. Later
// targets are not evaluated once one hits.
func (m *Matcher) MatchFirst(frame *Frame, targets []Target) (*MatchResult, bool) {
	for _, t := range targets {
		if r, ok := m.Find(frame, t); ok {
			return r, true
		}
	}
	return nil, false
}

// Best returns the highest scoring location regardless of threshold.
func (m *Matcher) Best(frame *Frame, t Template) (MatchResult, error) {
	if frame == nil || t.Image == nil {
		return MatchResult{Label: t.Name}, ErrInvalidImage
	}

	area := frame.Bounds()
	if t.Region != nil {
		area = t.Region.Rect().Intersect(area)
	}
	size := t.Size()
	if size.X > area.Dx() || size.Y > area.Dy() || size.X == 0 || size.Y == 0 {
		return MatchResult{Label: t.Name}, ErrTemplateTooLarge
	}

	tpl := prepareTemplate(t.Image)

	var score float64
	var loc image.Point
	if f := m.pyramid; f > 1 && size.X/f >= minCoarseSide && size.Y/f >= minCoarseSide {
		score, loc = searchPyramid(frame, tpl, t.Image, area, f)
	} else {
		score, loc = search(frame, tpl, area)
	}

	return MatchResult{
		Label:      t.Name,
		Confidence: score,
		Location:   loc,
		Box:        image.Rectangle{Min: loc, Max: loc.Add(size)},
	}, nil
}

// preparedTemplate holds the zero-mean patch used by the correlation.
type preparedTemplate struct {
	w, h  int
	n     float64
	mean  float64
	zero  []float64 // pixel - mean, row-major
	sumSq float64   // sum of zero^2
}

func prepareTemplate(img *image.Gray) *preparedTemplate {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	p := &preparedTemplate{w: w, h: h, n: float64(w * h), zero: make([]float64, w*h)}

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += float64(img.Pix[y*img.Stride+x])
		}
	}
	p.mean = sum / p.n

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			z := float64(img.Pix[y*img.Stride+x]) - p.mean
			p.zero[y*w+x] = z
			p.sumSq += z * z
		}
	}
	return p
}

// search scans every window fully inside area. Ties keep the first
// position in raster order.
func search(frame *Frame, tpl *preparedTemplate, area image.Rectangle) (float64, image.Point) {
	best := -1.0
	var loc image.Point
	for y := area.Min.Y; y <= area.Max.Y-tpl.h; y++ {
		for x := area.Min.X; x <= area.Max.X-tpl.w; x++ {
			if s := score(frame, tpl, x, y); s > best {
				best, loc = s, image.Pt(x, y)
			}
		}
	}
	return clamp(best), loc
}

// score computes the correlation coefficient of the window at (x, y).
func score(frame *Frame, tpl *preparedTemplate, x, y int) float64 {
	winSum, winSq := frame.windowStats(x, y, tpl.w, tpl.h)
	winVar := winSq - winSum*winSum/tpl.n
	tplFlat := tpl.sumSq <= flatEpsilon
	winFlat := winVar <= flatEpsilon

	switch {
	case tplFlat && winFlat:
		if math.Abs(winSum/tpl.n-tpl.mean) <= 1 {
			return 1
		}
		return 0
	case tplFlat || winFlat:
		return 0
	}

	g := frame.gray
	var num float64
	for j := 0; j < tpl.h; j++ {
		row := g.Pix[(y+j)*g.Stride+x : (y+j)*g.Stride+x+tpl.w]
		zrow := tpl.zero[j*tpl.w : (j+1)*tpl.w]
		for i, p := range row {
			num += float64(p) * zrow[i]
		}
	}
	return num / math.Sqrt(tpl.sumSq*winVar)
}

// searchPyramid finds candidates on a downscaled frame and refines each one
// in a small neighbourhood at full resolution.
func searchPyramid(frame *Frame, tpl *preparedTemplate, patch *image.Gray, area image.Rectangle, factor int) (float64, image.Point) {
	small := frame.downscaled(factor)
	smallTpl := prepareTemplate(resizeGray(patch, tpl.w/factor, tpl.h/factor))
	smallArea := image.Rect(area.Min.X/factor, area.Min.Y/factor, area.Max.X/factor, area.Max.Y/factor).
		Intersect(small.Bounds())

	type candidate struct {
		score float64
		at    image.Point
	}
	var peaks []candidate
	for y := smallArea.Min.Y; y <= smallArea.Max.Y-smallTpl.h; y++ {
		for x := smallArea.Min.X; x <= smallArea.Max.X-smallTpl.w; x++ {
			s := score(small, smallTpl, x, y)
			if len(peaks) == coarseCandidates && s <= peaks[len(peaks)-1].score {
				continue
			}
			c := candidate{s, image.Pt(x, y)}
			i := len(peaks)
			for i > 0 && peaks[i-1].score < s {
				i--
			}
			peaks = append(peaks, candidate{})
			copy(peaks[i+1:], peaks[i:])
			peaks[i] = c
			if len(peaks) > coarseCandidates {
				peaks = peaks[:coarseCandidates]
			}
		}
	}

	if len(peaks) == 0 {
		return search(frame, tpl, area)
	}

	best := -1.0
	var loc image.Point
	for _, p := range peaks {
		cx, cy := p.at.X*factor, p.at.Y*factor
		window := image.Rect(cx-factor, cy-factor, cx+tpl.w+2*factor, cy+tpl.h+2*factor).Intersect(area)
		if window.Dx() < tpl.w || window.Dy() < tpl.h {
			continue
		}
		if s, at := search(frame, tpl, window); s > best {
			best, loc = s, at
		}
	}
	if best < 0 {
		return search(frame, tpl, area)
	}
	return best, loc
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
