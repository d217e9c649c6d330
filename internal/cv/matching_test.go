package cv

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noise returns a deterministic textured plane. block > 1 produces flat
// block x block tiles, which survive downscaling.
func noise(w, h int, seed uint32, block int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	state := seed
	next := func() uint8 {
		state = state*1664525 + 1013904223
		return uint8(state >> 24)
	}
	tiles := make(map[image.Point]uint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if block <= 1 {
				img.Pix[y*img.Stride+x] = next()
				continue
			}
			key := image.Pt(x/block, y/block)
			v, ok := tiles[key]
			if !ok {
				v = next()
				tiles[key] = v
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	return img
}

func cropGray(src *image.Gray, r image.Rectangle) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

func paste(dst *image.Gray, src *image.Gray, at image.Point) {
	draw.Draw(dst, src.Bounds().Add(at), src, image.Point{}, draw.Src)
}

func frameOf(img image.Image) *Frame {
	return NewFrame(img, time.Now())
}

func TestMatchExactCopy(t *testing.T) {
	src := noise(120, 80, 7, 1)
	offset := image.Pt(37, 21)
	tpl := NewTemplate("button", cropGray(src, image.Rect(37, 21, 53, 33)))

	result, ok := Match(frameOf(src), tpl)
	require.True(t, ok)
	assert.Equal(t, "button", result.Label)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Equal(t, offset, result.Location)
	assert.Equal(t, image.Rect(37, 21, 53, 33), result.Box)
	assert.Equal(t, image.Pt(45, 27), result.Center())
}

func TestMatchExactCopyColorFrame(t *testing.T) {
	gray := noise(64, 48, 11, 1)
	rgba := image.NewRGBA(gray.Bounds())
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			v := gray.GrayAt(x, y).Y
			rgba.SetRGBA(x, y, color.RGBA{v, v / 2, 255 - v, 255})
		}
	}
	patch := Crop(rgba, image.Rect(20, 10, 36, 22))
	tpl := NewTemplate("icon", patch)

	result, ok := Match(frameOf(rgba), tpl)
	require.True(t, ok)
	assert.InDelta(t, 1.0, result.Confidence, 1e-6)
	assert.Equal(t, image.Pt(20, 10), result.Location)
}

func TestMatchThresholdBoundary(t *testing.T) {
	// Degrade a copy of the template so the best score is well below 1.
	src := noise(90, 60, 3, 1)
	patch := cropGray(src, image.Rect(10, 10, 30, 25))
	degraded := noise(90, 60, 99, 1)
	paste(degraded, patch, image.Pt(50, 30))
	for y := 30; y < 45; y += 4 {
		for x := 50; x < 70; x++ {
			degraded.Pix[y*degraded.Stride+x] = 255 - degraded.Pix[y*degraded.Stride+x]
		}
	}

	frame := frameOf(degraded)
	best, err := NewMatcher().Best(frame, NewTemplate("t", patch))
	require.NoError(t, err)
	require.Greater(t, best.Confidence, 0.0)
	require.Less(t, best.Confidence, 1.0)

	tests := []struct {
		name      string
		threshold float64
		want      bool
	}{
		{"above best", best.Confidence + 0.01, false},
		{"equal to best", best.Confidence, true},
		{"below best", best.Confidence - 0.01, true},
		{"zero accepts any score", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := Template{Name: "t", Threshold: tt.threshold}.WithImage(patch)
			result, ok := Match(frame, tpl)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				require.NotNil(t, result)
				assert.Equal(t, best.Location, result.Location)
			} else {
				assert.Nil(t, result)
			}
		})
	}
}

func TestMatchNegativeCorrelationClamped(t *testing.T) {
	patch := noise(12, 12, 5, 1)
	inverted := image.NewGray(patch.Bounds())
	for i, p := range patch.Pix {
		inverted.Pix[i] = 255 - p
	}

	best, err := NewMatcher().Best(frameOf(inverted), NewTemplate("t", patch))
	require.NoError(t, err)
	assert.Equal(t, 0.0, best.Confidence)

	_, ok := Match(frameOf(inverted), Template{Name: "t", Threshold: 0.01}.WithImage(patch))
	assert.False(t, ok)
}

func TestMatchFlatRegions(t *testing.T) {
	flat := func(w, h int, v uint8) *image.Gray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = v
		}
		return img
	}

	best, err := NewMatcher().Best(frameOf(flat(20, 20, 90)), NewTemplate("t", flat(5, 5, 90)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, best.Confidence)

	best, err = NewMatcher().Best(frameOf(flat(20, 20, 90)), NewTemplate("t", flat(5, 5, 200)))
	require.NoError(t, err)
	assert.Equal(t, 0.0, best.Confidence)

	best, err = NewMatcher().Best(frameOf(flat(20, 20, 90)), NewTemplate("t", noise(5, 5, 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0.0, best.Confidence)
}

func TestMatchRegion(t *testing.T) {
	src := noise(100, 60, 21, 1)
	patch := cropGray(src, image.Rect(70, 30, 85, 42))

	within := func(x1, y1, x2, y2 int) Template {
		tpl := NewTemplate("t", patch)
		r := NewRegion(x1, y1, x2, y2)
		tpl.Region = &r
		return tpl
	}

	inside := within(60, 20, 100, 60)
	result, ok := Match(frameOf(src), inside)
	require.True(t, ok)
	assert.Equal(t, image.Pt(70, 30), result.Location)

	outside := within(0, 0, 50, 60)
	_, ok = Match(frameOf(src), outside)
	assert.False(t, ok)

	tooSmall := within(70, 30, 80, 40)
	_, err := NewMatcher().Best(frameOf(src), tooSmall)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)
}

func TestMatchTemplateLargerThanFrame(t *testing.T) {
	_, ok := Match(frameOf(noise(10, 10, 1, 1)), NewTemplate("t", noise(11, 4, 2, 1)))
	assert.False(t, ok)

	_, ok = Match(frameOf(noise(10, 10, 1, 1)), Template{Name: "unloaded"})
	assert.False(t, ok)
}

func TestMatchFirstPriorityOrder(t *testing.T) {
	src := noise(120, 80, 42, 1)
	first := NewTemplate("first", cropGray(src, image.Rect(5, 5, 20, 20)))
	second := NewTemplate("second", cropGray(src, image.Rect(60, 40, 75, 55)))
	absent := Template{Name: "absent", Threshold: 0.95}.WithImage(noise(15, 15, 1234, 1))

	m := NewMatcher()
	frame := frameOf(src)

	result, ok := m.MatchFirst(frame, []Target{first, second})
	require.True(t, ok)
	assert.Equal(t, "first", result.Label)

	result, ok = m.MatchFirst(frame, []Target{second, first})
	require.True(t, ok)
	assert.Equal(t, "second", result.Label)

	result, ok = m.MatchFirst(frame, []Target{absent, second})
	require.True(t, ok)
	assert.Equal(t, "second", result.Label)

	_, ok = m.MatchFirst(frame, []Target{absent})
	assert.False(t, ok)
}

func TestPyramidAgreesWithExhaustive(t *testing.T) {
	src := noise(200, 120, 77, 4)
	patch := cropGray(src, image.Rect(96, 48, 136, 80))
	tpl := NewTemplate("t", patch)

	exact, ok := NewMatcher().Match(frameOf(src), tpl)
	require.True(t, ok)

	coarse, ok := NewMatcher(WithPyramid(2)).Match(frameOf(src), tpl)
	require.True(t, ok)
	assert.Equal(t, exact.Location, coarse.Location)
	assert.InDelta(t, exact.Confidence, coarse.Confidence, 1e-9)
}

func TestNormalize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	out := Normalize(img, image.Pt(1280, 720))
	assert.Equal(t, image.Rect(0, 0, 1280, 720), out.Bounds())

	assert.Same(t, img, Normalize(img, image.Pt(1920, 1080)))
	assert.Same(t, img, Normalize(img, image.Point{}))
}

func TestSaveDebugFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames", "stuck.png")
	img := noise(30, 20, 1, 1)

	require.NoError(t, SaveDebugFrame(path, img, MatchResult{Box: image.Rect(2, 2, 10, 8)}))

	loaded, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), loaded.Bounds())
	r, g, _, _ := loaded.At(2, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
}

func TestLoadTemplateImageScale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tpl.png")
	require.NoError(t, SaveDebugFrame(path, noise(40, 20, 9, 1)))

	gray, err := LoadTemplateImage(path, 0.5)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(20, 10), gray.Bounds().Size())

	gray, err = LoadTemplateImage(path, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 20), gray.Bounds().Size())

	_, err = LoadTemplateImage(filepath.Join(dir, "missing.png"), 1)
	assert.Error(t, err)
}
