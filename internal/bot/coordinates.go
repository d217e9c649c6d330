package bot

import (
	"fmt"
	"image"
)

// CoordinateConfig maps the design resolution that scripts and templates are
// authored in onto the real device screen.
type CoordinateConfig struct {
	SourceWidth  int // design resolution
	SourceHeight int
	TargetWidth  int // device frame size
	TargetHeight int
}

// CoordinateTranslator handles translation between different coordinate systems
type CoordinateTranslator struct {
	config CoordinateConfig
}

// NewCoordinateTranslator creates a new coordinator translator with the given configuration
func NewCoordinateTranslator(config CoordinateConfig) *CoordinateTranslator {
	return &CoordinateTranslator{
		config: config,
	}
}

// Identity reports whether no scaling is needed.
func (ct *CoordinateTranslator) Identity() bool {
	return ct.config.SourceWidth == ct.config.TargetWidth && ct.config.SourceHeight == ct.config.TargetHeight
}

// TranslateX translates an X coordinate from source to target coordinate system
func (ct *CoordinateTranslator) TranslateX(x int) int {
	if ct.config.SourceWidth == 0 || ct.config.TargetWidth == 0 {
		// No translation if source or target is invalid
		return x
	}
	return x * ct.config.TargetWidth / ct.config.SourceWidth
}

// TranslateY translates a Y coordinate from source to target coordinate system
func (ct *CoordinateTranslator) TranslateY(y int) int {
	if ct.config.SourceHeight == 0 || ct.config.TargetHeight == 0 {
		return y
	}
	return y * ct.config.TargetHeight / ct.config.SourceHeight
}

// TranslatePoint translates a point from source to target coordinate system
func (ct *CoordinateTranslator) TranslatePoint(p image.Point) image.Point {
	return image.Pt(ct.TranslateX(p.X), ct.TranslateY(p.Y))
}

// GetScaleFactors returns the X and Y scale factors
func (ct *CoordinateTranslator) GetScaleFactors() (float64, float64) {
	scaleX := 1.0
	scaleY := 1.0

	if ct.config.SourceWidth != 0 && ct.config.TargetWidth != 0 {
		scaleX = float64(ct.config.TargetWidth) / float64(ct.config.SourceWidth)
	}

	if ct.config.SourceHeight != 0 && ct.config.TargetHeight != 0 {
		scaleY = float64(ct.config.TargetHeight) / float64(ct.config.SourceHeight)
	}

	return scaleX, scaleY
}

// Validate ensures the coordinate configuration is valid
func (ct *CoordinateTranslator) Validate() error {
	if ct.config.SourceWidth <= 0 {
		return fmt.Errorf("invalid SourceWidth: %d (must be > 0)", ct.config.SourceWidth)
	}
	if ct.config.SourceHeight <= 0 {
		return fmt.Errorf("invalid SourceHeight: %d (must be > 0)", ct.config.SourceHeight)
	}
	if ct.config.TargetWidth <= 0 {
		return fmt.Errorf("invalid TargetWidth: %d (must be > 0)", ct.config.TargetWidth)
	}
	if ct.config.TargetHeight <= 0 {
		return fmt.Errorf("invalid TargetHeight: %d (must be > 0)", ct.config.TargetHeight)
	}
	return nil
}

// String returns a string representation of the translator configuration
func (ct *CoordinateTranslator) String() string {
	scaleX, scaleY := ct.GetScaleFactors()
	return fmt.Sprintf("CoordinateTranslator{Source: %dx%d, Target: %dx%d, ScaleX: %.3f, ScaleY: %.3f}",
		ct.config.SourceWidth, ct.config.SourceHeight,
		ct.config.TargetWidth, ct.config.TargetHeight,
		scaleX, scaleY)
}
