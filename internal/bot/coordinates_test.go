package bot

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinateTranslator(t *testing.T) {
	tests := []struct {
		name   string
		config CoordinateConfig
		in     image.Point
		want   image.Point
	}{
		{"identity", CoordinateConfig{1280, 720, 1280, 720}, image.Pt(640, 360), image.Pt(640, 360)},
		{"upscale", CoordinateConfig{1280, 720, 1920, 1080}, image.Pt(640, 360), image.Pt(960, 540)},
		{"downscale", CoordinateConfig{1280, 720, 960, 540}, image.Pt(100, 50), image.Pt(75, 37)},
		{"invalid source keeps point", CoordinateConfig{0, 0, 1920, 1080}, image.Pt(10, 20), image.Pt(10, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := NewCoordinateTranslator(tt.config)
			assert.Equal(t, tt.want, ct.TranslatePoint(tt.in))
		})
	}

	ct := NewCoordinateTranslator(CoordinateConfig{1280, 720, 1280, 720})
	assert.True(t, ct.Identity())
	assert.NoError(t, ct.Validate())
	assert.Error(t, NewCoordinateTranslator(CoordinateConfig{1280, 0, 1280, 720}).Validate())
	assert.Contains(t, NewCoordinateTranslator(CoordinateConfig{1280, 720, 1920, 1080}).String(), "ScaleX: 1.500")
}
