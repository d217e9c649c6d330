package cv

import "image"

// DefaultThreshold is used when a template does not set its own.
const DefaultThreshold = 0.8

// Template is a labelled image patch with its match threshold. Templates are
// built once at startup and treated as read-only afterwards.
type Template struct {
	Name      string
	Path      string
	Threshold float64 // match when confidence >= Threshold; 0 accepts any score
	Region    *Region // optional search area; nil searches the whole frame
	Scale     float64 // resize factor applied to the patch on load, 0 or 1 keeps it
	Image     *image.Gray
}

// NewTemplate builds a template from a decoded patch with the default
// threshold.
func NewTemplate(name string, img image.Image) Template {
	return Template{Name: name, Threshold: DefaultThreshold}.WithImage(img)
}

// Label is the template name.
func (t Template) Label() string { return t.Name }

// WithImage attaches the decoded patch, converting it to grayscale.
func (t Template) WithImage(img image.Image) Template {
	t.Image = Grayscale(img)
	return t
}

// Size returns the patch dimensions, zero when no image is attached.
func (t Template) Size() image.Point {
	if t.Image == nil {
		return image.Point{}
	}
	return t.Image.Bounds().Size()
}
