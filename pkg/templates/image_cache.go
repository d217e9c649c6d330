package templates

import (
	"fmt"
	"image"
	"sync"

	"jordanella.com/yys-helper/internal/cv"
)

// imageKey identifies one decoded patch. Two templates may point at the same
// file with different regions; they share the decoded image.
type imageKey struct {
	path  string
	scale float64
}

// ImageCache decodes template images once and hands out the shared plane.
type ImageCache struct {
	mu     sync.Mutex
	images map[imageKey]*image.Gray
	hits   int
}

// CacheStats describes what the cache holds.
type CacheStats struct {
	Images int
	Bytes  int
	Hits   int
}

// NewImageCache creates an empty cache.
func NewImageCache() *ImageCache {
	return &ImageCache{images: make(map[imageKey]*image.Gray)}
}

// Load returns the grayscale patch for path at scale, decoding it on first
// use.
func (ic *ImageCache) Load(path string, scale float64) (*image.Gray, error) {
	if scale == 0 {
		scale = 1
	}
	key := imageKey{path: path, scale: scale}

	ic.mu.Lock()
	defer ic.mu.Unlock()

	if img, ok := ic.images[key]; ok {
		ic.hits++
		return img, nil
	}

	img, err := cv.LoadTemplateImage(path, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to load template image: %w", err)
	}
	ic.images[key] = img
	return img, nil
}

// Stats returns cache statistics.
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	stats := CacheStats{Images: len(ic.images), Hits: ic.hits}
	for _, img := range ic.images {
		stats.Bytes += len(img.Pix)
	}
	return stats
}
