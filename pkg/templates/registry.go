package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
	"jordanella.com/yys-helper/internal/cv"
)

// ErrUnknownTemplate is returned when a name is not in the registry.
var ErrUnknownTemplate = errors.New("unknown template")

// TemplateRegistry holds the fixed set of templates for a run. Images are
// decoded while loading, so lookups never touch the disk.
type TemplateRegistry struct {
	mu               sync.RWMutex
	templates        map[string]cv.Template
	basePath         string // Base path for template image files
	defaultThreshold float64
	images           *ImageCache
}

// TemplateDefinition represents a template in the YAML file
type TemplateDefinition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Threshold *float64   `yaml:"threshold,omitempty"` // nil uses the registry default
	Region    *RegionDef `yaml:"region,omitempty"`
	Scale     float64    `yaml:"scale,omitempty"`
}

// RegionDef represents a region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// TemplateFile represents the structure of a template YAML file
type TemplateFile struct {
	Templates []TemplateDefinition `yaml:"templates"`
}

// NewTemplateRegistry creates a new template registry
// basePath is the root directory where template image files are stored. When
// empty, image paths are resolved against the directory of each YAML file.
func NewTemplateRegistry(basePath string) *TemplateRegistry {
	return &TemplateRegistry{
		templates:        make(map[string]cv.Template),
		basePath:         basePath,
		defaultThreshold: cv.DefaultThreshold,
		images:           NewImageCache(),
	}
}

// WithDefaultThreshold sets the threshold for definitions that omit one.
func (tr *TemplateRegistry) WithDefaultThreshold(t float64) *TemplateRegistry {
	if t > 0 {
		tr.defaultThreshold = t
	}
	return tr
}

// LoadFromFile loads templates from a YAML file and decodes their images.
func (tr *TemplateRegistry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var templateFile TemplateFile
	if err := yaml.Unmarshal(data, &templateFile); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	base := tr.basePath
	if base == "" {
		base = filepath.Dir(filePath)
	}

	// Every bad definition is reported, so a fresh install learns about all
	// missing images at once.
	var errs []error
	loaded := make([]cv.Template, 0, len(templateFile.Templates))
	for i, def := range templateFile.Templates {
		template, err := tr.build(def, base)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: template %d: %w", filePath, i+1, err))
			continue
		}
		loaded = append(loaded, template)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, t := range loaded {
		if _, dup := tr.templates[t.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: template %q defined twice", filePath, t.Name))
			continue
		}
		tr.templates[t.Name] = t
	}
	return errors.Join(errs...)
}

func (tr *TemplateRegistry) build(def TemplateDefinition, base string) (cv.Template, error) {
	if def.Name == "" {
		return cv.Template{}, fmt.Errorf("name cannot be empty")
	}
	if def.Path == "" {
		return cv.Template{}, fmt.Errorf("%s: path cannot be empty", def.Name)
	}
	threshold := tr.defaultThreshold
	if def.Threshold != nil {
		threshold = *def.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return cv.Template{}, fmt.Errorf("%s: threshold %.3f outside [0, 1]", def.Name, threshold)
	}
	if def.Scale < 0 {
		return cv.Template{}, fmt.Errorf("%s: scale must not be negative", def.Name)
	}

	path := def.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}

	// Convert the definition to a cv.Template
	template := cv.Template{
		Name:      def.Name,
		Path:      path,
		Threshold: threshold,
		Scale:     def.Scale,
	}

	// Convert region if present
	if def.Region != nil {
		region := cv.NewRegion(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
		if region.Empty() {
			return cv.Template{}, fmt.Errorf("%s: region %+v is empty", def.Name, *def.Region)
		}
		template.Region = &region
	}

	img, err := tr.images.Load(path, def.Scale)
	if err != nil {
		return cv.Template{}, fmt.Errorf("%s: %w", def.Name, err)
	}
	template.Image = img
	return template, nil
}

// LoadFromDirectory loads all YAML files from a directory
func (tr *TemplateRegistry) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	var loadErrors []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		fullPath := filepath.Join(dirPath, entry.Name())
		if err := tr.LoadFromFile(fullPath); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	return errors.Join(loadErrors...)
}

// Get retrieves a template by name
// Returns the template and true if found, or an empty template and false if not found
func (tr *TemplateRegistry) Get(name string) (cv.Template, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	template, ok := tr.templates[name]
	return template, ok
}

// Select returns the named templates in the order given. Every missing name
// is reported in one error.
func (tr *TemplateRegistry) Select(names []string) ([]cv.Template, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]cv.Template, 0, len(names))
	var missing []string
	for _, name := range names {
		t, ok := tr.templates[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, strings.Join(missing, ", "))
	}
	return out, nil
}

// List returns all template names in the registry, sorted
func (tr *TemplateRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.templates))
	for name := range tr.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of templates in the registry
func (tr *TemplateRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return len(tr.templates)
}

// CacheStats returns image cache statistics
func (tr *TemplateRegistry) CacheStats() CacheStats {
	return tr.images.Stats()
}
