package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Library holds the task scripts found in a directory, keyed by name.
type Library struct {
	mu      sync.RWMutex
	scripts map[string]*Script
	paths   map[string]string
}

func NewLibrary() *Library {
	return &Library{
		scripts: make(map[string]*Script),
		paths:   make(map[string]string),
	}
}

// LoadDirectory loads every .yaml/.yml script in dir. A broken script does
// not stop the others from loading; all failures are returned joined.
func (l *Library) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read task directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := l.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadFile loads a single script. Names must be unique.
func (l *Library) LoadFile(path string) error {
	s, err := LoadScript(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, exists := l.paths[s.Name]; exists {
		return &ScriptError{Path: path, Task: s.Name, Err: fmt.Errorf("name already defined in %s", prev)}
	}
	l.scripts[s.Name] = s
	l.paths[s.Name] = path
	return nil
}

// Get returns the script called name.
func (l *Library) Get(name string) (*Script, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scripts[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q (available: %s)", name, strings.Join(l.namesLocked(), ", "))
	}
	return s, nil
}

// List returns all scripts sorted by name.
func (l *Library) List() []*Script {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Script, 0, len(l.scripts))
	for _, name := range l.namesLocked() {
		out = append(out, l.scripts[name])
	}
	return out
}

func (l *Library) namesLocked() []string {
	names := make([]string, 0, len(l.scripts))
	for n := range l.scripts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
