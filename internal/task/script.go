package task

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"jordanella.com/yys-helper/internal/cv"
)

// State is a named step of a task script, e.g. "lobby" or "in_battle".
type State string

// Script is the YAML description of one automation task.
type Script struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Initial     State               `yaml:"initial"`
	Terminal    []State             `yaml:"terminal"`
	Limits      Limits              `yaml:"limits,omitempty"`
	Recovery    ActionList          `yaml:"recovery,omitempty"`
	States      map[State]*StateDef `yaml:"states"`
}

// StateDef lists the transitions leaving a state in priority order.
type StateDef struct {
	Transitions []Transition `yaml:"transitions"`
}

// Transition fires when Template matches, or Color is seen, while in the
// owning state. An empty Next stays in the same state.
type Transition struct {
	Template string     `yaml:"template,omitempty"`
	Color    *ColorDef  `yaml:"color,omitempty"`
	Action   ActionList `yaml:"action,omitempty"`
	Actions  ActionList `yaml:"actions,omitempty"`
	Next     State      `yaml:"next,omitempty"`
	// MaxRepeats bounds how many times in a row this transition may fire
	// before the task counts as stuck, e.g. a scroll that never finds its
	// target. 0 means unbounded.
	MaxRepeats int `yaml:"max_repeats,omitempty"`
}

// DefaultColorTolerance is the per-channel tolerance of a colour condition
// that does not set one.
const DefaultColorTolerance = 10

// ColorDef is a colour condition: the mean colour of a design-coordinate
// region compared channel by channel.
type ColorDef struct {
	Name      string `yaml:"name,omitempty"`
	X1        int    `yaml:"x1"`
	Y1        int    `yaml:"y1"`
	X2        int    `yaml:"x2"`
	Y2        int    `yaml:"y2"`
	RGB       []int  `yaml:"rgb,flow"`
	Tolerance *int   `yaml:"tolerance,omitempty"`
}

func (c *ColorDef) Validate() error {
	if c.X1 < 0 || c.Y1 < 0 || c.X2 <= c.X1 || c.Y2 <= c.Y1 {
		return fmt.Errorf("region (x1=%d, y1=%d, x2=%d, y2=%d) is empty", c.X1, c.Y1, c.X2, c.Y2)
	}
	if len(c.RGB) != 3 {
		return fmt.Errorf("rgb needs 3 values, got %d", len(c.RGB))
	}
	for _, v := range c.RGB {
		if v < 0 || v > 255 {
			return fmt.Errorf("rgb value %d outside [0, 255]", v)
		}
	}
	if c.Tolerance != nil && (*c.Tolerance < 0 || *c.Tolerance > 255) {
		return fmt.Errorf("tolerance %d outside [0, 255]", *c.Tolerance)
	}
	return nil
}

// Check converts the definition for the matcher. Call Validate first.
func (c *ColorDef) Check() cv.ColorCheck {
	tol := DefaultColorTolerance
	if c.Tolerance != nil {
		tol = *c.Tolerance
	}
	return cv.ColorCheck{
		Name:      c.Name,
		Region:    cv.NewRegion(c.X1, c.Y1, c.X2, c.Y2),
		RGB:       color.RGBA{R: uint8(c.RGB[0]), G: uint8(c.RGB[1]), B: uint8(c.RGB[2]), A: 0xff},
		Tolerance: tol,
	}
}

// Label identifies the transition within its state: the template name, or
// the colour condition's label.
func (t Transition) Label() string {
	if t.Color != nil && t.Template == "" {
		if len(t.Color.RGB) != 3 {
			return t.Color.Name
		}
		return t.Color.Check().Label()
	}
	return t.Template
}

// Steps returns the actions to execute in order.
func (t Transition) Steps() []Action {
	return append(append([]Action{}, t.Action...), t.Actions...)
}

// Limits end a run successfully before a terminal state is reached.
type Limits struct {
	// MaxRounds stops after this many transitions whose next names
	// RoundState, or the initial state when RoundState is empty. Staying in
	// a state without naming it does not count.
	MaxRounds   int           `yaml:"max_rounds,omitempty"`
	RoundState  State         `yaml:"round_state,omitempty"`
	MaxDuration time.Duration `yaml:"max_duration,omitempty"`
}

// IsTerminal reports whether s ends the task.
func (s *Script) IsTerminal(st State) bool {
	for _, t := range s.Terminal {
		if t == st {
			return true
		}
	}
	return false
}

// Templates returns every template name the script references, sorted.
func (s *Script) Templates() []string {
	seen := make(map[string]struct{})
	for _, def := range s.States {
		if def == nil {
			continue
		}
		for _, tr := range def.Transitions {
			if tr.Template != "" {
				seen[tr.Template] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the script is a well-formed transition table. Every
// problem is reported, not only the first.
func (s *Script) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.Name == "" {
		add("name cannot be empty")
	}
	if len(s.Terminal) == 0 {
		add("at least one terminal state is required")
	}
	known := func(st State) bool {
		_, ok := s.States[st]
		return ok || s.IsTerminal(st)
	}
	if s.Initial == "" {
		add("initial state cannot be empty")
	} else if !known(s.Initial) {
		add("initial state %q is not declared", s.Initial)
	}

	for _, name := range sortedStates(s.States) {
		def := s.States[name]
		if s.IsTerminal(name) {
			if def != nil && len(def.Transitions) > 0 {
				add("terminal state %q cannot have transitions", name)
			}
			continue
		}
		if def == nil || len(def.Transitions) == 0 {
			add("state %q has no transitions", name)
			continue
		}
		seen := make(map[string]bool)
		for i, tr := range def.Transitions {
			where := fmt.Sprintf("state %q transition %d", name, i+1)
			switch {
			case tr.Template == "" && tr.Color == nil:
				add("%s: needs a template or a color", where)
			case tr.Template != "" && tr.Color != nil:
				add("%s: template and color cannot be combined", where)
			case tr.Color != nil:
				if err := tr.Color.Validate(); err != nil {
					add("%s: color: %v", where, err)
				}
			}
			if label := tr.Label(); label != "" {
				if seen[label] {
					add("%s: %q already handled by an earlier transition", where, label)
				}
				seen[label] = true
			}
			if tr.MaxRepeats < 0 {
				add("%s: max_repeats must not be negative", where)
			}
			if tr.Next != "" && !known(tr.Next) {
				add("%s: next state %q is not declared", where, tr.Next)
			}
			for j, a := range tr.Steps() {
				if err := a.Validate(); err != nil {
					add("%s action %d (%s): %v", where, j+1, a.Kind(), err)
				}
			}
		}
	}

	for i, a := range s.Recovery {
		if _, ok := a.(*TapMatch); ok {
			add("recovery action %d: tap_match needs a matched template", i+1)
			continue
		}
		if err := a.Validate(); err != nil {
			add("recovery action %d (%s): %v", i+1, a.Kind(), err)
		}
	}

	if s.Limits.MaxRounds < 0 {
		add("limits.max_rounds must not be negative")
	}
	if s.Limits.RoundState != "" && !known(s.Limits.RoundState) {
		add("limits.round_state %q is not declared", s.Limits.RoundState)
	}
	if s.Limits.MaxDuration < 0 {
		add("limits.max_duration must not be negative")
	}

	return errors.Join(errs...)
}

// ParseScript decodes and validates a script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return &s, err
	}
	return &s, nil
}

// LoadScript reads a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScriptError{Path: path, Err: err}
	}
	s, err := ParseScript(data)
	if err != nil {
		name := ""
		if s != nil {
			name = s.Name
		}
		return nil, &ScriptError{Path: path, Task: name, Err: err}
	}
	return s, nil
}

func sortedStates(m map[State]*StateDef) []State {
	out := make([]State, 0, len(m))
	for st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
