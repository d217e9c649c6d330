package task

import (
	"fmt"

	"jordanella.com/yys-helper/internal/cv"
)

// TemplateSource resolves template names to loaded templates, keeping the
// requested order. *templates.TemplateRegistry implements it.
type TemplateSource interface {
	Select(names []string) ([]cv.Template, error)
}

// Program is a script bound to its templates, ready to run.
type Program struct {
	Script *Script
	states map[State]*compiledState
}

type compiledState struct {
	// targets in transition order, which is match priority
	targets     []cv.Target
	templates   []cv.Template
	transitions map[string]Transition
}

// Compile resolves every template the script references. Unknown names fail
// here, before any device is touched.
func Compile(s *Script, src TemplateSource) (*Program, error) {
	if err := s.Validate(); err != nil {
		return nil, &ScriptError{Task: s.Name, Err: err}
	}

	loaded, err := src.Select(s.Templates())
	if err != nil {
		return nil, &ScriptError{Task: s.Name, Err: err}
	}
	byName := make(map[string]cv.Template, len(loaded))
	for _, t := range loaded {
		byName[t.Name] = t
	}

	p := &Program{Script: s, states: make(map[State]*compiledState, len(s.States))}
	for name, def := range s.States {
		if s.IsTerminal(name) || def == nil {
			continue
		}
		cs := &compiledState{transitions: make(map[string]Transition, len(def.Transitions))}
		for _, tr := range def.Transitions {
			if tr.Color != nil {
				cs.targets = append(cs.targets, tr.Color.Check())
				cs.transitions[tr.Label()] = tr
				continue
			}
			t, ok := byName[tr.Template]
			if !ok {
				return nil, &ScriptError{Task: s.Name, Err: fmt.Errorf("template %q was not loaded", tr.Template)}
			}
			cs.targets = append(cs.targets, t)
			cs.templates = append(cs.templates, t)
			cs.transitions[tr.Template] = tr
		}
		p.states[name] = cs
	}
	return p, nil
}

// Targets returns the templates and colour checks tried in st, in priority
// order.
func (p *Program) Targets(st State) []cv.Target {
	if cs, ok := p.states[st]; ok {
		return cs.targets
	}
	return nil
}

// Templates returns only the templates checked in st, in priority order.
func (p *Program) Templates(st State) []cv.Template {
	if cs, ok := p.states[st]; ok {
		return cs.templates
	}
	return nil
}
