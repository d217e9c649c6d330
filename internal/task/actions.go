package task

import (
	"context"
	"fmt"
	"image"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"jordanella.com/yys-helper/internal/cv"
)

// MinSwipeDistance is the shortest swipe, in pixels, that games register as
// a drag rather than a tap.
const MinSwipeDistance = 10

// Env is what actions may do to the device. The runner implements it and
// applies retry, pacing and recording.
type Env interface {
	Tap(ctx context.Context, p image.Point) error
	Swipe(ctx context.Context, from, to image.Point, d time.Duration) error
	Key(ctx context.Context, key string) error
	Wait(ctx context.Context, d time.Duration) error
	// RestartGame force-stops and relaunches the game.
	RestartGame(ctx context.Context) error
	// Jitter returns a uniform offset in [-n, n].
	Jitter(n int) int
	// DefaultTapOffset is the offset used when an action does not set one.
	DefaultTapOffset() int
}

// Action is one step bound to a transition. match is nil for recovery
// actions, which run when nothing matched.
type Action interface {
	Kind() string
	Validate() error
	Execute(ctx context.Context, env Env, match *cv.MatchResult) error
}

// actionRegistry maps YAML action names to their concrete Go types
// Actions are mapped lowercase to allow for fuzzy script writing
var actionRegistry = map[string]reflect.Type{
	"tap":       reflect.TypeOf(Tap{}),
	"tap_match": reflect.TypeOf(TapMatch{}),
	"swipe":     reflect.TypeOf(Swipe{}),
	"wait":      reflect.TypeOf(Wait{}),
	"key":       reflect.TypeOf(Key{}),
	"none":      reflect.TypeOf(None{}),

	"restart_game": reflect.TypeOf(RestartGame{}),
}

func registeredActions() []string {
	names := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActionList decodes a YAML sequence of polymorphic actions keyed by `type`.
type ActionList []Action

func (l *ActionList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		a, err := decodeAction(node)
		if err != nil {
			return err
		}
		*l = ActionList{a}
		return nil
	}
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: actions must be a list or a single action", node.Line)
	}
	out := make(ActionList, 0, len(node.Content))
	for _, item := range node.Content {
		a, err := decodeAction(item)
		if err != nil {
			return err
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

func decodeAction(node *yaml.Node) (Action, error) {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, fmt.Errorf("line %d: action must be a map: %w", node.Line, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("line %d: action missing 'type' field", node.Line)
	}

	structType, found := actionRegistry[strings.ToLower(head.Type)]
	if !found {
		return nil, fmt.Errorf("line %d: unknown action type '%s' (available types: %v)", node.Line, head.Type, registeredActions())
	}

	action := reflect.New(structType).Interface().(Action)
	if err := node.Decode(action); err != nil {
		return nil, fmt.Errorf("line %d: error decoding %s action: %w", node.Line, head.Type, err)
	}
	return action, nil
}

// Tap touches a fixed design coordinate.
type Tap struct {
	Type   string `yaml:"type"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Offset *int   `yaml:"offset,omitempty"`
}

func (a *Tap) Kind() string { return "tap" }

func (a *Tap) Validate() error {
	if a.X < 0 || a.Y < 0 {
		return fmt.Errorf("coordinates (x=%d, y=%d) must be non-negative", a.X, a.Y)
	}
	if a.Offset != nil && *a.Offset < 0 {
		return fmt.Errorf("offset (%d) must be non-negative", *a.Offset)
	}
	return nil
}

func (a *Tap) Execute(ctx context.Context, env Env, _ *cv.MatchResult) error {
	n := env.DefaultTapOffset()
	if a.Offset != nil {
		n = *a.Offset
	}
	p := image.Pt(max(a.X+env.Jitter(n), 0), max(a.Y+env.Jitter(n), 0))
	return env.Tap(ctx, p)
}

// TapMatch touches the matched template, randomised around its centre but
// never outside its box.
type TapMatch struct {
	Type   string `yaml:"type"`
	Offset *int   `yaml:"offset,omitempty"`
	// DX and DY shift the target from the centre, e.g. to hit a button next
	// to the matched label.
	DX int `yaml:"dx,omitempty"`
	DY int `yaml:"dy,omitempty"`
}

func (a *TapMatch) Kind() string { return "tap_match" }

func (a *TapMatch) Validate() error {
	if a.Offset != nil && *a.Offset < 0 {
		return fmt.Errorf("offset (%d) must be non-negative", *a.Offset)
	}
	return nil
}

func (a *TapMatch) Execute(ctx context.Context, env Env, match *cv.MatchResult) error {
	if match == nil {
		return fmt.Errorf("tap_match has no matched template to tap")
	}
	n := env.DefaultTapOffset()
	if a.Offset != nil {
		n = *a.Offset
	}
	c := match.Center()
	p := image.Pt(c.X+a.DX+env.Jitter(n), c.Y+a.DY+env.Jitter(n))
	if a.DX == 0 && a.DY == 0 {
		p = clampToBox(p, match.Box)
	}
	return env.Tap(ctx, p)
}

func clampToBox(p image.Point, box image.Rectangle) image.Point {
	if box.Empty() {
		return p
	}
	p.X = min(max(p.X, box.Min.X), box.Max.X-1)
	p.Y = min(max(p.Y, box.Min.Y), box.Max.Y-1)
	return p
}

// Swipe drags between two design coordinates.
type Swipe struct {
	Type     string        `yaml:"type"`
	X1       int           `yaml:"x1"`
	Y1       int           `yaml:"y1"`
	X2       int           `yaml:"x2"`
	Y2       int           `yaml:"y2"`
	Duration time.Duration `yaml:"duration"`
}

func (a *Swipe) Kind() string { return "swipe" }

func (a *Swipe) Validate() error {
	if a.X1 < 0 || a.Y1 < 0 || a.X2 < 0 || a.Y2 < 0 {
		return fmt.Errorf("coordinates (x1=%d, y1=%d, x2=%d, y2=%d) must be non-negative", a.X1, a.Y1, a.X2, a.Y2)
	}
	if d := math.Hypot(float64(a.X2-a.X1), float64(a.Y2-a.Y1)); d < MinSwipeDistance {
		return fmt.Errorf("swipe distance %.1fpx is shorter than %dpx", d, MinSwipeDistance)
	}
	if a.Duration <= 0 {
		return fmt.Errorf("duration (%s) must be greater than 0", a.Duration)
	}
	return nil
}

func (a *Swipe) Execute(ctx context.Context, env Env, _ *cv.MatchResult) error {
	return env.Swipe(ctx, image.Pt(a.X1, a.Y1), image.Pt(a.X2, a.Y2), a.Duration)
}

// Wait pauses for a fixed duration, or a random one in [Min, Max].
type Wait struct {
	Type     string        `yaml:"type"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Min      time.Duration `yaml:"min,omitempty"`
	Max      time.Duration `yaml:"max,omitempty"`
}

func (a *Wait) Kind() string { return "wait" }

func (a *Wait) Validate() error {
	if a.Duration > 0 {
		if a.Min != 0 || a.Max != 0 {
			return fmt.Errorf("wait takes either duration or min/max, not both")
		}
		return nil
	}
	if a.Min <= 0 || a.Max < a.Min {
		return fmt.Errorf("wait needs duration > 0 or 0 < min <= max (min=%s, max=%s)", a.Min, a.Max)
	}
	return nil
}

func (a *Wait) Execute(ctx context.Context, env Env, _ *cv.MatchResult) error {
	d := a.Duration
	if d == 0 {
		half := (a.Max - a.Min) / 2
		d = a.Min + half + time.Duration(env.Jitter(int(half/time.Millisecond)))*time.Millisecond
	}
	return env.Wait(ctx, d)
}

// Key sends an Android key event such as BACK.
type Key struct {
	Type string `yaml:"type"`
	Key  string `yaml:"key"`
}

func (a *Key) Kind() string { return "key" }

func (a *Key) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}

func (a *Key) Execute(ctx context.Context, env Env, _ *cv.MatchResult) error {
	return env.Key(ctx, a.Key)
}

// RestartGame force-stops the game and launches it again. It is meant for
// recovery when the client hangs; follow it with a wait long enough for the
// game to load.
type RestartGame struct {
	Type string `yaml:"type"`
}

func (a *RestartGame) Kind() string { return "restart_game" }

func (a *RestartGame) Validate() error { return nil }

func (a *RestartGame) Execute(ctx context.Context, env Env, _ *cv.MatchResult) error {
	return env.RestartGame(ctx)
}

// None only advances the state.
type None struct {
	Type string `yaml:"type"`
}

func (a *None) Kind() string { return "none" }

func (a *None) Validate() error { return nil }

func (a *None) Execute(context.Context, Env, *cv.MatchResult) error { return nil }
