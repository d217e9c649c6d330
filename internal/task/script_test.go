package task

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jordanella.com/yys-helper/internal/cv"
)

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(battleScript))
	require.NoError(t, err)

	assert.Equal(t, "battle", s.Name)
	assert.Equal(t, State("lobby"), s.Initial)
	assert.True(t, s.IsTerminal("done"))
	assert.False(t, s.IsTerminal("lobby"))
	assert.Equal(t, []string{"finish", "reward", "start"}, s.Templates())

	lobby := s.States["lobby"].Transitions
	require.Len(t, lobby, 2)
	steps := lobby[1].Steps()
	require.Len(t, steps, 2)
	assert.IsType(t, &TapMatch{}, steps[0])
	wait := steps[1].(*Wait)
	assert.Equal(t, 500*time.Millisecond, wait.Duration)

	swipe := s.States["battle"].Transitions[0].Steps()[1].(*Swipe)
	assert.Equal(t, 300*time.Millisecond, swipe.Duration)

	require.Len(t, s.Recovery, 1)
	assert.Equal(t, "BACK", s.Recovery[0].(*Key).Key)
}

func TestParseColorAndRepeatLimits(t *testing.T) {
	s, err := ParseScript([]byte(`
name: t
initial: a
terminal: [b]
recovery:
  - {type: restart_game}
  - {type: wait, duration: 20s}
states:
  a:
    transitions:
      - color: {name: lit, x1: 10, y1: 20, x2: 30, y2: 40, rgb: [220, 180, 60]}
        actions: [{type: tap_match}]
        next: b
      - color: {x1: 0, y1: 0, x2: 4, y2: 4, rgb: [0, 0, 0], tolerance: 0}
      - template: scroll
        actions: [{type: swipe, x1: 900, y1: 400, x2: 300, y2: 400, duration: 500ms}]
        max_repeats: 25
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"scroll"}, s.Templates())

	trs := s.States["a"].Transitions
	lit := trs[0].Color.Check()
	assert.Equal(t, "lit", trs[0].Label())
	assert.Equal(t, cv.NewRegion(10, 20, 30, 40), lit.Region)
	assert.Equal(t, uint8(180), lit.RGB.G)
	assert.Equal(t, DefaultColorTolerance, lit.Tolerance)

	assert.Equal(t, 0, trs[1].Color.Check().Tolerance)
	assert.Equal(t, "color(0,0,0)@0,0", trs[1].Label())
	assert.Equal(t, 25, trs[2].MaxRepeats)

	require.Len(t, s.Recovery, 2)
	assert.Equal(t, "restart_game", s.Recovery[0].Kind())

	env := &stubEnv{}
	require.NoError(t, s.Recovery[0].Execute(context.Background(), env, nil))
	assert.Equal(t, 1, env.restarts)
}

func TestActionAndActionsAreCombined(t *testing.T) {
	s, err := ParseScript([]byte(`
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - template: x
        action: {type: tap_match}
        actions:
          - {type: wait, min: 1s, max: 2s}
        next: b
`))
	require.NoError(t, err)
	steps := s.States["a"].Transitions[0].Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "tap_match", steps[0].Kind())
	assert.Equal(t, "wait", steps[1].Kind())
}

func TestScriptValidation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "unknown action type",
			src: `
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - template: x
        actions: [{type: teleport}]
`,
			want: []string{"unknown action type 'teleport'"},
		},
		{
			name: "missing type",
			src: `
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - template: x
        actions: [{x: 1}]
`,
			want: []string{"missing 'type'"},
		},
		{
			name: "short swipe",
			src: `
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - template: x
        actions: [{type: swipe, x1: 0, y1: 0, x2: 6, y2: 6, duration: 100ms}]
`,
			want: []string{`state "a" transition 1 action 1 (swipe)`, "shorter than 10px"},
		},
		{
			name: "structure",
			src: `
name: ""
initial: nowhere
terminal: [b]
recovery: [{type: tap_match}]
limits: {max_rounds: -1, round_state: ghost}
states:
  a:
    transitions:
      - template: x
        next: missing
      - template: x
  b:
    transitions:
      - template: y
  c: {}
`,
			want: []string{
				"name cannot be empty",
				`initial state "nowhere" is not declared`,
				`state "a" transition 1: next state "missing" is not declared`,
				`state "a" transition 2: "x" already handled`,
				`terminal state "b" cannot have transitions`,
				`state "c" has no transitions`,
				"recovery action 1: tap_match needs a matched template",
				"limits.max_rounds must not be negative",
				`limits.round_state "ghost" is not declared`,
			},
		},
		{
			name: "bad wait",
			src: `
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - template: x
        actions: [{type: wait, min: 2s, max: 1s}]
`,
			want: []string{"0 < min <= max"},
		},
		{
			name: "conditions",
			src: `
name: t
initial: a
terminal: [b]
states:
  a:
    transitions:
      - next: b
      - template: x
        color: {x1: 0, y1: 0, x2: 4, y2: 4, rgb: [1, 2, 3]}
      - color: {x1: 5, y1: 5, x2: 5, y2: 9, rgb: [1, 2, 3]}
      - color: {x1: 0, y1: 0, x2: 4, y2: 4, rgb: [1, 300, 3]}
      - color: {x1: 0, y1: 0, x2: 4, y2: 4, rgb: [1, 2]}
      - color: {name: lit, x1: 0, y1: 0, x2: 4, y2: 4, rgb: [1, 2, 3], tolerance: -1}
      - color: {name: lit, x1: 0, y1: 0, x2: 4, y2: 4, rgb: [1, 2, 3]}
      - template: y
        max_repeats: -2
`,
			want: []string{
				`state "a" transition 1: needs a template or a color`,
				`state "a" transition 2: template and color cannot be combined`,
				`state "a" transition 3: color: region`,
				`state "a" transition 4: color: rgb value 300 outside [0, 255]`,
				`state "a" transition 5: color: rgb needs 3 values`,
				`state "a" transition 6: color: tolerance -1 outside [0, 255]`,
				`state "a" transition 7: "lit" already handled`,
				`state "a" transition 8: max_repeats must not be negative`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.src))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoadScriptWrapsErrors(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\ninitial: a\nterminal: [b]\nstates: {}\n"), 0o644))
	_, err = LoadScript(path)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken", se.Task)
	assert.Contains(t, err.Error(), "task script broken")
}

func TestLibrary(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("battle.yaml", battleScript)
	write("idle.yml", "name: idle\ninitial: a\nterminal: [a]\nstates: {}\n")
	write("broken.yaml", "name: [\n")
	write("dupe.yaml", "name: idle\ninitial: a\nterminal: [a]\nstates: {}\n")
	write("notes.txt", "ignored")

	lib := NewLibrary()
	err := lib.LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Contains(t, err.Error(), "already defined")

	var names []string
	for _, s := range lib.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"battle", "idle"}, names)

	s, err := lib.Get("battle")
	require.NoError(t, err)
	assert.Equal(t, State("lobby"), s.Initial)

	_, err = lib.Get("raid")
	assert.ErrorContains(t, err, "available: battle, idle")
}

// stubEnv records what actions ask for. Jitter always returns jitter*n.
type stubEnv struct {
	jitter   int
	offset   int
	taps     []image.Point
	waits    []time.Duration
	restarts int
}

func (e *stubEnv) Tap(_ context.Context, p image.Point) error {
	e.taps = append(e.taps, p)
	return nil
}

func (e *stubEnv) Swipe(context.Context, image.Point, image.Point, time.Duration) error { return nil }

func (e *stubEnv) Key(context.Context, string) error { return nil }

func (e *stubEnv) Wait(_ context.Context, d time.Duration) error {
	e.waits = append(e.waits, d)
	return nil
}

func (e *stubEnv) RestartGame(context.Context) error {
	e.restarts++
	return nil
}

func (e *stubEnv) Jitter(n int) int { return e.jitter * n }

func (e *stubEnv) DefaultTapOffset() int { return e.offset }

func TestTapMatchClampsToBox(t *testing.T) {
	m := &cv.MatchResult{Box: image.Rect(100, 100, 120, 110)}
	ctx := context.Background()

	env := &stubEnv{jitter: 1, offset: 50}
	require.NoError(t, (&TapMatch{}).Execute(ctx, env, m))
	env.jitter = -1
	require.NoError(t, (&TapMatch{}).Execute(ctx, env, m))
	assert.Equal(t, []image.Point{{119, 109}, {100, 100}}, env.taps)

	// an explicit shift is allowed to leave the box
	env = &stubEnv{}
	require.NoError(t, (&TapMatch{DX: 40}).Execute(ctx, env, m))
	assert.Equal(t, []image.Point{{150, 105}}, env.taps)

	assert.Error(t, (&TapMatch{}).Execute(ctx, env, nil))
}

func TestTapNeverNegative(t *testing.T) {
	off := 10
	env := &stubEnv{jitter: -1}
	require.NoError(t, (&Tap{X: 3, Y: 20, Offset: &off}).Execute(context.Background(), env, nil))
	assert.Equal(t, []image.Point{{0, 10}}, env.taps)
}

func TestWaitRange(t *testing.T) {
	a := &Wait{Min: time.Second, Max: 3 * time.Second}
	require.NoError(t, a.Validate())

	for _, j := range []int{-1, 0, 1} {
		env := &stubEnv{jitter: j}
		require.NoError(t, a.Execute(context.Background(), env, nil))
		assert.Equal(t, time.Duration(2+j)*time.Second, env.waits[0])
	}
}
