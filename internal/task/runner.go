package task

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"time"

	"jordanella.com/yys-helper/internal/cv"
	"jordanella.com/yys-helper/internal/events"
	"jordanella.com/yys-helper/internal/logging"
)

// Why a run ended successfully.
const (
	ReasonTerminal    = "terminal"
	ReasonMaxRounds   = "max_rounds"
	ReasonMaxDuration = "max_duration"
)

// Options are the loop parameters taken from the shared config.
type Options struct {
	// CycleDelay is slept after every cycle.
	CycleDelay time.Duration
	// MaxUnmatchedCycles is how many consecutive cycles may match nothing
	// before the state counts as stuck.
	MaxUnmatchedCycles int
	// StuckRetries is how many times the script's recovery actions run
	// before a stuck state fails the task.
	StuckRetries int
	Retry        RetryPolicy
	// TapOffset is the default random offset, in pixels, applied to taps.
	TapOffset int
	// MinTapInterval spaces consecutive taps.
	MinTapInterval time.Duration
	// MaxRounds overrides the script's limit when > 0.
	MaxRounds int
}

// ActionRecord is one input issued to the device, or one wait.
type ActionRecord struct {
	Time     time.Time
	Cycle    int
	State    State
	Template string // empty for recovery actions
	Kind     string // tap, swipe, key, wait or restart_game
	X, Y     int
	X2, Y2   int
	Key      string
	Duration time.Duration
}

func (a ActionRecord) String() string {
	switch a.Kind {
	case "tap":
		return fmt.Sprintf("tap(%d,%d)", a.X, a.Y)
	case "swipe":
		return fmt.Sprintf("swipe(%d,%d->%d,%d,%s)", a.X, a.Y, a.X2, a.Y2, a.Duration)
	case "key":
		return fmt.Sprintf("key(%s)", a.Key)
	case "restart_game":
		return "restart_game()"
	default:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Duration)
	}
}

// Result summarises a run. It is returned alongside errors too, holding
// whatever happened before the failure.
type Result struct {
	Task       string
	FinalState State
	Cycles     int
	Rounds     int
	Duration   time.Duration
	Actions    []ActionRecord
	Reason     string
}

// CycleInfo is passed to the OnCycle observer after each match attempt.
type CycleInfo struct {
	Cycle     int
	State     State
	Frame     *cv.Frame
	Match     *cv.MatchResult // nil when nothing matched
	Unmatched int
}

// Runner drives one Program against one Device. It is not safe for
// concurrent use; the device belongs to the runner for the whole run.
type Runner struct {
	program *Program
	device  Device
	opts    Options

	log     *logging.Logger
	matcher *cv.Matcher
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	rng     *rand.Rand
	onCycle func(CycleInfo)
	events  events.EventBus
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

func WithMatcher(m *cv.Matcher) RunnerOption {
	return func(r *Runner) { r.matcher = m }
}

// WithSleeper replaces the context-aware sleep used for cycle delays, waits
// and tap spacing.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = fn }
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func WithRand(rng *rand.Rand) RunnerOption {
	return func(r *Runner) { r.rng = rng }
}

// OnCycle registers an observer called after every match attempt.
func OnCycle(fn func(CycleInfo)) RunnerOption {
	return func(r *Runner) { r.onCycle = fn }
}

// WithEvents publishes task events (start, transitions, actions, recovery,
// outcome) to bus.
func WithEvents(bus events.EventBus) RunnerOption {
	return func(r *Runner) { r.events = bus }
}

func (r *Runner) publish(e events.Event) {
	if r.events != nil {
		r.events.Publish(e)
	}
}

func NewRunner(p *Program, d Device, opts Options, ropts ...RunnerOption) *Runner {
	r := &Runner{
		program: p,
		device:  d,
		opts:    opts,
		log:     logging.NewNopLogger(),
		matcher: cv.NewMatcher(),
		sleep:   sleepContext,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

// Run polls the device until a terminal state or a limit is reached. It
// returns ErrStopped when ctx is cancelled, *StuckStateError when no
// template matches for too long, and *RetryExhaustedError when device
// errors outlast the retry budget.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	s := r.program.Script
	start := r.now()
	state := s.Initial
	res = &Result{Task: s.Name}
	env := &execEnv{r: r, res: res}

	defer func() {
		res.FinalState = state
		res.Duration = r.now().Sub(start)
		if err != nil && ctx.Err() != nil {
			err = ErrStopped
		}
		if err != nil {
			r.publish(events.NewTaskFailedEvent(r.now(), s.Name, string(state), err))
		} else {
			r.publish(events.NewTaskFinishedEvent(r.now(), s.Name, string(state), res.Reason, res.Cycles, res.Rounds))
		}
	}()

	r.log.InfoWithContext("task started", map[string]interface{}{
		"task":  s.Name,
		"state": state,
	})
	r.publish(events.NewTaskStartedEvent(start, s.Name, string(state)))

	if s.IsTerminal(state) {
		res.Reason = ReasonTerminal
		return res, nil
	}

	unmatched, recoveries := 0, 0
	repeats, lastLabel := 0, ""
	for {
		if ctx.Err() != nil {
			return res, ErrStopped
		}
		if reason := r.limitReached(res, start); reason != "" {
			res.Reason = reason
			r.log.InfoWithContext("task limit reached", map[string]interface{}{
				"task":   s.Name,
				"reason": reason,
				"rounds": res.Rounds,
			})
			return res, nil
		}

		res.Cycles++
		env.cycle = res.Cycles
		img, err := withRetry(ctx, r.opts.Retry, "screenshot", r.log, func() (image.Image, error) {
			return r.device.Screenshot(ctx)
		})
		if err != nil {
			return res, err
		}
		frame := cv.NewFrame(img, r.now())

		m, ok := r.matcher.MatchFirst(frame, r.program.Targets(state))
		if ok {
			unmatched = 0
		} else {
			unmatched++
		}
		if r.onCycle != nil {
			r.onCycle(CycleInfo{Cycle: res.Cycles, State: state, Frame: frame, Match: m, Unmatched: unmatched})
		}

		if ok {
			tr := r.program.states[state].transitions[m.Label]
			r.log.DebugWithContext("template matched", map[string]interface{}{
				"state":      state,
				"template":   m.Label,
				"confidence": fmt.Sprintf("%.3f", m.Confidence),
				"x":          m.Location.X,
				"y":          m.Location.Y,
			})

			if m.Label == lastLabel {
				repeats++
			} else {
				repeats, lastLabel = 1, m.Label
			}
			if tr.MaxRepeats > 0 && repeats > tr.MaxRepeats {
				return res, &StuckStateError{
					Task:       s.Name,
					State:      state,
					Transition: m.Label,
					Repeats:    repeats - 1,
					Frame:      img,
				}
			}

			env.state, env.template = state, m.Label
			for _, a := range tr.Steps() {
				if err := a.Execute(ctx, env, m); err != nil {
					return res, fmt.Errorf("state %s, template %s: %s: %w", state, m.Label, a.Kind(), err)
				}
			}

			next := tr.Next
			if next == "" {
				next = state
			} else if next == r.roundState() {
				res.Rounds++
			}
			if next != state {
				repeats, lastLabel = 0, ""
				r.log.InfoWithContext("state changed", map[string]interface{}{
					"from":     state,
					"to":       next,
					"template": m.Label,
					"rounds":   res.Rounds,
				})
				r.publish(events.NewStateChangedEvent(r.now(), s.Name, string(state), string(next), m.Label, res.Rounds))
			}
			state = next
			if s.IsTerminal(state) {
				res.Reason = ReasonTerminal
				r.log.InfoWithContext("task finished", map[string]interface{}{
					"task":   s.Name,
					"state":  state,
					"cycles": res.Cycles,
				})
				return res, nil
			}
		} else if unmatched > r.opts.MaxUnmatchedCycles {
			if recoveries >= r.opts.StuckRetries {
				return res, &StuckStateError{
					Task:       s.Name,
					State:      state,
					Unmatched:  unmatched,
					Recoveries: recoveries,
					Frame:      img,
				}
			}
			recoveries++
			r.log.WarnWithContext("no template matched, running recovery", map[string]interface{}{
				"state":     state,
				"unmatched": unmatched,
				"attempt":   recoveries,
				"of":        r.opts.StuckRetries,
			})
			r.publish(events.NewRecoveryEvent(r.now(), s.Name, string(state), recoveries, unmatched))
			unmatched = 0
			repeats, lastLabel = 0, ""
			env.state, env.template = state, ""
			for _, a := range s.Recovery {
				if err := a.Execute(ctx, env, nil); err != nil {
					return res, fmt.Errorf("state %s, recovery: %s: %w", state, a.Kind(), err)
				}
			}
		}

		if err := r.sleep(ctx, r.opts.CycleDelay); err != nil {
			return res, ErrStopped
		}
	}
}

// roundState is the state whose entries count as rounds. Without an
// explicit round_state every transition naming the initial state is a round.
func (r *Runner) roundState() State {
	if st := r.program.Script.Limits.RoundState; st != "" {
		return st
	}
	return r.program.Script.Initial
}

func (r *Runner) limitReached(res *Result, start time.Time) string {
	lim := r.program.Script.Limits
	maxRounds := lim.MaxRounds
	if r.opts.MaxRounds > 0 {
		maxRounds = r.opts.MaxRounds
	}
	if maxRounds > 0 && res.Rounds >= maxRounds {
		return ReasonMaxRounds
	}
	if lim.MaxDuration > 0 && r.now().Sub(start) >= lim.MaxDuration {
		return ReasonMaxDuration
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// execEnv is the Env actions run against: every input goes through the
// retry policy and is logged and recorded.
type execEnv struct {
	r        *Runner
	res      *Result
	cycle    int
	state    State
	template string
	lastTap  time.Time
}

func (e *execEnv) Tap(ctx context.Context, p image.Point) error {
	if !e.lastTap.IsZero() {
		if wait := e.r.opts.MinTapInterval - e.r.now().Sub(e.lastTap); wait > 0 {
			if err := e.r.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	if err := e.input(ctx, "tap", func() error { return e.r.device.Tap(ctx, p.X, p.Y) }); err != nil {
		return err
	}
	e.lastTap = e.r.now()
	e.record(ActionRecord{Kind: "tap", X: p.X, Y: p.Y})
	return nil
}

func (e *execEnv) Swipe(ctx context.Context, from, to image.Point, d time.Duration) error {
	if err := e.input(ctx, "swipe", func() error { return e.r.device.Swipe(ctx, from.X, from.Y, to.X, to.Y, d) }); err != nil {
		return err
	}
	e.record(ActionRecord{Kind: "swipe", X: from.X, Y: from.Y, X2: to.X, Y2: to.Y, Duration: d})
	return nil
}

func (e *execEnv) Key(ctx context.Context, key string) error {
	if err := e.input(ctx, "key", func() error { return e.r.device.Key(ctx, key) }); err != nil {
		return err
	}
	e.record(ActionRecord{Kind: "key", Key: key})
	return nil
}

func (e *execEnv) RestartGame(ctx context.Context) error {
	app, ok := e.r.device.(AppDevice)
	if !ok {
		return ErrRestartUnsupported
	}
	if err := app.RestartApp(ctx); err != nil {
		return err
	}
	e.record(ActionRecord{Kind: "restart_game"})
	return nil
}

func (e *execEnv) Wait(ctx context.Context, d time.Duration) error {
	e.record(ActionRecord{Kind: "wait", Duration: d})
	return e.r.sleep(ctx, d)
}

func (e *execEnv) Jitter(n int) int {
	if n <= 0 {
		return 0
	}
	return e.r.rng.IntN(2*n+1) - n
}

func (e *execEnv) DefaultTapOffset() int {
	return e.r.opts.TapOffset
}

func (e *execEnv) input(ctx context.Context, op string, fn func() error) error {
	_, err := withRetry(ctx, e.r.opts.Retry, op, e.r.log, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (e *execEnv) record(a ActionRecord) {
	a.Time = e.r.now()
	a.Cycle = e.cycle
	a.State = e.state
	a.Template = e.template
	e.res.Actions = append(e.res.Actions, a)

	ctx := map[string]interface{}{
		"action": a.String(),
		"state":  a.State,
	}
	if a.Template != "" {
		ctx["template"] = a.Template
	}
	e.r.log.InfoWithContext("action", ctx)
	e.r.publish(events.NewActionEvent(a.Time, e.r.program.Script.Name, string(a.State), a.Template, a.String(), a.Cycle))
}
