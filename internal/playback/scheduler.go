// Package playback implements the flow playback scheduler: a deterministic,
// seekable timeline over a flow's steps that advances only when the caller
// ticks it with an elapsed wall-clock delta.
//
// A Scheduler owns no timer and no goroutine. It is not safe for concurrent
// use; Driver adds the locking and frame-pump wiring for callers that need it.
package playback

import (
	"log/slog"
	"math"
	"time"

	"github.com/rendis/authflow/internal/timeline"
	"github.com/rendis/authflow/pkg/schema"
)

// CatchUpSlack is added to the step count to bound how many step boundaries a
// single tick may cross. It keeps a huge delta or near-zero step totals from
// spinning the tick loop.
const CatchUpSlack = 2

// Options configures a Scheduler at construction.
type Options struct {
	Autoplay     bool
	AutoAdvance  bool
	InitialSpeed float64 // defaults to 1 when <= 0
	OnDebugEvent DebugHook
	Now          func() time.Time
	Logger       *slog.Logger
}

// Snapshot is the published, immutable view of the scheduler after a tick or command.
type Snapshot struct {
	FlowID           string               `json:"flow_id"`
	ActiveEventIndex int                  `json:"active_event_index"`
	ActiveStepID     string               `json:"active_step_id,omitempty"`
	ElapsedInEventMs float64              `json:"elapsed_in_event_ms"`
	EventProgress    float64              `json:"event_progress"`
	GlobalProgress   float64              `json:"global_progress"`
	IsPlaying        bool                 `json:"is_playing"`
	AutoAdvance      bool                 `json:"auto_advance"`
	Speed            float64              `json:"speed"`
	Phase            schema.PlaybackPhase `json:"phase"`
	StepCount        int                  `json:"step_count"`
	Loops            int                  `json:"loops"` // passes completed by ticking past the last step, since bind
}

// Scheduler holds the playback position for one bound flow definition.
type Scheduler struct {
	def           *schema.FlowDefinition
	totals        []float64
	timelineTotal float64

	index       int
	elapsed     float64
	playing     bool
	speed       float64
	autoAdvance bool
	autoplay    bool
	loops       int

	hook   DebugHook
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduler binds def and positions playback at the first step. def is
// expected to have passed validation already; a nil or empty definition yields
// an inert scheduler whose operations are no-ops.
func NewScheduler(def *schema.FlowDefinition, opts Options) *Scheduler {
	speed := opts.InitialSpeed
	if !(speed > 0) || math.IsInf(speed, 0) {
		speed = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		speed:       speed,
		autoAdvance: opts.AutoAdvance,
		autoplay:    opts.Autoplay,
		hook:        opts.OnDebugEvent,
		now:         now,
		logger:      logger,
	}
	s.bind(def)
	return s
}

// Bind swaps in a different flow definition and resets playback to
// (0, 0, isPlaying=autoplay). Speed and auto-advance carry over.
func (s *Scheduler) Bind(def *schema.FlowDefinition) {
	previous := s.flowID()
	s.bind(def)
	s.emit(schema.EventFlowBound, map[string]any{"previous_flow": previous, "steps": len(s.steps())})
}

func (s *Scheduler) bind(def *schema.FlowDefinition) {
	s.def = def
	s.totals = timeline.EventTotals(def)
	s.timelineTotal = timeline.TimelineTotal(s.totals)
	s.index = 0
	s.elapsed = 0
	s.loops = 0
	s.playing = s.autoplay && s.playable()
}

// Definition returns the bound flow definition.
func (s *Scheduler) Definition() *schema.FlowDefinition {
	return s.def
}

// Play resumes frame accumulation from the current position.
func (s *Scheduler) Play() {
	if len(s.steps()) == 0 {
		return
	}
	wasPlaying := s.playing
	s.playing = true
	s.emit(schema.EventPlay, map[string]any{"cause": schema.CauseCommand, "was_playing": wasPlaying})
}

// Pause freezes the position.
func (s *Scheduler) Pause() {
	s.playing = false
	s.emit(schema.EventPause, map[string]any{"cause": schema.CauseCommand})
}

// Reset stops playback and returns to the start of the first step.
func (s *Scheduler) Reset() {
	from := s.index
	s.playing = false
	s.index = 0
	s.elapsed = 0
	s.emit(schema.EventReset, nil)
	s.stepChanged(from, schema.CauseCommand)
}

// Seek jumps to a normalized point on the global timeline. Values outside
// [0,1] are clamped. The playing flag is left untouched.
func (s *Scheduler) Seek(normalized float64) {
	if !s.playable() {
		return
	}
	clamped := normalized
	switch {
	case math.IsNaN(clamped) || clamped < 0:
		clamped = 0
	case clamped > 1:
		clamped = 1
	}

	from := s.index
	pos := timeline.FromGlobalProgress(clamped, s.totals)
	s.index = pos.Index
	s.elapsed = pos.ElapsedMs
	s.emit(schema.EventSeek, map[string]any{"progress": clamped, "requested": normalized})
	s.stepChanged(from, schema.CauseCommand)
}

// SeekEvent moves to the start of the step at index, clamped to the valid range.
func (s *Scheduler) SeekEvent(index int) {
	n := len(s.steps())
	if n == 0 {
		return
	}
	target := index
	if target < 0 {
		target = 0
	}
	if target > n-1 {
		target = n - 1
	}

	from := s.index
	s.index = target
	s.elapsed = 0
	s.emit(schema.EventSeekStep, map[string]any{"requested": index})
	s.stepChanged(from, schema.CauseCommand)
}

// PreviousEvent moves to the start of the previous step, wrapping from the
// first step to the last.
func (s *Scheduler) PreviousEvent() {
	n := len(s.steps())
	if n == 0 {
		return
	}
	from := s.index
	s.index = (s.index - 1 + n) % n
	s.elapsed = 0
	s.emit(schema.EventStepPrevious, map[string]any{"from": from})
	s.stepChanged(from, schema.CauseCommand)
}

// NextEvent moves to the start of the next step, wrapping from the last step
// to the first.
func (s *Scheduler) NextEvent() {
	n := len(s.steps())
	if n == 0 {
		return
	}
	from := s.index
	s.index = (s.index + 1) % n
	s.elapsed = 0
	s.emit(schema.EventStepNext, map[string]any{"from": from})
	s.stepChanged(from, schema.CauseCommand)
}

// SetAutoAdvance controls whether reaching a step's end continues into the
// next step or stops playback. It takes effect on the next tick.
func (s *Scheduler) SetAutoAdvance(enabled bool) {
	s.autoAdvance = enabled
	s.emit(schema.EventAutoAdvanceToggle, map[string]any{"enabled": enabled})
}

// SetSpeed changes the playback multiplier. Non-positive or non-finite values
// are ignored; callers should pass one of AllowedSpeeds.
func (s *Scheduler) SetSpeed(multiplier float64) {
	if !(multiplier > 0) || math.IsInf(multiplier, 0) {
		s.logger.Warn("ignoring invalid playback speed", "flow_id", s.flowID(), "speed", multiplier)
		return
	}
	previous := s.speed
	s.speed = multiplier
	s.emit(schema.EventSpeedChange, map[string]any{"speed": multiplier, "previous": previous})
}

// Tick advances playback by frameDeltaMs of wall-clock time scaled by the
// current speed. It is a no-op while paused, for an empty flow, for a
// zero-length timeline, and for non-positive deltas.
//
// With auto-advance on, every completed step total (duration plus pause-after)
// moves to the next step, looping back to the first step after the last.
// With auto-advance off, playback stops once the active step's own duration is
// consumed, leaving event progress at 1 and never entering pause-after time.
func (s *Scheduler) Tick(frameDeltaMs float64) {
	if !s.playing || !s.playable() {
		return
	}
	if !(frameDeltaMs > 0) || math.IsInf(frameDeltaMs, 0) {
		return
	}

	steps := s.steps()
	next := s.elapsed + frameDeltaMs*s.speed
	guard := len(steps) + CatchUpSlack

	iterations := 0
	for ; iterations < guard; iterations++ {
		step := steps[s.index]
		if !s.autoAdvance {
			if next >= step.DurationMs {
				next = step.DurationMs
				s.playing = false
				s.elapsed = next
				s.emit(schema.EventPause, map[string]any{"cause": schema.CauseTick, "reason": "step_boundary"})
				return
			}
			break
		}
		if next < s.totals[s.index] {
			break
		}
		next -= s.totals[s.index]
		from := s.index
		s.index = (s.index + 1) % len(steps)
		s.elapsed = 0
		if s.index == 0 {
			s.loops++
		}
		s.stepChanged(from, schema.CauseTick)
	}

	if iterations == guard && s.autoAdvance && next >= s.totals[s.index] {
		// Excess beyond the guard is dropped; playback resumes at the step start.
		s.logger.Debug("tick catch-up truncated", "flow_id", s.flowID(), "step_index", s.index, "excess_ms", next)
		next = 0
	}
	s.elapsed = next
}

// Snapshot returns the current published state.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		FlowID:           s.flowID(),
		ActiveEventIndex: s.index,
		ElapsedInEventMs: s.elapsed,
		IsPlaying:        s.playing,
		AutoAdvance:      s.autoAdvance,
		Speed:            s.speed,
		Phase:            s.phase(),
		StepCount:        len(s.steps()),
		Loops:            s.loops,
	}
	if step := s.currentStep(); step != nil {
		snap.ActiveStepID = step.ID
		snap.EventProgress = timeline.EventProgress(s.elapsed, step.DurationMs)
		snap.GlobalProgress = timeline.ToGlobalProgress(s.index, s.elapsed, s.totals)
	}
	return snap
}

// phase derives the conceptual state from the position and flags.
func (s *Scheduler) phase() schema.PlaybackPhase {
	if s.playing {
		return schema.PhasePlaying
	}
	if step := s.currentStep(); step != nil && !s.autoAdvance && s.elapsed >= step.DurationMs {
		return schema.PhaseBoundaryPaused
	}
	return schema.PhaseIdle
}

// stepChanged emits STEP_CHANGE when the active index differs from 'from'.
func (s *Scheduler) stepChanged(from int, cause string) {
	if from == s.index {
		return
	}
	s.emit(schema.EventStepChange, map[string]any{"cause": cause, "from": from, "to": s.index})
}

func (s *Scheduler) steps() []schema.StepDefinition {
	if s.def == nil {
		return nil
	}
	return s.def.Steps
}

func (s *Scheduler) currentStep() *schema.StepDefinition {
	steps := s.steps()
	if s.index < 0 || s.index >= len(steps) {
		return nil
	}
	return &steps[s.index]
}

// playable reports whether there is a non-degenerate timeline to move along.
func (s *Scheduler) playable() bool {
	return len(s.steps()) > 0 && s.timelineTotal > 0
}

func (s *Scheduler) flowID() string {
	if s.def == nil {
		return ""
	}
	return s.def.ID
}
