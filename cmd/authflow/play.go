package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rendis/authflow/internal/expressions"
	"github.com/rendis/authflow/internal/logging"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/internal/timeline"
	"github.com/rendis/authflow/pkg/schema"
)

func runPlay(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("play", &cfg)
	storeFlags(fs, &cfg)
	speedRaw := fs.String("speed", "1x", "playback speed: 0.5x, 1x or 1.5x")
	noAuto := fs.Bool("no-auto-advance", false, "stop at the end of the first step instead of advancing")
	until := fs.String("until", "", "stop when this condition over the playback state is true")
	lang := fs.String("lang", expressions.LangCEL, "condition language: cel or expr")
	loops := fs.Int("loops", 1, "stop after this many passes over the flow (0 loops forever)")
	maxDur := fs.Duration("duration", 0, "stop after this much wall time (0 means no limit)")
	interval := fs.Duration("interval", 50*time.Millisecond, "render interval")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "frame rate of the playback clock")
	fs.BoolVar(&cfg.Record, "record", cfg.Record, "persist the debug trace")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}

	speed, err := playback.ParseSpeed(*speedRaw)
	if err != nil {
		return err
	}
	var cond *expressions.Condition
	if *until != "" {
		if cond, err = expressions.CompileCondition(*lang, *until); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: cfg.Record})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sess, err := a.sessions.Create(ctx, rest[0], session.Options{
		Autoplay:    true,
		AutoAdvance: !*noAuto,
		Speed:       speed,
		Record:      cfg.Record,
	})
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, sess.FlowID, sess.ID, "")

	if *maxDur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *maxDur)
		defer cancel()
	}

	p := newPlayer(out, cond, *loops, *noAuto)
	def := sess.Definition()
	fmt.Fprintf(out, "%s  (%d steps, %s at %gx)\n", titleOf(def), len(def.Steps), formatMs(flowTotal(def)), speed)
	if sess.Recording() {
		fmt.Fprintf(out, "recording session %s\n", sess.ID)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.finish(sess.Snapshot(), "interrupted")
			return nil
		case <-ticker.C:
			stop, reason, err := p.frame(ctx, sess.Snapshot(), sess.Definition())
			if err != nil {
				return err
			}
			if stop {
				p.finish(sess.Snapshot(), reason)
				a.logger.DebugContext(ctx, "playback finished", "reason", reason)
				return nil
			}
		}
	}
}

// player renders snapshots as one line per step change and decides when
// terminal playback ends.
type player struct {
	out            io.Writer
	until          *expressions.Condition
	maxLoops       int
	stopAtBoundary bool

	lastIndex int
	baseLoops int // snapshot loop count when the player started watching
	started   bool
}

func newPlayer(out io.Writer, until *expressions.Condition, maxLoops int, stopAtBoundary bool) *player {
	return &player{
		out:            out,
		until:          until,
		maxLoops:       maxLoops,
		stopAtBoundary: stopAtBoundary,
		lastIndex:      -1,
	}
}

// frame renders snap and reports whether playback should stop.
func (p *player) frame(ctx context.Context, snap playback.Snapshot, def *schema.FlowDefinition) (bool, string, error) {
	if snap.StepCount == 0 {
		return true, "flow has no steps", nil
	}

	// Passes are counted by the scheduler; a single-step flow wraps without
	// changing index.
	if !p.started || snap.Loops < p.baseLoops {
		p.started = true
		p.baseLoops = snap.Loops
	}
	if passes := snap.Loops - p.baseLoops; p.maxLoops > 0 && passes >= p.maxLoops {
		return true, fmt.Sprintf("completed %d pass(es)", passes), nil
	}

	if snap.ActiveEventIndex != p.lastIndex {
		p.lastIndex = snap.ActiveEventIndex
		p.printStep(snap, def)
	}

	if p.until != nil {
		ok, err := p.until.Match(ctx, snap, def)
		if err != nil {
			return true, "", err
		}
		if ok {
			return true, "condition matched: " + p.until.String(), nil
		}
	}
	if p.stopAtBoundary && snap.Phase == schema.PhaseBoundaryPaused {
		return true, "paused at step boundary", nil
	}
	if !snap.IsPlaying && snap.Phase == schema.PhaseIdle {
		return true, "playback stopped", nil
	}
	return false, "", nil
}

func (p *player) printStep(snap playback.Snapshot, def *schema.FlowDefinition) {
	i := snap.ActiveEventIndex
	if def == nil || i < 0 || i >= len(def.Steps) {
		return
	}
	st := def.Steps[i]
	fmt.Fprintf(p.out, "[%d/%d] %-20s %s -> %s  %s\n",
		i+1, snap.StepCount, st.ID, participantLabel(def, st.Source), participantLabel(def, st.Target), st.DisplayLabel())
}

func (p *player) finish(snap playback.Snapshot, reason string) {
	fmt.Fprintf(p.out, "stopped at %s (%d/%d, %.0f%% of flow): %s\n",
		snap.ActiveStepID, snap.ActiveEventIndex+1, snap.StepCount, snap.GlobalProgress*100, reason)
}

func participantLabel(def *schema.FlowDefinition, id string) string {
	if part := def.Participant(id); part != nil {
		return part.DisplayLabel()
	}
	return id
}

func titleOf(def *schema.FlowDefinition) string {
	if def.Title != "" {
		return def.Title
	}
	return def.ID
}

func flowTotal(def *schema.FlowDefinition) float64 {
	return timeline.TimelineTotal(timeline.EventTotals(def))
}
