// Package retention prunes old playback traces on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/authflow/internal/metrics"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/pkg/schema"
)

// DefaultSchedule runs the janitor once a day at 03:00 local time.
const DefaultSchedule = "0 3 * * *"

// Policy says when the janitor runs and what it removes.
type Policy struct {
	Schedule string        // 5-field cron expression or descriptor such as "@daily"
	MaxAge   time.Duration // closed sessions older than this are deleted with their trace
	Vacuum   bool          // VACUUM after a run that deleted something
}

// Result reports one janitor run.
type Result struct {
	Checked int       `json:"checked"`
	Deleted int       `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// Janitor deletes closed sessions whose closed_at is older than the policy's
// MaxAge. Active sessions are never touched.
type Janitor struct {
	store    store.Store
	policy   Policy
	schedule cron.Schedule
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running atomic.Bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewJanitor validates p and returns a stopped Janitor. An empty schedule
// means DefaultSchedule.
func NewJanitor(s store.Store, p Policy, logger *slog.Logger) (*Janitor, error) {
	if p.MaxAge <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "retention max age must be positive, got %s", p.MaxAge)
	}
	if p.Schedule == "" {
		p.Schedule = DefaultSchedule
	}
	sched, err := parser.Parse(p.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q", p.Schedule).WithCause(err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Janitor{
		store:    s,
		policy:   p,
		schedule: sched,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WithMetrics makes the janitor count deleted sessions on m.
func (j *Janitor) WithMetrics(m *metrics.Metrics) *Janitor {
	j.metrics = m
	return j
}

// NextRun returns the first scheduled run after from.
func (j *Janitor) NextRun(from time.Time) time.Time {
	return j.schedule.Next(from)
}

// Start launches the background loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return fmt.Errorf("janitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(loopCtx, j.done)

	j.logger.Info("retention janitor started",
		slog.String("schedule", j.policy.Schedule),
		slog.Duration("max_age", j.policy.MaxAge),
		slog.Time("next_run", j.NextRun(j.now())),
	)
	return nil
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := j.NextRun(j.now()).Sub(j.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce prunes expired sessions now. A run that overlaps another returns
// a zero Result without touching the store.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer j.running.Store(false)

	res := Result{Cutoff: j.now().UTC().Add(-j.policy.MaxAge)}
	closed, err := j.store.ListSessions(ctx, store.SessionFilter{Status: store.SessionClosed})
	if err != nil {
		return res, fmt.Errorf("list closed sessions: %w", err)
	}

	for _, sess := range closed {
		res.Checked++
		if sess.ClosedAt == nil || !sess.ClosedAt.Before(res.Cutoff) {
			continue
		}
		if err := j.store.DeleteSession(ctx, sess.ID); err != nil {
			return res, fmt.Errorf("delete session %s: %w", sess.ID, err)
		}
		res.Deleted++
	}
	j.metrics.Retention(res.Deleted)

	if res.Deleted > 0 && j.policy.Vacuum {
		if err := j.store.Vacuum(ctx); err != nil {
			j.logger.Warn("vacuum after retention run", slog.String("error", err.Error()))
		}
	}
	j.logger.Info("retention run finished",
		slog.Int("checked", res.Checked),
		slog.Int("deleted", res.Deleted),
		slog.Time("cutoff", res.Cutoff),
	)
	return res, nil
}

// Stop halts the loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil
	j.logger.Info("retention janitor stopped")
}
