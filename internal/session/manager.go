// Package session owns live playback sessions: one scheduler, driver and frame
// pump per session, with debug events fanned out to the stream hub and the
// trace recorder.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/framepump"
	"github.com/rendis/authflow/internal/logging"
	"github.com/rendis/authflow/internal/metrics"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/internal/streaming"
	"github.com/rendis/authflow/pkg/schema"
)

// Options configures a new session.
type Options struct {
	Autoplay    bool    `json:"autoplay"`
	AutoAdvance bool    `json:"auto_advance"`
	Speed       float64 `json:"speed,omitempty"` // 0 means 1
	Virtual     bool    `json:"virtual"`         // frames come from Advance instead of a real ticker
	Record      bool    `json:"record"`          // persist the debug trace
}

// Config wires a Manager to its collaborators. Registry is required; the rest
// are optional.
type Config struct {
	Registry *flows.Registry
	Hub      streaming.EventHub
	Store    store.Store
	EventLog *store.EventLog
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	FPS      int
}

// Session is one live playback. FlowID is the flow the session was opened
// with; after a rebind the current flow is in Snapshot().FlowID.
type Session struct {
	ID        string
	FlowID    string
	Virtual   bool
	CreatedAt time.Time

	driver   *playback.Driver
	virtual  *framepump.VirtualPump
	ticker   *framepump.TickerPump
	recorder *store.Recorder
}

// Snapshot returns the session's current playback state.
func (s *Session) Snapshot() playback.Snapshot { return s.driver.Snapshot() }

// Definition returns the bound flow definition.
func (s *Session) Definition() *schema.FlowDefinition { return s.driver.Definition() }

// Recording reports whether the debug trace is persisted.
func (s *Session) Recording() bool { return s.recorder != nil }

// Info returns the listing view of the session.
func (s *Session) Info() Info {
	snap := s.Snapshot()
	return Info{
		ID:        s.ID,
		FlowID:    snap.FlowID,
		Virtual:   s.Virtual,
		Recording: s.Recording(),
		CreatedAt: s.CreatedAt,
		Snapshot:  snap,
	}
}

// Info is the listing view of a session.
type Info struct {
	ID        string            `json:"id"`
	FlowID    string            `json:"flow_id"`
	Virtual   bool              `json:"virtual"`
	Recording bool              `json:"recording"`
	CreatedAt time.Time         `json:"created_at"`
	Snapshot  playback.Snapshot `json:"snapshot"`
}

// Manager is a thread-safe registry of live sessions keyed by uuid.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session on flowID (the registry default when empty).
// An unknown flow id is NOT_FOUND; a speed outside playback.AllowedSpeeds is
// INVALID_COMMAND.
func (m *Manager) Create(ctx context.Context, flowID string, opts Options) (*Session, error) {
	if flowID == "" {
		flowID = m.cfg.Registry.DefaultID()
	}
	def, ok := m.cfg.Registry.Lookup(flowID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", flowID)
	}

	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	if err := playback.CheckSpeed(speed); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        uuid.New().String(),
		FlowID:    def.ID,
		Virtual:   opts.Virtual,
		CreatedAt: time.Now().UTC(),
	}
	ctx = logging.WithIDs(ctx, def.ID, sess.ID, "")
	log := logging.LogWith(ctx, m.logger)

	if m.cfg.Store != nil {
		if err := m.cfg.Store.CreateSession(ctx, &store.Session{
			ID:     sess.ID,
			FlowID: def.ID,
			Options: store.SessionOptions{
				Autoplay:    opts.Autoplay,
				AutoAdvance: opts.AutoAdvance,
				Speed:       speed,
				Virtual:     opts.Virtual,
			},
			CreatedAt: sess.CreatedAt,
		}); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	if opts.Record && m.cfg.EventLog != nil {
		sess.recorder = store.NewRecorder(m.cfg.EventLog, sess.ID, store.RecorderOptions{Logger: m.logger})
	}

	var recordHook playback.DebugHook
	if sess.recorder != nil {
		recordHook = sess.recorder.Hook()
	}
	sched := playback.NewScheduler(def, playback.Options{
		Autoplay:     opts.Autoplay,
		AutoAdvance:  opts.AutoAdvance,
		InitialSpeed: speed,
		OnDebugEvent: playback.FanOut(m.streamHook(sess.ID), recordHook),
		Logger:       log,
	})

	var pump framepump.Pump
	if opts.Virtual {
		sess.virtual = framepump.NewVirtualPump()
		pump = sess.virtual
	} else {
		sess.ticker = framepump.NewTickerPump(m.cfg.FPS)
		sess.ticker.Start(context.Background())
		pump = sess.ticker
	}
	sess.driver = playback.NewDriver(sched, pump, m.snapshotPublisher(sess.ID))

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.cfg.Metrics.SessionOpened(def.ID, opts.Virtual)

	log.InfoContext(ctx, "session opened", "virtual", opts.Virtual, "recording", sess.Recording(), "speed", speed)
	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	return sess, nil
}

// Command applies a playback command to a session.
func (m *Manager) Command(ctx context.Context, id string, cmd playback.Command) (playback.Snapshot, error) {
	sess, err := m.Get(id)
	if err != nil {
		return playback.Snapshot{}, err
	}
	snap, err := sess.driver.Apply(cmd)
	m.cfg.Metrics.Command(string(cmd.Name), err)
	if err != nil {
		logging.LogWith(logging.WithIDs(ctx, snap.FlowID, id, snap.ActiveStepID), m.logger).
			DebugContext(ctx, "command rejected", "command", cmd.Name, "error", err)
	}
	return snap, err
}

// Bind switches a session to another flow, restarting playback from its first step.
func (m *Manager) Bind(ctx context.Context, id, flowID string) (playback.Snapshot, error) {
	sess, err := m.Get(id)
	if err != nil {
		return playback.Snapshot{}, err
	}
	def, ok := m.cfg.Registry.Lookup(flowID)
	if !ok {
		return playback.Snapshot{}, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", flowID)
	}

	snap := sess.driver.Bind(def)
	logging.LogWith(logging.WithIDs(ctx, def.ID, id, ""), m.logger).InfoContext(ctx, "flow rebound")
	return snap, nil
}

// Advance limits. Frames shorter than MinAdvanceFrameMs are widened to it.
const (
	MinAdvanceFrameMs = 1.0
	MaxAdvanceFrames  = 100_000
)

// Advance moves a virtual session's clock forward by totalMs, delivering
// frames of at most frameMs each (one frame when frameMs <= 0). It stops early
// once playback stops requesting frames. Real-time sessions reject it, and so
// does a request needing more than MaxAdvanceFrames frames.
func (m *Manager) Advance(_ context.Context, id string, totalMs, frameMs float64) (playback.Snapshot, error) {
	sess, err := m.Get(id)
	if err != nil {
		return playback.Snapshot{}, err
	}
	if sess.virtual == nil {
		return playback.Snapshot{}, schema.NewErrorf(schema.ErrCodeInvalidCommand, "session %s runs on a real-time clock", id)
	}
	if !(totalMs > 0) {
		return sess.Snapshot(), nil
	}
	if !(frameMs > 0) || frameMs > totalMs {
		frameMs = totalMs
	}
	frameMs = max(frameMs, MinAdvanceFrameMs)

	frames := math.Ceil(totalMs / frameMs)
	if math.IsInf(totalMs, 0) || frames > MaxAdvanceFrames {
		return playback.Snapshot{}, schema.NewErrorf(schema.ErrCodeInvalidCommand,
			"advance of %gms in %gms frames exceeds %d frames", totalMs, frameMs, MaxAdvanceFrames).
			WithDetails(map[string]any{"ms": totalMs, "frame_ms": frameMs, "max_frames": MaxAdvanceFrames})
	}

	remaining := totalMs
	for i := 0; i < int(frames) && remaining > 0; i++ {
		delta := min(frameMs, remaining)
		remaining -= delta
		if sess.virtual.Advance(delta) == 0 {
			break
		}
	}
	return sess.Snapshot(), nil
}

// Close stops a session, flushes its recorder and marks it closed in the store.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}

	sess.driver.Close()
	flowID := sess.Snapshot().FlowID
	if sess.ticker != nil {
		sess.ticker.Stop()
	}

	var errs []error
	var written, dropped uint64
	if sess.recorder != nil {
		if err := sess.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush trace: %w", err))
		}
		written, dropped = sess.recorder.Written(), sess.recorder.Dropped()
	}
	m.cfg.Metrics.SessionClosed(written, dropped)
	if m.cfg.Store != nil {
		if err := m.cfg.Store.CloseSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("close session record: %w", err))
		}
	}
	m.publish(streaming.StreamEvent{SessionID: id, FlowID: flowID, EventType: schema.EventSessionClosed})

	logging.LogWith(logging.WithIDs(ctx, flowID, id, ""), m.logger).InfoContext(ctx, "session closed")
	if len(errs) > 0 {
		return schema.NewError(schema.ErrCodeStore, fmt.Sprint(errs)).WithCause(errs[0])
	}
	return nil
}

// CloseAll closes every live session.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, info := range m.List() {
		if err := m.Close(ctx, info.ID); err != nil {
			m.logger.WarnContext(ctx, "close session", "session_id", info.ID, "error", err)
		}
	}
}

// List returns every live session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// streamHook forwards scheduler debug events to the hub.
func (m *Manager) streamHook(sessionID string) playback.DebugHook {
	if m.cfg.Hub == nil {
		return nil
	}
	return func(ev playback.DebugEvent) {
		e := streaming.StreamEvent{
			SessionID: sessionID,
			FlowID:    ev.FlowID,
			EventType: ev.Type,
			Timestamp: ev.Timestamp,
			Payload:   ev,
		}
		if ev.StepID != nil {
			e.StepID = *ev.StepID
		}
		m.publish(e)
	}
}

// snapshotPublisher streams a SNAPSHOT event after every command and frame.
func (m *Manager) snapshotPublisher(sessionID string) playback.SnapshotFunc {
	if m.cfg.Hub == nil {
		return nil
	}
	return func(snap playback.Snapshot) {
		m.publish(streaming.StreamEvent{
			SessionID: sessionID,
			FlowID:    snap.FlowID,
			StepID:    snap.ActiveStepID,
			EventType: schema.EventSnapshot,
			Timestamp: time.Now().UTC(),
			Payload:   snap,
		})
	}
}

func (m *Manager) publish(e streaming.StreamEvent) {
	if m.cfg.Hub == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_ = m.cfg.Hub.Publish(context.Background(), e)
}
