package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/authflow/pkg/schema"
)

// EventLog provides append and replay operations for debug traces on top of a LibSQLStore.
type EventLog struct {
	store   *LibSQLStore
	breaker *writeBreaker
}

// NewEventLog wraps a LibSQLStore. Recorders writing through it share one
// write breaker configured with DefaultBreakerConfig.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s, breaker: newWriteBreaker(DefaultBreakerConfig())}
}

// WithBreaker replaces the recorder write breaker. Call it before any
// recorder is started.
func (el *EventLog) WithBreaker(cfg BreakerConfig) *EventLog {
	el.breaker = newWriteBreaker(cfg)
	return el
}

// WriteState reports the recorder write breaker state.
func (el *EventLog) WriteState() CircuitState {
	return el.breaker.State()
}

// AppendEvent appends one event with the next per-session sequence number.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.AppendEvents(ctx, []*Event{event})
}

// AppendEvents appends a batch in a single transaction. Sequence numbers are
// assigned per session in slice order and written back into the events.
func (el *EventLog) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	next := make(map[string]int64)
	for _, event := range events {
		seq, ok := next[event.SessionID]
		if !ok {
			var known int
			if err := tx.QueryRowContext(ctx,
				`SELECT (SELECT COUNT(*) FROM sessions WHERE id = ?), COALESCE(MAX(sequence), 0) + 1
				 FROM debug_events WHERE session_id = ?`, event.SessionID, event.SessionID,
			).Scan(&known, &seq); err != nil {
				return fmt.Errorf("get next sequence: %w", err)
			}
			if known == 0 {
				return storeNotFound("session", event.SessionID)
			}
		}
		event.Sequence = seq
		next[event.SessionID] = seq + 1

		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO debug_events (session_id, flow_id, step_id, step_index, event_type, metadata, timestamp, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.SessionID, event.FlowID, nullStr(event.StepID), event.StepIndex, event.Type,
			nullRaw(event.Metadata), event.Timestamp, seq,
		)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "insert event for session %s", event.SessionID).WithCause(err)
		}
		if id, err := res.LastInsertId(); err == nil {
			event.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// GetEvents returns events for a session with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, sessionID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayEvents folds a session's trace into a TraceSummary: which steps were
// visited and how often, and the playback state the trace ends in. Returns an
// error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, sessionID string) (*TraceSummary, error) {
	sess, err := el.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := el.store.GetEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in session %s: expected %d, got %d", sessionID, expected, e.Sequence)
		}
	}

	return Summarize(sess, events), nil
}

// Summarize folds events (in sequence order) starting from the session's
// initial options. Every event carries the position at emission time, so the
// final position is read from the last event rather than re-simulated.
func Summarize(sess *Session, events []*Event) *TraceSummary {
	speed := sess.Options.Speed
	if speed <= 0 {
		speed = 1
	}
	sum := &TraceSummary{
		SessionID:  sess.ID,
		Events:     len(events),
		EventCount: make(map[string]int),
		Final: TraceState{
			FlowID:      sess.FlowID,
			Playing:     sess.Options.Autoplay,
			AutoAdvance: sess.Options.AutoAdvance,
			Speed:       speed,
		},
	}

	visits := make(map[int]*StepVisit)
	var order []int
	visit := func(index int, stepID string, at time.Time) {
		v, ok := visits[index]
		if !ok {
			v = &StepVisit{StepIndex: index, StepID: stepID, FirstAt: at}
			visits[index] = v
			order = append(order, index)
		}
		v.Count++
		v.LastAt = at
	}

	start := sess.CreatedAt
	if len(events) > 0 {
		start = events[0].Timestamp
	}
	visit(0, "", start)

	for _, e := range events {
		sum.EventCount[e.Type]++
		meta := decodeMetadata(e.Metadata)

		switch e.Type {
		case schema.EventPlay:
			sum.Final.Playing = true
		case schema.EventPause, schema.EventReset:
			sum.Final.Playing = false
		case schema.EventSpeedChange:
			if v, ok := meta["speed"].(float64); ok {
				sum.Final.Speed = v
			}
		case schema.EventAutoAdvanceToggle:
			if v, ok := meta["enabled"].(bool); ok {
				sum.Final.AutoAdvance = v
			}
		case schema.EventFlowBound:
			sum.Final.FlowID = e.FlowID
			visits = make(map[int]*StepVisit)
			order = nil
			visit(e.StepIndex, e.StepID, e.Timestamp)
		case schema.EventStepChange:
			visit(e.StepIndex, e.StepID, e.Timestamp)
		}

		sum.Final.StepIndex = e.StepIndex
		if e.StepID != "" {
			sum.Final.StepID = e.StepID
		}
		if v, ok := visits[e.StepIndex]; ok && v.StepID == "" {
			v.StepID = e.StepID
		}
	}

	sum.Visits = make([]StepVisit, 0, len(order))
	for _, idx := range order {
		sum.Visits = append(sum.Visits, *visits[idx])
	}
	return sum
}

func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
