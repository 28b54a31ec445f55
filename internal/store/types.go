package store

import (
	"encoding/json"
	"time"
)

// Session status values.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// SessionOptions records how a session's scheduler was configured.
type SessionOptions struct {
	Autoplay    bool    `json:"autoplay"`
	AutoAdvance bool    `json:"auto_advance"`
	Speed       float64 `json:"speed"`
	Virtual     bool    `json:"virtual,omitempty"`
}

// Session is the persisted record of one playback session.
type Session struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"`
	Status    string         `json:"status"`
	Options   SessionOptions `json:"options"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	FlowID string
	Status string
	Limit  int
}

// Event is an immutable entry in a session's debug trace.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	FlowID    string          `json:"flow_id"`
	StepID    string          `json:"step_id,omitempty"`
	StepIndex int             `json:"step_index"`
	Type      string          `json:"event_type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	SessionID string
	FlowID    string
	StepID    string
	Since     *time.Time
	Limit     int
}

// StepVisit counts how often a step became active during a session.
type StepVisit struct {
	StepIndex int       `json:"step_index"`
	StepID    string    `json:"step_id,omitempty"`
	Count     int       `json:"count"`
	FirstAt   time.Time `json:"first_at"`
	LastAt    time.Time `json:"last_at"`
}

// TraceState is the playback state reconstructed from a trace.
type TraceState struct {
	FlowID      string  `json:"flow_id"`
	StepIndex   int     `json:"step_index"`
	StepID      string  `json:"step_id,omitempty"`
	Playing     bool    `json:"playing"`
	AutoAdvance bool    `json:"auto_advance"`
	Speed       float64 `json:"speed"`
}

// TraceSummary is the materialized view of a session's debug trace.
type TraceSummary struct {
	SessionID  string         `json:"session_id"`
	Events     int            `json:"events"`
	Visits     []StepVisit    `json:"visits"`
	EventCount map[string]int `json:"event_count"`
	Final      TraceState     `json:"final"`
}
