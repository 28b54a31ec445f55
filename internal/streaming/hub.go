// Package streaming fans playback events out to live observers such as SSE
// clients and MCP callers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted by a playback session.
type StreamEvent struct {
	SessionID string    `json:"session_id"`
	FlowID    string    `json:"flow_id"`
	StepID    string    `json:"step_id,omitempty"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	FlowID     string   `json:"flow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for playback events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
