package playback

import (
	"log/slog"
	"time"
)

// DebugEvent is the structured record emitted for every scheduler state change.
type DebugEvent struct {
	Type      string         `json:"type"`
	FlowID    string         `json:"flow_id"`
	StepID    *string        `json:"step_id"`
	StepIndex int            `json:"step_index"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DebugHook receives debug events. Hooks run synchronously on the scheduler's
// goroutine, so they must return quickly; anything slow belongs behind a queue.
type DebugHook func(DebugEvent)

// FanOut returns a hook that forwards each event to every non-nil hook.
// A panicking hook does not prevent the others from running.
func FanOut(hooks ...DebugHook) DebugHook {
	live := make([]DebugHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(ev DebugEvent) {
		for _, h := range live {
			safeCall(h, ev, nil)
		}
	}
}

// safeCall invokes hook and swallows any panic so telemetry can never break playback.
func safeCall(hook DebugHook, ev DebugEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Debug("debug hook panicked", "event", ev.Type, "panic", r)
		}
	}()
	hook(ev)
}

// emit builds and delivers a debug event for the current position.
func (s *Scheduler) emit(eventType string, metadata map[string]any) {
	if s.hook == nil {
		return
	}
	ev := DebugEvent{
		Type:      eventType,
		FlowID:    s.flowID(),
		StepIndex: s.index,
		Timestamp: s.now(),
		Metadata:  metadata,
	}
	if step := s.currentStep(); step != nil {
		id := step.ID
		ev.StepID = &id
	}
	safeCall(s.hook, ev, s.logger)
}
