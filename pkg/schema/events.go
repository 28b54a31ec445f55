package schema

// Debug event types emitted by the playback scheduler.
const (
	EventPlay              = "PLAY"
	EventPause             = "PAUSE"
	EventReset             = "RESET"
	EventSeek              = "SEEK"
	EventSeekStep          = "SEEK_STEP"
	EventStepNext          = "STEP_NEXT"
	EventStepPrevious      = "STEP_PREVIOUS"
	EventStepChange        = "STEP_CHANGE"
	EventAutoAdvanceToggle = "AUTO_ADVANCE_TOGGLE"
	EventSpeedChange       = "SPEED_CHANGE"
	EventFlowBound         = "FLOW_BOUND"
)

// Stream-only event types published by the session layer.
const (
	EventSnapshot      = "SNAPSHOT"
	EventSessionClosed = "SESSION_CLOSED"
)

// DebugEventTypes lists every scheduler debug event type in a stable order.
var DebugEventTypes = []string{
	EventPlay, EventPause, EventReset, EventSeek, EventSeekStep,
	EventStepNext, EventStepPrevious, EventStepChange,
	EventAutoAdvanceToggle, EventSpeedChange, EventFlowBound,
}

// Change causes carried in debug event metadata.
const (
	CauseTick    = "tick"
	CauseCommand = "command"
)

// PlaybackPhase is the conceptual scheduler state.
type PlaybackPhase string

const (
	PhaseIdle           PlaybackPhase = "idle"
	PhasePlaying        PlaybackPhase = "playing"
	PhaseBoundaryPaused PlaybackPhase = "boundary_paused"
)
