package diagram

import "github.com/rendis/authflow/pkg/schema"

// MessageState classifies a message relative to the playback position.
type MessageState string

const (
	StatePending MessageState = "pending"
	StateActive  MessageState = "active"
	StateDone    MessageState = "done"
)

// SequenceModel is the intermediate representation used by all renderers.
type SequenceModel struct {
	FlowID   string
	Title    string
	Protocol string
	Lanes    []Lane
	Messages []Message

	// Playback overlay. ActiveIndex is -1 when the model was built without a snapshot.
	ActiveIndex    int
	GlobalProgress float64
	Phase          schema.PlaybackPhase
}

// Lane is one participant column, left to right.
type Lane struct {
	ID     string
	Label  string
	Column int
}

// Message is one step drawn as an arrow between two lanes.
type Message struct {
	Index        int
	StepID       string
	Label        string
	From         string
	To           string
	Payload      schema.PayloadKind
	DurationMs   float64
	PauseAfterMs float64
	State        MessageState
	Progress     float64 // 0..1 within the step's animation
}

// Self reports whether the message starts and ends on the same lane.
func (m Message) Self() bool { return m.From == m.To }

// Reply reports whether the message travels back towards the caller.
func (m Message) Reply() bool {
	return m.Payload == schema.PayloadResponse || m.Payload == schema.PayloadRedirect
}

// Lane returns the lane with the given participant ID.
func (m *SequenceModel) Lane(id string) (Lane, bool) {
	for _, l := range m.Lanes {
		if l.ID == id {
			return l, true
		}
	}
	return Lane{}, false
}

// HasOverlay reports whether the model carries playback state.
func (m *SequenceModel) HasOverlay() bool { return m.ActiveIndex >= 0 }
