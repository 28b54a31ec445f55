package schema

// FlowDefinition is the serializable description of one protocol walkthrough.
// Definitions are validated once at registration and never mutated afterwards;
// switching protocols means binding a different definition.
type FlowDefinition struct {
	ID            string           `json:"id" yaml:"id"`
	Title         string           `json:"title,omitempty" yaml:"title,omitempty"`
	Protocol      string           `json:"protocol,omitempty" yaml:"protocol,omitempty"` // e.g. "jwt", "oauth2", "session"
	Description   string           `json:"description,omitempty" yaml:"description,omitempty"`
	Prerequisites []string         `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Participants  []Participant    `json:"participants" yaml:"participants"`
	Steps         []StepDefinition `json:"steps" yaml:"steps"`
	Metadata      map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Participant is a named actor in the protocol (client, server, database...).
// Lane is only meaningful to renderers.
type Participant struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Lane  int    `json:"lane" yaml:"lane"`
}

// StepDefinition describes a single message or transition between two participants.
type StepDefinition struct {
	ID           string      `json:"id" yaml:"id"`
	Source       string      `json:"source" yaml:"source"`
	Target       string      `json:"target" yaml:"target"`
	Label        string      `json:"label,omitempty" yaml:"label,omitempty"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	DurationMs   float64     `json:"durationMs" yaml:"durationMs"`                         // own animation time, > 0
	PauseAfterMs float64     `json:"pauseAfterMs,omitempty" yaml:"pauseAfterMs,omitempty"` // idle time after the step, >= 0
	Payload      PayloadKind `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Total is the step's full share of the timeline.
func (s StepDefinition) Total() float64 {
	return s.DurationMs + s.PauseAfterMs
}

// PayloadKind classifies what a step carries. Renderers use it for styling.
type PayloadKind string

const (
	PayloadRequest    PayloadKind = "request"
	PayloadResponse   PayloadKind = "response"
	PayloadCredential PayloadKind = "credential"
	PayloadToken      PayloadKind = "token"
	PayloadRedirect   PayloadKind = "redirect"
	PayloadInternal   PayloadKind = "internal"
)

// Participant returns the participant with the given ID, or nil.
func (d *FlowDefinition) Participant(id string) *Participant {
	for i := range d.Participants {
		if d.Participants[i].ID == id {
			return &d.Participants[i]
		}
	}
	return nil
}

// StepIndex returns the position of the step with the given ID, or -1.
func (d *FlowDefinition) StepIndex(id string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// DisplayLabel returns Label, falling back to ID.
func (p Participant) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// DisplayLabel returns Label, falling back to ID.
func (s StepDefinition) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}
