package diagram

import (
	"sort"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

// Build constructs a SequenceModel from a flow definition and an optional
// playback snapshot. Lanes follow the participants' lane numbers, then
// declaration order. With a snapshot, steps before the active one are done,
// the active one carries its event progress and the rest are pending.
func Build(def *schema.FlowDefinition, snap *playback.Snapshot) (*SequenceModel, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: nil flow definition")
	}
	if snap != nil && snap.FlowID != "" && snap.FlowID != def.ID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"diagram: snapshot belongs to flow %q, not %q", snap.FlowID, def.ID)
	}

	model := &SequenceModel{
		FlowID:      def.ID,
		Title:       titleFromDef(def),
		Protocol:    def.Protocol,
		Lanes:       buildLanes(def),
		ActiveIndex: -1,
	}

	active := -1
	if snap != nil && len(def.Steps) > 0 {
		active = min(max(snap.ActiveEventIndex, 0), len(def.Steps)-1)
		model.ActiveIndex = active
		model.GlobalProgress = snap.GlobalProgress
		model.Phase = snap.Phase
	}

	model.Messages = make([]Message, 0, len(def.Steps))
	for i, st := range def.Steps {
		if def.Participant(st.Source) == nil || def.Participant(st.Target) == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"diagram: step %s references an unknown participant", st.ID).WithStep(st.ID)
		}
		msg := Message{
			Index:        i,
			StepID:       st.ID,
			Label:        firstLine(st.DisplayLabel()),
			From:         st.Source,
			To:           st.Target,
			Payload:      st.Payload,
			DurationMs:   st.DurationMs,
			PauseAfterMs: st.PauseAfterMs,
			State:        StatePending,
		}
		switch {
		case active < 0:
		case i < active:
			msg.State = StateDone
			msg.Progress = 1
		case i == active:
			msg.State = StateActive
			msg.Progress = snap.EventProgress
		}
		model.Messages = append(model.Messages, msg)
	}
	return model, nil
}

func buildLanes(def *schema.FlowDefinition) []Lane {
	parts := make([]schema.Participant, len(def.Participants))
	copy(parts, def.Participants)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Lane < parts[j].Lane })

	lanes := make([]Lane, len(parts))
	for i, p := range parts {
		lanes[i] = Lane{ID: p.ID, Label: firstLine(p.DisplayLabel()), Column: i}
	}
	return lanes
}

func titleFromDef(def *schema.FlowDefinition) string {
	if def.Title != "" {
		return def.Title
	}
	return def.ID
}
