package expressions

import (
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

// SnapshotData builds the variables visible to watch conditions:
//
//   - snapshot: the published scheduler state (json field names)
//   - step:     the active step (id, label, source, target, payload, index)
//   - flow:     the bound flow (id, title, protocol, steps)
//
// Integers are int64 so CEL sees them as int.
func SnapshotData(snap playback.Snapshot, def *schema.FlowDefinition) map[string]any {
	data := map[string]any{
		"snapshot": map[string]any{
			"flow_id":             snap.FlowID,
			"active_event_index":  int64(snap.ActiveEventIndex),
			"active_step_id":      snap.ActiveStepID,
			"elapsed_in_event_ms": snap.ElapsedInEventMs,
			"event_progress":      snap.EventProgress,
			"global_progress":     snap.GlobalProgress,
			"is_playing":          snap.IsPlaying,
			"auto_advance":        snap.AutoAdvance,
			"speed":               snap.Speed,
			"phase":               string(snap.Phase),
			"step_count":          int64(snap.StepCount),
		},
		"step": map[string]any{},
		"flow": map[string]any{},
	}
	if def == nil {
		return data
	}

	data["flow"] = map[string]any{
		"id":       def.ID,
		"title":    def.Title,
		"protocol": def.Protocol,
		"steps":    int64(len(def.Steps)),
	}
	if i := snap.ActiveEventIndex; i >= 0 && i < len(def.Steps) {
		st := def.Steps[i]
		data["step"] = map[string]any{
			"id":      st.ID,
			"label":   st.DisplayLabel(),
			"source":  st.Source,
			"target":  st.Target,
			"payload": string(st.Payload),
			"index":   int64(i),
		}
	}
	return data
}
