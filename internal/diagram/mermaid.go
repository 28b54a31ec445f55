package diagram

import (
	"fmt"
	"math"
	"strings"
)

// activeRect is the highlight drawn behind the active message.
const activeRect = "rgb(26, 82, 118)"

// RenderMermaid renders a SequenceModel as a Mermaid sequenceDiagram. When the
// model carries a playback overlay, the active message is wrapped in a
// highlighted rect with a progress note.
func RenderMermaid(model *SequenceModel) string {
	var b strings.Builder

	b.WriteString("sequenceDiagram\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    title %s\n", mermaidEscapeLabel(model.Title))
	}

	for _, lane := range model.Lanes {
		fmt.Fprintf(&b, "    participant %s as %s\n", mermaidSafeID(lane.ID), mermaidEscapeLabel(lane.Label))
	}

	for _, msg := range model.Messages {
		if msg.State == StateActive {
			fmt.Fprintf(&b, "    rect %s\n", activeRect)
			fmt.Fprintf(&b, "    %s\n", mermaidMessage(msg))
			fmt.Fprintf(&b, "    Note over %s: %s\n", noteTarget(msg), percent(msg.Progress))
			b.WriteString("    end\n")
			continue
		}
		fmt.Fprintf(&b, "    %s\n", mermaidMessage(msg))
	}

	return b.String()
}

// mermaidMessage returns one arrow line. Replies are dashed.
func mermaidMessage(msg Message) string {
	arrow := "->>"
	if msg.Reply() {
		arrow = "-->>"
	}
	label := mermaidEscapeLabel(msg.Label)
	if msg.State == StateDone {
		label = "✓ " + label
	}
	return fmt.Sprintf("%s%s%s: %s", mermaidSafeID(msg.From), arrow, mermaidSafeID(msg.To), label)
}

func noteTarget(msg Message) string {
	if msg.Self() {
		return mermaidSafeID(msg.From)
	}
	return mermaidSafeID(msg.From) + "," + mermaidSafeID(msg.To)
}

// mermaidSafeID converts a participant ID to a Mermaid-safe identifier.
// Replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters that end a Mermaid message text.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(";", "#59;", "\n", "<br/>")
	return r.Replace(s)
}

func percent(p float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(clamp01(p)*100)))
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
