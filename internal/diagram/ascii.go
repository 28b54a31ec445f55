package diagram

import (
	"fmt"
	"math"
	"strings"
)

const (
	minColumnWidth = 14
	barCells       = 10
	gutterWidth    = 6 // "> 12  "
)

// stateTag returns a short ASCII indicator for a message state.
func stateTag(state MessageState) string {
	switch state {
	case StateDone:
		return "[OK]"
	case StateActive:
		return "[RUN]"
	default:
		return ""
	}
}

// RenderASCII renders a SequenceModel as a text lane diagram: one column per
// participant, one row per message, and a progress bar per row when the model
// carries a playback overlay.
//
//	=== Password login ===
//
//	       Browser        API
//	          |            |
//	> 1       |----------->|   [#####-----]  50% Submit credentials
func RenderASCII(model *SequenceModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}
	if len(model.Lanes) == 0 {
		return b.String()
	}

	width := columnWidth(model)
	centers := make(map[string]int, len(model.Lanes))
	for _, lane := range model.Lanes {
		centers[lane.ID] = gutterWidth + lane.Column*width + width/2
	}
	lineLen := gutterWidth + len(model.Lanes)*width

	// Header and lifelines.
	header := blankRow(lineLen)
	for _, lane := range model.Lanes {
		start := centers[lane.ID] - len(lane.Label)/2
		copy(header[start:], lane.Label)
	}
	writeRow(&b, header, "")
	writeRow(&b, lifelines(lineLen, centers), "")

	for _, msg := range model.Messages {
		row := lifelines(lineLen, centers)
		drawArrow(row, centers[msg.From], centers[msg.To])
		gutter := fmt.Sprintf("  %-3d ", msg.Index+1)
		if msg.State == StateActive {
			gutter = fmt.Sprintf("> %-3d ", msg.Index+1)
		}
		copy(row, gutter)
		writeRow(&b, row, messageSuffix(model, msg))
	}
	writeRow(&b, lifelines(lineLen, centers), "")

	if model.HasOverlay() {
		fmt.Fprintf(&b, "\nprogress %s %s  phase: %s\n",
			bar(model.GlobalProgress), percent(model.GlobalProgress), model.Phase)
	}
	return b.String()
}

func columnWidth(model *SequenceModel) int {
	width := minColumnWidth
	for _, lane := range model.Lanes {
		width = max(width, len(lane.Label)+4)
	}
	return width
}

func blankRow(n int) []byte {
	return []byte(strings.Repeat(" ", n))
}

func lifelines(n int, centers map[string]int) []byte {
	row := blankRow(n)
	for _, c := range centers {
		row[c] = '|'
	}
	return row
}

// drawArrow draws from the source lifeline to the target lifeline. A
// self-message is drawn as a short loop to the right.
func drawArrow(row []byte, from, to int) {
	switch {
	case from == to:
		copy(row[from+1:], "--+")
	case from < to:
		for i := from + 1; i < to-1; i++ {
			row[i] = '-'
		}
		row[to-1] = '>'
	default:
		row[to+1] = '<'
		for i := to + 2; i < from; i++ {
			row[i] = '-'
		}
	}
}

func messageSuffix(model *SequenceModel, msg Message) string {
	if !model.HasOverlay() {
		return msg.Label
	}
	suffix := fmt.Sprintf("%s %4s %s", bar(msg.Progress), percent(msg.Progress), msg.Label)
	if tag := stateTag(msg.State); tag != "" {
		suffix += " " + tag
	}
	return suffix
}

func bar(p float64) string {
	filled := int(math.Round(clamp01(p) * barCells))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barCells-filled) + "]"
}

func writeRow(b *strings.Builder, row []byte, suffix string) {
	line := strings.TrimRight(string(row), " ")
	if suffix != "" {
		line = string(row) + "  " + suffix
	}
	b.WriteString(line)
	b.WriteByte('\n')
}
