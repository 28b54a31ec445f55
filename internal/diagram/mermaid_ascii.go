package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RenderASCIIAuto tries to render using the mermaid-ascii CLI binary if available,
// falling back to the built-in RenderASCII renderer.
func RenderASCIIAuto(ctx context.Context, model *SequenceModel, binDir string) string {
	if binDir != "" {
		binPath := filepath.Join(binDir, "mermaid-ascii")
		if _, err := os.Stat(binPath); err == nil {
			result, err := RenderASCIIViaCLI(ctx, model, binPath)
			if err == nil {
				return result
			}
		}
	}
	return RenderASCII(model)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through the mermaid-ascii binary.
func RenderASCIIViaCLI(ctx context.Context, model *SequenceModel, binPath string) (string, error) {
	cmd := exec.CommandContext(ctx, binPath)
	cmd.Stdin = strings.NewReader(RenderMermaidForCLI(model))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates a plain sequenceDiagram the mermaid-ascii CLI
// can parse: no title, rect blocks or notes. Playback state is appended to
// the message text instead.
func RenderMermaidForCLI(model *SequenceModel) string {
	var b strings.Builder
	b.WriteString("sequenceDiagram\n")
	for _, lane := range model.Lanes {
		fmt.Fprintf(&b, "    participant %s\n", mermaidSafeID(lane.ID))
	}
	for _, msg := range model.Messages {
		arrow := "->>"
		if msg.Reply() {
			arrow = "-->>"
		}
		label := msg.Label
		switch msg.State {
		case StateDone:
			label += " [OK]"
		case StateActive:
			label += " [RUN " + percent(msg.Progress) + "]"
		}
		fmt.Fprintf(&b, "    %s%s%s: %s\n", mermaidSafeID(msg.From), arrow, mermaidSafeID(msg.To), label)
	}
	return b.String()
}
