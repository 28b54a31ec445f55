package diagram

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func activeModel(t *testing.T) *SequenceModel {
	t.Helper()
	model, err := Build(loginFlow(), &playback.Snapshot{
		FlowID:           "password-login",
		ActiveEventIndex: 1,
		EventProgress:    0.5,
		GlobalProgress:   0.6,
		Phase:            schema.PhasePlaying,
	})
	require.NoError(t, err)
	return model
}

func TestRenderMermaid(t *testing.T) {
	model, err := Build(loginFlow(), nil)
	require.NoError(t, err)
	out := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(out, "sequenceDiagram\n"))
	assert.Contains(t, out, "    title Password login\n")
	assert.Contains(t, out, "    participant browser as Browser\n")
	assert.Contains(t, out, "    browser->>api: POST /login\n")
	assert.Contains(t, out, "    db-->>api: user row\n")
	assert.Contains(t, out, "    api->>api: bcrypt compare\n")
	assert.NotContains(t, out, "rect")

	// Participants are declared in lane order.
	assert.Less(t, strings.Index(out, "participant browser"), strings.Index(out, "participant api"))
	assert.Less(t, strings.Index(out, "participant api"), strings.Index(out, "participant db"))
}

func TestRenderMermaid_ActiveHighlight(t *testing.T) {
	out := RenderMermaid(activeModel(t))

	assert.Contains(t, out, "    browser->>api: ✓ POST /login\n")
	assert.Contains(t, out, "    rect "+activeRect+"\n    api->>db: SELECT user\n    Note over api,db: 50%\n    end\n")
	assert.Contains(t, out, "    db-->>api: user row\n")
}

func TestRenderMermaid_SafeIDsAndEscaping(t *testing.T) {
	def := &schema.FlowDefinition{
		ID:           "x",
		Participants: []schema.Participant{{ID: "auth.server"}, {ID: "user-agent"}},
		Steps: []schema.StepDefinition{
			{ID: "s1", Label: "a; b", Source: "user-agent", Target: "auth.server", DurationMs: 1},
		},
	}
	model, err := Build(def, nil)
	require.NoError(t, err)
	out := RenderMermaid(model)

	assert.Contains(t, out, "participant auth_server as auth.server")
	assert.Contains(t, out, "user_agent->>auth_server: a#59; b")
}

func TestRenderASCII(t *testing.T) {
	model, err := Build(loginFlow(), nil)
	require.NoError(t, err)
	out := RenderASCII(model)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "=== Password login ===", lines[0])
	assert.Contains(t, lines[2], "Browser")
	assert.Contains(t, lines[2], "Users DB")
	assert.Less(t, strings.Index(lines[2], "Browser"), strings.Index(lines[2], "API"))

	require.Len(t, lines, 10)
	assert.Contains(t, lines[4], "|------------>|")
	assert.True(t, strings.HasSuffix(lines[4], "  POST /login"))
	assert.Contains(t, lines[6], "|<------------|")
	assert.Contains(t, lines[7], "|--+")
	assert.True(t, strings.HasPrefix(lines[4], "  1   "))
	assert.NotContains(t, out, "progress")
}

func TestRenderASCII_Overlay(t *testing.T) {
	out := RenderASCII(activeModel(t))

	assert.Contains(t, out, "[##########] 100% POST /login [OK]")
	assert.Contains(t, out, "[#####-----]  50% SELECT user [RUN]")
	assert.Contains(t, out, "[----------]   0% user row")
	assert.Contains(t, out, "> 2  ")
	assert.Contains(t, out, "progress [######----] 60%  phase: playing")
}

func TestRenderASCII_NoLanes(t *testing.T) {
	model, err := Build(&schema.FlowDefinition{ID: "empty", Title: "Empty"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "=== Empty ===\n\n", RenderASCII(model))
}

func TestRenderMermaidForCLI(t *testing.T) {
	out := RenderMermaidForCLI(activeModel(t))

	assert.NotContains(t, out, "title")
	assert.NotContains(t, out, "rect")
	assert.Contains(t, out, "    participant browser\n")
	assert.Contains(t, out, "    browser->>api: POST /login [OK]\n")
	assert.Contains(t, out, "    api->>db: SELECT user [RUN 50%]\n")
}

func TestRenderASCIIAuto_FallsBack(t *testing.T) {
	model := activeModel(t)
	want := RenderASCII(model)

	assert.Equal(t, want, RenderASCIIAuto(context.Background(), model, ""))
	assert.Equal(t, want, RenderASCIIAuto(context.Background(), model, t.TempDir()))

	// A binary that fails falls back too.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mermaid-ascii"), []byte("#!/bin/sh\nexit 1\n"), 0o755))
	assert.Equal(t, want, RenderASCIIAuto(context.Background(), model, dir))
}

func TestRenderImage(t *testing.T) {
	png, err := RenderImage(context.Background(), activeModel(t))
	require.NoError(t, err)
	require.Greater(t, len(png), 8)

	// PNG magic bytes: 0x89 P N G.
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, []byte("PNG"), png[1:4])
}

func TestRenderImage_NoOverlay(t *testing.T) {
	model, err := Build(loginFlow(), nil)
	require.NoError(t, err)
	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), png[0])
}
