package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/internal/streaming"
)

type fixture struct {
	srv *AuthflowServer
	mgr *session.Manager
	hub *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := flows.NewBuiltinRegistry()
	require.NoError(t, err)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	hub := streaming.NewMemoryHub()
	el := store.NewEventLog(st)
	mgr := session.NewManager(session.Config{Registry: reg, Hub: hub, Store: st, EventLog: el})
	t.Cleanup(func() { mgr.CloseAll(context.Background()) })

	srv := NewAuthflowServer(AuthflowServerDeps{Registry: reg, Sessions: mgr, EventLog: el, Hub: hub})
	return &fixture{srv: srv, mgr: mgr, hub: hub}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, extractText(t, result))
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func TestNewAuthflowServer(t *testing.T) {
	s := NewAuthflowServer(AuthflowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
	assert.Equal(t, s.mcpServer, s.MCPServer())
}

func TestToolRegistration(t *testing.T) {
	s := NewAuthflowServer(AuthflowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 8)

	for _, name := range []string{
		"authflow.flows",
		"authflow.open",
		"authflow.control",
		"authflow.advance",
		"authflow.state",
		"authflow.diagram",
		"authflow.trace",
		"authflow.close",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"authflow.flows", "List the registered authentication flows, or describe one flow"},
		{"authflow.open", "Open a playback session on a flow"},
		{"authflow.control", "Send a playback command to a session"},
		{"authflow.advance", "Advance a virtual session's clock"},
		{"authflow.trace", "Read a recorded session's debug trace"},
	}

	s := NewAuthflowServer(AuthflowServerDeps{})
	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

func TestCommandEnum(t *testing.T) {
	assert.Contains(t, commandEnum, "seek_step")
	assert.Contains(t, commandEnum, "bind")
	assert.NotContains(t, commandEnum, "tick")
}
