// Package mcp exposes playback sessions to non-visual consumers over the
// Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/internal/streaming"
)

// AuthflowServerDeps holds the dependencies for creating an AuthflowServer.
// Registry and Sessions are required; EventLog enables authflow.trace and Hub
// enables step notifications.
type AuthflowServerDeps struct {
	Registry *flows.Registry
	Sessions *session.Manager
	EventLog *store.EventLog
	Hub      streaming.EventHub
	Logger   *slog.Logger
	Version  string
}

// AuthflowServer wraps an MCP server with playback tool handlers.
type AuthflowServer struct {
	registry  *flows.Registry
	sessions  *session.Manager
	eventLog  *store.EventLog
	hub       streaming.EventHub
	logger    *slog.Logger
	watchers  *SessionRegistry
	notifier  SessionNotifier
	mcpServer *server.MCPServer
}

// NewAuthflowServer creates a new AuthflowServer with every tool registered.
func NewAuthflowServer(deps AuthflowServerDeps) *AuthflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &AuthflowServer{
		registry: deps.Registry,
		sessions: deps.Sessions,
		eventLog: deps.EventLog,
		hub:      deps.Hub,
		logger:   logger,
		watchers: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"authflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Authflow plays authentication protocol walkthroughs step by step. Use authflow.flows to list flows, authflow.open to start a session, authflow.control to play, pause, seek or change speed, authflow.advance to move a virtual clock, authflow.state and authflow.diagram to inspect the current step, and authflow.trace to read a recorded debug trace."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.watchers)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AuthflowServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.StartNotifications(ctx); err != nil {
		s.logger.WarnContext(ctx, "step notifications disabled", "error", err)
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AuthflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *AuthflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: flowsTool(), Handler: s.handleFlows},
		{Tool: openTool(), Handler: s.handleOpen},
		{Tool: controlTool(), Handler: s.handleControl},
		{Tool: advanceTool(), Handler: s.handleAdvance},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: traceTool(), Handler: s.handleTrace},
		{Tool: closeTool(), Handler: s.handleClose},
	}
}

// --- Tool definitions ---

func flowsTool() mcp.Tool {
	return mcp.NewTool("authflow.flows",
		mcp.WithDescription("List the registered authentication flows, or describe one flow"),
		mcp.WithString("flow_id", mcp.Description("Flow to describe (omit to list all flows)")),
	)
}

func openTool() mcp.Tool {
	return mcp.NewTool("authflow.open",
		mcp.WithDescription("Open a playback session on a flow"),
		mcp.WithString("flow_id", mcp.Description("Flow to play (default: the registry default)")),
		mcp.WithBoolean("autoplay", mcp.Description("Start playing immediately (default: false)")),
		mcp.WithBoolean("auto_advance", mcp.Description("Continue to the next step when one finishes (default: true)")),
		mcp.WithNumber("speed", mcp.Description("Playback speed: 0.5, 1 or 1.5 (default: 1)")),
		mcp.WithBoolean("realtime", mcp.Description("Drive playback from a wall-clock ticker instead of authflow.advance (default: false)")),
		mcp.WithBoolean("record", mcp.Description("Persist the debug trace for authflow.trace (default: false)")),
		mcp.WithBoolean("notify", mcp.Description("Send a notification to this client on every step change (default: false)")),
	)
}

func controlTool() mcp.Tool {
	return mcp.NewTool("authflow.control",
		mcp.WithDescription("Send a playback command to a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to control")),
		mcp.WithString("command", mcp.Required(),
			mcp.Enum(commandEnum...),
			mcp.Description("Playback command"),
		),
		mcp.WithNumber("value", mcp.Description("Argument: progress 0..1 for seek, step index for seek_step, multiplier for speed, 1/0 for auto_advance")),
		mcp.WithString("flow_id", mcp.Description("Flow to bind (command bind only)")),
	)
}

func advanceTool() mcp.Tool {
	return mcp.NewTool("authflow.advance",
		mcp.WithDescription("Advance a virtual session's clock"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to advance")),
		mcp.WithNumber("ms", mcp.Required(), mcp.Description("Milliseconds of wall-clock time to simulate")),
		mcp.WithNumber("frame_ms", mcp.Description("Frame length in milliseconds (default: 16)")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("authflow.state",
		mcp.WithDescription("Get a session's playback state and active step"),
		mcp.WithString("session_id", mcp.Description("Session to inspect (omit to list open sessions)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("authflow.diagram",
		mcp.WithDescription("Generate a sequence diagram of a flow. Returns ASCII art, Mermaid sequenceDiagram syntax, or base64-encoded PNG image"),
		mcp.WithString("flow_id", mcp.Description("Flow to draw")),
		mcp.WithString("session_id", mcp.Description("Session to draw, with its active step highlighted")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (sequenceDiagram syntax), or image (base64 PNG)"),
		),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("authflow.trace",
		mcp.WithDescription("Read a recorded session's debug trace"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Recorded session")),
		mcp.WithString("filter", mcp.Description("jq expression applied to each event, e.g. select(.event_type == \"STEP_CHANGE\")")),
		mcp.WithBoolean("summary", mcp.Description("Return the replay summary instead of raw events (default: false)")),
	)
}

func closeTool() mcp.Tool {
	return mcp.NewTool("authflow.close",
		mcp.WithDescription("Close a playback session and flush its trace"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to close")),
	)
}
