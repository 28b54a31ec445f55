package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/authflow/internal/diagram"
	"github.com/rendis/authflow/internal/expressions"
	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/pkg/schema"
)

const (
	cmdBind        = "bind"
	defaultFrameMs = 16.0
)

// commandEnum lists the values accepted by authflow.control. Ticks go through
// authflow.advance instead.
var commandEnum = func() []string {
	out := make([]string, 0, len(playback.CommandNames)+1)
	for _, name := range playback.CommandNames {
		if name == playback.CmdTick {
			continue
		}
		out = append(out, string(name))
	}
	return append(out, cmdBind)
}()

// handleFlows lists flows or describes one.
func (s *AuthflowServer) handleFlows(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID := req.GetString("flow_id", "")
	if flowID == "" {
		return marshalResult(map[string]any{
			"flows":   s.registry.List(),
			"default": s.registry.DefaultID(),
		})
	}

	def, ok := s.registry.Lookup(flowID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("flow %q not found", flowID)), nil
	}
	return marshalResult(map[string]any{
		"summary":    flows.Summarize(def, def.ID == s.registry.DefaultID()),
		"definition": def,
	})
}

// handleOpen creates a playback session.
func (s *AuthflowServer) handleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := session.Options{
		Autoplay:    req.GetBool("autoplay", false),
		AutoAdvance: req.GetBool("auto_advance", true),
		Speed:       req.GetFloat("speed", 1),
		Virtual:     !req.GetBool("realtime", false),
		Record:      req.GetBool("record", false),
	}

	sess, err := s.sessions.Create(ctx, req.GetString("flow_id", ""), opts)
	if err != nil {
		return toolError("open session", err), nil
	}

	if req.GetBool("notify", false) {
		s.captureSession(ctx, sess.ID)
	}

	return marshalResult(map[string]any{
		"session_id": sess.ID,
		"virtual":    sess.Virtual,
		"recording":  sess.Recording(),
		"snapshot":   sess.Snapshot(),
		"step":       activeStep(sess.Definition(), sess.Snapshot()),
	})
}

// handleControl applies one playback command.
func (s *AuthflowServer) handleControl(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	name, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command is required"), nil
	}

	var snap playback.Snapshot
	if name == cmdBind {
		flowID, fErr := req.RequireString("flow_id")
		if fErr != nil {
			return mcp.NewToolResultError("flow_id is required for bind"), nil
		}
		snap, err = s.sessions.Bind(ctx, sessionID, flowID)
	} else {
		snap, err = s.sessions.Command(ctx, sessionID, commandFromArgs(name, req.GetFloat("value", 0)))
	}
	if err != nil {
		return toolError(name, err), nil
	}
	return s.stateResult(sessionID, snap)
}

// handleAdvance moves a virtual session's clock.
func (s *AuthflowServer) handleAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	ms, err := req.RequireFloat("ms")
	if err != nil {
		return mcp.NewToolResultError("ms is required"), nil
	}
	if ms < 0 {
		return mcp.NewToolResultError("ms must not be negative"), nil
	}

	snap, err := s.sessions.Advance(ctx, sessionID, ms, req.GetFloat("frame_ms", defaultFrameMs))
	if err != nil {
		return toolError("advance", err), nil
	}
	return s.stateResult(sessionID, snap)
}

// handleState returns one session's state, or every open session.
func (s *AuthflowServer) handleState(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return marshalResult(map[string]any{"sessions": s.sessions.List()})
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return toolError("state", err), nil
	}
	return s.stateResult(sessionID, sess.Snapshot())
}

// handleDiagram draws a flow, optionally with a session's playback overlay.
func (s *AuthflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	flowID := req.GetString("flow_id", "")
	sessionID := req.GetString("session_id", "")
	if flowID == "" && sessionID == "" {
		return mcp.NewToolResultError("at least one of flow_id or session_id is required"), nil
	}

	var (
		def  *schema.FlowDefinition
		snap *playback.Snapshot
	)
	if sessionID != "" {
		sess, sErr := s.sessions.Get(sessionID)
		if sErr != nil {
			return toolError("diagram", sErr), nil
		}
		current := sess.Snapshot()
		def, snap = sess.Definition(), &current
	} else {
		var ok bool
		if def, ok = s.registry.Lookup(flowID); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("flow %q not found", flowID)), nil
		}
	}

	model, buildErr := diagram.Build(def, snap)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleTrace returns a recorded trace, raw or summarized.
func (s *AuthflowServer) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if s.eventLog == nil {
		return mcp.NewToolResultError("trace store is not configured"), nil
	}

	if req.GetBool("summary", false) {
		sum, sErr := s.eventLog.ReplayEvents(ctx, sessionID)
		if sErr != nil {
			return toolError("replay", sErr), nil
		}
		return marshalResult(sum)
	}

	events, err := s.eventLog.GetEvents(ctx, sessionID, 0)
	if err != nil {
		return toolError("trace", err), nil
	}

	filter := req.GetString("filter", "")
	if filter == "" {
		return marshalResult(map[string]any{"session_id": sessionID, "events": events})
	}
	filtered, err := expressions.NewGoJQEngine().Filter(ctx, filter, events)
	if err != nil {
		return toolError("filter", err), nil
	}
	return marshalResult(map[string]any{"session_id": sessionID, "events": filtered})
}

// handleClose closes a session.
func (s *AuthflowServer) handleClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if err := s.sessions.Close(ctx, sessionID); err != nil {
		return toolError("close", err), nil
	}
	s.watchers.Forget(sessionID)
	return marshalResult(map[string]any{"ok": true, "session_id": sessionID})
}

// --- Helpers ---

func (s *AuthflowServer) stateResult(sessionID string, snap playback.Snapshot) (*mcp.CallToolResult, error) {
	var def *schema.FlowDefinition
	if sess, err := s.sessions.Get(sessionID); err == nil {
		def = sess.Definition()
	}
	return marshalResult(map[string]any{
		"session_id": sessionID,
		"snapshot":   snap,
		"step":       activeStep(def, snap),
	})
}

// activeStep returns the step at the snapshot's position, or nil.
func activeStep(def *schema.FlowDefinition, snap playback.Snapshot) *schema.StepDefinition {
	if def == nil || snap.ActiveEventIndex < 0 || snap.ActiveEventIndex >= len(def.Steps) {
		return nil
	}
	st := def.Steps[snap.ActiveEventIndex]
	return &st
}

// commandFromArgs maps a command name and its single numeric argument onto a
// playback.Command.
func commandFromArgs(name string, value float64) playback.Command {
	cmd := playback.Command{Name: playback.CommandName(name)}
	switch cmd.Name {
	case playback.CmdSeek:
		cmd.Progress = value
	case playback.CmdSeekStep:
		cmd.Index = int(value)
	case playback.CmdAutoAdvance:
		cmd.Enabled = value != 0
	case playback.CmdSpeed:
		cmd.Speed = value
	case playback.CmdTick:
		cmd.DeltaMs = value
	}
	return cmd
}

// captureSession maps the playback session to the calling MCP client for notifications.
func (s *AuthflowServer) captureSession(ctx context.Context, playbackID string) {
	if client := server.ClientSessionFromContext(ctx); client != nil {
		s.watchers.Register(playbackID, client.SessionID())
	}
}

// toolError turns an error into a tool result, keeping the FlowError code
// visible to the caller.
func toolError(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
