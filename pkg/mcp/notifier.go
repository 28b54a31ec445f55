package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/streaming"
	"github.com/rendis/authflow/pkg/schema"
)

// notifyEventTypes are the stream events forwarded to watching clients.
var notifyEventTypes = []string{
	schema.EventStepChange,
	schema.EventPause,
	schema.EventFlowBound,
	schema.EventSessionClosed,
}

// SessionNotifier pushes playback notifications to a watching client.
type SessionNotifier interface {
	Notify(ctx context.Context, playbackID string, payload map[string]any) error
}

// MCPNotifier implements SessionNotifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the client watching playbackID.
// Best-effort: returns nil if nobody is watching.
func (n *MCPNotifier) Notify(_ context.Context, playbackID string, payload map[string]any) error {
	clientID, ok := n.sessions.ClientFor(playbackID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(clientID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Client went away between lookup and send.
		n.sessions.Remove(clientID)
		return nil
	}
	return err
}

// StartNotifications subscribes to the hub and forwards step changes of
// watched sessions until ctx is cancelled.
func (s *AuthflowServer) StartNotifications(ctx context.Context) error {
	if s.hub == nil {
		return errors.New("no event hub configured")
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: notifyEventTypes})
	if err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.forward(ctx, ev)
			}
		}
	}()
	return nil
}

func (s *AuthflowServer) forward(ctx context.Context, ev streaming.StreamEvent) {
	if _, ok := s.watchers.ClientFor(ev.SessionID); !ok {
		return
	}
	if err := s.notifier.Notify(ctx, ev.SessionID, notificationPayload(ev)); err != nil {
		s.logger.DebugContext(ctx, "notify watcher", "session_id", ev.SessionID, "error", err)
	}
	if ev.EventType == schema.EventSessionClosed {
		s.watchers.Forget(ev.SessionID)
	}
}

func notificationPayload(ev streaming.StreamEvent) map[string]any {
	payload := map[string]any{
		"session_id": ev.SessionID,
		"flow_id":    ev.FlowID,
		"event_type": ev.EventType,
		"timestamp":  ev.Timestamp,
	}
	if ev.StepID != "" {
		payload["step_id"] = ev.StepID
	}
	if de, ok := ev.Payload.(playback.DebugEvent); ok {
		payload["step_index"] = de.StepIndex
		if len(de.Metadata) > 0 {
			payload["metadata"] = de.Metadata
		}
	}
	return payload
}
