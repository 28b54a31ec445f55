package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/authflow/internal/diagram"
	"github.com/rendis/authflow/internal/expressions"
	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/pkg/schema"
)

// handleListFlows lists every registered flow.
func (s *PanelServer) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"flows":   s.deps.Registry.List(),
		"default": s.deps.Registry.DefaultID(),
	})
}

// handleGetFlow returns one flow definition with its summary.
func (s *PanelServer) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.deps.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("flow %q not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":    flows.Summarize(def, def.ID == s.deps.Registry.DefaultID()),
		"definition": def,
	})
}

// handleFlowDiagram renders a flow without playback overlay.
func (s *PanelServer) handleFlowDiagram(w http.ResponseWriter, r *http.Request) {
	def, ok := s.deps.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("flow %q not found", r.PathValue("id")))
		return
	}
	s.writeDiagram(w, r, def, nil)
}

// handleListSessions lists live sessions.
func (s *PanelServer) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.Sessions.List()})
}

type createSessionRequest struct {
	FlowID      string  `json:"flow_id"`
	Autoplay    bool    `json:"autoplay"`
	AutoAdvance *bool   `json:"auto_advance"`
	Speed       float64 `json:"speed"`
	Virtual     bool    `json:"virtual"`
	Record      bool    `json:"record"`
}

// handleCreateSession opens a playback session. Auto-advance defaults to on.
func (s *PanelServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	autoAdvance := true
	if body.AutoAdvance != nil {
		autoAdvance = *body.AutoAdvance
	}

	sess, err := s.deps.Sessions.Create(r.Context(), body.FlowID, session.Options{
		Autoplay:    body.Autoplay,
		AutoAdvance: autoAdvance,
		Speed:       body.Speed,
		Virtual:     body.Virtual,
		Record:      body.Record,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(sess))
}

// handleGetSession returns a session's state and active step.
func (s *PanelServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

// handleCloseSession closes a session and flushes its trace.
func (s *PanelServer) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.Close(r.Context(), id); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

type commandRequest struct {
	playback.Command
	FlowID string `json:"flow_id,omitempty"` // bind only
}

// handleSessionCommand applies a playback command, or rebinds the session
// when name is "bind".
func (s *PanelServer) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var err error
	if body.Name == "bind" {
		if body.FlowID == "" {
			writeError(w, http.StatusBadRequest, "flow_id is required for bind")
			return
		}
		_, err = s.deps.Sessions.Bind(r.Context(), id, body.FlowID)
	} else {
		_, err = s.deps.Sessions.Command(r.Context(), id, body.Command)
	}
	if err != nil {
		writeFlowError(w, err)
		return
	}
	s.writeSession(w, id)
}

// handleAdvanceSession moves a virtual session's clock.
func (s *PanelServer) handleAdvanceSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Ms      float64 `json:"ms"`
		FrameMs float64 `json:"frame_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Ms < 0 {
		writeError(w, http.StatusBadRequest, "ms must not be negative")
		return
	}
	if _, err := s.deps.Sessions.Advance(r.Context(), id, body.Ms, body.FrameMs); err != nil {
		writeFlowError(w, err)
		return
	}
	s.writeSession(w, id)
}

// handleSessionDiagram renders the session's flow with the active step highlighted.
func (s *PanelServer) handleSessionDiagram(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	snap := sess.Snapshot()
	s.writeDiagram(w, r, sess.Definition(), &snap)
}

// handleSessionTrace returns the recorded trace of a session, optionally
// filtered by a jq expression (?filter=) or summarized (?summary=true).
func (s *PanelServer) handleSessionTrace(w http.ResponseWriter, r *http.Request) {
	if s.deps.EventLog == nil {
		writeError(w, http.StatusNotImplemented, "trace store is not configured")
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	if r.URL.Query().Get("summary") == "true" {
		sum, err := s.deps.EventLog.ReplayEvents(ctx, id)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	events, err := s.deps.EventLog.GetEvents(ctx, id, 0)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": events})
		return
	}
	out, err := expressions.NewGoJQEngine().Filter(ctx, filter, events)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": out})
}

// writeDiagram renders def in the format named by ?format= (mermaid by default).
func (s *PanelServer) writeDiagram(w http.ResponseWriter, r *http.Request, def *schema.FlowDefinition, snap *playback.Snapshot) {
	model, err := diagram.Build(def, snap)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "mermaid":
		s.deps.Metrics.DiagramRender("mermaid", false)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		s.deps.Metrics.DiagramRender("ascii", false)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCII(model))
	case "png":
		png, hit, err := s.images.get(r.Context(), model, s.deps.Registry.Revision(def.ID))
		if err != nil {
			s.deps.Logger.Error("render diagram", "flow_id", def.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "image render failed")
			return
		}
		s.deps.Metrics.DiagramRender("png", hit)
		w.Header().Set("Content-Type", "image/png")
		if hit {
			w.Header().Set("X-Cache", "hit")
		} else {
			w.Header().Set("X-Cache", "miss")
		}
		w.Write(png)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q (want mermaid, ascii or png)", format))
	}
}

func (s *PanelServer) writeSession(w http.ResponseWriter, id string) {
	sess, err := s.deps.Sessions.Get(id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

// sessionResponse is the JSON view of a live session.
type sessionResponse struct {
	session.Info
	Step *schema.StepDefinition `json:"step,omitempty"`
}

func sessionView(sess *session.Session) sessionResponse {
	info := sess.Info()
	resp := sessionResponse{Info: info}
	if def := sess.Definition(); def != nil {
		if i := info.Snapshot.ActiveEventIndex; i >= 0 && i < len(def.Steps) {
			st := def.Steps[i]
			resp.Step = &st
		}
	}
	return resp
}
