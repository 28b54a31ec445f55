package panel

import (
	"net/http"

	"github.com/rendis/authflow/internal/diagram"
	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/pkg/schema"
)

// handleFlowsPage renders the flow catalogue.
func (s *PanelServer) handleFlowsPage(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, "flows.html", map[string]any{
		"Title":    "Flows",
		"Flows":    s.deps.Registry.List(),
		"Sessions": len(s.deps.Sessions.List()),
	})
}

// handleDefaultFlowPage redirects /flows?id=<id> to that flow's page, or to
// the default flow's page when the id is missing or unknown.
func (s *PanelServer) handleDefaultFlowPage(w http.ResponseWriter, r *http.Request) {
	def := s.deps.Registry.Get(r.URL.Query().Get("id"))
	if def == nil {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/flows/"+def.ID, http.StatusFound)
}

// handleFlowPage renders one flow with its step table and an ASCII preview.
// The page script opens a session and follows it over SSE.
func (s *PanelServer) handleFlowPage(w http.ResponseWriter, r *http.Request) {
	def, ok := s.deps.Registry.Lookup(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	model, err := diagram.Build(def, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.renderPage(w, "flow_detail.html", map[string]any{
		"Title":   def.Title,
		"Flow":    def,
		"Summary": flows.Summarize(def, def.ID == s.deps.Registry.DefaultID()),
		"Diagram": diagram.RenderASCII(model),
		"Speeds":  playback.AllowedSpeeds,
	})
}

type sessionRow struct {
	session.Info
	Step *schema.StepDefinition
}

// handleSessionsPage lists live sessions.
func (s *PanelServer) handleSessionsPage(w http.ResponseWriter, _ *http.Request) {
	var rows []sessionRow
	for _, info := range s.deps.Sessions.List() {
		row := sessionRow{Info: info}
		if sess, err := s.deps.Sessions.Get(info.ID); err == nil {
			row.Step = sessionView(sess).Step
		}
		rows = append(rows, row)
	}
	s.renderPage(w, "sessions.html", map[string]any{
		"Title":    "Sessions",
		"Sessions": rows,
	})
}
