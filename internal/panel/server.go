// Package panel serves the browser player: a JSON API over flows and
// playback sessions, SSE streams of live debug events, and a few HTML pages.
package panel

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/metrics"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/internal/streaming"
)

//go:embed templates static
var content embed.FS

// PanelDeps holds the dependencies for the panel server. EventLog is optional
// and enables the trace endpoint.
type PanelDeps struct {
	Registry *flows.Registry
	Sessions *session.Manager
	EventLog *store.EventLog
	Hub      streaming.EventHub
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// PanelServer serves the web player.
type PanelServer struct {
	deps   PanelDeps
	pages  map[string]*template.Template
	images *imageCache
}

// NewPanelServer creates a new PanelServer with parsed templates.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	funcMap := template.FuncMap{
		"json":     toJSON,
		"timeAgo":  timeAgo,
		"ms":       formatMs,
		"percent":  formatPercent,
		"add":      add,
		"truncate": truncate,
	}

	base := template.Must(
		template.New("").Funcs(funcMap).ParseFS(content, "templates/base.html"),
	)

	// Each page clones the shared set so that its {{define "content"}}
	// doesn't collide with others.
	pageFiles := []string{
		"flows.html",
		"flow_detail.html",
		"sessions.html",
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	return &PanelServer{
		deps:   deps,
		pages:  pages,
		images: newImageCache(),
	}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static files.
	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleFlowsPage)
	mux.HandleFunc("GET /flows", s.handleDefaultFlowPage)
	mux.HandleFunc("GET /flows/{id}", s.handleFlowPage)
	mux.HandleFunc("GET /sessions", s.handleSessionsPage)

	// JSON API.
	mux.HandleFunc("GET /api/flows", s.handleListFlows)
	mux.HandleFunc("GET /api/flows/{id}", s.handleGetFlow)
	mux.HandleFunc("GET /api/flows/{id}/diagram", s.handleFlowDiagram)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("POST /api/sessions/{id}/commands", s.handleSessionCommand)
	mux.HandleFunc("POST /api/sessions/{id}/advance", s.handleAdvanceSession)
	mux.HandleFunc("GET /api/sessions/{id}/diagram", s.handleSessionDiagram)
	mux.HandleFunc("GET /api/sessions/{id}/trace", s.handleSessionTrace)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/sessions/{id}", s.handleSSESession)

	return metrics.Middleware(s.deps.Metrics, mux)
}

// renderPage executes a page template by name.
func (s *PanelServer) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.deps.Logger.Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.deps.Logger.Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
