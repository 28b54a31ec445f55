// Package flows holds the catalogue of protocol walkthroughs that can be bound
// to a playback scheduler. Every definition passes validation before it is
// registered, so callers never see an unplayable flow.
package flows

import (
	"sort"
	"sync"

	"github.com/rendis/authflow/internal/timeline"
	"github.com/rendis/authflow/internal/validation"
	"github.com/rendis/authflow/pkg/schema"
)

// DefaultFlowID is the flow served when a lookup misses.
const DefaultFlowID = "password-login"

// Summary is the listing view of a registered flow.
type Summary struct {
	ID            string   `json:"id"`
	Title         string   `json:"title,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	Description   string   `json:"description,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Steps         int      `json:"steps"`
	TotalMs       float64  `json:"total_ms"`
	Default       bool     `json:"default,omitempty"`
}

// Registry is a thread-safe catalogue of validated flow definitions.
// Registered definitions are shared and must be treated as read-only.
type Registry struct {
	mu        sync.RWMutex
	flows     map[string]*schema.FlowDefinition
	revisions map[string]uint64 // bumped on every replace
	sources   map[string]string // flow id -> document it was loaded from
	defaultID string
	validator *validation.FlowValidator
}

// NewRegistry creates an empty Registry whose Get falls back to defaultID.
func NewRegistry(defaultID string) (*Registry, error) {
	v, err := validation.NewFlowValidator()
	if err != nil {
		return nil, err
	}
	return &Registry{
		flows:     make(map[string]*schema.FlowDefinition),
		revisions: make(map[string]uint64),
		sources:   make(map[string]string),
		defaultID: defaultID,
		validator: v,
	}, nil
}

// Register validates def and adds it. A definition that fails validation or
// reuses a registered id is rejected with VALIDATION_ERROR.
func (r *Registry) Register(def *schema.FlowDefinition) error {
	if err := validation.AssertValid(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[def.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow %q already registered", def.ID)
	}
	r.flows[def.ID] = def
	r.revisions[def.ID]++
	return nil
}

// replaceFromSource registers def as loaded from source, replacing the flow
// that source provided before. An id already owned by another source, or
// registered in code, is rejected.
func (r *Registry) replaceFromSource(source string, def *schema.FlowDefinition) error {
	if err := validation.AssertValid(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[def.ID]; exists && r.sources[def.ID] != source {
		return schema.NewErrorf(schema.ErrCodeValidation, "flow %q already registered", def.ID)
	}
	for id, src := range r.sources {
		if src == source && id != def.ID {
			delete(r.flows, id)
			delete(r.sources, id)
			r.revisions[id]++
		}
	}
	r.flows[def.ID] = def
	r.sources[def.ID] = source
	r.revisions[def.ID]++
	return nil
}

// removeSource unregisters the flow loaded from source and returns its id.
func (r *Registry) removeSource(source string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, src := range r.sources {
		if src == source {
			delete(r.flows, id)
			delete(r.sources, id)
			r.revisions[id]++
			return id, true
		}
	}
	return "", false
}

// Revision returns how many times id has been (re)registered or removed. Zero
// means it was never registered. Caches keyed by flow use it to notice reloads.
func (r *Registry) Revision(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revisions[id]
}

// MustRegister is Register for definitions built in code and known to be valid,
// such as an embedding program's own flows. It panics on error.
func (r *Registry) MustRegister(def *schema.FlowDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the flow with the given id, falling back to the default flow
// when the id is unknown. It returns nil only if the default is missing too.
func (r *Registry) Get(id string) *schema.FlowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.flows[id]; ok {
		return def
	}
	return r.flows[r.defaultID]
}

// Lookup returns the flow with the given id without falling back.
func (r *Registry) Lookup(id string) (*schema.FlowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.flows[id]
	return def, ok
}

// DefaultID returns the fallback flow id.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Count returns the number of registered flows.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// List returns a summary of every registered flow, sorted by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.flows))
	for _, def := range r.flows {
		out = append(out, Summarize(def, def.ID == r.defaultID))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Summarize builds the listing view of def.
func Summarize(def *schema.FlowDefinition, isDefault bool) Summary {
	return Summary{
		ID:            def.ID,
		Title:         def.Title,
		Protocol:      def.Protocol,
		Description:   def.Description,
		Prerequisites: def.Prerequisites,
		Steps:         len(def.Steps),
		TotalMs:       timeline.TimelineTotal(timeline.EventTotals(def)),
		Default:       isDefault,
	}
}
