package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mastermind/internal/logging"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime. Tools can be
// disabled without unregistering them; a disabled tool is invisible to
// dispatch.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	disabled map[string]bool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		disabled: make(map[string]bool),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same id already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, tool.ID)
	}
	r.tools[tool.ID] = tool

	logging.ToolsDebug("registered tool %s", tool.ID)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.ID, err))
	}
}

// Get returns a tool by id, or nil if not found.
func (r *Registry) Get(id string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[id]
}

// Has reports whether a tool with the given id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Available reports whether the tool is registered and enabled.
func (r *Registry) Available(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok && !r.disabled[id]
}

// SetEnabled toggles a tool's availability without unregistering it.
func (r *Registry) SetEnabled(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[id]; !ok {
		return
	}
	if enabled {
		delete(r.disabled, id)
	} else {
		r.disabled[id] = true
	}
	logging.ToolsDebug("tool %s enabled=%v", id, enabled)
}

// List returns manifests for all enabled tools, sorted by id.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifests := make([]Manifest, 0, len(r.tools))
	for id, t := range r.tools {
		if r.disabled[id] {
			continue
		}
		manifests = append(manifests, t.Describe())
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests
}

// All returns every registered tool, enabled or not.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Dispatch looks up an enabled tool, validates its required parameters,
// and runs it. A panicking tool is contained and reported as a failure.
func (r *Registry) Dispatch(ctx context.Context, id string, params map[string]any) (ok bool, result any) {
	r.mu.RLock()
	tool := r.tools[id]
	disabled := r.disabled[id]
	r.mu.RUnlock()

	if tool == nil || disabled {
		return false, fmt.Sprintf("tool not available: %s", id)
	}
	if missing := tool.MissingParams(params); len(missing) > 0 {
		return false, fmt.Sprintf("missing required parameters: %v", missing)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logging.ToolsWarn("tool %s panicked: %v", id, rec)
			ok = false
			result = fmt.Sprintf("tool %s panicked: %v", id, rec)
		}
	}()

	timer := logging.StartTimer(logging.CategoryTools, id)
	defer timer.Stop()

	return tool.Execute(ctx, params)
}
