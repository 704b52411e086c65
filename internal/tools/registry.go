// Package tools maps tool names to callable capabilities.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Func executes a tool with already validated parameters.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Descriptor describes a registered tool. Schema is optional.
type Descriptor struct {
	Description string
	Schema      *mcp.ToolInputSchema
	// Mutating tools change state on the remote side and are refused in
	// safe mode.
	Mutating bool
	Exec     Func
}

type entry struct {
	Descriptor
	schema *jsonschema.Schema
}

type Registry struct {
	mu       sync.RWMutex
	tools    map[string]entry
	safeMode atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds or replaces a tool. The schema is compiled once here.
func (r *Registry) Register(name string, d Descriptor) error {
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if d.Exec == nil {
		return fmt.Errorf("register tool %s: nil executor", name)
	}
	sch, err := compileSchema(name, d.Schema)
	if err != nil {
		return fmt.Errorf("register tool: %w", err)
	}
	r.mu.Lock()
	r.tools[name] = entry{Descriptor: d, schema: sch}
	r.mu.Unlock()
	return nil
}

// SetSafeMode toggles refusal of mutating tools.
func (r *Registry) SetSafeMode(on bool) { r.safeMode.Store(on) }

func (r *Registry) SafeMode() bool { return r.safeMode.Load() }

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.lookup(name)
	return e.Descriptor, ok
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke validates params against the tool's schema and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (out any, err error) {
	d, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if d.Mutating && r.SafeMode() {
		return nil, fmt.Errorf("%w: %s", ErrSafeMode, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := validate(name, d.schema, params); err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, &ExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()
	out, err = d.Exec(ctx, params)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Cause: err}
	}
	return out, nil
}
