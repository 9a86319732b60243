// Package tools defines the executable tool contract for the bridge: a
// static registry of named executors, argument validation against each
// tool's declared schema, and a dispatcher that turns invocations into
// results without ever aborting the session.
package tools

import (
	"context"
	"sort"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// Definition is a tool's declared contract: its identity, the catalog
// metadata the safety prefilter matches on, and the argument schema the
// dispatcher validates before execution.
type Definition struct {
	Name        string
	Description string
	Category    string
	Keywords    []string
	InputSchema *types.JSONSchema
}

// Executor is one executable tool. Implementations must be safe for
// concurrent use; a single registry serves every live session.
type Executor interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error)
}

// Registry maps tool names to executors. It is frozen after construction and
// safe for concurrent reads.
type Registry struct {
	byName map[string]Executor
}

// NewRegistry builds a registry from the given executors. Nil entries are
// skipped; later executors win name collisions.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{byName: make(map[string]Executor, len(executors))}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		r.byName[ex.Name()] = ex
	}
	return r
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	return ex, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Definitions returns the full catalog sorted by name. This is the input to
// the safety prefilter and, after narrowing, to the reasoning engine.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	out := make([]Definition, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name].Definition())
	}
	return out
}
