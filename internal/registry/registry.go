// Package registry holds the statically registered task factories a
// compiler instance can resolve pipeline task references against.
// References are resolved at validation time, so a spec naming an
// unregistered task never reaches build planning, let alone runtime.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Module is the interface task packages implement to be registered.
type Module interface {
	Register(r *Registry)
}

// TaskFunc is the executable body of a registered task. It receives the
// fully resolved, typed input mapping and returns the typed outputs.
type TaskFunc func(ctx context.Context, inputs map[string]cty.Value) (map[string]cty.Value, error)

// RegisteredTask binds a task reference to its Go implementation.
type RegisteredTask struct {
	Ref         string
	Description string
	Run         TaskFunc
}

// Registry maps task references to registered tasks for one application
// instance.
type Registry struct {
	tasks map[string]*RegisteredTask
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*RegisteredTask)}
}

// RegisterTask registers a task factory. Duplicate registration is a
// programmer error and panics.
func (r *Registry) RegisterTask(t *RegisteredTask) {
	if t.Ref == "" {
		panic("task registration requires a non-empty reference")
	}
	if t.Run == nil {
		panic(fmt.Sprintf("task %q registered without a run function", t.Ref))
	}
	if _, exists := r.tasks[t.Ref]; exists {
		panic(fmt.Sprintf("task with reference %q already registered", t.Ref))
	}
	slog.Debug("Registering task.", "ref", t.Ref)
	r.tasks[t.Ref] = t
}

// Resolve returns the task registered under the given reference.
func (r *Registry) Resolve(ref string) (*RegisteredTask, bool) {
	t, ok := r.tasks[ref]
	return t, ok
}

// Refs returns all registered references, sorted for stable diagnostics.
func (r *Registry) Refs() []string {
	refs := make([]string, 0, len(r.tasks))
	for ref := range r.tasks {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
