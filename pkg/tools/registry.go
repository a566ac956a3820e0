// Package tools defines the tool registry boundary the engine calls
// through, an in-memory registry implementation, and command-backed
// tools for CLI wrappers.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a single invocable tool. Failures are reported through the
// error return; a string result that merely looks like an error is the
// classifier's business, not the registry's.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry resolves tool names to invocations. Implementations must be
// safe for concurrent use by independent skill runs, and tools must
// tolerate being called twice with the same args during auto-heal
// retries.
type Registry interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
	Names() []string
}

// MemoryRegistry is a map-backed Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{funcs: make(map[string]Func)}
}

// Register adds a named tool. Duplicate names are an error so a skill
// catalog can't silently shadow a tool.
func (r *MemoryRegistry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register tool %q: nil func", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("register tool %q: already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Invoke runs the named tool.
func (r *MemoryRegistry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return fn(ctx, args)
}

// Names returns the registered tool names, sorted.
func (r *MemoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
