// Package registry keeps the live storages of a process and routes keys to
// them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/storage"
)

// Entry binds a storage to the key expression it serves.
type Entry struct {
	Name    string
	KeyExpr string
	Storage *storage.Storage
}

// Registry manages named storages.
// It provides thread-safe registration, lookup and routing.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.Add("demo", "demo/example/**", s)
//
//	for _, e := range reg.Route("demo/example/a") {
//	    _ = e.Storage.Put(ctx, "demo/example/a", payload, enc, ts)
//	}
type Registry struct {
	mu       sync.RWMutex
	storages map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		storages: make(map[string]*Entry),
	}
}

// Add registers s under name.
// Returns an error if a storage with the same name already exists.
func (r *Registry) Add(name, keyExpr string, s *storage.Storage) error {
	if s == nil {
		return fmt.Errorf("cannot register nil storage")
	}
	if name == "" {
		return fmt.Errorf("cannot register storage with empty name")
	}
	if keyExpr == "" {
		return fmt.Errorf("storage %q: key expression is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.storages[name]; exists {
		return fmt.Errorf("storage %q already registered", name)
	}

	r.storages[name] = &Entry{Name: name, KeyExpr: keyExpr, Storage: s}
	logger.Debug("Registered storage %q for %s", name, keyExpr)
	return nil
}

// Get returns the storage registered under name.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.storages[name]
	if !exists {
		return nil, fmt.Errorf("storage %q not found", name)
	}
	return e, nil
}

// Remove unregisters the storage and closes it.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	e, exists := r.storages[name]
	delete(r.storages, name)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("storage %q not found", name)
	}

	if err := e.Storage.Close(ctx); err != nil {
		return fmt.Errorf("failed to close storage %q: %w", name, err)
	}
	logger.Info("Storage %q removed", name)
	return nil
}

// List returns the registered storage names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered storages.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.storages)
}

// Route returns the storages whose key expression matches key, sorted by
// name.
func (r *Registry) Route(key string) []*Entry {
	return r.selectEntries(func(e *Entry) bool {
		return keymap.Match(e.KeyExpr, key)
	})
}

// RouteQuery returns the storages that may hold keys matching pattern.
//
// Two expressions may overlap when the literal prefix of one is a segment
// prefix of the other's. Callers still filter the returned samples.
func (r *Registry) RouteQuery(pattern string) []*Entry {
	return r.selectEntries(func(e *Entry) bool {
		return mayOverlap(e.KeyExpr, pattern)
	})
}

func (r *Registry) selectEntries(pred func(*Entry) bool) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, e := range r.storages {
		if pred(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CloseAll unregisters and closes every storage. All storages are closed
// even if some fail; the errors are joined.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.storages
	r.storages = make(map[string]*Entry)
	r.mu.Unlock()

	var errs []error
	for name, e := range entries {
		if err := e.Storage.Close(ctx); err != nil {
			logger.Error("Failed to close storage %q: %v", name, err)
			errs = append(errs, fmt.Errorf("storage %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the status of every storage keyed by name.
func (r *Registry) Status() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]any, len(r.storages))
	for name, e := range r.storages {
		st := e.Storage.Status()
		st["key_expr"] = e.KeyExpr
		out[name] = st
	}
	return out
}

func mayOverlap(a, b string) bool {
	pa := literalSegments(a)
	pb := literalSegments(b)

	// Exact expressions overlap only when equal.
	if !keymap.HasWildcard(a) && !keymap.HasWildcard(b) {
		return a == b
	}

	n := min(len(pa), len(pb))
	for i := 0; i < n; i++ {
		if pa[i] != pb[i] {
			return false
		}
	}
	if !keymap.HasWildcard(a) {
		return keymap.Match(b, a)
	}
	if !keymap.HasWildcard(b) {
		return keymap.Match(a, b)
	}
	return true
}

func literalSegments(expr string) []string {
	prefix := keymap.LiteralPrefix(expr)
	if prefix == "" {
		return nil
	}
	return strings.Split(prefix, "/")
}
