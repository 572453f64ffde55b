package cascade

import (
	"sync"

	"github.com/fyrsmithlabs/voxgov/internal/cache"
)

// Registry maps (tenant, source id) pairs to Source implementations.
// A source registered under the empty tenant serves every tenant.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register binds src to tenantID/sourceID, replacing any previous binding.
func (r *Registry) Register(tenantID, sourceID string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[cache.Key(tenantID, sourceID)] = src
}

// Unregister removes a binding.
func (r *Registry) Unregister(tenantID, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, cache.Key(tenantID, sourceID))
}

// Lookup prefers a tenant-specific binding over a shared one.
func (r *Registry) Lookup(tenantID, sourceID string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if src, ok := r.sources[cache.Key(tenantID, sourceID)]; ok {
		return src, true
	}
	src, ok := r.sources[cache.Key("", sourceID)]
	return src, ok
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
