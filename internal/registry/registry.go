// Package registry holds the thread-safe catalog of artifact descriptors.
// It owns descriptors only, never handles to materialized artifacts.
package registry

import (
	"sort"
	"sync"

	"artifactd/pkg/types"
)

type Registry struct {
	mu     sync.RWMutex
	byID   map[string]types.ArtifactDescriptor
	byTask map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		byID:   make(map[string]types.ArtifactDescriptor),
		byTask: make(map[string]map[string]struct{}),
	}
}

// Register adds a descriptor. Returns false on duplicate id; an existing
// registration is never overwritten.
func (r *Registry) Register(d types.ArtifactDescriptor) bool {
	if d.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ID]; exists {
		return false
	}
	r.byID[d.ID] = d
	if d.Family != "" {
		if r.byTask[d.Family] == nil {
			r.byTask[d.Family] = make(map[string]struct{})
		}
		r.byTask[d.Family][d.ID] = struct{}{}
	}
	return true
}

// Unregister removes a descriptor. Returns true if it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)
	if set := r.byTask[d.Family]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byTask, d.Family)
		}
	}
	return true
}

func (r *Registry) Get(id string) (types.ArtifactDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ListByTask returns all descriptors in a task family, in id order.
func (r *Registry) ListByTask(family string) []types.ArtifactDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ArtifactDescriptor, 0, len(r.byTask[family]))
	for id := range r.byTask[family] {
		out = append(out, r.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns every registered descriptor, in id order.
func (r *Registry) List() []types.ArtifactDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ArtifactDescriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
