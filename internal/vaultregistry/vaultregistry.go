// Package vaultregistry groups configured vault backends by the secret
// category they serve, built once from configuration and consulted by
// the resolution cache on every cache miss.
package vaultregistry

import "github.com/vaultmesh/seccache/internal/providers/vault"

// Registry groups vault backends by category, preserving the order they
// were configured in so fan-out resolution is deterministic.
type Registry struct {
	categories map[string][]*vault.Backend
	byID       map[string]map[string]*vault.Backend
}

// New builds an empty Registry. Use Add to populate it from configuration.
func New() *Registry {
	return &Registry{
		categories: make(map[string][]*vault.Backend),
		byID:       make(map[string]map[string]*vault.Backend),
	}
}

// Add registers a backend under category, keyed additionally by the
// backend's own name for direct vaultId lookups.
func (r *Registry) Add(category string, backend *vault.Backend) {
	r.categories[category] = append(r.categories[category], backend)

	byName, ok := r.byID[category]
	if !ok {
		byName = make(map[string]*vault.Backend)
		r.byID[category] = byName
	}
	byName[backend.Name()] = backend
}

// ByCategory returns every backend configured for category, in
// configuration order. The returned slice is nil if the category has no
// configured vaults.
func (r *Registry) ByCategory(category string) []*vault.Backend {
	return r.categories[category]
}

// ByCategoryAndID returns the single backend configured for category
// under the given vault name, if any.
func (r *Registry) ByCategoryAndID(category, vaultID string) (*vault.Backend, bool) {
	if vaultID == "" {
		return nil, false
	}
	byName, ok := r.byID[category]
	if !ok {
		return nil, false
	}
	backend, ok := byName[vaultID]
	return backend, ok
}
