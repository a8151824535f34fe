// Package syncedview exposes cache entries, and TLS configuration derived
// from them, through one small capability-set interface, so a consumer
// asking for "the current state of this secret" does not need to know
// whether that state came straight from the cache or was derived from it.
package syncedview

import (
	"sync"

	"github.com/vaultmesh/seccache/internal/logging"
	"github.com/vaultmesh/seccache/internal/secretcache"
)

// Tree is a resolved secret's contents, or a tree derived from one.
type Tree = secretcache.Contents

// View is the capability set shared by SecretView and CertificateView. A
// consumer holds a View, not a concrete type, so the two are
// interchangeable: both self-refresh on access and report whether they
// currently hold anything useful.
type View interface {
	GetTree() Tree
	GetProp(key string) ([]byte, bool)
	IsStale() bool
	IsValid() bool
	GetVersion() uint32
}

// SecretView is a live handle on one cache entry. Each access checks
// whether the entry needs refreshing and, if so, re-resolves it; a failed
// refresh is logged and the view continues to serve its last good
// contents.
type SecretView struct {
	category string
	name     string
	vaultID  string
	version  string

	cache    *secretcache.Cache
	resolver secretcache.Resolver
	logger   *logging.Logger

	mu    sync.Mutex
	entry *secretcache.Entry
}

// NewSecretView resolves category/name[@vaultID][#version] and returns a
// view over its cache entry.
func NewSecretView(cache *secretcache.Cache, resolver secretcache.Resolver, logger *logging.Logger, category, name, vaultID, version string) (*SecretView, error) {
	if logger == nil {
		logger = logging.New(false, true)
	}
	entry, err := cache.GetSecretEntry(category, name, vaultID, version, resolver)
	if err != nil {
		return nil, err
	}
	return &SecretView{
		category: category,
		name:     name,
		vaultID:  vaultID,
		version:  version,
		cache:    cache,
		resolver: resolver,
		logger:   logger,
		entry:    entry,
	}, nil
}

func (v *SecretView) checkUpToDate() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.cache.NeedsRefresh(v.entry) {
		return
	}

	if _, err := v.cache.GetSecretEntry(v.category, v.name, v.vaultID, v.version, v.resolver); err != nil {
		v.logger.Warn("failed to refresh secret %s/%s: %v", v.category, v.name, err)
	}
}

// GetTree returns the secret's current contents, refreshing first if due.
func (v *SecretView) GetTree() Tree {
	v.checkUpToDate()
	return v.cache.GetContents(v.entry)
}

// GetProp returns one key's value from the secret's current contents.
func (v *SecretView) GetProp(key string) ([]byte, bool) {
	v.checkUpToDate()
	return v.cache.GetContents(v.entry).Bytes(key)
}

// IsStale reports whether the underlying contents are older than the
// cache's TTL.
func (v *SecretView) IsStale() bool {
	return v.cache.IsStale(v.entry)
}

// IsValid reports whether the secret has ever been successfully resolved.
func (v *SecretView) IsValid() bool {
	return v.cache.HasContents(v.entry)
}

// GetVersion returns the underlying entry's content hash, refreshing
// first if due. CertificateView uses this to decide when to rebuild.
func (v *SecretView) GetVersion() uint32 {
	v.checkUpToDate()
	return v.cache.GetHash(v.entry)
}
