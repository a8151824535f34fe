// Package secretcache implements the never-evicting, TTL-driven cache of
// resolved secret contents. Once a cache entry has been created for a key
// it is never removed, and its identity (the *Entry pointer) never
// changes, so callers may hold onto an entry across refreshes.
package secretcache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	dserrors "github.com/vaultmesh/seccache/internal/errors"
	"github.com/vaultmesh/seccache/internal/metrics"
	"github.com/vaultmesh/seccache/internal/secretname"
)

var cacheMetrics = metrics.NewCacheMetrics()

// Contents is the resolved key/value payload of one secret.
type Contents map[string][]byte

// String returns the value for key as a string, and whether it was
// present.
func (c Contents) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	return string(v), true
}

// Bytes returns the raw value for key, and whether it was present.
func (c Contents) Bytes(key string) ([]byte, bool) {
	v, ok := c[key]
	return v, ok
}

// BuildKey constructs the composite cache key category/name[@vaultID][#version]
// used to address one cache entry.
func BuildKey(category, name, vaultID, version string) string {
	var b strings.Builder
	b.WriteString(category)
	b.WriteByte('/')
	b.WriteString(name)
	if vaultID != "" {
		b.WriteByte('@')
		b.WriteString(vaultID)
	}
	if version != "" {
		b.WriteByte('#')
		b.WriteString(version)
	}
	return b.String()
}

// Entry is one cached secret's contents and refresh bookkeeping. All
// fields are guarded by the owning Cache's mutex; an Entry has no lock of
// its own and must never be read or written outside a Cache method.
type Entry struct {
	contents          Contents
	contentHash       uint32
	contentTimestamp  time.Time
	accessedTimestamp time.Time
	checkedTimestamp  time.Time
}

// HasContents reports whether this entry has ever been successfully
// resolved. Once true, it is never false again: failed refreshes keep the
// last good contents. Callers outside this package must go through
// Cache.HasContents instead, since this field is guarded by the owning
// Cache's mutex.
func (e *Entry) HasContents() bool {
	return e.contents != nil
}

const (
	contentHashSeed  = 0x811C9DC5
	contentHashPrime = 16777619
)

// hashContents derives a deterministic hash of contents' keys and values,
// used to let callers (syncedview.SecretView in particular) detect when a
// refreshed entry's contents actually changed without comparing the whole
// map. Key order is irrelevant to the caller's map, so the hash walks keys
// in sorted order to stay deterministic.
func hashContents(c Contents) uint32 {
	if len(c) == 0 {
		return 0
	}

	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := uint32(contentHashSeed)
	hashInto := func(data []byte) {
		for _, b := range data {
			h = (h ^ uint32(b)) * contentHashPrime
		}
	}
	for _, k := range keys {
		hashInto([]byte(k))
		hashInto(c[k])
	}
	return h
}

// Cache is the process-wide table of secret cache entries.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*Entry
}

// New creates a Cache with the given refresh TTL: contents are considered
// stale after ttl has elapsed since they were last fetched, and a refresh
// is attempted once ttl has elapsed since the entry was last checked
// (whether or not that check succeeded).
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]*Entry),
	}
}

// ResolveEntry looks up the cache entry for key, creating one if absent.
// A freshly created entry's checked timestamp is set two TTLs in the
// past, so NeedsRefresh is immediately true for it.
func (c *Cache) ResolveEntry(key string) *Entry {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok {
		entry.accessedTimestamp = now
		return entry
	}

	entry = &Entry{
		contentTimestamp:  now,
		accessedTimestamp: now,
		checkedTimestamp:  now.Add(-2 * c.ttl),
	}
	c.entries[key] = entry
	return entry
}

// GetContents returns entry's current contents, or nil if it has never
// been successfully resolved.
func (c *Cache) GetContents(entry *Entry) Contents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return entry.contents
}

// UpdateContents records a successful resolution: contents replace
// whatever was cached before, and all three timestamps reset to now.
func (c *Cache) UpdateContents(entry *Entry, contents Contents) {
	now := time.Now()
	hash := hashContents(contents)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry.contents = contents
	entry.contentHash = hash
	entry.contentTimestamp = now
	entry.accessedTimestamp = now
	entry.checkedTimestamp = now
}

// GetHash returns entry's content hash, which changes whenever its
// contents are updated to a genuinely different value. A SecretView uses
// this to detect when a refreshed entry requires rebuilding whatever was
// derived from its previous contents.
func (c *Cache) GetHash(entry *Entry) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return entry.contentHash
}

// HasContents reports whether entry has ever been successfully resolved.
func (c *Cache) HasContents(entry *Entry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return entry.HasContents()
}

// NoteFailedUpdate records a failed refresh attempt without disturbing
// the entry's existing contents, so a backend outage doesn't cause
// repeated refresh attempts on every lookup and doesn't discard the last
// good value.
func (c *Cache) NoteFailedUpdate(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.checkedTimestamp = time.Now()
}

// IsStale reports whether entry's contents may be out of date.
func (c *Cache) IsStale(entry *Entry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(entry.contentTimestamp) > c.ttl
}

// NeedsRefresh reports whether it is time to check for a new value.
func (c *Cache) NeedsRefresh(entry *Entry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(entry.checkedTimestamp) > c.ttl
}

// Resolver supplies the two ways a secret's contents can be fetched: from
// the local filesystem mount, or from a named (or category-wide) vault.
// An implementation returning (nil, nil) means "not found here", which is
// not an error.
type Resolver interface {
	ResolveLocal(category, name string) (Contents, error)
	ResolveVault(category, name, vaultID, version string) (Contents, error)
}

// GetSecretEntry resolves (or returns the cached) entry for
// category/name[@vaultID][#version], applying the cache's resolution
// policy: a vaultID of "k8s" resolves from the local mount only (the
// local mount being how Kubernetes projects its own secrets); a non-empty
// vaultID resolves from that vault only; an empty vaultID resolves from
// the local mount first, falling back to whichever configured vault for
// the category answers first.
//
// If the entry has already been resolved once, a transient resolution
// failure (backend unavailable, not found) is swallowed and the entry's
// last good contents are kept; that error is only surfaced when the
// entry has never been resolved. A VaultAuthError always propagates,
// even when the entry already has contents, matching spec's propagation
// policy: validation errors and auth errors surface, transient failures
// alone are swallowed by the cache layer. An invalid category or secret
// name is rejected with an InvalidNameError before any entry is created.
func (c *Cache) GetSecretEntry(category, name, vaultID, version string, r Resolver) (*Entry, error) {
	if err := secretname.ValidateCategory(category); err != nil {
		return nil, err
	}
	if err := secretname.ValidateSecret(name); err != nil {
		return nil, err
	}

	key := BuildKey(category, name, vaultID, version)
	entry := c.ResolveEntry(key)

	if !c.NeedsRefresh(entry) {
		cacheMetrics.RecordResolution(category, "cache_fresh")
		return entry, nil
	}

	var resolved Contents
	var err error

	switch {
	case strings.EqualFold(vaultID, "k8s"):
		resolved, err = r.ResolveLocal(category, name)
	case vaultID != "":
		resolved, err = r.ResolveVault(category, name, vaultID, version)
	default:
		resolved, err = r.ResolveLocal(category, name)
		if resolved == nil && err == nil {
			resolved, err = r.ResolveVault(category, name, "", version)
		}
	}

	if resolved != nil {
		c.UpdateContents(entry, resolved)
		cacheMetrics.RecordResolution(category, "resolved")
		cacheMetrics.RecordEntryFresh(category, true)
		return entry, nil
	}

	hadContents := c.HasContents(entry)
	c.NoteFailedUpdate(entry)
	cacheMetrics.RecordResolution(category, "failed")
	cacheMetrics.RecordEntryFresh(category, false)

	var authErr dserrors.VaultAuthError
	if errors.As(err, &authErr) {
		return entry, err
	}

	if hadContents {
		return entry, nil
	}
	return entry, err
}

// GetSecretValue resolves category/name through GetSecretEntry's standard
// local-then-vault policy and returns the raw bytes stored under key.
// When required is true, a secret or key that is absent is reported as a
// NotFoundError; when false, both cases quietly return (nil, nil), the
// way spec's non-required getSecretValue form does. A propagated
// resolution error (InvalidName, VaultAuthError) is returned as-is
// regardless of required.
func (c *Cache) GetSecretValue(category, name, key string, required bool, r Resolver) ([]byte, error) {
	entry, err := c.GetSecretEntry(category, name, "", "", r)
	if err != nil {
		return nil, err
	}

	contents := c.GetContents(entry)
	if contents == nil {
		if required {
			return nil, dserrors.NotFoundError{Category: category, Name: name}
		}
		return nil, nil
	}

	value, ok := contents.Bytes(key)
	if !ok {
		if required {
			return nil, dserrors.NotFoundError{Category: category, Name: name, Key: key}
		}
		return nil, nil
	}
	return value, nil
}
