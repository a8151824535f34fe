// Package secretsys holds the process-wide, lazily-initialized state a
// single process needs exactly one of: the secret mount path, the
// refresh TTL, the global secret cache, the configured vault registry,
// the mTLS info cache, and the UDP key. Everything here is safe to call
// from any goroutine at any time.
package secretsys

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vaultmesh/seccache/internal/localsource"
	"github.com/vaultmesh/seccache/internal/logging"
	"github.com/vaultmesh/seccache/internal/providers/vault"
	"github.com/vaultmesh/seccache/internal/secretcache"
	"github.com/vaultmesh/seccache/internal/vaultregistry"
	"github.com/vaultmesh/seccache/pkg/syncedview"
)

const (
	defaultMountDir = "secrets"
	defaultTTL      = 10 * time.Minute
)

var (
	mu       sync.Mutex
	mountDir string
	ttl      time.Duration
	cache    *secretcache.Cache
	registry *vaultregistry.Registry
	logger   *logging.Logger
)

// MountDir returns the secret mount path, defaulting to "secrets" (under
// the process's working directory) on first use.
func MountDir() string {
	mu.Lock()
	defer mu.Unlock()
	if mountDir == "" {
		mountDir = defaultMountDir
	}
	return mountDir
}

// SetMountDir overrides the secret mount path. Call before the first
// resolution to take effect; already-cached entries are unaffected.
func SetMountDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	mountDir = dir
}

// TTL returns the cache's refresh interval, defaulting to 10 minutes.
func TTL() time.Duration {
	mu.Lock()
	defer mu.Unlock()
	return ttlLocked()
}

// ttlLocked returns the cache's refresh interval, defaulting to 10
// minutes. Callers must hold mu.
func ttlLocked() time.Duration {
	if ttl == 0 {
		ttl = defaultTTL
	}
	return ttl
}

// SetTTL overrides the cache's refresh interval. Must be called before
// Cache is first used; the cache's TTL is fixed at construction.
func SetTTL(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	ttl = d
}

// SetLogger installs the logger resolvers use to report backend failures
// that the cache itself swallows. If never called, a default stderr
// logger is used.
func SetLogger(l *logging.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func currentLogger() *logging.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = logging.New(false, true)
	}
	return logger
}

// Cache returns the global secret cache, creating it on first use with
// the TTL configured at that point.
func Cache() *secretcache.Cache {
	mu.Lock()
	defer mu.Unlock()
	if cache == nil {
		cache = secretcache.New(ttlLocked())
	}
	return cache
}

// Registry returns the global vault registry, empty until SetRegistry is
// called with the vaults read from process configuration.
func Registry() *vaultregistry.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = vaultregistry.New()
	}
	return registry
}

// SetRegistry installs the vault registry built from process
// configuration. Called once at startup.
func SetRegistry(r *vaultregistry.Registry) {
	mu.Lock()
	defer mu.Unlock()
	registry = r
}

// Resolver returns the default secretcache.Resolver: local filesystem
// first, remote vaults second, wired to this package's mount dir and
// vault registry.
func Resolver() secretcache.Resolver {
	return &resolver{}
}

// GetSecretValue resolves category/name against the global cache and
// returns the raw bytes stored under key, using the process-wide
// mount/registry Resolver. See secretcache.Cache.GetSecretValue for the
// required/non-required contract.
func GetSecretValue(category, name, key string, required bool) ([]byte, error) {
	return Cache().GetSecretValue(category, name, key, required, Resolver())
}

type resolver struct{}

func (resolver) ResolveLocal(category, name string) (secretcache.Contents, error) {
	return localsource.Read(MountDir(), category, name)
}

func (resolver) ResolveVault(category, name, vaultID, version string) (secretcache.Contents, error) {
	reg := Registry()
	logger := currentLogger()

	if vaultID != "" {
		backend, ok := reg.ByCategoryAndID(category, vaultID)
		if !ok {
			return nil, nil
		}
		return fetchAndUnwrap(backend, name, version, logger)
	}

	for _, backend := range reg.ByCategory(category) {
		contents, err := fetchAndUnwrap(backend, name, version, logger)
		if err != nil {
			logger.Warn("vault %s: %v", backend.Name(), err)
			continue
		}
		if contents != nil {
			return contents, nil
		}
	}
	return nil, nil
}

func fetchAndUnwrap(backend *vault.Backend, name, version string, logger *logging.Logger) (secretcache.Contents, error) {
	kind, body, err := backend.Fetch(context.Background(), name, version)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return unwrapVaultContents(kind, body)
}

// unwrapVaultContents parses a raw Vault HTTP response body and unwraps
// its kv_v1 ("data") or kv_v2 ("data"/"data") envelope into a flat
// key/value map.
func unwrapVaultContents(kind vault.Kind, body []byte) (secretcache.Contents, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}

	data, ok := envelope["data"]
	if !ok {
		return nil, nil
	}

	if kind == vault.KindKV1 {
		return decodeContents(data)
	}

	// kv_v2 (also the default when Kind is unset).
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil, fmt.Errorf("parsing vault kv_v2 envelope: %w", err)
	}
	nested, ok := inner["data"]
	if !ok {
		return nil, nil
	}
	return decodeContents(nested)
}

func decodeContents(raw json.RawMessage) (secretcache.Contents, error) {
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding secret fields: %w", err)
	}
	out := make(secretcache.Contents, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}

var (
	mtlsMu    sync.Mutex
	mtlsCache = map[string]*syncedview.CertificateView{}
)

// IssuerTLSView returns the mTLS config view for issuer, building and
// caching it on first request. Two calls with the same issuer and
// default trustedPeers/disableMTLS share one entry keyed by the bare
// issuer name; a non-default trustedPeers or disableMTLS is folded into
// the cache key as issuer/trustedPeers/disableMTLS. No entry is inserted
// under any other key, so a bare "local" key only ever belongs to an
// issuer named "local".
func IssuerTLSView(issuer, trustedPeers string, disableMTLS bool) (*syncedview.CertificateView, error) {
	if issuer == "" {
		return nil, nil
	}

	key := issuer
	if trustedPeers != "" || disableMTLS {
		key = issuer + "/" + trustedPeers + "/" + strconv.FormatBool(disableMTLS)
	}

	mtlsMu.Lock()
	defer mtlsMu.Unlock()
	if cv, ok := mtlsCache[key]; ok {
		return cv, nil
	}

	secret, err := syncedview.NewSecretView(Cache(), Resolver(), currentLogger(), "certificates", issuer, "", "")
	if err != nil {
		return nil, err
	}

	params := syncedview.IssuerParams{DisableMTLS: disableMTLS}
	if trustedPeers != "" {
		params.TrustedPeers = &trustedPeers
	}
	cv := syncedview.NewIssuerTLSView(secret, issuer, params)
	mtlsCache[key] = cv
	return cv, nil
}

// HasIssuerTLSConfig reports whether issuer resolves to a usable secret,
// mirroring jsecrets.cpp's hasIssuerTlsConfig.
func HasIssuerTLSConfig(issuer string) bool {
	cv, err := IssuerTLSView(issuer, "", false)
	return err == nil && cv != nil && cv.IsValid()
}

// PEMKeyReader extracts an EC private key's raw scalar bytes from a PEM
// file. Production code uses the crypto/x509 implementation below; tests
// supply their own to avoid touching the filesystem.
type PEMKeyReader interface {
	ReadECPrivateKey(path string) ([]byte, error)
}

type filePEMKeyReader struct{}

func (filePEMKeyReader) ReadECPrivateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return key.D.Bytes(), nil
}

var (
	udpMu       sync.Mutex
	udpKeyReady bool
	udpKeyBytes []byte
)

// InitUDPKey loads the UDP transport's EC private key once. A missing
// key or file is not an error here: UDPKey(required=true) reports that
// failure at the point of use, matching jsecrets.cpp's
// initSecretUdpKey/getSecretUdpKey split. reader may be nil, in which
// case the PEM file at <mount>/certificates/udp/tls.key is read
// directly.
func InitUDPKey(reader PEMKeyReader) {
	udpMu.Lock()
	defer udpMu.Unlock()
	if udpKeyReady {
		return
	}
	if reader == nil {
		reader = filePEMKeyReader{}
	}
	path := filepath.Join(MountDir(), "certificates", "udp", "tls.key")
	if key, err := reader.ReadECPrivateKey(path); err == nil {
		udpKeyBytes = key
	}
	udpKeyReady = true
}

// UDPKey returns the UDP transport's private key bytes. It errors if
// InitUDPKey was never called, and additionally if required is true and
// no key was found.
func UDPKey(required bool) ([]byte, error) {
	udpMu.Lock()
	defer udpMu.Unlock()
	if !udpKeyReady {
		return nil, fmt.Errorf("UDP key not initialized")
	}
	if required && len(udpKeyBytes) == 0 {
		return nil, fmt.Errorf("UDP key not found, cert-manager integration/configuration required")
	}
	return udpKeyBytes, nil
}
