// Package vault resolves secrets from a single HashiCorp-Vault-shaped
// remote backend: one Backend per configured vault, authenticating with
// k8s, appRole, token or clientCert auth and fetching kv_v1/kv_v2 secrets
// over its HTTP API.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	dserrors "github.com/vaultmesh/seccache/internal/errors"
	"github.com/vaultmesh/seccache/internal/localsource"
	"github.com/vaultmesh/seccache/internal/logging"
	"github.com/vaultmesh/seccache/internal/metrics"
)

var vaultMetrics = metrics.NewCacheMetrics()

// Kind is the Vault KV engine version a backend's secrets are stored
// under, which determines whether a secret's payload is unwrapped from
// "data" (kv_v1) or "data/data" (kv_v2).
type Kind string

const (
	KindKV1 Kind = "kv_v1"
	KindKV2 Kind = "kv_v2"
)

// AuthMethod is the authentication mode a vault uses to obtain a client
// token.
type AuthMethod string

const (
	AuthUnknown    AuthMethod = "unknown"
	AuthK8s        AuthMethod = "k8s"
	AuthAppRole    AuthMethod = "appRole"
	AuthToken      AuthMethod = "token"
	AuthClientCert AuthMethod = "clientCert"
)

const (
	defaultRetries           = 3
	defaultRetryWait         = time.Second
	defaultAppRoleSecretName = "appRoleSecret"
	defaultK8sTokenPath      = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultK8sRole           = "hpcc-vault-access"
)

// Config describes one configured vault: where it lives, how its secrets
// are shaped, and how to authenticate against it.
type Config struct {
	Name           string
	Category       string
	SchemeHostPort string // e.g. "https://vault.example.com:8200"
	Path           string // location template containing ${secret} and ${version}
	Kind           Kind
	Namespace      string
	VerifyServer   bool
	Retries        int
	RetryWait      time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	AuthMethod AuthMethod

	// AppRoleID and AppRoleSecretName (a local secret name, category
	// "system", key "secret-id") are used by appRole auth.
	AppRoleID         string
	AppRoleSecretName string

	// ClientTokenSecretName (a local secret name, category "system", key
	// "token") is used by token auth.
	ClientTokenSecretName string

	// Role is the Vault auth role used by k8s and clientCert auth.
	Role string

	// MountDir is the local secret mount root, used to locate the
	// vaultclient TLS material for clientCert auth and the local secrets
	// backing appRole/token auth.
	MountDir string
}

func (c Config) clientCertPath() string {
	return filepath.Join(c.MountDir, "certificates", "vaultclient", c.Category, "tls.crt")
}

func (c Config) clientKeyPath() string {
	return filepath.Join(c.MountDir, "certificates", "vaultclient", c.Category, "tls.key")
}

// Backend is a single authenticated connection to one configured vault.
type Backend struct {
	config     Config
	logger     *logging.Logger
	httpClient *http.Client
	localRead  func(mountDir, category, name string) (map[string][]byte, error)
	k8sTokenPath string

	mu                    sync.Mutex
	clientToken           string
	clientTokenExpiration time.Time
	clientTokenRenewable  bool
}

// New builds a Backend for a configured vault. logger may be nil, in
// which case a default stderr logger with debug output off is used.
func New(config Config, logger *logging.Logger) *Backend {
	if config.Retries == 0 {
		config.Retries = defaultRetries
	}
	if config.RetryWait == 0 {
		config.RetryWait = defaultRetryWait
	}
	if config.AppRoleSecretName == "" {
		config.AppRoleSecretName = defaultAppRoleSecretName
	}
	if logger == nil {
		logger = logging.New(false, true)
	}

	b := &Backend{
		config:       config,
		logger:       logger,
		localRead:    localsource.Read,
		k8sTokenPath: defaultK8sTokenPath,
	}
	b.httpClient = b.newHTTPClient()
	return b
}

// Name reports the configured name of this vault.
func (b *Backend) Name() string {
	return b.config.Name
}

func (b *Backend) authErr(msg string) error {
	return dserrors.VaultAuthError{Vault: b.config.Name, Msg: msg}
}

func (b *Backend) authErrWrap(msg string, err error) error {
	return dserrors.VaultAuthError{Vault: b.config.Name, Msg: msg, Err: err}
}

// isClientTokenExpired reports whether the held client token has passed
// its lease expiration. A zero expiration means the token never expires.
func (b *Backend) isClientTokenExpired() bool {
	if b.clientTokenExpiration.IsZero() {
		return false
	}
	return time.Now().After(b.clientTokenExpiration)
}

func (b *Backend) processClientTokenResponse(body []byte) error {
	if len(body) == 0 {
		return b.authErr("empty login response")
	}

	var resp struct {
		Auth struct {
			ClientToken   string `json:"client_token"`
			Renewable     bool   `json:"renewable"`
			LeaseDuration int    `json:"lease_duration"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return b.authErrWrap("parsing JSON response", err)
	}
	if resp.Auth.ClientToken == "" {
		return b.authErr("response missing client_token")
	}

	b.clientToken = resp.Auth.ClientToken
	b.clientTokenRenewable = resp.Auth.Renewable
	if resp.Auth.LeaseDuration == 0 {
		b.clientTokenExpiration = time.Time{}
	} else {
		b.clientTokenExpiration = time.Now().Add(time.Duration(resp.Auth.LeaseDuration) * time.Second)
	}
	b.logger.Debug("vault[%s] token duration=%ds", b.config.Name, resp.Auth.LeaseDuration)
	return nil
}

// checkAuthentication ensures a usable client token is held, logging in
// if necessary. permissionDenied indicates the prior request using the
// current token was rejected with 403, forcing a relogin even for a
// token that still looks unexpired. It returns a snapshot of the token
// taken under the lock that guards it; callers must use this returned
// value rather than reading b.clientToken directly, since the token may
// be rotated by a concurrent login.
func (b *Backend) checkAuthentication(ctx context.Context, permissionDenied bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.config.AuthMethod {
	case AuthAppRole:
		if err := b.appRoleLoginLocked(ctx, permissionDenied); err != nil {
			return "", err
		}
	case AuthK8s:
		if err := b.kubernetesLoginLocked(ctx, permissionDenied); err != nil {
			return "", err
		}
	case AuthClientCert:
		if err := b.clientCertLoginLocked(ctx, permissionDenied); err != nil {
			return "", err
		}
	case AuthToken:
		if permissionDenied {
			// Don't permanently invalidate the token: this could be a
			// permission issue scoped to one secret, not an invalid token.
			return "", b.authErr("token permission denied")
		}
		if b.clientToken == "" {
			if err := b.loadStaticTokenLocked(); err != nil {
				return "", err
			}
		}
	}

	if b.clientToken == "" {
		return "", b.authErr("no vault access token")
	}
	return b.clientToken, nil
}

func (b *Backend) loadStaticTokenLocked() error {
	secret, err := b.localRead(b.config.MountDir, "system", b.config.ClientTokenSecretName)
	if err != nil {
		return b.authErrWrap("reading client token secret", err)
	}
	token, ok := secret["token"]
	if !ok {
		return b.authErr(fmt.Sprintf("client token secret %s missing key 'token'", b.config.ClientTokenSecretName))
	}
	b.clientToken = string(token)
	return nil
}

func (b *Backend) appRoleLoginLocked(ctx context.Context, permissionDenied bool) error {
	if !permissionDenied && b.clientToken != "" && !b.isClientTokenExpired() {
		return nil
	}

	secret, err := b.localRead(b.config.MountDir, "system", b.config.AppRoleSecretName)
	if err != nil {
		return b.authErrWrap(fmt.Sprintf("appRole secret %s not found", b.config.AppRoleSecretName), err)
	}
	secretID, ok := secret["secret-id"]
	if !ok || len(secretID) == 0 {
		return b.authErr(fmt.Sprintf("appRole secret id not found at '%s/secret-id'", b.config.AppRoleSecretName))
	}

	body, err := json.Marshal(map[string]string{
		"role_id":   b.config.AppRoleID,
		"secret_id": string(secretID),
	})
	if err != nil {
		return b.authErrWrap("marshaling appRole login body", err)
	}

	start := time.Now()
	respBody, err := b.doLoginRequest(ctx, "/v1/auth/approle/login", body)
	if err != nil {
		vaultMetrics.RecordVaultLogin(b.config.Name, "failure", time.Since(start).Seconds())
		return err
	}
	err = b.processClientTokenResponse(respBody)
	vaultMetrics.RecordVaultLogin(b.config.Name, loginStatus(err), time.Since(start).Seconds())
	return err
}

func (b *Backend) kubernetesLoginLocked(ctx context.Context, permissionDenied bool) error {
	if !permissionDenied && b.clientToken != "" && !b.isClientTokenExpired() {
		return nil
	}

	jwt, err := readFile(b.k8sTokenPath)
	if err != nil || len(jwt) == 0 {
		return b.authErr("missing k8s auth token")
	}

	role := b.config.Role
	if role == "" {
		role = defaultK8sRole
	}

	body, err := json.Marshal(map[string]string{
		"jwt":  string(jwt),
		"role": role,
	})
	if err != nil {
		return b.authErrWrap("marshaling kubernetes login body", err)
	}

	start := time.Now()
	respBody, err := b.doLoginRequest(ctx, "/v1/auth/kubernetes/login", body)
	if err != nil {
		vaultMetrics.RecordVaultLogin(b.config.Name, "failure", time.Since(start).Seconds())
		return err
	}
	err = b.processClientTokenResponse(respBody)
	vaultMetrics.RecordVaultLogin(b.config.Name, loginStatus(err), time.Since(start).Seconds())
	return err
}

func (b *Backend) clientCertLoginLocked(ctx context.Context, permissionDenied bool) error {
	if !permissionDenied && b.clientToken != "" && !b.isClientTokenExpired() {
		return nil
	}

	body, err := json.Marshal(map[string]string{"name": b.config.Role})
	if err != nil {
		return b.authErrWrap("marshaling clientcert login body", err)
	}

	start := time.Now()
	respBody, err := b.doLoginRequest(ctx, "/v1/auth/cert/login", body)
	if err != nil {
		vaultMetrics.RecordVaultLogin(b.config.Name, "failure", time.Since(start).Seconds())
		return err
	}
	err = b.processClientTokenResponse(respBody)
	vaultMetrics.RecordVaultLogin(b.config.Name, loginStatus(err), time.Since(start).Seconds())
	return err
}

// loginStatus maps a login attempt's error into the "success"/"failure"
// status label recorded against it.
func loginStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Fetch resolves one secret's raw body and KV engine kind from this
// vault, substituting secret and version into the vault's configured
// location template.
func (b *Backend) Fetch(ctx context.Context, secret, version string) (Kind, []byte, error) {
	if secret == "" {
		return "", nil, nil
	}

	if version == "" {
		version = "1"
	}
	location := strings.ReplaceAll(b.config.Path, "${secret}", secret)
	location = strings.ReplaceAll(location, "${version}", version)

	start := time.Now()
	kind, body, err := b.requestSecretAtLocation(ctx, location, secret, version, false)
	vaultMetrics.RecordVaultFetch(b.config.Name, fetchStatus(body, err), time.Since(start).Seconds())
	return kind, body, err
}

// fetchStatus maps a fetch attempt's result into the status label
// recorded against it: "ok" for a found secret, "not_found" for the
// (not-an-error) missing-secret case, and "error" for anything else.
func fetchStatus(body []byte, err error) string {
	switch {
	case err != nil:
		return "error"
	case body == nil:
		return "not_found"
	default:
		return "ok"
	}
}

func (b *Backend) requestSecretAtLocation(ctx context.Context, location, secret, version string, permissionDenied bool) (Kind, []byte, error) {
	token, err := b.checkAuthentication(ctx, permissionDenied)
	if err != nil {
		return "", nil, err
	}
	if location == "" {
		return "", nil, fmt.Errorf("vault[%s] cannot get secret at location without a location", b.config.Name)
	}

	status, body, err := b.doGetRequest(ctx, location, token)
	if err != nil {
		return "", nil, dserrors.BackendUnavailableError{Vault: b.config.Name, Detail: "GET " + location, Err: err}
	}

	switch status {
	case http.StatusOK:
		return b.config.Kind, body, nil
	case http.StatusForbidden:
		if !permissionDenied {
			return b.requestSecretAtLocation(ctx, location, secret, version, true)
		}
		b.logger.Error("vault[%s] permission denied accessing secret %s.%s location %s", b.config.Name, secret, version, location)
		return "", nil, nil
	case http.StatusNotFound:
		b.logger.Debug("vault[%s] secret not found %s.%s location %s", b.config.Name, secret, version, location)
		return "", nil, nil
	default:
		b.logger.Error("vault[%s] error accessing secret %s.%s location %s status %d", b.config.Name, secret, version, location, status)
		return "", nil, dserrors.BackendUnavailableError{Vault: b.config.Name, Detail: fmt.Sprintf("GET %s returned status %d", location, status)}
	}
}
