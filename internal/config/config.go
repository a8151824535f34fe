// Package config loads the process configuration for the secret
// resolution cache: the secret mount path, the refresh TTL, and the
// vaults/<category>/<vault> subtree describing every remote backend.
package config

import (
	"fmt"
	"os"
	"time"

	dserrors "github.com/vaultmesh/seccache/internal/errors"
	"github.com/vaultmesh/seccache/internal/logging"
	"github.com/vaultmesh/seccache/internal/providers/vault"
	"github.com/vaultmesh/seccache/internal/secretsys"
	"github.com/vaultmesh/seccache/internal/urlref"
	"github.com/vaultmesh/seccache/internal/vaultregistry"
	"gopkg.in/yaml.v3"
)

// Config holds the loaded process configuration.
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition is the vaults.yaml structure: a mount path, a refresh TTL,
// and the vaults subtree grouped by category.
type Definition struct {
	Version  int                      `yaml:"version"`
	MountDir string                   `yaml:"mountDir,omitempty"`
	TTLMs    int                      `yaml:"ttlMs,omitempty"`
	Vaults   map[string][]VaultConfig `yaml:"vaults,omitempty"`
}

// VaultConfig is one vaults/<category>/<vault> entry. Field names follow
// the attribute list of spec §6's process configuration: url, name,
// kind, namespace, verify_server, retries, retryWait, connectTimeout,
// readTimeout, writeTimeout, appRoleId, appRoleSecret, client-secret,
// useTLSCertificateAuth, role.
type VaultConfig struct {
	Name string `yaml:"name"`
	// URL is scheme://host[:port]/path, with the path containing the
	// literal placeholders ${secret} and ${version}.
	URL       string `yaml:"url"`
	Kind      string `yaml:"kind,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`

	VerifyServer *bool `yaml:"verify_server,omitempty"`

	Retries        int `yaml:"retries,omitempty"`
	RetryWaitMs    int `yaml:"retryWait,omitempty"`
	ConnectTimeMs  int `yaml:"connectTimeout,omitempty"`
	ReadTimeoutMs  int `yaml:"readTimeout,omitempty"`
	WriteTimeoutMs int `yaml:"writeTimeout,omitempty"`

	AppRoleID             string `yaml:"appRoleId,omitempty"`
	AppRoleSecret         string `yaml:"appRoleSecret,omitempty"`
	ClientSecret          string `yaml:"client-secret,omitempty"`
	UseTLSCertificateAuth bool   `yaml:"useTLSCertificateAuth,omitempty"`
	Role                  string `yaml:"role,omitempty"`
}

// Load reads and parses the configuration file at c.Path.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "create a vaults.yaml describing the mount path, TTL, and vault definitions",
			}
		}
		return dserrors.UserError{
			Message:    "failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "check for indentation errors, missing quotes, or invalid characters",
		}
	}

	if def.Version != 0 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "set 'version: 0' at the top of your vaults.yaml file",
		}
	}

	c.Definition = &def
	return nil
}

// Apply installs this configuration's mount path, TTL, logger, and vault
// registry into the process-wide secretsys singletons. Kept separate
// from Load so a caller can validate a Definition (via BuildRegistry)
// before committing it process-wide.
func (c *Config) Apply() error {
	if c.Definition == nil {
		return dserrors.UserError{
			Message:    "configuration not loaded",
			Suggestion: "call Load before Apply",
		}
	}

	if c.Definition.MountDir != "" {
		secretsys.SetMountDir(c.Definition.MountDir)
	}
	if c.Definition.TTLMs > 0 {
		secretsys.SetTTL(time.Duration(c.Definition.TTLMs) * time.Millisecond)
	}
	if c.Logger != nil {
		secretsys.SetLogger(c.Logger)
	}

	registry, err := c.BuildRegistry()
	if err != nil {
		return err
	}
	secretsys.SetRegistry(registry)
	return nil
}

// BuildRegistry constructs a vault registry from this configuration's
// vaults subtree, without installing it process-wide.
func (c *Config) BuildRegistry() (*vaultregistry.Registry, error) {
	if c.Definition == nil {
		return nil, dserrors.UserError{
			Message:    "configuration not loaded",
			Suggestion: "call Load before BuildRegistry",
		}
	}

	reg := vaultregistry.New()
	for category, vaults := range c.Definition.Vaults {
		for _, v := range vaults {
			backend, err := c.buildBackend(category, v)
			if err != nil {
				return nil, err
			}
			reg.Add(category, backend)
		}
	}
	return reg, nil
}

func (c *Config) buildBackend(category string, v VaultConfig) (*vault.Backend, error) {
	if v.Name == "" {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("vaults.%s", category),
			Message:    "vault entry missing 'name'",
			Suggestion: "every vault needs a unique name within its category",
		}
	}

	var schemeHostPort, path string
	if v.URL != "" {
		split, err := urlref.Split(v.URL)
		if err != nil {
			return nil, dserrors.ConfigError{
				Field:      fmt.Sprintf("vaults.%s.%s.url", category, v.Name),
				Value:      v.URL,
				Message:    "invalid vault URL: " + err.Error(),
				Suggestion: "use a URL like https://vault.example.com:8200/v1/secret/data/${secret}",
			}
		}
		schemeHostPort = split.Scheme + split.Host
		if split.Port != "" {
			schemeHostPort += ":" + split.Port
		}
		path = split.Path
	}

	kind := vault.KindKV2
	if v.Kind == string(vault.KindKV1) {
		kind = vault.KindKV1
	}

	verifyServer := true
	if v.VerifyServer != nil {
		verifyServer = *v.VerifyServer
	}

	cfg := vault.Config{
		Name:                  v.Name,
		Category:              category,
		SchemeHostPort:        schemeHostPort,
		Path:                  path,
		Kind:                  kind,
		Namespace:             v.Namespace,
		VerifyServer:          verifyServer,
		Retries:               v.Retries,
		RetryWait:             time.Duration(v.RetryWaitMs) * time.Millisecond,
		ConnectTimeout:        time.Duration(v.ConnectTimeMs) * time.Millisecond,
		ReadTimeout:           time.Duration(v.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:          time.Duration(v.WriteTimeoutMs) * time.Millisecond,
		AuthMethod:            deriveAuthMethod(v),
		AppRoleID:             v.AppRoleID,
		AppRoleSecretName:     v.AppRoleSecret,
		ClientTokenSecretName: v.ClientSecret,
		Role:                  v.Role,
		MountDir:              secretsys.MountDir(),
	}

	return vault.New(cfg, c.Logger), nil
}

// deriveAuthMethod picks a vault's auth mode from which of the mutually
// exclusive auth attributes it sets, in the precedence order
// jsecrets.cpp's CVault constructor checks them: appRole, then a static
// client token, then TLS client-cert auth, and k8s auth as the default
// for a vault with none of the above configured.
func deriveAuthMethod(v VaultConfig) vault.AuthMethod {
	switch {
	case v.AppRoleID != "":
		return vault.AuthAppRole
	case v.ClientSecret != "":
		return vault.AuthToken
	case v.UseTLSCertificateAuth:
		return vault.AuthClientCert
	default:
		return vault.AuthK8s
	}
}
