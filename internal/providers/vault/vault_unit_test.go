package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, addr string, cfg Config) *Backend {
	t.Helper()
	cfg.SchemeHostPort = addr
	if cfg.Path == "" {
		cfg.Path = "/v1/secret/data/${secret}"
	}
	if cfg.Retries == 0 {
		cfg.Retries = 1
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Millisecond
	}
	b := New(cfg, nil)
	b.localRead = func(mountDir, category, name string) (map[string][]byte, error) {
		return nil, nil
	}
	return b
}

func TestCheckAuthenticationTokenMissingSecret(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://unused", Config{
		Name:                  "v1",
		AuthMethod:            AuthToken,
		ClientTokenSecretName: "vault-token",
	})

	_, err := b.checkAuthentication(context.Background(), false)
	assert.Error(t, err)
}

func TestCheckAuthenticationTokenPermissionDeniedNeverReloginsAutomatically(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://unused", Config{Name: "v1", AuthMethod: AuthToken})
	b.clientToken = "existing-token"

	_, err := b.checkAuthentication(context.Background(), true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestAppRoleLoginSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/approle/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"auth": map[string]interface{}{
				"client_token":   "approle-token",
				"renewable":      true,
				"lease_duration": 3600,
			},
		})
	}))
	defer server.Close()

	b := newTestBackend(t, server.URL, Config{
		Name:              "v1",
		AuthMethod:        AuthAppRole,
		AppRoleID:         "role-id",
		AppRoleSecretName: "appRoleSecret",
	})
	b.localRead = func(mountDir, category, name string) (map[string][]byte, error) {
		return map[string][]byte{"secret-id": []byte("secret-id-value")}, nil
	}

	token, err := b.checkAuthentication(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "approle-token", token)
	assert.Equal(t, "approle-token", b.clientToken)
	assert.True(t, b.clientTokenRenewable)
	assert.False(t, b.clientTokenExpiration.IsZero())
}

func TestAppRoleLoginMissingSecretID(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://unused", Config{
		Name:              "v1",
		AuthMethod:        AuthAppRole,
		AppRoleID:         "role-id",
		AppRoleSecretName: "appRoleSecret",
	})
	b.localRead = func(mountDir, category, name string) (map[string][]byte, error) {
		return map[string][]byte{}, nil
	}

	_, err := b.checkAuthentication(context.Background(), false)
	assert.Error(t, err)
}

func TestKubernetesLoginReadsServiceAccountToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/kubernetes/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"auth": map[string]interface{}{"client_token": "k8s-token"},
		})
	}))
	defer server.Close()

	tokenFile := t.TempDir() + "/token"
	require.NoError(t, os.WriteFile(tokenFile, []byte("jwt-value"), 0o600))

	b := newTestBackend(t, server.URL, Config{Name: "v1", AuthMethod: AuthK8s, Role: "my-role"})
	b.k8sTokenPath = tokenFile

	token, err := b.checkAuthentication(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "k8s-token", token)
	assert.Equal(t, "k8s-token", b.clientToken)
}

func TestIsClientTokenExpired(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://unused", Config{Name: "v1", AuthMethod: AuthToken})

	assert.False(t, b.isClientTokenExpired(), "zero expiration never expires")

	b.clientTokenExpiration = time.Now().Add(-time.Minute)
	assert.True(t, b.isClientTokenExpired())

	b.clientTokenExpiration = time.Now().Add(time.Hour)
	assert.False(t, b.isClientTokenExpired())
}

func TestFetchReturns404AsAbsentNotError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	b := newTestBackend(t, server.URL, Config{Name: "v1", AuthMethod: AuthToken, ClientTokenSecretName: "vault-token", Kind: KindKV2})
	b.clientToken = "static-token"

	kind, body, err := b.Fetch(context.Background(), "mysecret", "")
	require.NoError(t, err)
	assert.Empty(t, kind)
	assert.Nil(t, body)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "static-token", r.Header.Get("X-Vault-Token"))
		_, _ = w.Write([]byte(`{"data":{"data":{"password":"hunter2"}}}`))
	}))
	defer server.Close()

	b := newTestBackend(t, server.URL, Config{Name: "v1", AuthMethod: AuthToken, Kind: KindKV2})
	b.clientToken = "static-token"

	kind, body, err := b.Fetch(context.Background(), "mysecret", "")
	require.NoError(t, err)
	assert.Equal(t, KindKV2, kind)
	assert.Contains(t, string(body), "hunter2")
}

func TestFetch403RelogsInOnce(t *testing.T) {
	t.Parallel()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/approle/login":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"auth": map[string]interface{}{"client_token": "fresh-token"},
			})
		default:
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			assert.Equal(t, "fresh-token", r.Header.Get("X-Vault-Token"))
			_, _ = w.Write([]byte(`{"data":{"data":{"password":"hunter2"}}}`))
		}
	}))
	defer server.Close()

	b := newTestBackend(t, server.URL, Config{
		Name:              "v1",
		AuthMethod:        AuthAppRole,
		AppRoleID:         "role-id",
		AppRoleSecretName: "appRoleSecret",
		Kind:              KindKV2,
	})
	b.localRead = func(mountDir, category, name string) (map[string][]byte, error) {
		return map[string][]byte{"secret-id": []byte("secret-id-value")}, nil
	}
	b.clientToken = "stale-token"

	kind, body, err := b.Fetch(context.Background(), "mysecret", "")
	require.NoError(t, err)
	assert.Equal(t, KindKV2, kind)
	assert.Contains(t, string(body), "hunter2")
	assert.Equal(t, 2, calls)
}

func TestFetchSecondPermissionDeniedIsAbsentNotError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/approle/login" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"auth": map[string]interface{}{"client_token": "fresh-token"},
			})
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	b := newTestBackend(t, server.URL, Config{
		Name:              "v1",
		AuthMethod:        AuthAppRole,
		AppRoleID:         "role-id",
		AppRoleSecretName: "appRoleSecret",
		Kind:              KindKV2,
	})
	b.localRead = func(mountDir, category, name string) (map[string][]byte, error) {
		return map[string][]byte{"secret-id": []byte("secret-id-value")}, nil
	}
	b.clientToken = "stale-token"

	kind, body, err := b.Fetch(context.Background(), "mysecret", "")
	require.NoError(t, err)
	assert.Empty(t, kind)
	assert.Nil(t, body)
}
