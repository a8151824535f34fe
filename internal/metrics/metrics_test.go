package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics(t *testing.T) {
	// InitMetrics uses sync.Once, so only the first call in this test
	// binary registers anything; the other tests here call it too, and
	// their calls are no-ops once it has run.
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetCacheResolutionTotal())
	assert.NotNil(t, GetVaultLoginTotal())
	assert.NotNil(t, GetVaultLoginDuration())
	assert.NotNil(t, GetVaultFetchTotal())
	assert.NotNil(t, GetVaultFetchDuration())
	assert.NotNil(t, GetCacheEntryFresh())
}

func TestCacheMetrics_RecordResolution(t *testing.T) {
	InitMetrics()

	m := NewCacheMetrics()
	m.RecordResolution("system", "resolved")
	m.RecordResolution("system", "failed")

	assert.NotNil(t, GetCacheResolutionTotal())
}

func TestCacheMetrics_RecordEntryFresh(t *testing.T) {
	InitMetrics()

	m := NewCacheMetrics()
	m.RecordEntryFresh("certificates", true)
	m.RecordEntryFresh("certificates", false)

	assert.NotNil(t, GetCacheEntryFresh())
}

func TestCacheMetrics_RecordVaultLogin(t *testing.T) {
	InitMetrics()

	m := NewCacheMetrics()
	m.RecordVaultLogin("primary", "success", 0.05)
	m.RecordVaultLogin("primary", "failure", 1.2)

	assert.NotNil(t, GetVaultLoginTotal())
	assert.NotNil(t, GetVaultLoginDuration())
}

func TestCacheMetrics_RecordVaultFetch(t *testing.T) {
	InitMetrics()

	m := NewCacheMetrics()
	m.RecordVaultFetch("primary", "ok", 0.02)
	m.RecordVaultFetch("primary", "not_found", 0.01)

	assert.NotNil(t, GetVaultFetchTotal())
	assert.NotNil(t, GetVaultFetchDuration())
}

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	config := DefaultServerConfig()

	assert.False(t, config.Enabled)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "/metrics", config.Path)
	assert.Equal(t, 5*time.Second, config.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.WriteTimeout)
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	config := DefaultServerConfig()
	server := NewServer(config)

	assert.NotNil(t, server)
	assert.Equal(t, config, server.config)
}

func TestServer_StartDisabled(t *testing.T) {
	t.Parallel()

	server := NewServer(DefaultServerConfig())

	require.NoError(t, server.Start())
	assert.Empty(t, server.Addr())
}

func TestServer_StartEnabled(t *testing.T) {
	InitMetrics()

	config := ServerConfig{
		Enabled:      true,
		Port:         19091,
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	server := NewServer(config)

	require.NoError(t, server.Start())
	defer func() { _ = server.Stop(context.Background()) }()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19091/metrics")
	if err != nil {
		t.Skipf("skipping test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "seccache_cache_resolution_total")
}

func TestServer_StopWithoutStart(t *testing.T) {
	t.Parallel()

	server := NewServer(DefaultServerConfig())
	assert.NoError(t, server.Stop(context.Background()))
}
