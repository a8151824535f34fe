package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/seccache/internal/config"
	"github.com/vaultmesh/seccache/internal/logging"
)

func captureGetOutput(t *testing.T, cmd *cobra.Command, args []string) string {
	t.Helper()

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	cmd.SetArgs(args)
	err := cmd.Execute()
	if err != nil {
		_ = w.Close()
		os.Stdout = old
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		t.Logf("command output before error: %s", buf.String())
		require.NoError(t, err)
	}

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func writeSeccacheConfig(t *testing.T, mountDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vaults.yaml")
	content := "version: 0\nmountDir: " + mountDir + "\nttlMs: 60000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadedConfig(t *testing.T, mountDir string) *config.Config {
	t.Helper()
	cfg := &config.Config{Path: writeSeccacheConfig(t, mountDir), Logger: logging.New(false, true)}
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.Apply())
	return cfg
}

func TestGetCommand_WholeEntry(t *testing.T) {
	mountDir := t.TempDir()
	secretDir := filepath.Join(mountDir, "system", "db-credentials")
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "username"), []byte("admin"), 0o600))

	cfg := loadedConfig(t, mountDir)
	cmd := NewGetCommand(cfg)
	output := captureGetOutput(t, cmd, []string{"system", "db-credentials"})

	assert.Contains(t, output, "username=admin")
}

func TestGetCommand_SingleKey(t *testing.T) {
	mountDir := t.TempDir()
	secretDir := filepath.Join(mountDir, "system", "db-password")
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "password"), []byte("hunter2"), 0o600))

	cfg := loadedConfig(t, mountDir)
	cmd := NewGetCommand(cfg)
	output := captureGetOutput(t, cmd, []string{"system", "db-password", "password"})

	assert.Equal(t, "hunter2", output)
}

func TestGetCommand_JSONOutput(t *testing.T) {
	mountDir := t.TempDir()
	secretDir := filepath.Join(mountDir, "system", "api")
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "key"), []byte("s3cr3t"), 0o600))

	cfg := loadedConfig(t, mountDir)
	cmd := NewGetCommand(cfg)
	output := captureGetOutput(t, cmd, []string{"system", "api", "key", "--json"})

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "system", result["category"])
	assert.Equal(t, "api", result["name"])
	assert.Equal(t, "key", result["key"])
	assert.Equal(t, "s3cr3t", result["value"])
}

func TestGetCommand_NotFoundErrors(t *testing.T) {
	mountDir := t.TempDir()
	cfg := loadedConfig(t, mountDir)
	cmd := NewGetCommand(cfg)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{"system", "does-not-exist"})

	err := cmd.Execute()
	assert.Error(t, err)
}
