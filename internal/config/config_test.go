package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mcp", cfg.NamespacePrefix)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("MCPMUX_PREFIX", "custom")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace_prefix: ${MCPMUX_PREFIX}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.NamespacePrefix)
}

func TestLoad_FallsBackToDefaultWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace_prefix: ${MCPMUX_UNSET_VAR:-fallback}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.NamespacePrefix)
}

func TestBackendConfig_ToTransportConfigRejectsUnknownKind(t *testing.T) {
	b := BackendConfig{Name: "x", Transport: "carrier-pigeon"}
	_, err := b.ToTransportConfig()
	assert.Error(t, err)
}

func TestBackendConfig_ToBackendConfigWiresStdio(t *testing.T) {
	b := BackendConfig{Name: "memory", Transport: "stdio", Command: "npx", Args: []string{"-y", "mcp-memory"}}
	cfg, err := b.ToBackendConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Name)
	assert.Equal(t, "npx", cfg.Transport.Command)
}
