// Package config loads the proxy's configuration document (YAML, JSON, or
// TOML) via viper, applying shell-style ${VAR}/${VAR:-default}
// environment substitution to the raw document first since viper itself
// has no such expansion syntax.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mcpmux/proxy/pkg/backend"
	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/provenance"
	"github.com/mcpmux/proxy/pkg/transport"
)

// BackendConfig is one backend's configuration document entry.
type BackendConfig struct {
	Name      string            `mapstructure:"name"`
	Transport string            `mapstructure:"transport"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
}

// FrontendConfig configures the C6 message server.
type FrontendConfig struct {
	Mode       string `mapstructure:"mode"` // "stdio" or "http"
	ListenAddr string `mapstructure:"listen_addr"`
}

// InterceptConfig configures the C7 TLS intercept proxy.
type InterceptConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ListenAddr   string `mapstructure:"listen_addr"`
	AllowedHost  string `mapstructure:"allowed_host"`
	CAOrg        string `mapstructure:"ca_organization"`
}

// ProvenanceConfig configures the C9 hybrid store.
type ProvenanceConfig struct {
	DatabasePath    string        `mapstructure:"database_path"`
	HotMaxEntries   int64         `mapstructure:"hot_max_entries"`
	HotMaxCostBytes int64         `mapstructure:"hot_max_cost_bytes"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
}

// ManagementConfig configures the C11 management HTTP API.
type ManagementConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the full proxy configuration document.
type Config struct {
	NamespacePrefix string           `mapstructure:"namespace_prefix"`
	LogLevel        string           `mapstructure:"log_level"`
	Backends        []BackendConfig  `mapstructure:"backends"`
	Frontend        FrontendConfig   `mapstructure:"frontend"`
	Intercept       InterceptConfig  `mapstructure:"intercept"`
	Provenance      ProvenanceConfig `mapstructure:"provenance"`
	Management      ManagementConfig `mapstructure:"management"`
}

// Default returns the zero-config defaults, mirroring the teacher's
// GetDefaultConfigWithRoles starting point.
func Default() Config {
	return Config{
		NamespacePrefix: "mcp",
		LogLevel:        "info",
		Frontend:        FrontendConfig{Mode: "stdio"},
		Intercept:       InterceptConfig{Enabled: false, ListenAddr: "127.0.0.1:8443", CAOrg: "mcpmux-proxy"},
		Provenance: ProvenanceConfig{
			DatabasePath:    "mcpmux-provenance.sqlite",
			HotMaxEntries:   provenance.DefaultHotTierConfig().MaxEntries,
			HotMaxCostBytes: provenance.DefaultHotTierConfig().MaxCostBytes,
			RetentionWindow: 30 * 24 * time.Hour,
		},
		Management: ManagementConfig{ListenAddr: "127.0.0.1:8090"},
	}
}

// Load reads and parses the configuration document at path (format
// inferred from its extension: .yaml/.yml, .json, .toml), applying
// environment-variable substitution first. A missing file is not an
// error — the defaults are returned, matching the teacher's
// "no config.yaml found, using defaults" behavior.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Info("config", "no config file found at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, mcperr.Wrap(mcperr.KindConfig, "config.Load", err, fmt.Sprintf("reading %s", path))
	}

	expanded := expandEnv(string(raw))

	v := viper.New()
	v.SetConfigType(formatFromExt(path))
	if err := v.ReadConfig(stringsReader(expanded)); err != nil {
		return Config{}, mcperr.Wrap(mcperr.KindConfig, "config.Load", err, fmt.Sprintf("parsing %s", path))
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, mcperr.Wrap(mcperr.KindConfig, "config.Load", err, "decoding configuration")
	}

	logging.Info("config", "loaded configuration from %s", path)
	return cfg, nil
}

// ToTransportConfig converts one configured backend into a
// pkg/transport.Config, dispatching on the declared transport kind.
func (b BackendConfig) ToTransportConfig() (transport.Config, error) {
	switch b.Transport {
	case "stdio":
		return transport.Config{Kind: transport.KindStdio, Command: b.Command, Args: b.Args, Env: b.Env}, nil
	case "sse":
		return transport.Config{Kind: transport.KindSSE, URL: b.URL, Headers: b.Headers}, nil
	case "streamable-http":
		return transport.Config{Kind: transport.KindHTTP, URL: b.URL, Headers: b.Headers}, nil
	case "websocket":
		return transport.Config{Kind: transport.KindWebSocket, URL: b.URL, Headers: b.Headers}, nil
	default:
		return transport.Config{}, mcperr.New(mcperr.KindConfig, "config.ToTransportConfig", "unknown transport kind "+b.Transport)
	}
}

// ToBackendConfig converts a configured backend into a full
// pkg/backend.Config using the package's restart-policy default.
func (b BackendConfig) ToBackendConfig() (backend.Config, error) {
	tcfg, err := b.ToTransportConfig()
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		Name:          b.Name,
		Transport:     tcfg,
		RestartPolicy: backend.DefaultRestartPolicy(),
		InitTimeout:   10 * time.Second,
	}, nil
}

func formatFromExt(path string) string {
	switch {
	case hasSuffix(path, ".json"):
		return "json"
	case hasSuffix(path, ".toml"):
		return "toml"
	default:
		return "yaml"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
