// Package config loads backend descriptors and server options from a YAML
// file, following the teacher's "typed config struct with a
// load-or-default constructor" shape (AppConfig/NewAppConfig), minus the
// encrypted-at-rest desktop store that shape exists to protect — see
// DESIGN.md for why that machinery isn't carried forward.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"anthroproxy/internal/backend"
)

// BackendConfig is one backend entry as written in the YAML file.
type BackendConfig struct {
	ID       string `yaml:"id"`
	BaseURL  string `yaml:"base_url"`
	Auth     string `yaml:"auth"`
	APIStyle string `yaml:"api_style"`

	SupportsImages             *bool `yaml:"supports_images,omitempty"`
	SupportsTools              *bool `yaml:"supports_tools,omitempty"`
	SimplifySchemas            *bool `yaml:"simplify_schemas,omitempty"`
	StrictAdditionalProperties *bool `yaml:"strict_additional_properties,omitempty"`
	DropTopK                   *bool `yaml:"drop_top_k,omitempty"`
	NormalizeSystemWhitespace  *bool `yaml:"normalize_system_whitespace,omitempty"`
	StopWordMax                int   `yaml:"stop_word_max,omitempty"`
	KeepaliveIntervalMs        int64 `yaml:"keepalive_interval_ms,omitempty"`
	InactivityTimeoutMs        int64 `yaml:"inactivity_timeout_ms,omitempty"`
	TerminalTimeoutMs          int64 `yaml:"terminal_timeout_ms,omitempty"`
	DeferredCloseTimeoutMs     int64 `yaml:"deferred_close_timeout_ms,omitempty"`
}

// ServerConfig is the listener/runtime option block.
type ServerConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	TraceLogPath       string `yaml:"trace_log_path,omitempty"`
	CacheSweepInterval string `yaml:"cache_sweep_interval,omitempty"`
	CacheTTL           string `yaml:"cache_ttl,omitempty"`
}

// File is the root YAML document shape.
type File struct {
	Server   ServerConfig    `yaml:"server"`
	Backends []BackendConfig `yaml:"backends"`
}

// Config is the loaded, resolved configuration the proxy runs against.
type Config struct {
	Server   ServerConfig
	Backends []backend.Descriptor
}

// Default returns a Config with no backends and the documented listen
// address, for callers that haven't written a config file yet.
func Default() *Config {
	return &Config{Server: ServerConfig{ListenAddr: ":8089"}}
}

// Load reads and resolves a YAML config file at path. If the file does not
// exist, Default() is returned rather than an error, matching the
// teacher's load-or-default constructor behavior.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{Server: f.Server}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8089"
	}
	for _, b := range f.Backends {
		desc, err := resolveBackend(b)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", b.ID, err)
		}
		cfg.Backends = append(cfg.Backends, desc)
	}
	return cfg, nil
}

// CacheSweepIntervalOrDefault parses Server.CacheSweepInterval, falling
// back to def when unset or unparsable.
func (c *Config) CacheSweepIntervalOrDefault(def time.Duration) time.Duration {
	return durationOr(c.Server.CacheSweepInterval, def)
}

// CacheTTLOrDefault parses Server.CacheTTL, falling back to def when unset
// or unparsable.
func (c *Config) CacheTTLOrDefault(def time.Duration) time.Duration {
	return durationOr(c.Server.CacheTTL, def)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func resolveBackend(b BackendConfig) (backend.Descriptor, error) {
	style := backend.APIStyleOpenAI
	switch b.APIStyle {
	case "", "openai":
		style = backend.APIStyleOpenAI
	case "anthropic":
		style = backend.APIStyleAnthropic
	default:
		return backend.Descriptor{}, fmt.Errorf("unrecognized api_style %q", b.APIStyle)
	}

	if b.BaseURL == "" {
		return backend.Descriptor{}, fmt.Errorf("base_url is required")
	}

	caps := backend.Capabilities{
		SupportsImages:             boolOr(b.SupportsImages, true),
		SupportsTools:              boolOr(b.SupportsTools, true),
		SimplifySchemas:            boolOr(b.SimplifySchemas, false),
		StrictAdditionalProperties: boolOr(b.StrictAdditionalProperties, false),
		DropTopK:                   boolOr(b.DropTopK, true),
		NormalizeSystemWhitespace:  boolOr(b.NormalizeSystemWhitespace, false),
		StopWordMax:                b.StopWordMax,
		KeepaliveInterval:          durationMsOr(b.KeepaliveIntervalMs),
		InactivityTimeout:          durationMsOr(b.InactivityTimeoutMs),
		TerminalTimeout:            durationMsOr(b.TerminalTimeoutMs),
		DeferredCloseTimeout:       durationMsOr(b.DeferredCloseTimeoutMs),
	}.WithDefaults()

	return backend.Descriptor{
		ID:           b.ID,
		BaseURL:      b.BaseURL,
		Auth:         b.Auth,
		APIStyle:     style,
		Capabilities: caps,
	}, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func durationMsOr(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
