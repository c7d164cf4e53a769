package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anthroproxy/internal/backend"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8089", cfg.Server.ListenAddr)
	assert.Empty(t, cfg.Backends)
}

func TestLoad_ParsesBackendsAndFillsCapabilityDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
server:
  listen_addr: ":9090"
  trace_log_path: "/tmp/trace.log"
backends:
  - id: local-vllm
    base_url: "http://localhost:8000/v1"
    auth: "sk-local"
    api_style: openai
    simplify_schemas: true
  - id: claude-passthrough
    base_url: "https://api.anthropic.com"
    auth: "sk-ant-xxx"
    api_style: anthropic
    inactivity_timeout_ms: 15000
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	require.Len(t, cfg.Backends, 2)

	vllm := cfg.Backends[0]
	assert.Equal(t, backend.APIStyleOpenAI, vllm.APIStyle)
	assert.True(t, vllm.Capabilities.SimplifySchemas)
	assert.Equal(t, 30*time.Second, vllm.Capabilities.InactivityTimeout)

	claude := cfg.Backends[1]
	assert.Equal(t, backend.APIStyleAnthropic, claude.APIStyle)
	assert.Equal(t, 15*time.Second, claude.Capabilities.InactivityTimeout)
	assert.Equal(t, 60*time.Second, claude.Capabilities.TerminalTimeout)
}

func TestLoad_RejectsUnknownAPIStyle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
backends:
  - id: bad
    base_url: "http://localhost"
    api_style: carrier-pigeon
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMissingBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
backends:
  - id: bad
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestCacheSweepIntervalOrDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Minute, cfg.CacheSweepIntervalOrDefault(time.Minute))

	cfg.Server.CacheSweepInterval = "90s"
	assert.Equal(t, 90*time.Second, cfg.CacheSweepIntervalOrDefault(time.Minute))

	cfg.Server.CacheSweepInterval = "not-a-duration"
	assert.Equal(t, time.Minute, cfg.CacheSweepIntervalOrDefault(time.Minute))
}
