// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "vsock", cfg.Transport.Network)
	assert.Equal(t, uint32(5000), cfg.Transport.VsockPort)
	assert.Equal(t, 8<<20, cfg.Transport.MaxFrameBytes)
	assert.Equal(t, 30*time.Second, cfg.Governor.DefaultTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Governor.MaxTimeout)
	assert.Equal(t, []string{"javascript", "python", "lua"}, cfg.Runtimes.Enabled)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "enclaveflow", cfg.Metrics.Namespace)
}

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEqual(t, TransportConfig{}, cfg.Transport)
	assert.NotEqual(t, GovernorConfig{}, cfg.Governor)
	assert.NotEmpty(t, cfg.Runtimes.Enabled)
	assert.NotEqual(t, StorageConfig{}, cfg.Storage)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclaveflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport:
  network: tcp
  addr: "127.0.0.1:9000"
  max_connections: 8
governor:
  default_timeout: 2s
  max_timeout: 10s
  max_concurrent: 4
runtimes:
  enabled: [lua]
  lua:
    registry_max_size: 65536
storage:
  backend: redis
  redis:
    addr: "redis:6379"
    ttl: 1h
http:
  enabled: true
  allowed_hosts: ["api.example.com"]
log:
  level: debug
  format: console
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Transport.Network)
	assert.Equal(t, "127.0.0.1:9000", cfg.Transport.Addr)
	assert.Equal(t, 8, cfg.Transport.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.Governor.DefaultTimeout)
	assert.Equal(t, int64(4), cfg.Governor.MaxConcurrent)
	assert.Equal(t, []string{"lua"}, cfg.Runtimes.Enabled)
	assert.Equal(t, 65536, cfg.Runtimes.Lua.RegistryMaxSize)
	assert.Equal(t, 256, cfg.Runtimes.Lua.CallStackSize, "unset fields keep defaults")
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Storage.Redis.TTL)
	assert.Equal(t, []string{"api.example.com"}, cfg.HTTP.AllowedHosts)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_EmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_UnknownFieldsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("governor:\n  max_timeuot: 1s\n"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.ErrorContains(t, err, "max_timeuot")
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclaveflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("governor:\n  max_concurrent: 4\n"), 0o600))

	t.Setenv("ENCLAVEFLOW_GOVERNOR_MAX_CONCURRENT", "16")
	t.Setenv("ENCLAVEFLOW_TRANSPORT_NETWORK", "tcp")
	t.Setenv("ENCLAVEFLOW_TRANSPORT_VSOCK_PORT", "6000")
	t.Setenv("ENCLAVEFLOW_GOVERNOR_DEFAULT_TIMEOUT", "1500ms")
	t.Setenv("ENCLAVEFLOW_RUNTIMES_ENABLED", "javascript, python,")
	t.Setenv("ENCLAVEFLOW_HTTP_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("ENCLAVEFLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, int64(16), cfg.Governor.MaxConcurrent)
	assert.Equal(t, "tcp", cfg.Transport.Network)
	assert.Equal(t, uint32(6000), cfg.Transport.VsockPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.Governor.DefaultTimeout)
	assert.Equal(t, []string{"javascript", "python"}, cfg.Runtimes.Enabled)
	assert.Equal(t, 2.5, cfg.HTTP.RequestsPerSecond)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("ENCLAVE_LOG_LEVEL", "warn")
	cfg, err := NewLoader().WithEnvPrefix("ENCLAVE").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("ENCLAVEFLOW_TRANSPORT_VSOCK_PORT", "-1")
	_, err := NewLoader().Load()
	assert.ErrorContains(t, err, "ENCLAVEFLOW_TRANSPORT_VSOCK_PORT")

	t.Setenv("ENCLAVEFLOW_TRANSPORT_VSOCK_PORT", "")
	t.Setenv("ENCLAVEFLOW_GOVERNOR_MAX_TIMEOUT", "forever")
	_, err = NewLoader().Load()
	assert.ErrorContains(t, err, "ENCLAVEFLOW_GOVERNOR_MAX_TIMEOUT")
}

// --- Validate 测试 ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad network", func(c *Config) { c.Transport.Network = "udp" }, "transport.network"},
		{"tcp without addr", func(c *Config) { c.Transport.Network = "tcp"; c.Transport.Addr = "" }, "transport.addr"},
		{"half tls", func(c *Config) { c.Transport.Network = "tcp"; c.Transport.TLSCertFile = "c.pem" }, "tls_key_file"},
		{"vsock without port", func(c *Config) { c.Transport.VsockPort = 0 }, "vsock_port"},
		{"huge frames", func(c *Config) { c.Transport.MaxFrameBytes = 1 << 30 }, "max_frame_bytes"},
		{"no workers", func(c *Config) { c.Transport.Workers = 0 }, "transport.workers"},
		{"timeouts inverted", func(c *Config) { c.Governor.MaxTimeout = time.Second }, "max_timeout"},
		{"no concurrency", func(c *Config) { c.Governor.MaxConcurrent = 0 }, "max_concurrent"},
		{"no runtimes", func(c *Config) { c.Runtimes.Enabled = nil }, "at least one runtime"},
		{"unknown runtime", func(c *Config) { c.Runtimes.Enabled = []string{"ruby"} }, `"ruby"`},
		{"bad backend", func(c *Config) { c.Storage.Backend = "disk" }, "storage.backend"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = "redis"; c.Storage.Redis.Addr = "" }, "storage.redis.addr"},
		{"http without hosts", func(c *Config) { c.HTTP.Enabled = true }, "allowed_hosts"},
		{"short master key", func(c *Config) { c.Secrets.MasterKey = "abcd" }, "32 bytes"},
		{"non-hex master key", func(c *Config) { c.Secrets.MasterKey = "zz" }, "not hex"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.OTLPEndpoint = "" }, "otlp_endpoint"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
		{"metrics namespace", func(c *Config) { c.Metrics.Namespace = "" }, "metrics.namespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Network = "udp"
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), ";")+1)
}

func TestSecretsConfig_MasterKeyBytes(t *testing.T) {
	key, err := SecretsConfig{}.MasterKeyBytes()
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = SecretsConfig{MasterKey: strings.Repeat("ab", 32)}.MasterKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  network: udp\n"), 0o600))
	assert.Panics(t, func() { MustLoad(path) })
}
