// =============================================================================
// 📦 EnclaveFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Transport: DefaultTransportConfig(),
		Governor:  DefaultGovernorConfig(),
		Runtimes:  DefaultRuntimesConfig(),
		Storage:   DefaultStorageConfig(),
		HTTP:      DefaultHTTPConfig(),
		Secrets:   SecretsConfig{},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Network:         "vsock",
		Addr:            "127.0.0.1:7000",
		VsockPort:       5000,
		MaxConnections:  64,
		MaxFrameBytes:   8 << 20,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Workers:         128,
		QueueSize:       1024,
	}
}

// DefaultGovernorConfig 返回默认治理配置
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxConcurrent:  64,
		MaxLogLines:    1000,
	}
}

// DefaultRuntimesConfig 返回默认运行时配置
func DefaultRuntimesConfig() RuntimesConfig {
	return RuntimesConfig{
		Enabled:    []string{"javascript", "python", "lua"},
		JavaScript: JavaScriptConfig{MaxCallStackSize: 4096},
		Python:     PythonConfig{},
		Lua: LuaConfig{
			CallStackSize:   256,
			RegistrySize:    1024 * 4,
			RegistryMaxSize: 1024 * 256,
		},
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: "memory",
		Redis: RedisConfig{
			Addr:                "localhost:6379",
			KeyPrefix:           "enclaveflow:",
			PoolSize:            10,
			HealthCheckInterval: 30 * time.Second,
		},
	}
}

// DefaultHTTPConfig 返回默认出站 HTTP 配置
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Enabled:           false,
		Timeout:           10 * time.Second,
		MaxBodyBytes:      1 << 20,
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		ServiceName:    "enclaveflow",
		SampleRate:     0.1,
		ExportInterval: time.Minute,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "enclaveflow"}
}
