// =============================================================================
// 📦 EnclaveFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("enclaveflow.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 enclaveflow 的完整配置结构
type Config struct {
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`
	Governor  GovernorConfig  `yaml:"governor" env:"GOVERNOR"`
	Runtimes  RuntimesConfig  `yaml:"runtimes" env:"RUNTIMES"`
	Storage   StorageConfig   `yaml:"storage" env:"STORAGE"`
	HTTP      HTTPConfig      `yaml:"http" env:"HTTP"`
	Secrets   SecretsConfig   `yaml:"secrets" env:"SECRETS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// vsock 或 tcp
	Network string `yaml:"network" env:"NETWORK"`
	// tcp 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// vsock 端口
	VsockPort uint32 `yaml:"vsock_port" env:"VSOCK_PORT"`
	// 最大并发连接数（0 表示不限）
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 单帧字节上限
	MaxFrameBytes int `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// TLS 证书（仅 tcp）
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 请求工作池
	Workers   int `yaml:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// GovernorConfig 资源治理配置
type GovernorConfig struct {
	// 未指定 maxExecutionTime 时的超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 超时上限
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
	// 在途执行上限
	MaxConcurrent int64 `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 每次执行保留的日志行数
	MaxLogLines int `yaml:"max_log_lines" env:"MAX_LOG_LINES"`
}

// RuntimesConfig 运行时配置
type RuntimesConfig struct {
	// 启用的运行时: javascript, python, lua
	Enabled    []string         `yaml:"enabled" env:"ENABLED"`
	JavaScript JavaScriptConfig `yaml:"javascript" env:"JAVASCRIPT"`
	Python     PythonConfig     `yaml:"python" env:"PYTHON"`
	Lua        LuaConfig        `yaml:"lua" env:"LUA"`
}

// JavaScriptConfig goja 配置
type JavaScriptConfig struct {
	MaxCallStackSize int `yaml:"max_call_stack_size" env:"MAX_CALL_STACK_SIZE"`
}

// PythonConfig starlark 配置
type PythonConfig struct {
	// 0 表示只受超时约束
	MaxExecutionSteps uint64 `yaml:"max_execution_steps" env:"MAX_EXECUTION_STEPS"`
}

// LuaConfig gopher-lua 配置
type LuaConfig struct {
	CallStackSize   int `yaml:"call_stack_size" env:"CALL_STACK_SIZE"`
	RegistrySize    int `yaml:"registry_size" env:"REGISTRY_SIZE"`
	RegistryMaxSize int `yaml:"registry_max_size" env:"REGISTRY_MAX_SIZE"`
}

// StorageConfig 键值存储配置
type StorageConfig struct {
	// memory 或 redis
	Backend string      `yaml:"backend" env:"BACKEND"`
	Redis   RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	KeyPrefix           string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL                 time.Duration `yaml:"ttl" env:"TTL"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// HTTPConfig 出站 HTTP 能力配置
type HTTPConfig struct {
	// 关闭时 http 能力返回未配置错误
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	AllowedHosts []string      `yaml:"allowed_hosts" env:"ALLOWED_HOSTS"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 每秒请求数与突发
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// SecretsConfig 密钥存储配置
type SecretsConfig struct {
	// 32 字节 AES 主密钥的 hex 编码；为空时每次启动随机生成
	MasterKey string `yaml:"master_key" env:"MASTER_KEY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 指标导出间隔
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "ENCLAVEFLOW"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// knownRuntimes lists the runtime identifiers the enclave can host.
var knownRuntimes = []string{"javascript", "python", "lua"}

// maxFrameLimit caps max_frame_bytes.
const maxFrameLimit = 64 << 20

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Transport.Network {
	case "vsock":
		if c.Transport.VsockPort == 0 {
			errs = append(errs, "transport.vsock_port is required for vsock")
		}
	case "tcp":
		if c.Transport.Addr == "" {
			errs = append(errs, "transport.addr is required for tcp")
		}
		if (c.Transport.TLSCertFile == "") != (c.Transport.TLSKeyFile == "") {
			errs = append(errs, "transport.tls_cert_file and tls_key_file must be set together")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.network must be vsock or tcp, got %q", c.Transport.Network))
	}
	if c.Transport.MaxFrameBytes <= 0 || c.Transport.MaxFrameBytes > maxFrameLimit {
		errs = append(errs, fmt.Sprintf("transport.max_frame_bytes must be in (0, %d]", maxFrameLimit))
	}
	if c.Transport.MaxConnections < 0 {
		errs = append(errs, "transport.max_connections must not be negative")
	}
	if c.Transport.Workers <= 0 {
		errs = append(errs, "transport.workers must be positive")
	}

	if c.Governor.DefaultTimeout <= 0 {
		errs = append(errs, "governor.default_timeout must be positive")
	}
	if c.Governor.MaxTimeout < c.Governor.DefaultTimeout {
		errs = append(errs, "governor.max_timeout must not be below default_timeout")
	}
	if c.Governor.MaxConcurrent <= 0 {
		errs = append(errs, "governor.max_concurrent must be positive")
	}

	if len(c.Runtimes.Enabled) == 0 {
		errs = append(errs, "runtimes.enabled must name at least one runtime")
	}
	for _, id := range c.Runtimes.Enabled {
		if !slices.Contains(knownRuntimes, id) {
			errs = append(errs, fmt.Sprintf("unknown runtime %q", id))
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be memory or redis, got %q", c.Storage.Backend))
	}

	if c.HTTP.Enabled && len(c.HTTP.AllowedHosts) == 0 {
		errs = append(errs, "http.allowed_hosts must not be empty when http is enabled")
	}

	if _, err := c.Secrets.MasterKeyBytes(); err != nil {
		errs = append(errs, err.Error())
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, "log.format must be json or console")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MasterKeyBytes decodes the master key. An empty key yields nil.
func (s SecretsConfig) MasterKeyBytes() ([]byte, error) {
	if s.MasterKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("secrets.master_key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets.master_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// MustLoad 加载并校验配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
