package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/capability"
	"github.com/BaSui01/enclaveflow/config"
	"github.com/BaSui01/enclaveflow/dispatcher"
	"github.com/BaSui01/enclaveflow/executor"
	"github.com/BaSui01/enclaveflow/governor"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/internal/pool"
	"github.com/BaSui01/enclaveflow/internal/telemetry"
	"github.com/BaSui01/enclaveflow/internal/tlsutil"
	"github.com/BaSui01/enclaveflow/internal/transport"
	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/runtime/javascript"
	"github.com/BaSui01/enclaveflow/runtime/lua"
	"github.com/BaSui01/enclaveflow/runtime/python"
	"github.com/BaSui01/enclaveflow/services"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server owns every long-lived component of the engine.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	collector  *metrics.Collector
	redis      *capability.RedisStorage
	executor   *executor.Executor
	dispatcher *dispatcher.Dispatcher
	transport  *transport.Server
	telemetry  *telemetry.Providers
}

// NewServer assembles the engine from cfg. Nothing listens until Start.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, telemetry: otelProviders}

	// 1. 指标
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.collector = metrics.NewCollector(cfg.Metrics.Namespace, s.registry, logger)
	}

	// 2. 运行时
	registry, err := buildRuntimes(cfg.Runtimes, logger)
	if err != nil {
		return nil, err
	}

	// 3. 内置服务
	masterKey, err := cfg.Secrets.MasterKeyBytes()
	if err != nil {
		return nil, err
	}
	secrets, err := services.NewSecretStore(masterKey, logger)
	if err != nil {
		return nil, fmt.Errorf("init secret store: %w", err)
	}
	wallets := services.NewWalletService(logger)
	prices := services.NewPriceFeed(logger)

	// 4. 能力提供者
	providerOpts := []capability.Option{
		capability.WithWallet(wallets),
		capability.WithSecrets(secrets),
		capability.WithPriceFeed(prices),
	}
	storage, err := s.buildStorage(ctx)
	if err != nil {
		return nil, err
	}
	providerOpts = append(providerOpts, capability.WithStorage(storage))
	if cfg.HTTP.Enabled {
		providerOpts = append(providerOpts, capability.WithHTTP(capability.NewHTTPClient(capability.HTTPConfig{
			AllowedHosts:      cfg.HTTP.AllowedHosts,
			Timeout:           cfg.HTTP.Timeout,
			MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		}, tlsutil.SecureHTTPClient(cfg.HTTP.Timeout), logger)))
	}
	provider := capability.NewProvider(logger, providerOpts...)

	// 5. 治理器与执行器
	gov := governor.New(governor.Config{
		DefaultTimeout: cfg.Governor.DefaultTimeout,
		MaxTimeout:     cfg.Governor.MaxTimeout,
		MaxConcurrent:  cfg.Governor.MaxConcurrent,
	}, logger, governor.WithCollector(s.collector))
	s.executor = executor.New(registry, gov, provider, logger,
		executor.WithCollector(s.collector),
		executor.WithMaxLogLines(cfg.Governor.MaxLogLines))

	// 6. 调度器
	s.dispatcher = dispatcher.New(dispatcher.Deps{
		Executor: s.executor,
		Accounts: services.NewAccountRegistry(logger),
		Wallets:  wallets,
		Secrets:  secrets,
		Prices:   prices,
		Counters: metrics.NewCounters(),
	}, logger, dispatcher.WithCollector(s.collector))

	// 7. 传输
	s.transport = transport.NewServer(s.dispatcher, transportConfig(cfg.Transport), logger)
	s.collector.ObservePool(s.transport.PoolStats)
	s.collector.ObserveBuffers(pool.BufferPool.Stats)
	return s, nil
}

func buildRuntimes(cfg config.RuntimesConfig, logger *zap.Logger) (*runtime.Registry, error) {
	rts := make([]runtime.Runtime, 0, len(cfg.Enabled))
	for _, id := range cfg.Enabled {
		switch runtime.ID(id) {
		case runtime.JavaScript:
			rts = append(rts, javascript.New(javascript.Config{
				MaxCallStackSize: cfg.JavaScript.MaxCallStackSize,
			}, logger))
		case runtime.Python:
			rts = append(rts, python.New(python.Config{
				MaxExecutionSteps: cfg.Python.MaxExecutionSteps,
			}, logger))
		case runtime.Lua:
			rts = append(rts, lua.New(lua.Config{
				CallStackSize:   cfg.Lua.CallStackSize,
				RegistrySize:    cfg.Lua.RegistrySize,
				RegistryMaxSize: cfg.Lua.RegistryMaxSize,
			}, logger))
		default:
			return nil, fmt.Errorf("unknown runtime %q", id)
		}
	}
	return runtime.NewRegistry(rts...)
}

func (s *Server) buildStorage(ctx context.Context) (capability.Storage, error) {
	if s.cfg.Storage.Backend != "redis" {
		return capability.NewMemoryStorage(), nil
	}
	rc := s.cfg.Storage.Redis
	store, err := capability.NewRedisStorage(ctx, capability.RedisConfig{
		Addr:                rc.Addr,
		Password:            rc.Password,
		DB:                  rc.DB,
		KeyPrefix:           rc.KeyPrefix,
		TTL:                 rc.TTL,
		PoolSize:            rc.PoolSize,
		HealthCheckInterval: rc.HealthCheckInterval,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis storage: %w", err)
	}
	s.redis = store
	return store, nil
}

func transportConfig(c config.TransportConfig) transport.Config {
	return transport.Config{
		Network:         c.Network,
		Addr:            c.Addr,
		VsockPort:       c.VsockPort,
		MaxConnections:  c.MaxConnections,
		MaxFrameBytes:   c.MaxFrameBytes,
		WriteTimeout:    c.WriteTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
		TLSCertFile:     c.TLSCertFile,
		TLSKeyFile:      c.TLSKeyFile,
		Pool: pool.GoroutinePoolConfig{
			MaxWorkers: c.Workers,
			QueueSize:  c.QueueSize,
		},
	}
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start begins serving in the background.
func (s *Server) Start() error {
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	s.logger.Info("engine ready",
		zap.String("network", s.cfg.Transport.Network),
		zap.Strings("runtimes", s.cfg.Runtimes.Enabled))
	return nil
}

// Addr returns the bound address, or nil before the listener is up.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// WaitForShutdown blocks until SIGINT, SIGTERM or a transport failure, then
// shuts down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.transport.Errors():
		s.logger.Error("transport exited unexpectedly", zap.Error(err))
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}

// Shutdown drains the transport, then releases storage and telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.transport.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
