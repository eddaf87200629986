// =============================================================================
// EnclaveFlow 主入口
// =============================================================================
// 使用方法:
//
//	enclaveflow serve --config enclaveflow.yaml   # 在 enclave 内启动
//	enclaveflow ping --network tcp --addr 127.0.0.1:7000
//	enclaveflow metrics --network vsock --addr 16:5000
//	enclaveflow exec --runtime javascript --entry main --file fn.js
//	enclaveflow version
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/enclaveflow/config"
	"github.com/BaSui01/enclaveflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "ping":
		err = runPing(os.Args[2:])
	case "metrics":
		err = runMetrics(os.Args[2:])
	case "exec":
		err = runExec(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().
		WithConfigPath(*configPath).
		WithValidator((*config.Config).Validate).
		Load()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting EnclaveFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx := context.Background()
	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv, err := NewServer(ctx, cfg, logger, otelProviders)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	srv.WaitForShutdown()
	logger.Info("EnclaveFlow stopped")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("EnclaveFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`EnclaveFlow - function execution engine for secure enclaves

Usage:
  enclaveflow <command> [options]

Commands:
  serve     Start the engine inside the enclave
  ping      Check that an engine answers
  metrics   Print engine counters
  exec      Compile and run a function file on an engine
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>      Path to configuration file (YAML)

Options for 'ping', 'metrics' and 'exec':
  --network <name>     vsock or tcp (default vsock)
  --addr <addr>        cid:port for vsock, host:port for tcp
  --ca <path>          CA bundle; enables TLS for tcp
  --timeout <dur>      Request timeout

Options for 'exec':
  --runtime <id>       javascript, python or lua
  --entry <name>       Entry point function
  --file <path>        Source file
  --params <json>      Params object
  --event <json>       Run executeForEvent with this event instead

Examples:
  enclaveflow serve --config /etc/enclaveflow/enclaveflow.yaml
  enclaveflow ping --network tcp --addr 127.0.0.1:7000
  enclaveflow exec --runtime python --entry main --file main.py --params '{"a":1}'
  enclaveflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
