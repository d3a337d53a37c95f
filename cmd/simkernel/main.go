// Package main implements the entry point for the simkernel daemon: it
// loads configuration, assembles the subsystem orchestrator and serves
// the read-only status API until the process is signalled.
//
// Domain subsystems are registered through the orchestrator API by the
// embedding simulation; the daemon itself ships none.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/agrisim/simkernel/config"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/orchestrator"
	"github.com/agrisim/simkernel/service"
)

const appName = "simkernel"

// Version is overridden at build time
var Version = "0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("kernel failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to kernel config file (JSON)")
		listenAddr = flag.String("listen", ":8090", "status API listen address")
		validate   = flag.Bool("validate", false, "validate the config and exit")
		logJSON    = flag.Bool("log-json", false, "emit JSON logs")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	logger := newLogger(*logJSON, *logLevel)
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if *validate {
		logger.Info("configuration is valid", "path", *configPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewRegistry()
	kernel, err := orchestrator.New(ctx, cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetricsRegistry(metrics),
	)
	if err != nil {
		return fmt.Errorf("assemble kernel: %w", err)
	}

	if err := kernel.Start(ctx); err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}
	defer kernel.Stop(context.Background())

	statusCfg := service.DefaultServerConfig()
	statusCfg.Addr = *listenAddr
	statusServer := service.NewStatusServer(kernel, statusCfg, logger, metrics)
	statusServer.Start()
	defer func() {
		if err := statusServer.Stop(context.Background()); err != nil {
			logger.Warn("status server stop failed", "error", err)
		}
	}()

	logger.Info("kernel running",
		"version", Version,
		"platform", cfg.Platform.ID,
		"listen", *listenAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func newLogger(jsonOut bool, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
