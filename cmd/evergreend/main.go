package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"evergreen/config"
	"evergreen/core"
	"evergreen/core/events"
	"evergreen/observability"
	"evergreen/observability/logging"
	"evergreen/observability/metrics"
	telemetry "evergreen/observability/otel"
	"evergreen/rpc"
	"evergreen/storage"
)

const envVar = "EVERGREEN_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("evergreend stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
		env = value
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "evergreend",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "evergreend",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Enabled,
		Traces:      cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	owner, err := cfg.Owner()
	if err != nil {
		return err
	}
	custody, err := cfg.Custody()
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	spec, err := cfg.GenesisSpec()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		Owner:   owner,
		Custody: custody,
		Catalog: catalog,
		Policy:  cfg.Policy(),
		Paused:  cfg.Paused,
		Genesis: spec,
		Emitter: events.Fanout{metrics.Matrix(), observability.Events()},
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer node.Close()

	logger.Info("matrix configured",
		slog.String("owner", owner.Hex()),
		slog.String("custody", custody.Hex()),
		slog.Int("levels", int(catalog.MaxLevel())),
		slog.Uint64("feeBps", uint64(cfg.FeeBps)),
		slog.Bool("paused", cfg.Paused))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer(node, rpc.ServerConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TrustedProxies:    cfg.RateLimit.TrustedProxies,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		Logger:            logger,
	})
	return server.Start(ctx, cfg.RPCAddress)
}
