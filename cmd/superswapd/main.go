package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"superswap/config"
	"superswap/core/events"
	"superswap/core/types"
	"superswap/native/settlement"
	"superswap/observability/logging"
	"superswap/observability/metrics"
	"superswap/observability/otel"
	"superswap/router"
	"superswap/services/settlement-gateway/server"
	"superswap/state"
	"superswap/storage"
)

const shutdownTimeout = 10 * time.Second

// logEmitter mirrors settlement events into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(event events.Event) {
	if event == nil {
		return
	}
	args := []any{"type", event.EventType()}
	if carrier, ok := event.(interface{ Event() *types.Event }); ok {
		if evt := carrier.Event(); evt != nil {
			for key, value := range evt.Attributes {
				args = append(args, key, value)
			}
		}
	}
	l.logger.Info("settlement event", args...)
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	logger := logging.SetupWithRotation("superswapd", cfg.Environment, cfg.LogFilePath, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "superswapd",
			Environment: cfg.Environment,
			Endpoint:    endpoint,
			Insecure:    os.Getenv("SUPERSWAP_OTLP_INSECURE") == "true",
			Headers:     otel.ParseHeaders(os.Getenv("SUPERSWAP_OTLP_HEADERS")),
		})
		if err != nil {
			logger.Error("init telemetry", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err.Error())
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err.Error())
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	registry := router.NewRegistry()
	invoker := router.NewInvoker(registry)

	engine := settlement.NewEngine()
	engine.SetState(manager)
	engine.SetInvoker(invoker)
	engine.SetEmitter(logEmitter{logger: logger})

	if err := bootstrap(cfg, engine, manager, logger); err != nil {
		logger.Error("bootstrap settlement module", "error", err.Error())
		os.Exit(1)
	}
	if current, ok, err := engine.Config(); err == nil && ok {
		metrics.Settlement().SetPaused(current.Paused)
	}

	keys, err := config.LoadAPIKeys(cfg.APIKeysFile)
	if err != nil {
		logger.Error("load api keys", "error", err.Error())
		os.Exit(1)
	}
	gwCfg, err := server.LoadConfigFromEnv(server.Config{
		ListenAddress:    cfg.ListenAddress,
		DatabasePath:     cfg.IdempotencyDBPath,
		AdminJWTSecret:   os.Getenv(cfg.AdminJWTSecretEnv),
		APIKeySecrets:    keys.Secrets(),
		CallerIdentities: keys.Identities(),
	})
	if err != nil {
		logger.Error("load gateway config", "error", err.Error())
		os.Exit(1)
	}
	store, err := server.NewSQLiteStore(gwCfg.DatabasePath)
	if err != nil {
		logger.Error("open gateway store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	gateway := server.NewServer(gwCfg, engine, manager, store, logger)
	srv := &http.Server{
		Addr:              gwCfg.ListenAddress,
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlement gateway listening", "address", gwCfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listen", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err.Error())
	}
}

// bootstrap initializes the module configuration on first start and commits
// it so the record survives a restart. An already initialized ledger wins over
// the bootstrap section.
func bootstrap(cfg *config.Config, engine *settlement.Engine, manager *state.Manager, logger *slog.Logger) error {
	if _, ok, err := engine.Config(); err != nil {
		return err
	} else if ok {
		return nil
	}
	admin, params, configured, err := cfg.BootstrapParams()
	if err != nil {
		return err
	}
	if !configured {
		logger.Warn("settlement module not initialized and no bootstrap configured")
		return nil
	}
	if _, err := engine.Initialize(admin, params); err != nil {
		return err
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	logger.Info("settlement module initialized",
		"admin", admin.String(),
		"collector", params.Collector.String(),
		"feeBps", params.FeeBps,
	)
	return nil
}
