package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/flowdispatch/internal/adapter/workflow"
	"github.com/xiaot623/flowdispatch/internal/config"
	"github.com/xiaot623/flowdispatch/internal/hub"
	"github.com/xiaot623/flowdispatch/internal/logging"
	"github.com/xiaot623/flowdispatch/internal/policy"
	"github.com/xiaot623/flowdispatch/internal/repository"
	"github.com/xiaot623/flowdispatch/internal/scheduler"
	"github.com/xiaot623/flowdispatch/internal/service"
	transport "github.com/xiaot623/flowdispatch/internal/transport/http"
	"github.com/xiaot623/flowdispatch/internal/transport/ws"
)

func main() {
	envErr := godotenv.Load()

	// Load configuration
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Int("internal_port", cfg.InternalPort).
		Str("database", cfg.DatabaseURL).
		Str("dispatch_schedule", cfg.DispatchSchedule).
		Msg("starting dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	modulePolicy, err := config.LoadModulePolicy(cfg.ModulePolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ModulePolicyPath).Msg("failed to load module policy")
	}

	policyEngine, err := newPolicyEngine(ctx, cfg.AccessPolicyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize policy engine")
	}

	events := hub.New(logger)
	go events.Run(ctx)

	client := workflow.NewClient(workflow.Credentials{
		Username: cfg.WebhookUsername,
		Password: cfg.WebhookPassword,
	}, cfg.WebhookUserAgent)

	svc := service.New(db, client, policyEngine, events, cfg, logger)
	applyModulePolicy(ctx, svc, modulePolicy, logger)

	watcher := config.NewPolicyWatcher(cfg.ModulePolicyPath, logger, func(p *config.ModulePolicy) {
		applyModulePolicy(ctx, svc, p, logger)
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Error().Err(err).Msg("module policy watcher stopped")
		}
	}()

	sched := scheduler.New(logger, time.UTC)
	if err := sched.Add("dispatch", cfg.DispatchSchedule, func(ctx context.Context) {
		res := svc.RunDispatchCycle(ctx)
		if !res.Success {
			logger.Error().Str("kind", string(res.Kind)).Str("error", res.Err).Msg("dispatch cycle failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule dispatch")
	}
	if err := sched.Add("session_cleanup", cfg.SessionCleanupSchedule, func(ctx context.Context) {
		res := svc.CleanupExpired(ctx)
		if !res.Success {
			logger.Error().Str("kind", string(res.Kind)).Str("error", res.Err).Msg("session cleanup failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule session cleanup")
	}
	sched.Start()

	wsServer := ws.NewServer(ws.Config{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		ReadTimeout:  cfg.WSReadTimeout,
	}, events, logger)
	externalServer := transport.NewExternalServer(svc, wsServer, logger)
	internalServer := transport.NewInternalServer(svc, logger)

	start(externalServer, cfg.HTTPPort, "external", logger)
	start(internalServer, cfg.InternalPort, "internal", logger)

	<-ctx.Done()
	logger.Info().Msg("shutting down dispatcher")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to shut down external server gracefully")
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to shut down internal server gracefully")
	}
	sched.Stop(shutdownCtx)

	logger.Info().Msg("dispatcher stopped")
}

func start(e *echo.Echo, port int, name string, logger zerolog.Logger) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("server", name).Msg("failed to start server")
		}
	}()
	logger.Info().Str("server", name).Str("addr", addr).Msg("server started")
}

func newPolicyEngine(ctx context.Context, path string) (*policy.Engine, error) {
	content := policy.DefaultPolicy
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read access policy: %w", err)
		}
		content = string(b)
	}
	return policy.NewEngine(ctx, content)
}

func applyModulePolicy(ctx context.Context, svc *service.Service, p *config.ModulePolicy, logger zerolog.Logger) {
	svc.SetModulePolicy(p)
	res := svc.SyncModuleCatalog(ctx, p)
	if !res.Success {
		logger.Error().Str("kind", string(res.Kind)).Str("error", res.Err).Msg("module catalog sync failed")
		return
	}
	logger.Info().Int("upserted", res.Data.Upserted).Int("unknown_slugs", len(res.Data.UnknownSlugs)).Msg("module policy applied")
}
