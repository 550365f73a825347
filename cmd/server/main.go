package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/arturoeanton/codequery/internal/app"
	"github.com/arturoeanton/codequery/internal/handler"
	"github.com/arturoeanton/codequery/internal/logging"
	"github.com/arturoeanton/codequery/internal/mcp"
	"github.com/arturoeanton/codequery/internal/middleware"
	"github.com/arturoeanton/codequery/internal/schedule"
	"github.com/arturoeanton/codequery/pkg/config"
)

var version = "dev"

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := pflag.String("port", "", "HTTP port (overrides PORT)")
	configFile := pflag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	pflag.Parse()

	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load(*envFile) // silently ignore if it doesn't exist
	if *configFile != "" {
		os.Setenv("CONFIG_FILE", *configFile)
	}

	// ── Configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting "+cfg.AppName,
		"version", version,
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"embedding_provider", cfg.EmbeddingProvider,
		"generative_provider", cfg.GenerativeProvider,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Services ─────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Ingestion.RecoverInterrupted(ctx); err != nil {
		slog.Error("recover interrupted jobs", "error", err)
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	srv := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // ask can wait on a slow generator
	})

	srv.Use(recover.New())
	srv.Use(fiberlogger.New())
	srv.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	srv.Use(middleware.MetricsMiddleware())

	srv.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": version,
		})
	})
	srv.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := srv.Group("/api/v1", middleware.APIKeyMiddleware(cfg.APIKey))
	handler.NewRepoHandler(a.Ingestion, a.QA).Register(api)
	handler.NewRAGHandler(a.QA).Register(api)
	handler.NewJobsHandler(a.Ingestion).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer(a.Ingestion, a.QA, cfg.MCPPort, version, cfg.APIKey)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Scheduled refresh ────────────────────────────────────────────────
	var scheduler *schedule.CronScheduler
	if cfg.RefreshSchedule != "" {
		scheduler = schedule.NewCronScheduler()
		if err := scheduler.AddJob(schedule.NewRefreshJob(a.Store, a.Ingestion), cfg.RefreshSchedule); err != nil {
			slog.Error("invalid refresh schedule", "spec", cfg.RefreshSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start(ctx)
	}

	// ── Start ────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("fiber listening", "port", cfg.Port)
		errCh <- srv.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	if mcpServer != nil {
		if err := mcpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("MCP shutdown", "error", err)
		}
	}
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
}
