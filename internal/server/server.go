// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/realfolio/realfolio/internal/api"
	"github.com/realfolio/realfolio/internal/api/handlers"
	"github.com/realfolio/realfolio/internal/auth"
	"github.com/realfolio/realfolio/internal/config"
	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/logger"
	"github.com/realfolio/realfolio/internal/notify"
	"github.com/realfolio/realfolio/internal/queue"
	"github.com/realfolio/realfolio/internal/service"
	"github.com/realfolio/realfolio/internal/worker"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Config holds the server configuration options.
type Config struct {
	ConfigFile string // Explicit config file (empty = default locations)
	Port       int    // Port to run the server on (0 = use config default)
	Mode       string // Run mode: server, worker, or both
	Version    string // Version string to report
}

// Open loads configuration, initializes logging and returns a migrated
// database. Shared by serve and the maintenance commands.
func Open(configFile string) (*config.Config, *gorm.DB, error) {
	appCfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Init(appCfg.Log.Format, appCfg.Log.Level)

	// Propagate app log level to database if not explicitly set
	if appCfg.Database.LogLevel == "" {
		appCfg.Database.LogLevel = appCfg.Log.Level
	}

	database, err := db.New(appCfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", appCfg.Database.Driver)

	if err := db.Migrate(database); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database migrations completed")

	return appCfg, database, nil
}

// Run starts the server with the given configuration and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Version != "" {
		handlers.Version = cfg.Version
	}

	appCfg, database, err := Open(cfg.ConfigFile)
	if err != nil {
		return err
	}
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}
	slog.Info("Starting Realfolio", "version", cfg.Version, "mode", appCfg.Server.Mode)

	serverID, err := db.GetOrCreateServerID(database)
	if err != nil {
		return fmt.Errorf("failed to initialize server ID: %w", err)
	}
	slog.Info("Server ID initialized", "server_id", serverID)

	if err := db.CreateDefaultAdmin(database); err != nil {
		return fmt.Errorf("failed to create default admin user: %w", err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = "both"
	}
	runServer := mode == "server" || mode == "both"
	runWorker := mode == "worker" || mode == "both"
	if !runServer && !runWorker {
		return fmt.Errorf("invalid mode %q: valid modes are server, worker, both", mode)
	}

	noticeQueue, err := createQueue(appCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize notification queue: %w", err)
	}
	defer noticeQueue.Close()
	slog.Info("Notification queue initialized", "type", appCfg.Queue.Type)

	ledger := service.NewMembershipLedger(database)
	if appCfg.Maintenance.RepairOnStartup {
		report, err := worker.RunOwnerRepair(ctx, database, ledger, false)
		if err != nil {
			return fmt.Errorf("owner repair failed: %w", err)
		}
		slog.Info("Owner repair completed", "scanned", report.Scanned, "repaired", len(report.Items))
	}

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		w := worker.New(database, noticeQueue, createMailer(appCfg), worker.Options{
			Concurrency:  appCfg.Worker.Concurrency,
			MaxAttempts:  appCfg.Worker.MaxAttempts,
			AcceptURL:    appCfg.Invitation.AcceptURL,
			RetryBackoff: time.Second,
		}, slog.Default())
		g.Go(func() error {
			if err := w.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker: %w", err)
			}
			return nil
		})
		slog.Info("Worker started", "concurrency", appCfg.Worker.Concurrency)

		scheduler, err := worker.NewScheduler(database, ledger, appCfg.Maintenance.RepairSchedule, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to schedule maintenance: %w", err)
		}
		if scheduler.Entries() > 0 {
			g.Go(func() error { return scheduler.Run(gctx) })
		}
	}

	if runServer {
		var oidcAuth *auth.OIDCAuthenticator
		if appCfg.Auth.Type == "oidc" {
			basic := auth.NewBasicAuthenticator(database, appCfg.Auth.JWTSecret)
			basic.SetTokenDuration(appCfg.Auth.TokenTTL)
			oidcAuth, err = auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
				IssuerURL:    appCfg.Auth.OIDC.IssuerURL,
				ClientID:     appCfg.Auth.OIDC.ClientID,
				ClientSecret: appCfg.Auth.OIDC.ClientSecret,
				RedirectURL:  appCfg.Auth.OIDC.RedirectURL,
				Scopes:       appCfg.Auth.OIDC.Scopes,
			}, basic)
			if err != nil {
				return fmt.Errorf("failed to initialize OIDC: %w", err)
			}
			slog.Info("OIDC authentication enabled", "issuer", appCfg.Auth.OIDC.IssuerURL)
		}

		router := api.NewRouter(appCfg, database, serverQueue(runWorker, appCfg, noticeQueue), oidcAuth)
		addr := fmt.Sprintf(":%d", appCfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("Server listening", "address", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(appCfg))
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			slog.Info("Server stopped")
			return nil
		})
	}

	err = g.Wait()
	slog.Info("Realfolio exited")
	return err
}

// RunWithSignalHandling starts the server and handles OS signals for graceful shutdown.
func RunWithSignalHandling(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg)
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// createQueue creates a queue based on configuration.
func createQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "memory":
		size := cfg.Queue.BufferSize
		if size <= 0 {
			size = 100
		}
		return queue.NewMemoryQueue(size), nil
	case "valkey":
		if cfg.Queue.ValkeyAddr == "" {
			return nil, fmt.Errorf("valkey address is required when queue type is valkey")
		}
		return queue.NewValkeyQueue(cfg.Queue.ValkeyAddr)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: memory, valkey)", cfg.Queue.Type)
	}
}

// serverQueue returns the queue the API enqueues notices on. An in-process
// queue without a worker in the same process is never drained, so the API
// then records invitations without notices.
func serverQueue(runWorker bool, cfg *config.Config, q queue.Queue) queue.Queue {
	if !runWorker && cfg.Queue.Type == "memory" {
		slog.Warn("Memory queue has no consumer in server mode; invitation e-mails are disabled",
			"hint", "use queue.type=valkey with a separate worker, or --mode both")
		return nil
	}
	return q
}

func createMailer(cfg *config.Config) notify.Mailer {
	if cfg.Mail.Provider == "sendgrid" {
		return notify.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	}
	return notify.NewLogMailer(slog.Default())
}
