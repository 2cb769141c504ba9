// Planforged is the business-plan generation service.
//
// It exposes an HTTP API for questionnaire submission, payment checkout
// and verification, background document generation, and status polling.
//
// Configuration is loaded from ~/.config/planforged/config.yaml with
// PLANFORGED_* environment overrides. See internal/config for details.
//
// Usage:
//
//	# Start the server with defaults
//	planforged serve
//
//	# Configure via environment
//	PLANFORGED_SERVER_PORT=8080 PLANFORGED_DATABASE_DSN=postgres://... planforged serve
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

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/planforgelabs/planforged/internal/completion"
	"github.com/planforgelabs/planforged/internal/config"
	"github.com/planforgelabs/planforged/internal/events"
	"github.com/planforgelabs/planforged/internal/logging"
	"github.com/planforgelabs/planforged/internal/orchestrator"
	"github.com/planforgelabs/planforged/internal/payments"
	"github.com/planforgelabs/planforged/internal/plan"
	"github.com/planforgelabs/planforged/internal/server"
	"github.com/planforgelabs/planforged/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "planforged",
	Short: "Business plan generation service",
	Long: `planforged generates tiered business-plan documents from a
questionnaire submission, gated behind payment.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the planforged HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("planforged\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/planforged/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// run starts the planforged server and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Connect infrastructure (database, NATS, payment processor, LLM provider)
//  4. Build the plan service and generation orchestrator
//  5. Start the HTTP server
//  6. Graceful shutdown on context cancellation
func run(ctx context.Context) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting planforged",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("completion_provider", cfg.Completion.Provider),
	)

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:     cfg.Observability.EnableTelemetry,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.Bool("postgres", deps.db != nil),
		zap.Bool("nats_connected", deps.natsConn != nil),
	)

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := server.NewServer(svcs.plans, svcs.orchestrator, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := svcs.orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	db        *gorm.DB
	store     plan.Store
	natsConn  *nats.Conn
	publisher events.Publisher
	provider  completion.Provider
	processor payments.Processor
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// services holds the business services.
type services struct {
	plans        plan.Service
	orchestrator *orchestrator.Orchestrator
}

// initDependencies connects the database, NATS, the payment processor,
// and the completion provider.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	// Plan store: postgres when a DSN is configured, in-memory otherwise.
	if cfg.Database.DSN.IsSet() {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN.Value()), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := plan.Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		store, err := plan.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		deps.db = db
		deps.store = store
	} else {
		logger.Warn("no database dsn configured, using in-memory store")
		deps.store = plan.NewMemoryStore()
	}

	// Lifecycle events over NATS, optional.
	deps.publisher = events.NewNop()
	if cfg.Events.Enabled {
		nc, err := nats.Connect(cfg.Events.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.URL, err)
		}
		pub, err := events.NewNATS(nc, logger)
		if err != nil {
			nc.Close()
			return nil, err
		}
		deps.natsConn = nc
		deps.publisher = pub
		logger.Info("connected to NATS", zap.String("url", cfg.Events.URL))
	}

	provider, err := completion.New(completion.Config{
		Provider:   cfg.Completion.Provider,
		APIKey:     cfg.Completion.APIKey.Value(),
		Model:      cfg.Completion.Model,
		BaseURL:    cfg.Completion.BaseURL,
		Timeout:    cfg.Completion.Timeout,
		RateLimit:  cfg.Completion.RateLimit,
		Burst:      cfg.Completion.Burst,
		MaxRetries: cfg.Completion.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}
	deps.provider = provider

	processor, err := payments.NewStripe(payments.StripeConfig{
		APIKey:     cfg.Payments.StripeAPIKey.Value(),
		SuccessURL: cfg.Payments.SuccessURL,
		CancelURL:  cfg.Payments.CancelURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment processor: %w", err)
	}
	deps.processor = processor

	return deps, nil
}

// initServices builds the plan service and the generation orchestrator.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	plans, err := plan.NewService(nil, deps.store, deps.processor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan service: %w", err)
	}

	orch, err := orchestrator.New(&orchestrator.Config{
		SectionTimeout:  cfg.Generation.SectionTimeout,
		MinSuccessRatio: cfg.Generation.MinSuccessRatio,
	}, deps.store, deps.provider, deps.publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &services{
		plans:        plans,
		orchestrator: orch,
	}, nil
}
