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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"reelhub-go/internal/auth"
	"reelhub-go/internal/config"
	"reelhub-go/internal/database"
	"reelhub-go/internal/database/migrate"
	"reelhub-go/internal/logger"
	"reelhub-go/internal/server"
	"reelhub-go/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reelhub",
		Short:         "Reelhub chunked video upload server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logger first, the config may not load
			logger.Init(os.Getenv("APP_ENV"))
		},
		RunE: runServe,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	})
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Reelhub %s\n", formatVersionInfo())
		},
	})

	return root
}

func newMigrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			db, err := database.New(cfg.Database)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if rollback {
				return migrate.RollbackMigrations(db.DB)
			}
			return migrate.RunMigrations(db.DB)
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Roll back the most recent migration")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		username string
		expiry   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required, set SECRET or --secret")
			}
			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				id = parsed
			}

			token, err := auth.NewIssuer(secret).GenerateToken(id, username, expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&userID, "user", "", "User id, a random one if empty")
	cmd.Flags().StringVar(&username, "username", "", "Username claim")
	cmd.Flags().DurationVar(&expiry, "expiry", auth.DefaultTokenExpiry, "Token lifetime, 0 for none")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().
		Str("environment", os.Getenv("APP_ENV")).
		Str("log_level", zerolog.GlobalLevel().String()).
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("Starting Reelhub")

	// Create a base context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Error().Err(err).Msg("Error loading configuration")
		return err
	}

	// Update logger with correct environment
	logger.Init(cfg.Env)
	cfg.Log()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("reelhub", version)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer shutdownTracer(context.Background())
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	if db != nil {
		defer closeDB(db)
	}

	srv, err := server.NewServer(ctx, cfg, db)
	if err != nil {
		log.Error().Err(err).Msg("Error creating server")
		return err
	}
	defer srv.Close()

	httpServer, err := srv.Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Error starting server")
		return err
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-shutdown
		log.Info().Msg("Shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Disable keep-alives for new connections
		httpServer.SetKeepAlivesEnabled(false)

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// Stops the cleanup worker
		cancel()
	}()

	log.Info().
		Str("url", cfg.BaseURL).
		Msg("Server is ready to handle requests")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("HTTP server error")
		return err
	}

	<-done
	log.Info().Msg("Server shutdown completed")
	return nil
}

// openDatabase connects and migrates when postgres backs sessions or DB_HOST
// is set. Without either the server runs without a database.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if cfg.Upload.SessionStore != "postgres" && cfg.Database.Host == "" {
		return nil, nil
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, err
	}

	if health := db.Health(ctx); health["status"] != "up" {
		closeDB(db)
		return nil, fmt.Errorf("database health check failed: %s", health["error"])
	}

	if err := migrate.RunMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("Failed to run migrations")
		log.Info().Msg("Attempting to rollback migrations...")

		if rbErr := migrate.RollbackMigrations(db.DB); rbErr != nil {
			log.Error().
				Err(rbErr).
				Str("original_error", err.Error()).
				Msg("Failed to rollback migrations after error")
		}
		closeDB(db)
		return nil, err
	}

	return db, nil
}

func closeDB(db *database.DB) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	}
}

func formatVersionInfo() string {
	return fmt.Sprintf(`Version: %s
Commit: %s
Built: %s`, version, commit, date)
}
