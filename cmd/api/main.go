package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sheetdesk/api/internal/app"
	"sheetdesk/api/internal/autosave"
	"sheetdesk/api/internal/blob"
	"sheetdesk/api/internal/config"
	"sheetdesk/api/internal/export"
	"sheetdesk/api/internal/search"
	"sheetdesk/api/internal/session"
	"sheetdesk/api/internal/store"
	"sheetdesk/api/internal/verify"
)

var (
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "sheetdesk checklist API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply migrations and run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir), zap.Strings("applied", applied))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, parseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, err
	}
	zcfg.Level = parsed
	return zcfg.Build()
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("applied", applied))
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:    dataStore,
		Exporter: export.NewService(),
		Autosave: autosave.New(cfg.AutosaveDelay, logger.Named("autosave")),
		Logger:   logger,
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, search.NewPgFTS(db), logger)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for refresh token storage")
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		logger.Info("using postgres for refresh token storage")
	}

	archive, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Warn("upload archive disabled", zap.Error(err))
	}
	deps.Archive = archive

	if strings.TrimSpace(cfg.VerifyScript) != "" {
		deps.Verifier = verify.NewRunner(cfg.VerifyScript, cfg.VerifyTimeout, logger)
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("sheetdesk API listening", zap.String("addr", cfg.Addr), zap.Strings("teams", cfg.Teams))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		service.Shutdown()
		return err
	})
	return g.Wait()
}
