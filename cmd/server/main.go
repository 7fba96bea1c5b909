// Command server runs the PEARL API server: REST endpoints, the WebSocket
// broadcast hub, and background maintenance jobs, all in one process.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pearl-rdm/pearl/internal/api"
	"github.com/pearl-rdm/pearl/internal/auth"
	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/maintenance"
	"github.com/pearl-rdm/pearl/internal/metrics"
	"github.com/pearl-rdm/pearl/internal/repositories"
	"github.com/pearl-rdm/pearl/internal/websocket"
)

type serverOptions struct {
	listenAddr string
	dbDriver   string
	dbDSN      string

	jwtPrivateKey string
	jwtPublicKey  string
	jwtIssuer     string

	secureCookies bool
	devMode       bool
}

func main() {
	opts := &serverOptions{}

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "PEARL research data management server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.listenAddr, "listen", envOrDefault("PEARL_LISTEN", ":8080"), "HTTP listen address")
	flags.StringVar(&opts.dbDriver, "db-driver", envOrDefault("PEARL_DB_DRIVER", "sqlite"), "database driver (sqlite or postgres)")
	flags.StringVar(&opts.dbDSN, "db-dsn", envOrDefault("PEARL_DB_DSN", "pearl.db"), "database DSN")
	flags.StringVar(&opts.jwtPrivateKey, "jwt-private-key", envOrDefault("PEARL_JWT_PRIVATE_KEY", ""), "path to RSA private key PEM (empty generates an ephemeral pair)")
	flags.StringVar(&opts.jwtPublicKey, "jwt-public-key", envOrDefault("PEARL_JWT_PUBLIC_KEY", ""), "path to RSA public key PEM")
	flags.StringVar(&opts.jwtIssuer, "jwt-issuer", envOrDefault("PEARL_JWT_ISSUER", "pearl"), "JWT issuer claim")
	flags.BoolVar(&opts.secureCookies, "secure-cookies", envOrDefault("PEARL_SECURE_COOKIES", "true") == "true", "mark auth cookies Secure (disable for local HTTP dev)")
	flags.BoolVar(&opts.devMode, "dev", envOrDefault("PEARL_DEV", "") == "true", "development mode: human-readable logs, verbose SQL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *serverOptions) error {
	logger, err := buildLogger(opts.devMode)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormLevel := gormlogger.Warn
	if opts.devMode {
		gormLevel = gormlogger.Info
	}
	database, err := db.New(db.Config{
		Driver:   opts.dbDriver,
		DSN:      opts.dbDSN,
		Logger:   logger,
		LogLevel: gormLevel,
	})
	if err != nil {
		return err
	}

	// Repositories.
	studies := repositories.NewStudyRepository(database)
	packages := repositories.NewPackageRepository(database)
	items := repositories.NewPackageItemRepository(database)
	trackers := repositories.NewTrackerRepository(database)
	users := repositories.NewUserRepository(database)
	tokens := repositories.NewRefreshTokenRepository(database)
	texts := repositories.NewTextElementRepository(database)
	comments := repositories.NewCommentRepository(database)

	// Auth.
	var jwtMgr *auth.JWTManager
	if opts.jwtPrivateKey != "" && opts.jwtPublicKey != "" {
		jwtMgr, err = auth.NewJWTManagerFromFiles(opts.jwtPrivateKey, opts.jwtPublicKey, opts.jwtIssuer)
	} else {
		logger.Warn("no JWT key files configured, generating an ephemeral key pair; sessions will not survive restarts")
		jwtMgr, err = auth.NewJWTManagerGenerated(opts.jwtIssuer)
	}
	if err != nil {
		return err
	}
	authSvc := auth.NewService(users, tokens, jwtMgr)

	// Metrics and the broadcast hub.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hub := websocket.NewHub(m, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// HTTP layer.
	snapshot := api.NewSnapshotSource(studies, packages, items, trackers, users, texts, comments)
	router := api.NewRouter(api.RouterConfig{
		Logger:       logger,
		Metrics:      m,
		Registry:     registry,
		JWTManager:   jwtMgr,
		Auth:         api.NewAuthHandler(authSvc, opts.secureCookies, logger),
		WS:           api.NewWSHandler(hub, snapshot, jwtMgr, logger),
		Studies:      api.NewStudyHandler(studies, hub, logger),
		Packages:     api.NewPackageHandler(packages, studies, hub, logger),
		PackageItems: api.NewPackageItemHandler(items, packages, hub, logger),
		Trackers:     api.NewTrackerHandler(trackers, studies, hub, logger),
		Users:        api.NewUserHandler(users, tokens, hub, logger),
		TextElements: api.NewTextElementHandler(texts, hub, logger),
		Comments:     api.NewCommentHandler(comments, hub, logger),
	})

	// Background maintenance.
	sched, err := maintenance.New(tokens, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              opts.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", opts.listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// Stop the hub first so every WebSocket client receives a close frame,
	// then drain in-flight HTTP requests.
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildLogger creates a production JSON logger, or a human-readable
// development logger when dev is true.
func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// envOrDefault returns the environment variable's value if set, otherwise def.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
