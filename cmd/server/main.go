package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"centsible/internal/auth"
	"centsible/internal/config"
	"centsible/internal/handlers"
	"centsible/internal/ledger"
	"centsible/internal/logging"
	"centsible/internal/metrics"
	"centsible/internal/storage"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// runMain parses flags, loads configuration and serves until ctx is done. It
// returns the process exit code; the logger is flushed on every path.
func runMain(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("CENTSIBLE_CONFIG"), "Path to YAML config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(config.WithFile(*configPath))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return 1
	}
	return 0
}

// app bundles the wired components of a server.
type app struct {
	db       *storage.DB
	sessions *auth.SessionManager
	router   http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	db, err := storage.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	credentials := auth.NewCredentialStore(db, cfg.Auth.BcryptCost)
	sessions := auth.NewSessionManager(db, cfg.Session.TTL)

	if err := seedAdmin(ctx, db, credentials, cfg.Auth, logger); err != nil {
		db.Close()
		return nil, err
	}

	h := handlers.NewHandlers(handlers.Options{
		Credentials:  credentials,
		Sessions:     sessions,
		Ledger:       ledger.NewStore(db),
		Store:        db,
		Logger:       logger.Named("http"),
		Metrics:      metrics.New("centsible"),
		BasePath:     cfg.Server.BasePath,
		CookieName:   cfg.Session.CookieName,
		SecureCookie: cfg.Server.SecureCookie,
	})

	return &app{
		db:       db,
		sessions: sessions,
		router:   setupRouter(h, cfg.Server.BasePath),
	}, nil
}

// seedAdmin creates the configured bootstrap user when the database has no users.
func seedAdmin(ctx context.Context, db *storage.DB, credentials *auth.CredentialStore, cfg config.Auth, logger *logging.Logger) error {
	if cfg.AdminUser == "" {
		return nil
	}
	count, err := db.UserCount(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	user, err := credentials.CreateUser(ctx, cfg.AdminUser, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	logger.Info("seeded initial user", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	return nil
}

// setupRouter mounts the API under basePath next to /health and /metrics.
// Instrument wraps the whole router so unmatched requests are logged too.
func setupRouter(h *handlers.Handlers, basePath string) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet)

	api := r
	if basePath != "" {
		api = r.PathPrefix(basePath).Subrouter()
		api.NotFoundHandler = r.NotFoundHandler
		api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	}
	h.Register(api)

	return h.Instrument(r)
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.db.Close()

	if n, err := a.sessions.Purge(ctx); err != nil {
		logger.Warn("failed to purge expired sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("purged expired sessions", zap.Int64("count", n))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
