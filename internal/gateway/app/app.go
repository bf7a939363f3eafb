package app

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

	httpapi "github.com/aussiebroadwan/tenantgate/internal/gateway/http"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/service"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/memory"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/postgres"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/redis"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/tenantgate/pkg/cryptox"
	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
)

// BuildVersion is overridden at link time.
var BuildVersion = "v0.1.0"

// Application is the gateway process with all its dependencies.
type Application struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	stores *Stores

	sessions     *service.SessionService
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// Stores are the opened backends. RefreshTokens is the redis ledger when
// one is configured, otherwise the refresh tables of DB.
type Stores struct {
	DB            store.Store
	RefreshTokens store.RefreshTokens
	Redis         *redis.RefreshTokens
}

// OpenStores connects to the configured backends. It does not migrate.
func OpenStores(cfg Config) (*Stores, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}

	var db store.Store
	switch backend {
	case BackendPostgres:
		db, err = postgres.NewStore(cfg.DatabaseURL)
	case BackendMemory:
		db = memory.NewStore()
	default:
		db, err = sqlite.NewStore(cfg.DatabaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}

	s := &Stores{DB: db, RefreshTokens: db.RefreshTokens()}

	if cfg.RedisURL != "" {
		rt, err := redis.Open(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open redis ledger: %w", err)
		}
		s.Redis = rt
		s.RefreshTokens = rt
	}
	return s, nil
}

// Checks are the readiness probes for the opened backends.
func (s *Stores) Checks() map[string]httpapi.Check {
	checks := map[string]httpapi.Check{"database": s.DB.Ping}
	if s.Redis != nil {
		checks["redis"] = s.Redis.Ping
	}
	return checks
}

func (s *Stores) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	errs = append(errs, s.DB.Close())
	return errors.Join(errs...)
}

// NewLedger builds the refresh ledger the way the server does.
func NewLedger(cfg Config, s *Stores) *ledger.Ledger {
	return ledger.New(s.RefreshTokens, cfg.RefreshTTL)
}

// NewHasher loads (or creates) the pepper and returns the password hasher.
func NewHasher(cfg Config) (*cryptox.PasswordHasher, error) {
	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("load pepper: %w", err)
	}
	return cryptox.NewPasswordHasher(pepper), nil
}

// NewLogger returns the process logger for cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "tenantgate",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{cfg: cfg, logger: NewLogger(cfg)}

	m, err := metrics.Default()
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	app.metrics = m

	if err := app.initStores(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.stores.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

func (app *Application) initStores() error {
	stores, err := OpenStores(app.cfg)
	if err != nil {
		return err
	}

	if err := stores.DB.ApplyMigrations(); err != nil {
		_ = stores.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}
	app.stores = stores

	backend, _ := app.cfg.Backend()
	app.logger.Info("stores ready", "database", backend, "redis_ledger", stores.Redis != nil)
	return nil
}

func (app *Application) initServices() error {
	hasher, err := NewHasher(app.cfg)
	if err != nil {
		return err
	}

	codec, err := jwtx.NewHS256Codec(jwtx.CodecConfig{
		Secret:    app.cfg.JWTSecret,
		Issuer:    app.cfg.Issuer,
		AccessTTL: app.cfg.AccessTTL,
		Leeway:    app.cfg.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	l := NewLedger(app.cfg, app.stores)

	app.sessions = &service.SessionService{
		Credentials:  service.NewStoreCredentials(app.stores.DB, hasher),
		Ledger:       l,
		Codec:        codec,
		Metrics:      app.metrics,
		RetryBackoff: app.cfg.RetryBackoff,
	}

	app.housekeeping = service.NewHousekeepingService(l, app.logger, app.cfg.HousekeepingInterval)
	app.housekeeping.Metrics = app.metrics
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.sessions, app.metrics, BuildVersion, app.logger)
	router.Checks = app.stores.Checks()
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeeping.Stop()
			_ = app.stores.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains requests, stops housekeeping and closes the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.stores.Close(); err != nil {
		app.logger.Error("error closing stores", "error", err)
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}
