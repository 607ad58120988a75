package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/service"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
	redisdriver "github.com/qoobot-com/openidaas-sub002/internal/mfa/store/drivers/redis"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store/drivers/sqlite"
	"github.com/qoobot-com/openidaas-sub002/pkg/cryptox"
	"github.com/qoobot-com/openidaas-sub002/pkg/slogx"
	"github.com/qoobot-com/openidaas-sub002/pkg/throttle"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the verification core together: database, secret
// sealing, throttle, services, and the housekeeping worker. It exposes the
// MFA service for embedding callers and runs as a daemon otherwise.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	redis   *goredis.Client
	secrets *cryptox.SecretBox

	// Services
	mfaService          *service.MFAService
	housekeepingService *service.HousekeepingService
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "mfa-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	secrets, err := cryptox.NewSecretBoxFromSource(cfg.MasterKeyPath, MasterKeyEnvVar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret sealing: %w", err)
	}
	app.secrets = secrets

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// MFA exposes the verification service for embedding callers.
func (app *Application) MFA() *service.MFAService { return app.mfaService }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("mfa service starting", "version", BuildVersion, "otp_backend", app.cfg.OTPBackend)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down mfa service...")

	app.housekeepingService.Stop()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("mfa service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	otpCodes, err := app.initOTPBackend()
	if err != nil {
		return err
	}

	otpService := &service.OTPService{
		Codes:    otpCodes,
		Delivery: service.LogDelivery{Logger: app.logger},
		Logger:   app.logger,
		TTL:      app.cfg.OTPTTL,
	}
	backupService := &service.BackupCodeService{
		Store:  app.db,
		Logger: app.logger,
	}

	app.mfaService = &service.MFAService{
		Store:    app.db,
		Throttle: throttle.New(nil),
		OTP:      otpService,
		Backup:   backupService,
		Events:   domain.LogSink{Logger: app.logger},
		Secrets:  app.secrets,
		Issuer:   app.cfg.Issuer,
		Logger:   app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.PendingSetupWindow,
	)

	return nil
}

// initOTPBackend selects where ephemeral codes live. The sqlite-backed
// store keeps deployments single-binary; redis offloads the hot path and
// gets expiry for free.
func (app *Application) initOTPBackend() (store.OTPCodes, error) {
	switch app.cfg.OTPBackend {
	case "", "sqlite":
		return app.db.OTPCodes(), nil

	case "redis":
		opt, err := goredis.ParseURL(app.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := goredis.NewClient(opt)
		app.redis = client
		return redisdriver.NewOTPCodes(client, "mfa:otp"), nil

	default:
		return nil, fmt.Errorf("unknown otp backend %q", app.cfg.OTPBackend)
	}
}
