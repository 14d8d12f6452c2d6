// Package server wires configuration, storage, external gateways and
// transports together and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/dmitrijs2005/tryitout/internal/server/config"
	"github.com/dmitrijs2005/tryitout/internal/server/generation"
	"github.com/dmitrijs2005/tryitout/internal/server/httpapi"
	"github.com/dmitrijs2005/tryitout/internal/server/identity"
	"github.com/dmitrijs2005/tryitout/internal/server/metrics"
	"github.com/dmitrijs2005/tryitout/internal/server/payments"
	"github.com/dmitrijs2005/tryitout/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tryitout/internal/server/services"
	"github.com/dmitrijs2005/tryitout/internal/server/storage"

	gs "github.com/dmitrijs2005/tryitout/internal/server/grpc"
)

const (
	healthCheckInterval  = 15 * time.Second
	tokenPurgeInterval   = time.Hour
	limiterCleanupPeriod = 10 * time.Minute
	limiterIdleTimeout   = 30 * time.Minute
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	userService *services.UserService
	limiter     *httpapi.RateLimiter
	httpServer  *httpapi.Server
	grpcServer  *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	presigner, err := storage.NewS3Presigner(ctx, storage.Config{
		Region:        c.S3Region,
		AccessKey:     c.S3RootUser,
		SecretKey:     c.S3RootPassword,
		Bucket:        c.S3Bucket,
		BaseEndpoint:  c.S3BaseEndpoint,
		PublicBaseURL: c.S3PublicBaseURL,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	outbound := &http.Client{Timeout: c.GenerationTimeout + 5*time.Second}

	verifier := identity.NewVerifier(identity.Config{
		URL:       c.IdentityURL,
		AnonKey:   c.IdentityAnonKey,
		JWTSecret: c.IdentityJWTSecret,
	}, nil)
	if !verifier.Configured() {
		logger.Warn(ctx, "identity provider not configured, federated sign-in disabled")
	}

	var gateway services.PaymentGateway
	if c.StripeSecret != "" {
		gateway = payments.NewStripeGateway(c.StripeSecret, c.StripeWebhookSecret, nil)
	} else {
		logger.Warn(ctx, "stripe not configured, checkout disabled")
	}

	generator := generation.NewGeminiClient(c.GeminiBaseURL, c.GeminiAPIKey, c.GeminiModel, outbound, logger.With("module", "generation"))

	us := services.NewUserService(db, rm, verifier, c, logger.With("module", "users"))
	ps := services.NewProfileService(db, rm, presigner)
	usage := services.NewUsageService(db, rm)
	bs := services.NewBillingService(db, rm, gateway, c.StripePriceID, c.ClientBaseURL, logger.With("module", "billing"))
	ts := services.NewTryOnService(usage, generator, c.GenerationTimeout, logger.With("module", "tryon"))

	limiter := httpapi.NewRateLimiter(c.TryOnPerMinute, c.TryOnBurst)
	handler := httpapi.NewHandler(httpapi.Deps{
		Users:          us,
		Profile:        ps,
		Usage:          usage,
		Billing:        bs,
		TryOn:          ts,
		Logger:         logger.With("module", "http"),
		Metrics:        metrics.New(),
		Limiter:        limiter,
		CORSOrigins:    c.CORSOrigins,
		MaxUploadBytes: c.MaxUploadBytes,
		CookieMaxAge:   c.AccessTokenValidityDuration,
	})

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		userService: us,
		limiter:     limiter,
		httpServer:  httpapi.NewServer(c.EndpointAddrHTTP, handler, logger),
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, db, healthCheckInterval, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server error", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if app.config.EndpointAddrGRPC == "" {
		return
	}
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server error", "error", err)
		cancelFunc()
	}
}

// runMaintenance purges expired refresh tokens and idle rate-limit buckets.
func (app *App) runMaintenance(ctx context.Context) {
	purge := time.NewTicker(tokenPurgeInterval)
	defer purge.Stop()
	cleanup := time.NewTicker(limiterCleanupPeriod)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			n, err := app.userService.PurgeExpiredRefreshTokens(ctx)
			if err != nil {
				app.logger.Error(ctx, "refresh token purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired refresh tokens purged", "count", n)
			}
		case <-cleanup.C:
			app.limiter.Cleanup(limiterIdleTimeout)
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "http", app.config.EndpointAddrHTTP, "grpc", app.config.EndpointAddrGRPC)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runMaintenance(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
