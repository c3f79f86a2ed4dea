package di

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/guardian-location-service/internal/app"
	"github.com/sandeepkv93/guardian-location-service/internal/config"
	"github.com/sandeepkv93/guardian-location-service/internal/database"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/health"
	"github.com/sandeepkv93/guardian-location-service/internal/http/handler"
	"github.com/sandeepkv93/guardian-location-service/internal/http/middleware"
	"github.com/sandeepkv93/guardian-location-service/internal/http/router"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
	"github.com/sandeepkv93/guardian-location-service/internal/security"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
	"github.com/sandeepkv93/guardian-location-service/internal/watch"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"
)

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

// provideRedis returns nil when REDIS_ADDR is unset; callers fall back to
// in-process stores.
func provideRedis(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func providePositionCache(cfg *config.Config, client redis.UniversalClient) location.PositionCache {
	if client == nil {
		return location.NewInMemoryPositionCache(cfg.PositionTTL)
	}
	return location.NewRedisPositionCache(client, cfg.RedisPrefix, cfg.PositionTTL)
}

func provideReportedProvider(cfg *config.Config, cache location.PositionCache) *location.ReportedProvider {
	return location.NewReportedProvider(cache, cfg.PositionTTL)
}

// provideNotifier routes by contact channel. Push subscriptions the push
// service reports gone are flagged on the contact.
func provideNotifier(cfg *config.Config, logger *slog.Logger, contacts *service.ContactService) notify.Notifier {
	r := notify.NewRouter(logger, cfg.NotifyConcurrency)
	r.Register(domain.ChannelLog, notify.NewLogSender(logger))
	if cfg.WebPushEnabled() {
		push := notify.NewWebPushSender(cfg.WebPushVAPIDPublicKey, cfg.WebPushVAPIDPrivateKey, cfg.WebPushSubscriber).
			WithHTTPClient(&http.Client{Timeout: cfg.PanicNotifyTimeout})
		r.Register(domain.ChannelWebPush, push)
		r.OnSubscriptionGone(func(ctx context.Context, rcpt notify.Recipient) {
			contacts.SubscriptionGone(ctx, rcpt.ID)
		})
	} else {
		logger.Info("web push disabled, webpush contacts will not be reached")
	}
	return r
}

func provideAnnouncer(cfg *config.Config, directory service.RecipientDirectory, notifier notify.Notifier, logger *slog.Logger) *service.ShareAnnouncer {
	return service.NewShareAnnouncer(directory, notifier, cfg.PublicShareBaseURL, cfg.PanicNotifyTimeout, logger)
}

func provideSessionManager(
	cfg *config.Config,
	store service.SessionStore,
	provider *location.ReportedProvider,
	logger *slog.Logger,
	hub *watch.Hub,
	announcer *service.ShareAnnouncer,
) *service.SessionManager {
	return service.NewSessionManager(store, provider, service.SessionManagerOptions{
		TickInterval:    cfg.ShareTickInterval,
		TickImmediately: cfg.ShareTickImmediately,
		LocationTimeout: cfg.LocationTimeout,
		DuplicatePolicy: cfg.ShareDuplicatePolicy,
		Logger:          logger,
	}, hub, announcer)
}

func provideEscalationController(
	cfg *config.Config,
	store service.EscalationStore,
	sessions *service.SessionManager,
	provider *location.ReportedProvider,
	directory service.RecipientDirectory,
	notifier notify.Notifier,
	logger *slog.Logger,
) *service.EscalationController {
	return service.NewEscalationController(store, sessions, provider, directory, notifier, service.EscalationOptions{
		DefaultCountdown: cfg.PanicDefaultCountdown,
		MaxCountdown:     cfg.PanicMaxCountdown,
		LocationTimeout:  cfg.LocationTimeout,
		NotifyTimeout:    cfg.PanicNotifyTimeout,
		Logger:           logger,
	})
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ReadinessRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewReadinessRunner(2*time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	logger *slog.Logger,
	shares *handler.ShareHandler,
	locations *handler.LocationHandler,
	panics *handler.PanicHandler,
	contacts *handler.ContactHandler,
	jwtMgr *security.JWTManager,
	readiness *health.ReadinessRunner,
	client redis.UniversalClient,
) router.Dependencies {
	var limiter middleware.Limiter
	mode := middleware.FailClosed
	if client != nil {
		limiter = middleware.NewRedisLimiter(client, cfg.RedisPrefix)
		// A panic request must not be refused because Redis is down.
		mode = middleware.FailOpen
	}
	api := middleware.NewRateLimiter(limiter, middleware.RateLimitPolicy{Limit: cfg.APIRateLimitRPM, Window: time.Minute}, mode, "api")
	panicLimit := middleware.NewRateLimiter(limiter, middleware.RateLimitPolicy{Limit: cfg.PanicRateLimitRPM, Window: time.Minute}, mode, "panic")
	return router.Dependencies{
		ShareHandler:    shares,
		LocationHandler: locations,
		PanicHandler:    panics,
		ContactHandler:  contacts,
		JWTManager:      jwtMgr,
		Readiness:       readiness,
		Logger:          logger,
		APIRateLimiter:  api.Middleware(),
		PanicRateLimit:  panicLimit.Middleware(),
		EnableOTelHTTP:  cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, dep router.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(dep),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideCleanup(db *gorm.DB, client redis.UniversalClient) app.Cleanup {
	return func() error {
		var errs []error
		if client != nil {
			errs = append(errs, client.Close())
		}
		errs = append(errs, database.Close(db))
		return errors.Join(errs...)
	}
}

func provideSessionStore(repo repository.SharingSessionRepository) service.SessionStore {
	return repo
}

func provideEscalationStore(repo repository.EscalationRepository) service.EscalationStore {
	return repo
}

func provideDirectory(d *service.ContactDirectory) service.RecipientDirectory {
	return d
}
