//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/sandeepkv93/guardian-location-service/internal/app"
	"github.com/sandeepkv93/guardian-location-service/internal/config"
	"github.com/sandeepkv93/guardian-location-service/internal/http/handler"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
	"github.com/sandeepkv93/guardian-location-service/internal/watch"

	sdklog "go.opentelemetry.io/otel/sdk/log"
)

var infraSet = wire.NewSet(
	provideRuntime,
	provideDB,
	provideRedis,
	provideCleanup,
	provideReadiness,
)

var repositorySet = wire.NewSet(
	repository.NewSharingSessionRepository,
	repository.NewEscalationRepository,
	repository.NewContactRepository,
	provideSessionStore,
	provideEscalationStore,
)

var serviceSet = wire.NewSet(
	providePositionCache,
	provideReportedProvider,
	provideNotifier,
	service.NewContactDirectory,
	provideDirectory,
	service.NewContactService,
	watch.NewHub,
	provideAnnouncer,
	provideSessionManager,
	provideEscalationController,
)

var httpSet = wire.NewSet(
	provideJWTManager,
	handler.NewShareHandler,
	handler.NewLocationHandler,
	handler.NewPanicHandler,
	handler.NewContactHandler,
	provideRouterDependencies,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*app.App, error) {
	wire.Build(infraSet, repositorySet, serviceSet, httpSet, app.New)
	return nil, nil
}
