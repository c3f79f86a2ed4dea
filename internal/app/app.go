package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/config"
	"github.com/sandeepkv93/guardian-location-service/internal/health"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
	"github.com/sandeepkv93/guardian-location-service/internal/watch"
)

// Cleanup releases infrastructure handles (database, redis) after the
// services using them have stopped.
type Cleanup func() error

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Sessions      *service.SessionManager
	Escalations   *service.EscalationController
	Announcer     *service.ShareAnnouncer
	Hub           *watch.Hub
	Readiness     *health.ReadinessRunner
	cleanup       Cleanup

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	sessions *service.SessionManager,
	escalations *service.EscalationController,
	announcer *service.ShareAnnouncer,
	hub *watch.Hub,
	readiness *health.ReadinessRunner,
	cleanup Cleanup,
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Sessions:                     sessions,
		Escalations:                  escalations,
		Announcer:                    announcer,
		Hub:                          hub,
		Readiness:                    readiness,
		cleanup:                      cleanup,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
	}
}

// Run re-arms persisted sessions, abandons orphaned countdowns, serves HTTP
// until ctx is cancelled or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	recovered, err := a.Sessions.Recover(ctx)
	if err != nil {
		a.Logger.Error("sharing session recovery failed", "error", err)
	} else {
		a.Logger.Info("sharing session recovery finished", "rearmed", recovered)
	}
	if a.Escalations != nil {
		if abandoned, err := a.Escalations.AbandonStale(ctx); err != nil {
			a.Logger.Error("stale panic escalation sweep failed", "error", err)
		} else if abandoned > 0 {
			a.Logger.Warn("stale panic escalations abandoned", "count", abandoned)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
			a.Logger.Error("http server failed", "error", err)
		}
	}
	return errors.Join(serveErr, a.Shutdown())
}

// Shutdown drains HTTP first so no new sessions or escalations start, then
// stops the background services and finally the telemetry pipeline.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()

	var errs []error
	drainCtx, drainCancel := context.WithTimeout(ctx, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http drain: %w", err))
	}
	drainCancel()

	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Escalations != nil {
		if err := a.Escalations.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Announcer != nil {
		if err := a.Announcer.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for share announcements: %w", err))
		}
	}
	if a.cleanup != nil {
		if err := a.cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("release resources: %w", err))
		}
	}

	obsCtx, obsCancel := context.WithTimeout(context.Background(), a.ShutdownObservabilityTimeout)
	defer obsCancel()
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Error("shutdown finished with errors", "error", err)
	} else {
		a.Logger.Info("shutdown complete")
	}
	return err
}
