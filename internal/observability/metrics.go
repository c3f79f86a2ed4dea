package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "guardian-location-service"

type AppMetrics struct {
	sessionTransitions    metric.Int64Counter
	sessionTicks          metric.Int64Counter
	escalationTransitions metric.Int64Counter
	notificationCounter   metric.Int64Counter
	repositoryOperations  metric.Int64Counter
	locationReports       metric.Int64Counter
	fireLatency           metric.Float64Histogram
	tokenValidations      metric.Int64Counter
	healthChecks          metric.Int64Counter
	rateLimitDecisions    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		if err := registerAppMetrics(mp); err != nil {
			return nil, err
		}
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	if err := registerAppMetrics(mp); err != nil {
		return nil, err
	}

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func registerAppMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(meterName)
	sessionTransitions, err := meter.Int64Counter("sharing.session.transitions")
	if err != nil {
		return err
	}
	sessionTicks, err := meter.Int64Counter("sharing.session.ticks")
	if err != nil {
		return err
	}
	escalationTransitions, err := meter.Int64Counter("panic.escalation.transitions")
	if err != nil {
		return err
	}
	notificationCounter, err := meter.Int64Counter("notify.deliveries")
	if err != nil {
		return err
	}
	repositoryOperations, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return err
	}
	locationReports, err := meter.Int64Counter("location.reports")
	if err != nil {
		return err
	}
	fireLatency, err := meter.Float64Histogram("panic.fire.duration", metric.WithUnit("s"))
	if err != nil {
		return err
	}
	tokenValidations, err := meter.Int64Counter("auth.access_token.validations")
	if err != nil {
		return err
	}
	healthChecks, err := meter.Int64Counter("health.check.results")
	if err != nil {
		return err
	}
	rateLimitDecisions, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		sessionTransitions:    sessionTransitions,
		sessionTicks:          sessionTicks,
		escalationTransitions: escalationTransitions,
		notificationCounter:   notificationCounter,
		repositoryOperations:  repositoryOperations,
		locationReports:       locationReports,
		fireLatency:           fireLatency,
		tokenValidations:      tokenValidations,
		healthChecks:          healthChecks,
		rateLimitDecisions:    rateLimitDecisions,
	}
	metricsMu.Unlock()
	return nil
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordSessionTransition(ctx context.Context, to, reason string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.sessionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("reason", reason),
	))
}

// RecordSessionTick counts refresh ticks by outcome. Provider failures are
// split into permission_denied, timeout and unavailable.
func RecordSessionTick(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.sessionTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordEscalationTransition(ctx context.Context, to, trigger string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.escalationTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	))
}

func RecordNotificationDelivery(ctx context.Context, kind, channel, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.notificationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordLocationReport(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.locationReports.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordFireDuration(ctx context.Context, actionTaken bool, d time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.fireLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("action_taken", actionTaken)))
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tokenValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.healthChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}
