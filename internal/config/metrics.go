package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// loadEvent is one data point of config.load.events.
type loadEvent struct {
	outcome string
	class   string
	area    string
}

// loadEvents expands a Load result into counter points: one per rejected key
// for validation failures, one otherwise.
func loadEvents(err error) []loadEvent {
	if err == nil {
		return []loadEvent{{outcome: "success", class: "none", area: "none"}}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		out := make([]loadEvent, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			out = append(out, loadEvent{outcome: "error", class: "validation", area: keyArea(p.Key)})
		}
		return out
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return []loadEvent{{outcome: "error", class: "parse", area: keyArea(perr.Key)}}
	}
	return []loadEvent{{outcome: "error", class: "load", area: "none"}}
}

func recordLoadOutcome(ctx context.Context, profile string, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("guardian-location-service").Int64Counter("config.load.events")
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	label := profileLabel(profile)
	for _, ev := range loadEvents(err) {
		loadCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("profile", label),
			attribute.String("outcome", ev.outcome),
			attribute.String("error_class", ev.class),
			attribute.String("area", ev.area),
		))
	}
}

// keyArea names the subsystem an environment key tunes.
func keyArea(key string) string {
	switch {
	case strings.HasPrefix(key, "SHARE_"), key == "LOCATION_TIMEOUT", key == "POSITION_TTL", key == "PUBLIC_SHARE_BASE_URL":
		return "share"
	case strings.HasSuffix(key, "_RATE_LIMIT_RPM"):
		return "rate_limit"
	case strings.HasPrefix(key, "PANIC_"):
		return "panic"
	case strings.HasPrefix(key, "WEBPUSH_"), key == "NOTIFY_CONCURRENCY":
		return "notify"
	case strings.HasPrefix(key, "JWT_"):
		return "auth"
	case key == "DATABASE_URL", strings.HasPrefix(key, "REDIS_"):
		return "storage"
	case strings.HasPrefix(key, "OTEL_"), strings.HasPrefix(key, "SHUTDOWN_"):
		return "runtime"
	}
	return "other"
}

// profileLabel keeps the profile attribute to a fixed set of values.
func profileLabel(profile string) string {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "":
		return "unknown"
	case "dev", "development", "local":
		return "development"
	case "test":
		return "test"
	case "staging":
		return "staging"
	case "prod", "production":
		return "production"
	}
	return "custom"
}
