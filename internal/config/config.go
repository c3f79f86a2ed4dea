package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type DuplicateSessionPolicy string

const (
	DuplicateReplace DuplicateSessionPolicy = "replace"
	DuplicateReject  DuplicateSessionPolicy = "reject"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	PositionTTL   time.Duration

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string
	JWTAccessTTL    time.Duration

	ShareTickInterval      time.Duration
	ShareTickImmediately   bool
	LocationTimeout        time.Duration
	ShareDuplicatePolicy   DuplicateSessionPolicy
	PanicDefaultCountdown  time.Duration
	PanicMaxCountdown      time.Duration
	PanicNotifyTimeout     time.Duration
	NotifyConcurrency      int
	PublicShareBaseURL     string
	WebPushVAPIDPublicKey  string
	WebPushVAPIDPrivateKey string
	WebPushSubscriber      string

	APIRateLimitRPM   int
	PanicRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory (or the path in ENV_FILE) is loaded first without overriding
// variables that are already set.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("load env file: %w", err)
		recordLoadOutcome(context.Background(), os.Getenv("APP_ENV"), err)
		return nil, err
	}
	cfg, err := fromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	recordLoadOutcome(context.Background(), os.Getenv("APP_ENV"), err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", "file:guardian.db?_foreign_keys=on"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.int("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "guardian"),
		PositionTTL:   p.duration("POSITION_TTL", 10*time.Minute),

		JWTIssuer:       getEnv("JWT_ISSUER", "guardian-location-service"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "guardian-app"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),
		JWTAccessTTL:    p.duration("JWT_ACCESS_TTL", 15*time.Minute),

		ShareTickInterval:      p.duration("SHARE_TICK_INTERVAL", time.Minute),
		ShareTickImmediately:   p.bool("SHARE_TICK_IMMEDIATELY", true),
		LocationTimeout:        p.duration("LOCATION_TIMEOUT", 5*time.Second),
		ShareDuplicatePolicy:   DuplicateSessionPolicy(strings.ToLower(getEnv("SHARE_DUPLICATE_POLICY", string(DuplicateReplace)))),
		PanicDefaultCountdown:  p.duration("PANIC_DEFAULT_COUNTDOWN", 5*time.Second),
		PanicMaxCountdown:      p.duration("PANIC_MAX_COUNTDOWN", time.Minute),
		PanicNotifyTimeout:     p.duration("PANIC_NOTIFY_TIMEOUT", 30*time.Second),
		NotifyConcurrency:      p.int("NOTIFY_CONCURRENCY", 8),
		PublicShareBaseURL:     strings.TrimRight(getEnv("PUBLIC_SHARE_BASE_URL", "http://localhost:8080"), "/"),
		WebPushVAPIDPublicKey:  os.Getenv("WEBPUSH_VAPID_PUBLIC_KEY"),
		WebPushVAPIDPrivateKey: os.Getenv("WEBPUSH_VAPID_PRIVATE_KEY"),
		WebPushSubscriber:      getEnv("WEBPUSH_SUBSCRIBER", "mailto:alerts@guardian.local"),

		APIRateLimitRPM:   p.int("API_RATE_LIMIT_RPM", 240),
		PanicRateLimitRPM: p.int("PANIC_RATE_LIMIT_RPM", 10),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "guardian-location-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// KeyProblem is one rejected environment key.
type KeyProblem struct {
	Key    string
	Reason string
}

// ValidationError lists every key that failed validation.
type ValidationError struct {
	Problems []KeyProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Key+" "+p.Reason)
	}
	return "validate config: " + strings.Join(parts, "; ")
}

// ParseError reports a key whose value could not be parsed.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

func (c *Config) Validate() error {
	v := &ValidationError{}
	check := func(ok bool, key, reason string) {
		if !ok {
			v.Problems = append(v.Problems, KeyProblem{Key: key, Reason: reason})
		}
	}
	check(strings.TrimSpace(c.DatabaseURL) != "", "DATABASE_URL", "is required")
	check(len(c.JWTAccessSecret) >= 32, "JWT_ACCESS_SECRET", "must be at least 32 characters")
	check(c.ShareTickInterval > 0, "SHARE_TICK_INTERVAL", "must be positive")
	check(c.LocationTimeout > 0, "LOCATION_TIMEOUT", "must be positive")
	check(c.LocationTimeout < c.ShareTickInterval, "LOCATION_TIMEOUT", "must be shorter than SHARE_TICK_INTERVAL")
	switch c.ShareDuplicatePolicy {
	case DuplicateReplace, DuplicateReject:
	default:
		check(false, "SHARE_DUPLICATE_POLICY", fmt.Sprintf("must be %q or %q", DuplicateReplace, DuplicateReject))
	}
	check(c.PanicDefaultCountdown > 0, "PANIC_DEFAULT_COUNTDOWN", "must be positive")
	check(c.PanicMaxCountdown >= c.PanicDefaultCountdown, "PANIC_MAX_COUNTDOWN", "must not be shorter than PANIC_DEFAULT_COUNTDOWN")
	check(c.NotifyConcurrency > 0, "NOTIFY_CONCURRENCY", "must be positive")
	check(c.APIRateLimitRPM > 0, "API_RATE_LIMIT_RPM", "must be positive")
	check(c.PanicRateLimitRPM > 0, "PANIC_RATE_LIMIT_RPM", "must be positive")
	check((c.WebPushVAPIDPublicKey == "") == (c.WebPushVAPIDPrivateKey == ""), "WEBPUSH_VAPID_PRIVATE_KEY", "must be set together with WEBPUSH_VAPID_PUBLIC_KEY")
	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func (c *Config) WebPushEnabled() bool {
	return c.WebPushVAPIDPublicKey != "" && c.WebPushVAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// parser keeps the first parse error so fromEnv can read every key in one pass.
type parser struct{ err error }

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(&ParseError{Key: key, Err: err})
		return fallback
	}
	return d
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(&ParseError{Key: key, Err: err})
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(&ParseError{Key: key, Err: err})
		return fallback
	}
	return b
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
