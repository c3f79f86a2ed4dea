package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/guardian-location-service/internal/http/response"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// RateLimiter guards a route group. Requests are keyed by the authenticated
// owner when present, otherwise by client IP.
type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
}

func NewRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string) *RateLimiter {
	if limiter == nil {
		limiter = NewLocalLimiter()
	}
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{limiter: limiter, policy: normalizePolicy(policy), mode: mode, scope: scope}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.scope + ":" + requestKey(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode))
				if rl.mode == FailOpen {
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, response.CodeRateLimited, "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode))
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, response.CodeRateLimited, "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if owner, ok := OwnerIDFromContext(r.Context()); ok {
		return "sub:" + owner
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

type localLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	now     func() time.Time
	cleanup time.Time
}

// NewLocalLimiter returns an in-process sliding window limiter.
func NewLocalLimiter() Limiter {
	return &localLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-policy.Window)
	if now.After(l.cleanup) {
		for k, hits := range l.hits {
			if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
				delete(l.hits, k)
			}
		}
		l.cleanup = now.Add(policy.Window)
	}

	pruned := l.hits[key][:0]
	for _, hit := range l.hits[key] {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	if len(pruned) >= policy.Limit {
		l.hits[key] = pruned
		resetAt := pruned[0].Add(policy.Window)
		return Decision{Allowed: false, RetryAfter: resetAt.Sub(now), ResetAt: resetAt}, nil
	}
	pruned = append(pruned, now)
	l.hits[key] = pruned
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - len(pruned),
		ResetAt:   pruned[0].Add(policy.Window),
	}, nil
}

type redisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter returns a fixed window limiter shared across replicas.
func NewRedisLimiter(client redis.UniversalClient, prefix string) Limiter {
	return &redisLimiter{client: client, prefix: prefix}
}

func (l *redisLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	redisKey := l.prefix + ":rl:" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, policy.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl <= 0 {
		// A crash between INCR and PEXPIRE leaves a key without expiry.
		_ = l.client.PExpire(ctx, redisKey, policy.Window).Err()
		ttl = policy.Window
	}
	resetAt := time.Now().Add(ttl)
	if int(count) > policy.Limit {
		return Decision{Allowed: false, RetryAfter: ttl, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - int(count), ResetAt: resetAt}, nil
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}
