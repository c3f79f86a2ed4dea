package health

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ReadinessRunner runs readiness checks in parallel, each bounded by timeout.
type ReadinessRunner struct {
	checkers []Checker
	timeout  time.Duration
}

func NewReadinessRunner(timeout time.Duration, checkers ...Checker) *ReadinessRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadinessRunner{checkers: checkers, timeout: timeout}
}

func (p *ReadinessRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(checkCtx)
			res := CheckResult{Name: c.Name(), Healthy: err == nil, DurationMS: time.Since(start).Milliseconds()}
			outcome := "healthy"
			if err != nil {
				res.Error = err.Error()
				outcome = "unhealthy"
			}
			observability.RecordHealthCheckResult(ctx, c.Name(), outcome)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	return ready, results
}

type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

type DBChecker struct{ db *gorm.DB }

func NewDBChecker(db *gorm.DB) *DBChecker { return &DBChecker{db: db} }

func (c *DBChecker) Name() string { return "database" }

func (c *DBChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return errors.New("database not configured")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type RedisChecker struct{ client redis.UniversalClient }

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
