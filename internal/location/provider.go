package location

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location fetch timed out")
	ErrUnavailable      = errors.New("location unavailable")
)

// Provider yields the current position of a user's device.
type Provider interface {
	CurrentPosition(ctx context.Context, ownerID string) (domain.Position, error)
}

type ProviderFunc func(ctx context.Context, ownerID string) (domain.Position, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context, ownerID string) (domain.Position, error) {
	return f(ctx, ownerID)
}

type fetchResult struct {
	pos domain.Position
	err error
}

// Fetch asks p for a position and gives up after timeout even if p ignores
// its context. A provider that outlives the timeout finishes in the
// background and its result is discarded.
func Fetch(ctx context.Context, p Provider, ownerID string, timeout time.Duration) (domain.Position, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		pos, err := p.CurrentPosition(fetchCtx, ownerID)
		done <- fetchResult{pos: pos, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return domain.Position{}, ErrTimeout
		}
		return res.pos, res.err
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return domain.Position{}, ctx.Err()
		}
		return domain.Position{}, ErrTimeout
	}
}
