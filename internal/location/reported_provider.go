package location

import (
	"context"
	"fmt"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
)

// ReportedProvider answers position requests from the reports devices push
// to the service. A position older than maxAge counts as unavailable.
type ReportedProvider struct {
	cache  PositionCache
	maxAge time.Duration
	now    func() time.Time
}

func NewReportedProvider(cache PositionCache, maxAge time.Duration) *ReportedProvider {
	return &ReportedProvider{cache: cache, maxAge: maxAge, now: time.Now}
}

func (p *ReportedProvider) CurrentPosition(ctx context.Context, ownerID string) (domain.Position, error) {
	granted, known, err := p.cache.Permission(ctx, ownerID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if known && !granted {
		return domain.Position{}, ErrPermissionDenied
	}
	pos, ok, err := p.cache.Latest(ctx, ownerID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return domain.Position{}, ErrUnavailable
	}
	if p.maxAge > 0 && !pos.RecordedAt.IsZero() && p.now().Sub(pos.RecordedAt) > p.maxAge {
		return domain.Position{}, ErrUnavailable
	}
	return pos, nil
}

// Report validates and stores a device position. A report implies the
// device currently grants location permission.
func (p *ReportedProvider) Report(ctx context.Context, ownerID string, pos domain.Position) error {
	if err := ValidatePosition(pos); err != nil {
		observability.RecordLocationReport(ctx, "invalid")
		return err
	}
	if pos.RecordedAt.IsZero() {
		pos.RecordedAt = p.now().UTC()
	}
	if err := p.cache.Put(ctx, ownerID, pos); err != nil {
		observability.RecordLocationReport(ctx, "error")
		return err
	}
	if err := p.cache.SetPermission(ctx, ownerID, true); err != nil {
		observability.RecordLocationReport(ctx, "error")
		return err
	}
	observability.RecordLocationReport(ctx, "success")
	return nil
}

func (p *ReportedProvider) SetPermission(ctx context.Context, ownerID string, granted bool) error {
	outcome := "granted"
	if !granted {
		outcome = "denied"
	}
	if err := p.cache.SetPermission(ctx, ownerID, granted); err != nil {
		observability.RecordLocationReport(ctx, "error")
		return err
	}
	observability.RecordLocationReport(ctx, "permission_"+outcome)
	return nil
}
