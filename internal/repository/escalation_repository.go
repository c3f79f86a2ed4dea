package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"

	"gorm.io/gorm"
)

var ErrEscalationNotFound = errors.New("panic escalation not found")

type EscalationRepository interface {
	Create(ctx context.Context, e *domain.PanicEscalation) error
	Save(ctx context.Context, e *domain.PanicEscalation) error
	Get(ctx context.Context, id string) (*domain.PanicEscalation, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.PanicEscalation, error)
	ListCounting(ctx context.Context) ([]domain.PanicEscalation, error)
}

type GormEscalationRepository struct{ db *gorm.DB }

func NewEscalationRepository(db *gorm.DB) EscalationRepository {
	return &GormEscalationRepository{db: db}
}

func (r *GormEscalationRepository) Create(ctx context.Context, e *domain.PanicEscalation) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "panic_escalation", "create", "success")
	return nil
}

// Save overwrites every column of an existing escalation.
func (r *GormEscalationRepository) Save(ctx context.Context, e *domain.PanicEscalation) error {
	res := r.db.WithContext(ctx).Model(&domain.PanicEscalation{}).
		Where("id = ?", e.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(e)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "save", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "save", "not_found")
		return ErrEscalationNotFound
	}
	observability.RecordRepositoryOperation(ctx, "panic_escalation", "save", "success")
	return nil
}

func (r *GormEscalationRepository) Get(ctx context.Context, id string) (*domain.PanicEscalation, error) {
	var e domain.PanicEscalation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "panic_escalation", "get", "not_found")
			return nil, ErrEscalationNotFound
		}
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "panic_escalation", "get", "success")
	return &e, nil
}

func (r *GormEscalationRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.PanicEscalation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []domain.PanicEscalation
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "list_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "panic_escalation", "list_by_owner", "success")
	return out, nil
}

func (r *GormEscalationRepository) ListCounting(ctx context.Context) ([]domain.PanicEscalation, error) {
	var out []domain.PanicEscalation
	err := r.db.WithContext(ctx).
		Where("state = ?", domain.EscalationCounting).
		Order("started_at ASC").
		Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "panic_escalation", "list_counting", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "panic_escalation", "list_counting", "success")
	return out, nil
}
