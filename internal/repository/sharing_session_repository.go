package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSharingSessionNotFound = errors.New("sharing session not found")

// SharingSessionRepository persists sharing sessions keyed by id. A single
// Update is assumed atomic per id.
type SharingSessionRepository interface {
	Create(ctx context.Context, s *domain.SharingSession) error
	Update(ctx context.Context, id string, u domain.SharingSessionUpdate) error
	Get(ctx context.Context, id string) (*domain.SharingSession, error)
	FindActiveByOwner(ctx context.Context, ownerID string) (*domain.SharingSession, error)
	ListActive(ctx context.Context) ([]domain.SharingSession, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.SharingSession, error)
}

type GormSharingSessionRepository struct{ db *gorm.DB }

func NewSharingSessionRepository(db *gorm.DB) SharingSessionRepository {
	return &GormSharingSessionRepository{db: db}
}

func (r *GormSharingSessionRepository) Create(ctx context.Context, s *domain.SharingSession) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "sharing_session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "create", "success")
	return nil
}

func (r *GormSharingSessionRepository) Update(ctx context.Context, id string, u domain.SharingSessionUpdate) error {
	updates := map[string]any{"updated_at": u.UpdatedAt}
	if u.UpdatedAt.IsZero() {
		updates["updated_at"] = time.Now().UTC()
	}
	if u.State != nil {
		updates["state"] = string(*u.State)
	}
	if u.EndedAt != nil {
		updates["ended_at"] = *u.EndedAt
	}
	if u.LastKnownPosition != nil {
		raw, err := json.Marshal(u.LastKnownPosition)
		if err != nil {
			return err
		}
		updates["last_known_position"] = string(raw)
	}
	res := r.db.WithContext(ctx).Model(&domain.SharingSession{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "sharing_session", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "sharing_session", "update", "not_found")
		return ErrSharingSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "update", "success")
	return nil
}

func (r *GormSharingSessionRepository) Get(ctx context.Context, id string) (*domain.SharingSession, error) {
	var s domain.SharingSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "sharing_session", "get", "not_found")
			return nil, ErrSharingSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "sharing_session", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "get", "success")
	return &s, nil
}

func (r *GormSharingSessionRepository) FindActiveByOwner(ctx context.Context, ownerID string) (*domain.SharingSession, error) {
	var s domain.SharingSession
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND state = ?", ownerID, string(domain.SessionActive)).
		Order("started_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "sharing_session", "find_active_by_owner", "not_found")
			return nil, ErrSharingSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "sharing_session", "find_active_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "find_active_by_owner", "success")
	return &s, nil
}

func (r *GormSharingSessionRepository) ListActive(ctx context.Context) ([]domain.SharingSession, error) {
	var sessions []domain.SharingSession
	err := r.db.WithContext(ctx).
		Where("state = ?", string(domain.SessionActive)).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sharing_session", "list_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "list_active", "success")
	return sessions, nil
}

func (r *GormSharingSessionRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.SharingSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var sessions []domain.SharingSession
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sharing_session", "list_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sharing_session", "list_by_owner", "success")
	return sessions, nil
}
