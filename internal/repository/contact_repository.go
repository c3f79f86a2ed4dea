package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"

	"gorm.io/gorm"
)

var ErrContactNotFound = errors.New("emergency contact not found")

type ContactRepository interface {
	Create(ctx context.Context, c *domain.EmergencyContact) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.EmergencyContact, error)
	FindByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.EmergencyContact, error)
	Update(ctx context.Context, c *domain.EmergencyContact) error
	Delete(ctx context.Context, ownerID, id string) error
	SetPrimary(ctx context.Context, ownerID, id string) error
	MarkSubscriptionGone(ctx context.Context, id string, at time.Time) error
}

type GormContactRepository struct{ db *gorm.DB }

func NewContactRepository(db *gorm.DB) ContactRepository { return &GormContactRepository{db: db} }

func (r *GormContactRepository) Create(ctx context.Context, c *domain.EmergencyContact) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "create", "success")
	return nil
}

// ListByOwner returns the owner's contacts, primary contact first.
func (r *GormContactRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.EmergencyContact, error) {
	var contacts []domain.EmergencyContact
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("is_primary DESC").
		Order("created_at ASC").
		Find(&contacts).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "list_by_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "list_by_owner", "success")
	return contacts, nil
}

func (r *GormContactRepository) FindByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.EmergencyContact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var contacts []domain.EmergencyContact
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Order("is_primary DESC").
		Order("created_at ASC").
		Find(&contacts).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "find_by_ids", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "find_by_ids", "success")
	return contacts, nil
}

// Update writes the editable fields of c. The primary flag is owned by
// SetPrimary and left untouched.
func (r *GormContactRepository) Update(ctx context.Context, c *domain.EmergencyContact) error {
	res := r.db.WithContext(ctx).
		Model(&domain.EmergencyContact{}).
		Where("owner_id = ? AND id = ?", c.OwnerID, c.ID).
		Updates(map[string]any{
			"name":                 c.Name,
			"channel":              c.Channel,
			"address":              c.Address,
			"user_id":              c.UserID,
			"subscription_gone_at": c.SubscriptionGoneAt,
			"updated_at":           c.UpdatedAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "update", "not_found")
		return ErrContactNotFound
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "update", "success")
	return nil
}

func (r *GormContactRepository) MarkSubscriptionGone(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&domain.EmergencyContact{}).
		Where("id = ? AND subscription_gone_at IS NULL", id).
		Updates(map[string]any{"subscription_gone_at": at, "updated_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "mark_subscription_gone", "error")
		return res.Error
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "mark_subscription_gone", "success")
	return nil
}

func (r *GormContactRepository) Delete(ctx context.Context, ownerID, id string) error {
	res := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&domain.EmergencyContact{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "emergency_contact", "delete", "not_found")
		return ErrContactNotFound
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "delete", "success")
	return nil
}

// SetPrimary clears the owner's current primary contact and marks id primary
// in one transaction.
func (r *GormContactRepository) SetPrimary(ctx context.Context, ownerID, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.EmergencyContact
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, id).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrContactNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&domain.EmergencyContact{}).
			Where("owner_id = ? AND is_primary = ?", ownerID, true).
			Updates(map[string]any{"is_primary": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.EmergencyContact{}).
			Where("id = ?", id).
			Updates(map[string]any{"is_primary": true, "updated_at": now}).Error
	})
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			observability.RecordRepositoryOperation(ctx, "emergency_contact", "set_primary", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "emergency_contact", "set_primary", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "emergency_contact", "set_primary", "success")
	return nil
}
