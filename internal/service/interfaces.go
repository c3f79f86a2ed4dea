package service

import (
	"context"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
)

// SessionStore is the persistence port of the session manager. A single
// Update per id is assumed atomic.
type SessionStore interface {
	Create(ctx context.Context, s *domain.SharingSession) error
	Update(ctx context.Context, id string, u domain.SharingSessionUpdate) error
	Get(ctx context.Context, id string) (*domain.SharingSession, error)
	FindActiveByOwner(ctx context.Context, ownerID string) (*domain.SharingSession, error)
	ListActive(ctx context.Context) ([]domain.SharingSession, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.SharingSession, error)
}

type EscalationStore interface {
	Create(ctx context.Context, e *domain.PanicEscalation) error
	Save(ctx context.Context, e *domain.PanicEscalation) error
	Get(ctx context.Context, id string) (*domain.PanicEscalation, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.PanicEscalation, error)
	ListCounting(ctx context.Context) ([]domain.PanicEscalation, error)
}

// RecipientDirectory resolves contact references into notifiable recipients.
// Unknown ids are dropped rather than reported as an error.
type RecipientDirectory interface {
	Resolve(ctx context.Context, ownerID string, recipientIDs []string) ([]notify.Recipient, error)
	EmergencyContacts(ctx context.Context, ownerID string) ([]notify.Recipient, error)
}

type SessionEventType string

const (
	SessionStarted   SessionEventType = "started"
	SessionPosition  SessionEventType = "position"
	SessionExpired   SessionEventType = "expired"
	SessionCancelled SessionEventType = "cancelled"
)

type SessionEvent struct {
	Type    SessionEventType      `json:"type"`
	Session domain.SharingSession `json:"session"`
}

// SessionObserver receives session changes after the entity lock has been
// released. Implementations must not block.
type SessionObserver interface {
	SessionChanged(ev SessionEvent)
}

// ActiveSessionLookup is the slice of the session manager the escalation
// controller needs to find an owner's last known position.
type ActiveSessionLookup interface {
	ActiveSessionForOwner(ctx context.Context, ownerID string) (*domain.SharingSession, error)
}
