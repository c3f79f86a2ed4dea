package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

// InMemorySharingSessionRepository is a process-local store used by tests and
// by deployments that run without a database.
type InMemorySharingSessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SharingSession
}

func NewInMemorySharingSessionRepository() *InMemorySharingSessionRepository {
	return &InMemorySharingSessionRepository{sessions: make(map[string]*domain.SharingSession)}
}

func (r *InMemorySharingSessionRepository) Create(_ context.Context, s *domain.SharingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *InMemorySharingSessionRepository) Update(_ context.Context, id string, u domain.SharingSessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSharingSessionNotFound
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	s.Apply(u)
	return nil
}

func (r *InMemorySharingSessionRepository) Get(_ context.Context, id string) (*domain.SharingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSharingSessionNotFound
	}
	return s.Clone(), nil
}

func (r *InMemorySharingSessionRepository) FindActiveByOwner(_ context.Context, ownerID string) (*domain.SharingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.SharingSession
	for _, s := range r.sessions {
		if s.OwnerID != ownerID || s.State != domain.SessionActive {
			continue
		}
		if found == nil || s.StartedAt.After(found.StartedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, ErrSharingSessionNotFound
	}
	return found.Clone(), nil
}

func (r *InMemorySharingSessionRepository) ListActive(_ context.Context) ([]domain.SharingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SharingSession, 0)
	for _, s := range r.sessions {
		if s.State == domain.SessionActive {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *InMemorySharingSessionRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.SharingSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SharingSession, 0)
	for _, s := range r.sessions {
		if s.OwnerID == ownerID {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type InMemoryEscalationRepository struct {
	mu          sync.RWMutex
	escalations map[string]*domain.PanicEscalation
}

func NewInMemoryEscalationRepository() *InMemoryEscalationRepository {
	return &InMemoryEscalationRepository{escalations: make(map[string]*domain.PanicEscalation)}
}

func (r *InMemoryEscalationRepository) Create(_ context.Context, e *domain.PanicEscalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations[e.ID] = e.Clone()
	return nil
}

func (r *InMemoryEscalationRepository) Save(_ context.Context, e *domain.PanicEscalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.escalations[e.ID]; !ok {
		return ErrEscalationNotFound
	}
	r.escalations[e.ID] = e.Clone()
	return nil
}

func (r *InMemoryEscalationRepository) Get(_ context.Context, id string) (*domain.PanicEscalation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.escalations[id]
	if !ok {
		return nil, ErrEscalationNotFound
	}
	return e.Clone(), nil
}

func (r *InMemoryEscalationRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.PanicEscalation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PanicEscalation, 0)
	for _, e := range r.escalations {
		if e.OwnerID == ownerID {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryEscalationRepository) ListCounting(_ context.Context) ([]domain.PanicEscalation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PanicEscalation, 0)
	for _, e := range r.escalations {
		if e.State == domain.EscalationCounting {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type InMemoryContactRepository struct {
	mu       sync.RWMutex
	contacts map[string]domain.EmergencyContact
}

func NewInMemoryContactRepository() *InMemoryContactRepository {
	return &InMemoryContactRepository{contacts: make(map[string]domain.EmergencyContact)}
}

func (r *InMemoryContactRepository) Create(_ context.Context, c *domain.EmergencyContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.contacts[c.ID] = *c
	return nil
}

func (r *InMemoryContactRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.EmergencyContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EmergencyContact, 0)
	for _, c := range r.contacts {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sortContacts(out)
	return out, nil
}

func (r *InMemoryContactRepository) FindByIDs(_ context.Context, ownerID string, ids []string) ([]domain.EmergencyContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EmergencyContact, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.contacts[id]; ok && c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sortContacts(out)
	return out, nil
}

func (r *InMemoryContactRepository) Update(_ context.Context, c *domain.EmergencyContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.contacts[c.ID]
	if !ok || current.OwnerID != c.OwnerID {
		return ErrContactNotFound
	}
	current.Name = c.Name
	current.Channel = c.Channel
	current.Address = c.Address
	current.UserID = c.UserID
	current.SubscriptionGoneAt = c.SubscriptionGoneAt
	current.UpdatedAt = c.UpdatedAt
	r.contacts[c.ID] = current
	return nil
}

func (r *InMemoryContactRepository) MarkSubscriptionGone(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.SubscriptionGoneAt != nil {
		return nil
	}
	c.SubscriptionGoneAt = &at
	c.UpdatedAt = at
	r.contacts[id] = c
	return nil
}

func (r *InMemoryContactRepository) Delete(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.OwnerID != ownerID {
		return ErrContactNotFound
	}
	delete(r.contacts, id)
	return nil
}

func (r *InMemoryContactRepository) SetPrimary(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.contacts[id]
	if !ok || target.OwnerID != ownerID {
		return ErrContactNotFound
	}
	now := time.Now().UTC()
	for cid, c := range r.contacts {
		if c.OwnerID == ownerID && c.IsPrimary {
			c.IsPrimary = false
			c.UpdatedAt = now
			r.contacts[cid] = c
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = now
	r.contacts[id] = target
	return nil
}

func sortContacts(contacts []domain.EmergencyContact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].IsPrimary != contacts[j].IsPrimary {
			return contacts[i].IsPrimary
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
}
