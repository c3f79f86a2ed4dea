package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
)

// ContactDirectory resolves an owner's emergency contacts into notifiable
// recipients, primary contact first.
type ContactDirectory struct {
	contacts repository.ContactRepository
}

func NewContactDirectory(contacts repository.ContactRepository) *ContactDirectory {
	return &ContactDirectory{contacts: contacts}
}

func (d *ContactDirectory) Resolve(ctx context.Context, ownerID string, recipientIDs []string) ([]notify.Recipient, error) {
	contacts, err := d.contacts.FindByIDs(ctx, ownerID, recipientIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return toRecipients(contacts), nil
}

func (d *ContactDirectory) EmergencyContacts(ctx context.Context, ownerID string) ([]notify.Recipient, error) {
	contacts, err := d.contacts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list emergency contacts: %w", err)
	}
	return toRecipients(contacts), nil
}

// IsRecipient reports whether userID is the account linked to one of the
// contacts s is shared with.
func (d *ContactDirectory) IsRecipient(ctx context.Context, s *domain.SharingSession, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	contacts, err := d.contacts.FindByIDs(ctx, s.OwnerID, s.Recipients)
	if err != nil {
		return false, fmt.Errorf("resolve share recipients: %w", err)
	}
	for _, c := range contacts {
		if c.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// toRecipients drops contacts whose push subscription is known to be gone.
func toRecipients(contacts []domain.EmergencyContact) []notify.Recipient {
	out := make([]notify.Recipient, 0, len(contacts))
	for _, c := range contacts {
		if !c.Reachable() {
			continue
		}
		out = append(out, notify.Recipient{
			ID:      c.ID,
			Name:    c.Name,
			Channel: c.Channel,
			Address: c.Address,
		})
	}
	return out
}

type ContactInput struct {
	Name      string
	Channel   domain.ContactChannel
	Address   string
	UserID    string
	IsPrimary bool
}

// ContactPatch lists the fields an update changes. Nil fields are kept.
type ContactPatch struct {
	Name    *string
	Channel *domain.ContactChannel
	Address *string
	UserID  *string
}

// ContactService manages the emergency contacts of an owner. The first
// contact an owner adds becomes the primary one.
type ContactService struct {
	contacts repository.ContactRepository
	logger   *slog.Logger
	now      func() time.Time
}

func NewContactService(contacts repository.ContactRepository, logger *slog.Logger) *ContactService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactService{contacts: contacts, logger: logger, now: time.Now}
}

func (s *ContactService) List(ctx context.Context, ownerID string) ([]domain.EmergencyContact, error) {
	return s.contacts.ListByOwner(ctx, ownerID)
}

// validateContact normalises c in place.
func validateContact(c *domain.EmergencyContact) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	c.UserID = strings.TrimSpace(c.UserID)
	if c.Channel == "" {
		c.Channel = domain.ChannelLog
	}
	if c.Name == "" || c.Address == "" {
		return fmt.Errorf("%w: name and address are required", ErrInvalidContact)
	}
	if c.UserID != "" && c.UserID == c.OwnerID {
		return fmt.Errorf("%w: a contact cannot link to its owner", ErrInvalidContact)
	}
	switch c.Channel {
	case domain.ChannelLog:
	case domain.ChannelWebPush:
		if _, err := notify.ParsePushSubscription(c.Address); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidContact, err)
		}
	default:
		return fmt.Errorf("%w: unsupported channel %q", ErrInvalidContact, c.Channel)
	}
	return nil
}

func (s *ContactService) Add(ctx context.Context, ownerID string, in ContactInput) (*domain.EmergencyContact, error) {
	now := s.now().UTC()
	c := &domain.EmergencyContact{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      in.Name,
		Channel:   in.Channel,
		Address:   in.Address,
		UserID:    in.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validateContact(c); err != nil {
		return nil, err
	}

	existing, err := s.contacts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.contacts.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create emergency contact: %w", err)
	}
	if len(existing) == 0 || in.IsPrimary {
		if err := s.SetPrimary(ctx, ownerID, c.ID); err != nil {
			return nil, err
		}
		c.IsPrimary = true
	}
	return c, nil
}

// Update applies p to one of the owner's contacts. Changing the channel or
// address clears a gone push subscription.
func (s *ContactService) Update(ctx context.Context, ownerID, id string, p ContactPatch) (*domain.EmergencyContact, error) {
	found, err := s.contacts.FindByIDs(ctx, ownerID, []string{id})
	if err != nil {
		return nil, fmt.Errorf("find emergency contact: %w", err)
	}
	if len(found) == 0 {
		return nil, ErrContactNotFound
	}
	c := found[0]
	readdressed := false
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Channel != nil && *p.Channel != c.Channel {
		c.Channel = *p.Channel
		readdressed = true
	}
	if p.Address != nil && strings.TrimSpace(*p.Address) != c.Address {
		c.Address = *p.Address
		readdressed = true
	}
	if p.UserID != nil {
		c.UserID = *p.UserID
	}
	if err := validateContact(&c); err != nil {
		return nil, err
	}
	if readdressed {
		c.SubscriptionGoneAt = nil
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.contacts.Update(ctx, &c); err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("update emergency contact: %w", err)
	}
	return &c, nil
}

// SubscriptionGone flags a contact whose push subscription the push service
// rejected as expired, so later alerts skip it.
func (s *ContactService) SubscriptionGone(ctx context.Context, contactID string) {
	if err := s.contacts.MarkSubscriptionGone(ctx, contactID, s.now().UTC()); err != nil {
		s.logger.Error("flag expired push subscription failed", "contact_id", contactID, "error", err)
		return
	}
	s.logger.Warn("push subscription expired, contact skipped until readdressed", "contact_id", contactID)
}

func (s *ContactService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.contacts.Delete(ctx, ownerID, id); err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			return ErrContactNotFound
		}
		return fmt.Errorf("delete emergency contact: %w", err)
	}
	return nil
}

func (s *ContactService) SetPrimary(ctx context.Context, ownerID, id string) error {
	if err := s.contacts.SetPrimary(ctx, ownerID, id); err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			return ErrContactNotFound
		}
		return fmt.Errorf("set primary emergency contact: %w", err)
	}
	return nil
}
