package domain

import (
	"strings"
	"time"
)

type EscalationState string

const (
	EscalationCounting  EscalationState = "counting"
	EscalationFired     EscalationState = "fired"
	EscalationCancelled EscalationState = "cancelled"
)

// ParseEscalationState accepts the three state names, case-insensitively.
func ParseEscalationState(raw string) (EscalationState, bool) {
	switch st := EscalationState(strings.ToLower(strings.TrimSpace(raw))); st {
	case EscalationCounting, EscalationFired, EscalationCancelled:
		return st, true
	}
	return "", false
}

// PanicEscalation is the countdown that gates emergency notification.
// It leaves EscalationCounting at most once.
type PanicEscalation struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string          `gorm:"size:64;index;not null" json:"owner_id"`
	State       EscalationState `gorm:"size:16;index;not null" json:"state"`
	StartedAt   time.Time       `gorm:"not null" json:"started_at"`
	FireAt      time.Time       `gorm:"not null" json:"fire_at"`
	FiredAt     *time.Time      `json:"fired_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Position    *Position       `gorm:"serializer:json" json:"position,omitempty"`
	Deliveries  []Delivery      `gorm:"serializer:json" json:"deliveries,omitempty"`
	ActionTaken bool            `gorm:"not null;default:false" json:"action_taken"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Delivery is the outcome of one notification attempt to one recipient.
type Delivery struct {
	RecipientID string `json:"recipient_id"`
	Name        string `json:"name,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Delivered   bool   `json:"delivered"`
	Error       string `json:"error,omitempty"`
}

func (e *PanicEscalation) Clone() *PanicEscalation {
	if e == nil {
		return nil
	}
	c := *e
	if e.FiredAt != nil {
		t := *e.FiredAt
		c.FiredAt = &t
	}
	if e.CancelledAt != nil {
		t := *e.CancelledAt
		c.CancelledAt = &t
	}
	if e.Position != nil {
		p := *e.Position
		c.Position = &p
	}
	c.Deliveries = append([]Delivery(nil), e.Deliveries...)
	return &c
}

// AnyDelivered reports whether at least one recipient was reached.
func AnyDelivered(deliveries []Delivery) bool {
	for _, d := range deliveries {
		if d.Delivered {
			return true
		}
	}
	return false
}
