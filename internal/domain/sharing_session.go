package domain

import "time"

type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionExpired   SessionState = "expired"
	SessionCancelled SessionState = "cancelled"
)

func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionCancelled
}

// SharingSession is a time-boxed location broadcast owned by one user.
// ExpiresAt is fixed at creation and never extended.
type SharingSession struct {
	ID                string        `gorm:"primaryKey;size:36" json:"id"`
	OwnerID           string        `gorm:"size:64;index;not null" json:"owner_id"`
	Recipients        []string      `gorm:"serializer:json;not null" json:"recipients"`
	Duration          time.Duration `gorm:"not null" json:"duration"`
	State             SessionState  `gorm:"size:16;index;not null" json:"state"`
	StartedAt         time.Time     `gorm:"not null" json:"started_at"`
	ExpiresAt         time.Time     `gorm:"index;not null" json:"expires_at"`
	LastKnownPosition *Position     `gorm:"serializer:json" json:"last_known_position,omitempty"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// SharingSessionUpdate carries the fields a single store write may change.
// Nil fields are left untouched.
type SharingSessionUpdate struct {
	State             *SessionState
	LastKnownPosition *Position
	EndedAt           *time.Time
	UpdatedAt         time.Time
}

func (s *SharingSession) Clone() *SharingSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Recipients = append([]string(nil), s.Recipients...)
	if s.LastKnownPosition != nil {
		p := *s.LastKnownPosition
		c.LastKnownPosition = &p
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Apply copies the non-nil fields of u onto s.
func (s *SharingSession) Apply(u SharingSessionUpdate) {
	if u.State != nil {
		s.State = *u.State
	}
	if u.LastKnownPosition != nil {
		p := *u.LastKnownPosition
		s.LastKnownPosition = &p
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
	if !u.UpdatedAt.IsZero() {
		s.UpdatedAt = u.UpdatedAt
	}
}
