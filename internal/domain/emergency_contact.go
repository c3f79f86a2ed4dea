package domain

import "time"

type ContactChannel string

const (
	ChannelLog     ContactChannel = "log"
	ChannelWebPush ContactChannel = "webpush"
)

// EmergencyContact is a person an owner may alert. Share recipients are
// contact ids; UserID links the contact to an account that may then view the
// owner's shares.
type EmergencyContact struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string         `gorm:"size:64;index;not null" json:"owner_id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	Channel   ContactChannel `gorm:"size:16;not null" json:"channel"`
	Address   string         `gorm:"size:2048;not null" json:"address"`
	UserID    string         `gorm:"size:64;index" json:"user_id,omitempty"`
	IsPrimary bool           `gorm:"not null;default:false" json:"is_primary"`

	// SubscriptionGoneAt is set when the push service reported the address
	// expired. The contact is skipped until its address changes.
	SubscriptionGoneAt *time.Time `json:"subscription_gone_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reachable reports whether notifications to c can still be attempted.
func (c EmergencyContact) Reachable() bool {
	return c.SubscriptionGoneAt == nil
}
