package service

import "errors"

var (
	ErrInvalidRecipients    = errors.New("at least one recipient is required")
	ErrInvalidDuration      = errors.New("duration is not an allowed share duration")
	ErrNotOwner             = errors.New("requester does not own this session")
	ErrSessionAlreadyActive = errors.New("owner already has an active sharing session")
	ErrSessionNotFound      = errors.New("sharing session not found")
	ErrEscalationNotFound   = errors.New("panic escalation not found")
	ErrInvalidCountdown     = errors.New("countdown exceeds the allowed maximum")
	ErrNoEmergencyContacts  = errors.New("no emergency contacts to notify")
	ErrInvalidContact       = errors.New("invalid emergency contact")
	ErrContactNotFound      = errors.New("emergency contact not found")
	ErrManagerClosed        = errors.New("session manager is shut down")
)
