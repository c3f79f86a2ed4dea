package domain

import (
	"fmt"
	"time"
)

type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// MapsURL links the position on Google Maps, the format recipients receive in alerts.
func (p Position) MapsURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%.6f,%.6f", p.Latitude, p.Longitude)
}
