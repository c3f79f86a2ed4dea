package domain

import (
	"testing"
	"time"
)

func TestSharingSessionCloneIsDeep(t *testing.T) {
	ended := time.Now()
	s := &SharingSession{
		ID:                "s1",
		Recipients:        []string{"a", "b"},
		LastKnownPosition: &Position{Latitude: 1, Longitude: 2},
		EndedAt:           &ended,
	}
	c := s.Clone()
	c.Recipients[0] = "z"
	c.LastKnownPosition.Latitude = 9
	if s.Recipients[0] != "a" {
		t.Fatal("clone must not share recipients")
	}
	if s.LastKnownPosition.Latitude != 1 {
		t.Fatal("clone must not share position")
	}
}

func TestSharingSessionApplySkipsNilFields(t *testing.T) {
	pos := Position{Latitude: 10, Longitude: 20}
	s := &SharingSession{State: SessionActive, LastKnownPosition: &pos}
	cancelled := SessionCancelled
	s.Apply(SharingSessionUpdate{State: &cancelled})
	if s.State != SessionCancelled {
		t.Fatalf("expected cancelled, got %s", s.State)
	}
	if s.LastKnownPosition == nil || s.LastKnownPosition.Latitude != 10 {
		t.Fatal("nil position in update must leave existing position untouched")
	}
}

func TestPositionMapsURL(t *testing.T) {
	got := Position{Latitude: 28.6139, Longitude: 77.209}.MapsURL()
	want := "https://www.google.com/maps?q=28.613900,77.209000"
	if got != want {
		t.Fatalf("MapsURL()=%q want %q", got, want)
	}
}
