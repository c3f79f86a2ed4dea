package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
)

func TestContactServiceFirstContactIsPrimary(t *testing.T) {
	repo := repository.NewInMemoryContactRepository()
	svc := NewContactService(repo, discardLogger())
	ctx := context.Background()

	first, err := svc.Add(ctx, "alice", ContactInput{Name: "Mom", Address: "+15550001"})
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	if !first.IsPrimary || first.Channel != domain.ChannelLog {
		t.Fatalf("expected first contact primary on log channel, got %+v", first)
	}
	second, err := svc.Add(ctx, "alice", ContactInput{Name: "Sis", Address: "+15550002"})
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.IsPrimary {
		t.Fatal("second contact must not become primary implicitly")
	}

	if err := svc.SetPrimary(ctx, "alice", second.ID); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	recipients, err := NewContactDirectory(repo).EmergencyContacts(ctx, "alice")
	if err != nil {
		t.Fatalf("emergency contacts: %v", err)
	}
	if len(recipients) != 2 || recipients[0].ID != second.ID {
		t.Fatalf("expected new primary first, got %+v", recipients)
	}

	if err := svc.Delete(ctx, "bob", first.ID); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound for foreign delete, got %v", err)
	}
	if err := svc.SetPrimary(ctx, "alice", "missing"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestContactServiceValidation(t *testing.T) {
	svc := NewContactService(repository.NewInMemoryContactRepository(), discardLogger())
	ctx := context.Background()

	tests := []struct {
		name string
		in   ContactInput
	}{
		{name: "missing name", in: ContactInput{Address: "+1555"}},
		{name: "missing address", in: ContactInput{Name: "Mom"}},
		{name: "unknown channel", in: ContactInput{Name: "Mom", Address: "x", Channel: "pigeon"}},
		{name: "linked to owner", in: ContactInput{Name: "Me", Address: "x", UserID: "alice"}},
		{name: "bad subscription", in: ContactInput{Name: "Mom", Address: `{"endpoint":""}`, Channel: domain.ChannelWebPush}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Add(ctx, "alice", tc.in); !errors.Is(err, ErrInvalidContact) {
				t.Fatalf("expected ErrInvalidContact, got %v", err)
			}
		})
	}
}

func TestContactDirectoryResolveDropsUnknownIDs(t *testing.T) {
	repo := repository.NewInMemoryContactRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.EmergencyContact{ID: "c1", OwnerID: "alice", Name: "Mom", Channel: domain.ChannelLog, Address: "a"})
	_ = repo.Create(ctx, &domain.EmergencyContact{ID: "c2", OwnerID: "bob", Name: "Other", Channel: domain.ChannelLog, Address: "b"})

	got, err := NewContactDirectory(repo).Resolve(ctx, "alice", []string{"c1", "c2", "zzz"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" || got[0].Name != "Mom" {
		t.Fatalf("unexpected recipients: %+v", got)
	}
}

func TestContactServiceUpdate(t *testing.T) {
	repo := repository.NewInMemoryContactRepository()
	svc := NewContactService(repo, discardLogger())
	ctx := context.Background()

	c, err := svc.Add(ctx, "alice", ContactInput{Name: "Bob", Address: "bob@example.com"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	name, user := "  Robert ", "bob"
	updated, err := svc.Update(ctx, "alice", c.ID, ContactPatch{Name: &name, UserID: &user})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Robert" || updated.UserID != "bob" || updated.Address != "bob@example.com" || !updated.IsPrimary {
		t.Fatalf("unexpected updated contact %+v", updated)
	}

	if _, err := svc.Update(ctx, "mallory", c.ID, ContactPatch{Name: &name}); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound for foreign update, got %v", err)
	}
	blank := " "
	if _, err := svc.Update(ctx, "alice", c.ID, ContactPatch{Address: &blank}); !errors.Is(err, ErrInvalidContact) {
		t.Fatalf("expected ErrInvalidContact, got %v", err)
	}
	stored, _ := repo.FindByIDs(ctx, "alice", []string{c.ID})
	if len(stored) != 1 || stored[0].Address != "bob@example.com" {
		t.Fatalf("rejected update must not be stored: %+v", stored)
	}
}

func TestGoneSubscriptionSkippedUntilReaddressed(t *testing.T) {
	var logs bytes.Buffer
	repo := repository.NewInMemoryContactRepository()
	svc := NewContactService(repo, bufferLogger(&logs))
	dir := NewContactDirectory(repo)
	ctx := context.Background()

	c, err := svc.Add(ctx, "alice", ContactInput{Name: "Bob", Address: "bob@example.com"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	svc.SubscriptionGone(ctx, c.ID)
	if !strings.Contains(logs.String(), "push subscription expired") {
		t.Fatalf("expected gone subscription to be logged, got %s", logs.String())
	}

	recipients, err := dir.EmergencyContacts(ctx, "alice")
	if err != nil {
		t.Fatalf("emergency contacts: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("expected gone contact to be skipped, got %+v", recipients)
	}

	addr := "bob@example.org"
	updated, err := svc.Update(ctx, "alice", c.ID, ContactPatch{Address: &addr})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.SubscriptionGoneAt != nil {
		t.Fatalf("readdressing must clear the gone flag: %+v", updated)
	}
	recipients, _ = dir.EmergencyContacts(ctx, "alice")
	if len(recipients) != 1 || recipients[0].Address != addr {
		t.Fatalf("expected readdressed contact to be reachable, got %+v", recipients)
	}
}

func TestContactDirectoryIsRecipient(t *testing.T) {
	repo := repository.NewInMemoryContactRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.EmergencyContact{ID: "c1", OwnerID: "alice", Name: "Bob", Channel: domain.ChannelLog, Address: "a", UserID: "bob"})
	_ = repo.Create(ctx, &domain.EmergencyContact{ID: "c2", OwnerID: "alice", Name: "Carol", Channel: domain.ChannelLog, Address: "b", UserID: "carol"})
	_ = repo.Create(ctx, &domain.EmergencyContact{ID: "c3", OwnerID: "mallory", Name: "Bob", Channel: domain.ChannelLog, Address: "c", UserID: "bob"})
	dir := NewContactDirectory(repo)

	s := &domain.SharingSession{ID: "share-1", OwnerID: "alice", Recipients: []string{"c1", "c3"}}
	tests := []struct {
		user string
		want bool
	}{
		{user: "bob", want: true},
		{user: "carol", want: false},
		{user: "mallory", want: false},
		{user: "", want: false},
	}
	for _, tc := range tests {
		got, err := dir.IsRecipient(ctx, s, tc.user)
		if err != nil {
			t.Fatalf("is recipient %q: %v", tc.user, err)
		}
		if got != tc.want {
			t.Fatalf("is recipient %q: expected %v, got %v", tc.user, tc.want, got)
		}
	}
}

func TestShareAnnouncerNotifiesResolvedRecipients(t *testing.T) {
	var logs bytes.Buffer
	n := &fakeNotifier{}
	dir := &staticDirectory{contacts: map[string][]notify.Recipient{
		"alice": {{ID: "mom", Name: "Mom", Channel: domain.ChannelLog}},
	}}
	a := NewShareAnnouncer(dir, n, "https://guardian.example", time.Second, bufferLogger(&logs))

	s := domain.SharingSession{
		ID: "share-1", OwnerID: "alice", Recipients: []string{"mom", "ghost"},
		Duration: time.Hour, ExpiresAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	a.SessionChanged(SessionEvent{Type: SessionStarted, Session: s})
	a.SessionChanged(SessionEvent{Type: SessionPosition, Session: s})
	a.SessionChanged(SessionEvent{Type: SessionCancelled, Session: s})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n.callCount() != 2 {
		t.Fatalf("expected start and end announcements, got %d", n.callCount())
	}
	var started *notifyCall
	for i := range n.calls {
		if n.calls[i].message.Kind == notify.KindShareStarted {
			started = &n.calls[i]
		}
	}
	if started == nil {
		t.Fatal("missing share started announcement")
	}
	if started.message.ShareURL != "https://guardian.example/api/v1/shares/share-1" {
		t.Fatalf("unexpected share url %q", started.message.ShareURL)
	}
	if !strings.Contains(started.message.Body, "1 hour") {
		t.Fatalf("expected duration label in body, got %q", started.message.Body)
	}
	if len(started.recipients) != 1 || started.recipients[0].ID != "mom" {
		t.Fatalf("unexpected recipients: %+v", started.recipients)
	}
	if !strings.Contains(logs.String(), "missing=1") {
		t.Fatalf("expected unresolved recipients to be logged, got %s", logs.String())
	}
}
