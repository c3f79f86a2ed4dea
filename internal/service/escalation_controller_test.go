package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
)

type escalationFixture struct {
	controller *EscalationController
	store      *flakyEscalationStore
	sessions   *SessionManager
	provider   *scriptedProvider
	notifier   *fakeNotifier
	directory  *staticDirectory
}

func newEscalationFixture(t *testing.T, opts EscalationOptions) *escalationFixture {
	t.Helper()
	provider := &scriptedProvider{}
	sessions := NewSessionManager(repository.NewInMemorySharingSessionRepository(), provider, SessionManagerOptions{
		TickInterval: time.Hour,
		Logger:       discardLogger(),
	})
	f := &escalationFixture{
		store:    &flakyEscalationStore{InMemoryEscalationRepository: repository.NewInMemoryEscalationRepository()},
		sessions: sessions,
		provider: provider,
		notifier: &fakeNotifier{fail: map[string]bool{}},
		directory: &staticDirectory{contacts: map[string][]notify.Recipient{
			"alice": {
				{ID: "mom", Name: "Mom", Channel: domain.ChannelLog, Address: "+15550001"},
				{ID: "sis", Name: "Sis", Channel: domain.ChannelLog, Address: "+15550002"},
			},
		}},
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.MaxCountdown == 0 {
		opts.MaxCountdown = time.Minute
	}
	f.controller = NewEscalationController(f.store, sessions, provider, f.directory, f.notifier, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.controller.Shutdown(ctx)
		_ = sessions.Shutdown(ctx)
	})
	return f
}

func TestCancelledCountdownNeverFires(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()

	esc, err := f.controller.StartCountdown(ctx, "alice", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := f.controller.CancelCountdown(ctx, esc.ID); err != nil {
		t.Fatalf("cancel countdown: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	if n := f.notifier.callCount(); n != 0 {
		t.Fatalf("expected no notification, got %d calls", n)
	}
	got, err := f.controller.GetEscalation(ctx, esc.ID)
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if got.State != domain.EscalationCancelled || got.CancelledAt == nil {
		t.Fatalf("expected cancelled escalation, got %+v", got)
	}
}

func TestCountdownFiresOnceWithResolvedRecipients(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()

	esc, err := f.controller.StartCountdown(ctx, "alice", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	if !esc.FireAt.Equal(esc.StartedAt.Add(50 * time.Millisecond)) {
		t.Fatalf("fire_at %s != started_at %s + 50ms", esc.FireAt, esc.StartedAt)
	}

	waitFor(t, 2*time.Second, func() bool {
		stored, err := f.store.Get(ctx, esc.ID)
		return err == nil && stored.State == domain.EscalationFired && len(stored.Deliveries) == 2
	})
	time.Sleep(100 * time.Millisecond)

	if n := f.notifier.callCount(); n != 1 {
		t.Fatalf("expected exactly one notification fan-out, got %d", n)
	}
	call := f.notifier.lastCall()
	if len(call.recipients) != 2 || call.recipients[0].ID != "mom" || call.recipients[1].ID != "sis" {
		t.Fatalf("unexpected recipients: %+v", call.recipients)
	}
	if call.message.Kind != notify.KindPanic {
		t.Fatalf("unexpected message kind %q", call.message.Kind)
	}
	got, _ := f.controller.GetEscalation(ctx, esc.ID)
	if got.State != domain.EscalationFired || !got.ActionTaken || got.FiredAt == nil {
		t.Fatalf("unexpected escalation: %+v", got)
	}

	// Late cancel and repeated fire are no-ops.
	if err := f.controller.CancelCountdown(ctx, esc.ID); err != nil {
		t.Fatalf("cancel after fire: %v", err)
	}
	if _, err := f.controller.Fire(ctx, esc.ID); err != nil {
		t.Fatalf("fire after fire: %v", err)
	}
	if n := f.notifier.callCount(); n != 1 {
		t.Fatalf("expected still one fan-out, got %d", n)
	}
}

func TestConcurrentFireNotifiesOnce(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.controller.Fire(ctx, esc.ID)
		}()
	}
	wg.Wait()

	if n := f.notifier.callCount(); n != 1 {
		t.Fatalf("expected one fan-out, got %d", n)
	}
}

func TestSendNowUsesActiveSharePosition(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()

	s, err := f.sessions.StartSession(ctx, "alice", []string{"mom"}, time.Hour)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	f.provider.push(domain.Position{Latitude: 51.5, Longitude: -0.1}, nil)
	f.sessions.Tick(ctx, s.ID)

	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	got, err := f.controller.Fire(ctx, esc.ID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.Position == nil || got.Position.Latitude != 51.5 {
		t.Fatalf("expected share position on alert, got %+v", got.Position)
	}
	msg := f.notifier.lastCall().message
	if msg.MapsURL != "https://www.google.com/maps?q=51.500000,-0.100000" {
		t.Fatalf("unexpected maps url %q", msg.MapsURL)
	}
}

func TestFireFallsBackToOneShotFetch(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	f.provider.push(domain.Position{Latitude: 1, Longitude: 2}, nil)

	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	got, err := f.controller.Fire(ctx, esc.ID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.Position == nil || got.Position.Longitude != 2 {
		t.Fatalf("expected fetched position, got %+v", got.Position)
	}
}

func TestFireWithoutPositionStillNotifies(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	f.provider.push(domain.Position{}, location.ErrPermissionDenied)

	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	got, err := f.controller.Fire(ctx, esc.ID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.Position != nil {
		t.Fatalf("expected no position, got %+v", got.Position)
	}
	if !got.ActionTaken || f.notifier.callCount() != 1 {
		t.Fatalf("expected alert to go out without position: %+v", got)
	}
}

func TestPartialDeliveryStillCountsAsActionTaken(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	f.notifier.fail["mom"] = true
	ctx := context.Background()

	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	got, err := f.controller.Fire(ctx, esc.ID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.State != domain.EscalationFired || !got.ActionTaken {
		t.Fatalf("expected fired with action taken, got %+v", got)
	}
	if got.Deliveries[0].Delivered || got.Deliveries[0].Error == "" || !got.Deliveries[1].Delivered {
		t.Fatalf("unexpected deliveries: %+v", got.Deliveries)
	}

	f.notifier.fail["sis"] = true
	esc2, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	got2, _ := f.controller.Fire(ctx, esc2.ID)
	if got2.State != domain.EscalationFired || got2.ActionTaken {
		t.Fatalf("expected fired without action taken, got %+v", got2)
	}
}

func TestFireWithoutContacts(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()

	esc, _ := f.controller.StartCountdown(ctx, "nobody", time.Minute)
	got, err := f.controller.Fire(ctx, esc.ID)
	if !errors.Is(err, ErrNoEmergencyContacts) {
		t.Fatalf("expected ErrNoEmergencyContacts, got %v", err)
	}
	if got.State != domain.EscalationFired || got.ActionTaken {
		t.Fatalf("unexpected escalation: %+v", got)
	}
	if f.notifier.callCount() != 0 {
		t.Fatal("expected no fan-out without recipients")
	}
}

func TestStartCountdownBounds(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{DefaultCountdown: 5 * time.Second, MaxCountdown: 30 * time.Second})
	ctx := context.Background()

	if _, err := f.controller.StartCountdown(ctx, "alice", 31*time.Second); !errors.Is(err, ErrInvalidCountdown) {
		t.Fatalf("expected ErrInvalidCountdown, got %v", err)
	}
	esc, err := f.controller.StartCountdown(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("start default countdown: %v", err)
	}
	if got := esc.FireAt.Sub(esc.StartedAt); got != 5*time.Second {
		t.Fatalf("expected default 5s countdown, got %s", got)
	}
	if err := f.controller.CancelCountdown(ctx, esc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestEscalationNotFound(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	if _, err := f.controller.GetEscalation(ctx, "missing"); !errors.Is(err, ErrEscalationNotFound) {
		t.Fatalf("get: expected ErrEscalationNotFound, got %v", err)
	}
	if err := f.controller.CancelCountdown(ctx, "missing"); !errors.Is(err, ErrEscalationNotFound) {
		t.Fatalf("cancel: expected ErrEscalationNotFound, got %v", err)
	}
	if _, err := f.controller.Fire(ctx, "missing"); !errors.Is(err, ErrEscalationNotFound) {
		t.Fatalf("fire: expected ErrEscalationNotFound, got %v", err)
	}
}

func TestAbandonStaleCancelsOrphanedCountdowns(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	started := time.Now().UTC()
	orphan := &domain.PanicEscalation{
		ID:        "orphan",
		OwnerID:   "alice",
		State:     domain.EscalationCounting,
		StartedAt: started,
		FireAt:    started.Add(5 * time.Second),
	}
	if err := f.store.Create(ctx, orphan); err != nil {
		t.Fatalf("seed: %v", err)
	}
	live, err := f.controller.StartCountdown(ctx, "bob", time.Minute)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	n, err := f.controller.AbandonStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one abandoned escalation, got n=%d err=%v", n, err)
	}
	got, err := f.controller.GetEscalation(ctx, "orphan")
	if err != nil || got.State != domain.EscalationCancelled || got.CancelledAt == nil {
		t.Fatalf("expected orphan cancelled, got %+v err=%v", got, err)
	}
	still, err := f.controller.GetEscalation(ctx, live.ID)
	if err != nil || still.State != domain.EscalationCounting {
		t.Fatalf("live countdown must stay counting, got %+v err=%v", still, err)
	}
	if f.notifier.callCount() != 0 {
		t.Fatal("abandoning must not notify anyone")
	}
}

func TestFiredStateIsStoredBeforeFanOut(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	f.notifier.hold = make(chan struct{})
	f.notifier.entered = make(chan struct{}, 1)
	ctx := context.Background()
	esc, err := f.controller.StartCountdown(ctx, "alice", time.Minute)
	if err != nil {
		t.Fatalf("start countdown: %v", err)
	}

	done := make(chan *domain.PanicEscalation, 1)
	go func() {
		fired, _ := f.controller.Fire(ctx, esc.ID)
		done <- fired
	}()
	<-f.notifier.entered

	stored, err := f.store.Get(ctx, esc.ID)
	if err != nil {
		t.Fatalf("get stored escalation: %v", err)
	}
	if stored.State != domain.EscalationFired || stored.FiredAt == nil || len(stored.Deliveries) != 0 {
		t.Fatalf("expected fired row without outcome during fan-out, got %+v", stored)
	}

	// A process starting now must not treat the alert as an orphaned countdown.
	restarted := NewEscalationController(f.store, nil, nil, f.directory, &fakeNotifier{}, EscalationOptions{Logger: discardLogger()})
	if n, err := restarted.AbandonStale(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing to abandon, got n=%d err=%v", n, err)
	}
	_ = restarted.Shutdown(ctx)

	close(f.notifier.hold)
	fired := <-done
	if fired == nil || fired.State != domain.EscalationFired || len(fired.Deliveries) != 2 {
		t.Fatalf("unexpected fired escalation: %+v", fired)
	}
	stored, _ = f.store.Get(ctx, esc.ID)
	if stored.State != domain.EscalationFired || len(stored.Deliveries) != 2 {
		t.Fatalf("expected outcome stored, got %+v", stored)
	}
}

func TestFiredStateWriteFailureStillAlerts(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)

	f.store.failSaves.Store(1)
	fired, err := f.controller.Fire(ctx, esc.ID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if f.notifier.callCount() != 1 || !fired.ActionTaken {
		t.Fatalf("alert must go out despite the failed write, calls=%d esc=%+v", f.notifier.callCount(), fired)
	}
	stored, _ := f.store.Get(ctx, esc.ID)
	if stored.State != domain.EscalationFired || len(stored.Deliveries) != 2 {
		t.Fatalf("expected outcome write to store the fired state, got %+v", stored)
	}
}

func TestUnstoredFiredEscalationIsNotAbandoned(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)

	f.store.failSaves.Store(2)
	if _, err := f.controller.Fire(ctx, esc.ID); err != nil {
		t.Fatalf("fire: %v", err)
	}
	stored, _ := f.store.Get(ctx, esc.ID)
	if stored.State != domain.EscalationCounting {
		t.Fatalf("expected both writes to have failed, got %s", stored.State)
	}
	got, err := f.controller.GetEscalation(ctx, esc.ID)
	if err != nil || got.State != domain.EscalationFired {
		t.Fatalf("expected fired state served from memory, got %+v err=%v", got, err)
	}
	if n, err := f.controller.AbandonStale(ctx); err != nil || n != 0 {
		t.Fatalf("live fired escalation must not be abandoned, got n=%d err=%v", n, err)
	}
}

func TestShutdownWaitsForCountdownFanOut(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	f.notifier.hold = make(chan struct{})
	f.notifier.entered = make(chan struct{}, 1)
	ctx := context.Background()
	if _, err := f.controller.StartCountdown(ctx, "alice", 10*time.Millisecond); err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	<-f.notifier.entered

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := f.controller.Shutdown(short); err == nil {
		t.Fatal("expected shutdown to wait for the running fan-out")
	}
	close(f.notifier.hold)
	waitFor(t, 2*time.Second, func() bool { return f.notifier.callCount() == 1 })
}

func TestShutdownReleasesCancelledCountdowns(t *testing.T) {
	f := newEscalationFixture(t, EscalationOptions{})
	ctx := context.Background()
	esc, _ := f.controller.StartCountdown(ctx, "alice", time.Minute)
	if _, err := f.controller.StartCountdown(ctx, "bob", time.Minute); err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	if err := f.controller.CancelCountdown(ctx, esc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := f.controller.Shutdown(short); err != nil {
		t.Fatalf("shutdown with no running fan-out: %v", err)
	}
}
