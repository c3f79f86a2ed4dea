package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore records writes on top of the in-memory repository.
type countingStore struct {
	*repository.InMemorySharingSessionRepository
	updates        atomic.Int32
	stateUpdates   atomic.Int32
	positionWrites atomic.Int32
	failUpdates    atomic.Bool
	failCreates    atomic.Bool
	beforeCreate   func()
}

func newCountingStore() *countingStore {
	return &countingStore{InMemorySharingSessionRepository: repository.NewInMemorySharingSessionRepository()}
}

func (s *countingStore) Create(ctx context.Context, session *domain.SharingSession) error {
	if s.failCreates.Load() {
		return errors.New("store unreachable")
	}
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	return s.InMemorySharingSessionRepository.Create(ctx, session)
}

func (s *countingStore) Update(ctx context.Context, id string, u domain.SharingSessionUpdate) error {
	if s.failUpdates.Load() {
		return errors.New("store unreachable")
	}
	s.updates.Add(1)
	if u.State != nil {
		s.stateUpdates.Add(1)
	}
	if u.LastKnownPosition != nil {
		s.positionWrites.Add(1)
	}
	return s.InMemorySharingSessionRepository.Update(ctx, id, u)
}

// flakyEscalationStore fails the next failSaves calls to Save.
type flakyEscalationStore struct {
	*repository.InMemoryEscalationRepository
	failSaves atomic.Int32
}

func (s *flakyEscalationStore) Save(ctx context.Context, e *domain.PanicEscalation) error {
	if s.failSaves.Add(-1) >= 0 {
		return errors.New("store unreachable")
	}
	s.failSaves.Store(0)
	return s.InMemoryEscalationRepository.Save(ctx, e)
}

type providerResult struct {
	pos domain.Position
	err error
}

// scriptedProvider returns queued results in order, then ErrUnavailable.
type scriptedProvider struct {
	mu      sync.Mutex
	results []providerResult
	calls   int
	hook    func()
}

func (p *scriptedProvider) push(pos domain.Position, err error) {
	p.mu.Lock()
	p.results = append(p.results, providerResult{pos: pos, err: err})
	p.mu.Unlock()
}

func (p *scriptedProvider) CurrentPosition(context.Context, string) (domain.Position, error) {
	p.mu.Lock()
	p.calls++
	hook := p.hook
	var res providerResult
	if len(p.results) == 0 {
		res = providerResult{err: location.ErrUnavailable}
	} else {
		res = p.results[0]
		p.results = p.results[1:]
	}
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return res.pos, res.err
}

type notifyCall struct {
	recipients []notify.Recipient
	message    notify.Message
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	fail  map[string]bool

	// When hold is set, Notify signals entered and blocks until hold closes.
	hold    chan struct{}
	entered chan struct{}
}

func (n *fakeNotifier) Notify(_ context.Context, recipients []notify.Recipient, m notify.Message) []domain.Delivery {
	if n.hold != nil {
		n.entered <- struct{}{}
		<-n.hold
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{recipients: append([]notify.Recipient(nil), recipients...), message: m})
	out := make([]domain.Delivery, 0, len(recipients))
	for _, r := range recipients {
		d := domain.Delivery{RecipientID: r.ID, Name: r.Name, Channel: string(r.Channel), Delivered: true}
		if n.fail[r.ID] {
			d.Delivered = false
			d.Error = "unreachable"
		}
		out = append(out, d)
	}
	return out
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *fakeNotifier) lastCall() notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

type staticDirectory struct {
	contacts map[string][]notify.Recipient
	err      error
}

func (d *staticDirectory) Resolve(_ context.Context, ownerID string, ids []string) ([]notify.Recipient, error) {
	if d.err != nil {
		return nil, d.err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []notify.Recipient
	for _, r := range d.contacts[ownerID] {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *staticDirectory) EmergencyContacts(_ context.Context, ownerID string) ([]notify.Recipient, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.contacts[ownerID], nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (o *recordingObserver) SessionChanged(ev SessionEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() []SessionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SessionEvent(nil), o.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

type managerFixture struct {
	manager  *SessionManager
	store    *countingStore
	provider *scriptedProvider
	clock    *fakeClock
	observer *recordingObserver
}

func newManagerFixture(t *testing.T, mutate func(*SessionManagerOptions)) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    newCountingStore(),
		provider: &scriptedProvider{},
		clock:    newFakeClock(),
		observer: &recordingObserver{},
	}
	opts := SessionManagerOptions{
		TickInterval:    time.Hour,
		LocationTimeout: time.Second,
		Logger:          discardLogger(),
		Now:             f.clock.Now,
		NewID:           sequentialIDs("share"),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.manager = NewSessionManager(f.store, f.provider, opts, f.observer)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
