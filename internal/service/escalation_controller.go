package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type EscalationOptions struct {
	DefaultCountdown time.Duration
	MaxCountdown     time.Duration
	LocationTimeout  time.Duration
	NotifyTimeout    time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
	NewID            func() string
}

type escalationEntry struct {
	mu       sync.Mutex
	esc      *domain.PanicEscalation
	deferred *Deferred
}

// EscalationController runs panic countdowns. An escalation leaves the
// counting state exactly once, either by cancellation or by firing.
type EscalationController struct {
	store     EscalationStore
	sessions  ActiveSessionLookup
	provider  location.Provider
	directory RecipientDirectory
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	defaultCountdown time.Duration
	maxCountdown     time.Duration
	locationTimeout  time.Duration
	notifyTimeout    time.Duration

	mu      sync.Mutex
	entries map[string]*escalationEntry

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

func NewEscalationController(
	store EscalationStore,
	sessions ActiveSessionLookup,
	provider location.Provider,
	directory RecipientDirectory,
	notifier notify.Notifier,
	opts EscalationOptions,
) *EscalationController {
	if opts.DefaultCountdown <= 0 {
		opts.DefaultCountdown = 5 * time.Second
	}
	if opts.MaxCountdown < opts.DefaultCountdown {
		opts.MaxCountdown = opts.DefaultCountdown
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	baseCtx, stopAll := context.WithCancel(context.Background())
	return &EscalationController{
		store:            store,
		sessions:         sessions,
		provider:         provider,
		directory:        directory,
		notifier:         notifier,
		logger:           opts.Logger,
		now:              opts.Now,
		newID:            opts.NewID,
		defaultCountdown: opts.DefaultCountdown,
		maxCountdown:     opts.MaxCountdown,
		locationTimeout:  opts.LocationTimeout,
		notifyTimeout:    opts.NotifyTimeout,
		entries:          make(map[string]*escalationEntry),
		baseCtx:          baseCtx,
		stopAll:          stopAll,
	}
}

// StartCountdown opens a counting escalation that fires after countdown. A
// non-positive countdown selects the configured default.
func (c *EscalationController) StartCountdown(ctx context.Context, ownerID string, countdown time.Duration) (*domain.PanicEscalation, error) {
	if countdown <= 0 {
		countdown = c.defaultCountdown
	}
	if countdown > c.maxCountdown {
		return nil, ErrInvalidCountdown
	}
	now := c.now().UTC()
	e := &domain.PanicEscalation{
		ID:        c.newID(),
		OwnerID:   ownerID,
		State:     domain.EscalationCounting,
		StartedAt: now,
		FireAt:    now.Add(countdown),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create panic escalation: %w", err)
	}

	id := e.ID
	entry := &escalationEntry{esc: e.Clone()}
	entry.mu.Lock()
	c.mu.Lock()
	c.entries[id] = entry
	c.mu.Unlock()
	// The pending fire counts against wg from now on. disarm releases it when
	// the callback is cancelled before it runs.
	c.wg.Add(1)
	entry.deferred = ScheduleAt(e.FireAt, now, func() {
		defer c.wg.Done()
		if _, err := c.fire(c.baseCtx, id, "countdown"); err != nil && !errors.Is(err, ErrNoEmergencyContacts) {
			c.logger.Error("panic escalation fire failed", "escalation_id", id, "error", err)
		}
	})
	snapshot := entry.esc.Clone()
	entry.mu.Unlock()

	observability.RecordEscalationTransition(ctx, string(domain.EscalationCounting), "start")
	c.logger.Info("panic countdown started",
		"escalation_id", id,
		"owner_id", ownerID,
		"fire_at", e.FireAt,
	)
	return snapshot, nil
}

func (c *EscalationController) lookup(id string) *escalationEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

// disarm cancels the pending fire of e. Callers hold e.mu.
func (c *EscalationController) disarm(e *escalationEntry) {
	if e.deferred.Cancel() {
		c.wg.Done()
	}
}

func (c *EscalationController) unregister(id string, e *escalationEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[id] == e {
		delete(c.entries, id)
	}
}

// CancelCountdown stops a counting escalation. Cancelling a fired or already
// cancelled escalation is a no-op.
func (c *EscalationController) CancelCountdown(ctx context.Context, id string) error {
	e := c.lookup(id)
	if e == nil {
		if _, err := c.stored(ctx, id); err != nil {
			return err
		}
		return nil
	}

	e.mu.Lock()
	if e.esc.State != domain.EscalationCounting {
		e.mu.Unlock()
		return nil
	}
	now := c.now().UTC()
	cancelled := e.esc.Clone()
	cancelled.State = domain.EscalationCancelled
	cancelled.CancelledAt = &now
	cancelled.UpdatedAt = now
	if err := c.store.Save(ctx, cancelled); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("cancel panic escalation: %w", err)
	}
	e.esc = cancelled
	c.disarm(e)
	e.mu.Unlock()

	c.unregister(id, e)
	observability.RecordEscalationTransition(ctx, string(domain.EscalationCancelled), "owner")
	c.logger.Info("panic countdown cancelled", "escalation_id", id, "owner_id", cancelled.OwnerID)
	return nil
}

// Fire sends the emergency alert now instead of waiting for the countdown.
// It is a no-op on an escalation that already left the counting state.
func (c *EscalationController) Fire(ctx context.Context, id string) (*domain.PanicEscalation, error) {
	return c.fire(ctx, id, "send_now")
}

func (c *EscalationController) fire(ctx context.Context, id, trigger string) (*domain.PanicEscalation, error) {
	e := c.lookup(id)
	if e == nil {
		return c.stored(ctx, id)
	}

	e.mu.Lock()
	if e.esc.State != domain.EscalationCounting {
		snapshot := e.esc.Clone()
		e.mu.Unlock()
		return snapshot, nil
	}
	// The alert outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	// The transition is stored before fan-out, so a restart during delivery
	// finds the row fired rather than counting. A failed write does not hold
	// back the alert; the outcome write below retries it.
	firedAt := c.now().UTC()
	fired := e.esc.Clone()
	fired.State = domain.EscalationFired
	fired.FiredAt = &firedAt
	fired.UpdatedAt = firedAt
	if err := c.store.Save(ctx, fired); err != nil {
		c.logger.Error("panic escalation fired state write failed", "escalation_id", id, "error", err)
	}
	e.esc = fired
	c.disarm(e)
	ownerID := e.esc.OwnerID
	e.mu.Unlock()

	ctx, span := observability.Tracer().Start(ctx, "panic.escalation.fire",
		trace.WithAttributes(
			attribute.String("escalation.id", id),
			attribute.String("escalation.trigger", trigger),
		))
	defer span.End()

	observability.RecordEscalationTransition(ctx, string(domain.EscalationFired), trigger)
	c.logger.Warn("panic escalation fired", "escalation_id", id, "owner_id", ownerID, "trigger", trigger)

	pos := c.resolvePosition(ctx, ownerID)
	recipients, dirErr := c.directory.EmergencyContacts(ctx, ownerID)
	if dirErr != nil {
		span.RecordError(dirErr)
		c.logger.Error("emergency contacts lookup failed", "escalation_id", id, "owner_id", ownerID, "error", dirErr)
	}

	var deliveries []domain.Delivery
	if len(recipients) > 0 {
		notifyCtx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
		deliveries = c.notifier.Notify(notifyCtx, recipients, panicMessage(pos))
		cancel()
	}

	e.mu.Lock()
	e.esc.Position = pos
	e.esc.Deliveries = deliveries
	e.esc.ActionTaken = domain.AnyDelivered(deliveries)
	e.esc.UpdatedAt = c.now().UTC()
	snapshot := e.esc.Clone()
	e.mu.Unlock()

	// Until both writes land the entry stays registered, so reads and
	// AbandonStale see the in-memory fired state.
	if err := c.store.Save(ctx, snapshot); err != nil {
		span.RecordError(err)
		c.logger.Error("panic escalation outcome write failed", "escalation_id", id, "error", err)
	} else {
		c.unregister(id, e)
	}

	observability.RecordFireDuration(ctx, snapshot.ActionTaken, c.now().Sub(firedAt))
	delivered := 0
	for _, d := range deliveries {
		if d.Delivered {
			delivered++
		}
	}
	c.logger.Info("panic alert fan-out finished",
		"escalation_id", id,
		"recipients", len(deliveries),
		"delivered", delivered,
		"action_taken", snapshot.ActionTaken,
	)

	if dirErr == nil && len(recipients) == 0 {
		return snapshot, ErrNoEmergencyContacts
	}
	return snapshot, nil
}

// resolvePosition prefers the owner's live share, then a one-shot fetch.
func (c *EscalationController) resolvePosition(ctx context.Context, ownerID string) *domain.Position {
	if c.sessions != nil {
		if s, err := c.sessions.ActiveSessionForOwner(ctx, ownerID); err == nil && s.LastKnownPosition != nil {
			p := *s.LastKnownPosition
			return &p
		}
	}
	if c.provider == nil {
		return nil
	}
	pos, err := location.Fetch(ctx, c.provider, ownerID, c.locationTimeout)
	if err != nil {
		c.logger.Warn("panic alert sent without position", "owner_id", ownerID, "error", err)
		return nil
	}
	return &pos
}

func panicMessage(pos *domain.Position) notify.Message {
	m := notify.Message{
		Kind:  notify.KindPanic,
		Title: "Emergency alert",
		Body:  "Your contact triggered a panic alert and may need help. Their location is unavailable.",
	}
	if pos != nil {
		m.MapsURL = pos.MapsURL()
		m.Body = "Your contact triggered a panic alert and may need help. My location: " + m.MapsURL
	}
	return m
}

func (c *EscalationController) GetEscalation(ctx context.Context, id string) (*domain.PanicEscalation, error) {
	if e := c.lookup(id); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.esc.Clone(), nil
	}
	return c.stored(ctx, id)
}

// ListEscalations returns the owner's most recent escalations, newest first,
// optionally restricted to one state. In-flight escalations are reported from
// memory, so a fire whose outcome is not stored yet already reads as fired.
func (c *EscalationController) ListEscalations(ctx context.Context, ownerID string, state domain.EscalationState, limit int) ([]domain.PanicEscalation, error) {
	rows, err := c.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list panic escalations: %w", err)
	}
	out := make([]domain.PanicEscalation, 0, len(rows))
	for _, row := range rows {
		if e := c.lookup(row.ID); e != nil {
			e.mu.Lock()
			row = *e.esc.Clone()
			e.mu.Unlock()
		}
		if state != "" && row.State != state {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *EscalationController) stored(ctx context.Context, id string) (*domain.PanicEscalation, error) {
	esc, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEscalationNotFound) {
			return nil, ErrEscalationNotFound
		}
		return nil, fmt.Errorf("get panic escalation: %w", err)
	}
	return esc, nil
}

// MaxCountdown is the longest countdown StartCountdown accepts.
func (c *EscalationController) MaxCountdown() time.Duration {
	return c.maxCountdown
}

// AbandonStale cancels counting escalations left in the store by a previous
// process. Their timers died with it, and firing late could alert contacts
// about a panic the owner already resolved.
func (c *EscalationController) AbandonStale(ctx context.Context) (int, error) {
	stale, err := c.store.ListCounting(ctx)
	if err != nil {
		return 0, fmt.Errorf("list counting escalations: %w", err)
	}
	abandoned := 0
	for i := range stale {
		e := stale[i]
		if c.lookup(e.ID) != nil {
			continue
		}
		now := c.now().UTC()
		e.State = domain.EscalationCancelled
		e.CancelledAt = &now
		e.UpdatedAt = now
		if err := c.store.Save(ctx, &e); err != nil {
			c.logger.Error("abandon stale panic escalation failed", "escalation_id", e.ID, "error", err)
			continue
		}
		observability.RecordEscalationTransition(ctx, string(domain.EscalationCancelled), "abandoned")
		c.logger.Warn("stale panic countdown abandoned", "escalation_id", e.ID, "owner_id", e.OwnerID, "fire_at", e.FireAt)
		abandoned++
	}
	return abandoned, nil
}

// Shutdown cancels pending countdowns and waits for running fan-outs.
func (c *EscalationController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	entries := make([]*escalationEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		c.disarm(e)
		e.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.stopAll()
		return nil
	case <-ctx.Done():
		c.stopAll()
		return fmt.Errorf("wait for panic fan-out: %w", ctx.Err())
	}
}
