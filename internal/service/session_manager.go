package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/guardian-location-service/internal/config"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/location"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type SessionManagerOptions struct {
	TickInterval    time.Duration
	TickImmediately bool
	LocationTimeout time.Duration
	DuplicatePolicy config.DuplicateSessionPolicy
	Logger          *slog.Logger
	Now             func() time.Time
	NewID           func() string
}

// SessionHealth reports location fetch failures of an active session. It is
// the only place transient provider errors surface.
type SessionHealth struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	LastFailure         string     `json:"last_failure,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastTickAt          *time.Time `json:"last_tick_at,omitempty"`
}

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.SharingSession
	health  SessionHealth
	loop    *Loop
	expiry  *Deferred
}

// stopLocked halts the refresh loop and releases the expiry timer without
// waiting for an in-flight tick. Callers hold e.mu.
func (e *sessionEntry) stopLocked() {
	e.expiry.Cancel()
	e.loop.Stop()
}

// SessionManager owns the lifecycle of location-sharing sessions. Every
// mutation of one session is serialised by that session's mutex; starts for
// one owner are serialised by a per-owner mutex. No lock spans two owners.
type SessionManager struct {
	store     SessionStore
	provider  location.Provider
	observers []SessionObserver
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	tickInterval    time.Duration
	tickImmediately bool
	locationTimeout time.Duration
	policy          config.DuplicateSessionPolicy

	ownerLocks *keyedMutex

	mu      sync.RWMutex
	entries map[string]*sessionEntry
	owners  map[string]string

	baseCtx context.Context
	stopAll context.CancelFunc
	closed  atomic.Bool
}

func NewSessionManager(store SessionStore, provider location.Provider, opts SessionManagerOptions, observers ...SessionObserver) *SessionManager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = 5 * time.Second
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = config.DuplicateReplace
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
	return &SessionManager{
		store:           store,
		provider:        provider,
		observers:       observers,
		logger:          opts.Logger,
		now:             opts.Now,
		newID:           opts.NewID,
		tickInterval:    opts.TickInterval,
		tickImmediately: opts.TickImmediately,
		locationTimeout: opts.LocationTimeout,
		policy:          opts.DuplicatePolicy,
		ownerLocks:      newKeyedMutex(),
		entries:         make(map[string]*sessionEntry),
		owners:          make(map[string]string),
		baseCtx:         baseCtx,
		stopAll:         stopAll,
	}
}

// AddObserver registers an observer. It must be called before the manager
// starts sessions.
func (m *SessionManager) AddObserver(o SessionObserver) {
	m.observers = append(m.observers, o)
}

func normalizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// StartSession opens an active session for owner. An existing active session
// of the same owner is cancelled first, or the call fails with
// ErrSessionAlreadyActive under the reject policy.
func (m *SessionManager) StartSession(ctx context.Context, ownerID string, recipients []string, duration time.Duration) (*domain.SharingSession, error) {
	recipients = normalizeRecipients(recipients)
	if len(recipients) == 0 {
		return nil, ErrInvalidRecipients
	}
	if !domain.IsAllowedShareDuration(duration) {
		return nil, ErrInvalidDuration
	}
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	unlock := m.ownerLocks.Lock(ownerID)
	defer unlock()

	if err := m.resolveExistingLocked(ctx, ownerID); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &domain.SharingSession{
		ID:         m.newID(),
		OwnerID:    ownerID,
		Recipients: recipients,
		Duration:   duration,
		State:      domain.SessionActive,
		StartedAt:  now,
		ExpiresAt:  now.Add(duration),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create sharing session: %w", err)
	}

	// The entry is locked before it becomes visible so no caller observes it
	// unarmed.
	entry := &sessionEntry{session: s.Clone()}
	entry.mu.Lock()
	m.mu.Lock()
	m.entries[s.ID] = entry
	m.owners[ownerID] = s.ID
	m.mu.Unlock()
	m.armLocked(entry)
	snapshot := entry.session.Clone()
	entry.mu.Unlock()

	observability.RecordSessionTransition(ctx, string(domain.SessionActive), "start")
	m.logger.Info("sharing session started",
		"session_id", s.ID,
		"owner_id", ownerID,
		"recipients", len(recipients),
		"duration", duration.String(),
		"expires_at", s.ExpiresAt,
	)
	m.publish(SessionStarted, snapshot)
	return snapshot, nil
}

// resolveExistingLocked applies the duplicate policy to the owner's current
// active session. Callers hold the owner lock.
func (m *SessionManager) resolveExistingLocked(ctx context.Context, ownerID string) error {
	existingID := m.ownerSessionID(ownerID)
	if existingID == "" {
		s, err := m.store.FindActiveByOwner(ctx, ownerID)
		switch {
		case errors.Is(err, repository.ErrSharingSessionNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("find active sharing session: %w", err)
		}
		existingID = s.ID
	}

	if m.CheckExpiry(ctx, existingID) {
		return nil
	}
	if m.policy == config.DuplicateReject {
		if s, err := m.GetSession(ctx, existingID); err == nil && s.State == domain.SessionActive {
			return ErrSessionAlreadyActive
		}
		return nil
	}
	if err := m.cancel(ctx, existingID, ownerID, "replaced"); err != nil {
		return fmt.Errorf("replace active sharing session: %w", err)
	}
	return nil
}

// armLocked starts the refresh loop and the expiry timer. Callers hold e.mu,
// so a timer that fires immediately waits until arming is complete.
func (m *SessionManager) armLocked(e *sessionEntry) {
	id := e.session.ID
	e.expiry = ScheduleAt(e.session.ExpiresAt, m.now(), func() {
		m.CheckExpiry(m.baseCtx, id)
	})
	e.loop = Every(m.baseCtx, m.tickInterval, m.tickImmediately, func(ctx context.Context) {
		m.Tick(ctx, id)
	})
}

func (m *SessionManager) lookup(id string) *sessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *SessionManager) ownerSessionID(ownerID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[ownerID]
}

func (m *SessionManager) unregister(id string, e *sessionEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[id] != e {
		return
	}
	delete(m.entries, id)
	if m.owners[e.session.OwnerID] == id {
		delete(m.owners, e.session.OwnerID)
	}
}

// Tick refreshes the last known position of an active session. The provider
// is queried without holding the session lock; state and expiry are checked
// again before the write, and expiry always wins.
func (m *SessionManager) Tick(ctx context.Context, id string) {
	e := m.lookup(id)
	if e == nil {
		observability.RecordSessionTick(ctx, "skipped")
		return
	}

	e.mu.Lock()
	if e.session.State != domain.SessionActive {
		e.mu.Unlock()
		observability.RecordSessionTick(ctx, "skipped")
		return
	}
	if !m.now().Before(e.session.ExpiresAt) {
		e.mu.Unlock()
		m.CheckExpiry(ctx, id)
		observability.RecordSessionTick(ctx, "expired")
		return
	}
	ownerID := e.session.OwnerID
	e.mu.Unlock()

	ctx, span := observability.Tracer().Start(ctx, "sharing.session.tick",
		trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	pos, fetchErr := location.Fetch(ctx, m.provider, ownerID, m.locationTimeout)
	if fetchErr != nil && ctx.Err() != nil {
		observability.RecordSessionTick(ctx, "stopped")
		return
	}

	e.mu.Lock()
	if e.session.State != domain.SessionActive {
		e.mu.Unlock()
		observability.RecordSessionTick(ctx, "skipped")
		return
	}
	now := m.now().UTC()
	if !now.Before(e.session.ExpiresAt) {
		e.mu.Unlock()
		m.CheckExpiry(ctx, id)
		observability.RecordSessionTick(ctx, "expired")
		return
	}
	e.health.LastTickAt = &now
	if fetchErr != nil {
		e.health.ConsecutiveFailures++
		e.health.TotalFailures++
		e.health.LastFailure = fetchErr.Error()
		e.health.LastFailureAt = &now
		failures := e.health.ConsecutiveFailures
		e.mu.Unlock()

		span.RecordError(fetchErr)
		observability.RecordSessionTick(ctx, tickFailureOutcome(fetchErr))
		m.logger.Warn("location fetch failed, tick skipped",
			"session_id", id,
			"owner_id", ownerID,
			"consecutive_failures", failures,
			"error", fetchErr,
		)
		return
	}

	update := domain.SharingSessionUpdate{LastKnownPosition: &pos, UpdatedAt: now}
	if err := m.store.Update(ctx, id, update); err != nil {
		e.mu.Unlock()
		span.SetStatus(codes.Error, "store update failed")
		observability.RecordSessionTick(ctx, "store_error")
		m.logger.Warn("sharing session position write failed, retrying next tick",
			"session_id", id,
			"owner_id", ownerID,
			"error", err,
		)
		return
	}
	e.session.Apply(update)
	e.health.ConsecutiveFailures = 0
	snapshot := e.session.Clone()
	e.mu.Unlock()

	observability.RecordSessionTick(ctx, "success")
	m.publish(SessionPosition, snapshot)
}

func tickFailureOutcome(err error) string {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, location.ErrTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}

// CheckExpiry expires the session when it is active and its expiry instant has
// passed. Only the first caller to observe that performs the transition; it
// reports whether this call did.
func (m *SessionManager) CheckExpiry(ctx context.Context, id string) bool {
	e := m.lookup(id)
	if e == nil {
		return m.expireOrphan(ctx, id)
	}

	e.mu.Lock()
	if e.session.State != domain.SessionActive {
		e.mu.Unlock()
		return false
	}
	now := m.now().UTC()
	if now.Before(e.session.ExpiresAt) {
		e.mu.Unlock()
		return false
	}
	state := domain.SessionExpired
	update := domain.SharingSessionUpdate{State: &state, EndedAt: &now, UpdatedAt: now}
	if err := m.store.Update(ctx, id, update); err != nil {
		e.mu.Unlock()
		m.logger.Error("sharing session expiry write failed",
			"session_id", id,
			"error", err,
		)
		return false
	}
	e.session.Apply(update)
	e.stopLocked()
	snapshot := e.session.Clone()
	e.mu.Unlock()

	m.unregister(id, e)
	observability.RecordSessionTransition(ctx, string(domain.SessionExpired), "expiry")
	m.logger.Info("sharing session expired", "session_id", id, "owner_id", snapshot.OwnerID)
	m.publish(SessionExpired, snapshot)
	return true
}

// expireOrphan handles a stored active session that no loop owns, for
// example one left behind by a previous process.
func (m *SessionManager) expireOrphan(ctx context.Context, id string) bool {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrSharingSessionNotFound) {
			m.logger.Warn("sharing session lookup failed", "session_id", id, "error", err)
		}
		return false
	}
	now := m.now().UTC()
	if s.State != domain.SessionActive || now.Before(s.ExpiresAt) {
		return false
	}
	state := domain.SessionExpired
	update := domain.SharingSessionUpdate{State: &state, EndedAt: &now, UpdatedAt: now}
	if err := m.store.Update(ctx, id, update); err != nil {
		m.logger.Error("sharing session expiry write failed", "session_id", id, "error", err)
		return false
	}
	s.Apply(update)
	observability.RecordSessionTransition(ctx, string(domain.SessionExpired), "expiry")
	m.publish(SessionExpired, s)
	return true
}

// CancelSession ends an active session on behalf of its owner. When it returns
// nil, no tick of the session is running and none will run again. It shares
// the owner lock with StartSession, so observers see a start before its end.
func (m *SessionManager) CancelSession(ctx context.Context, id, requester string) error {
	unlock := m.ownerLocks.Lock(requester)
	defer unlock()
	return m.cancel(ctx, id, requester, "owner")
}

func (m *SessionManager) cancel(ctx context.Context, id, requester, reason string) error {
	e := m.lookup(id)
	if e == nil {
		return m.cancelOrphan(ctx, id, requester, reason)
	}

	e.mu.Lock()
	if e.session.OwnerID != requester {
		e.mu.Unlock()
		return ErrNotOwner
	}
	if e.session.State != domain.SessionActive {
		loop := e.loop
		e.mu.Unlock()
		loop.Wait()
		return nil
	}
	now := m.now().UTC()
	state := domain.SessionCancelled
	update := domain.SharingSessionUpdate{State: &state, EndedAt: &now, UpdatedAt: now}
	if err := m.store.Update(ctx, id, update); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("cancel sharing session: %w", err)
	}
	e.session.Apply(update)
	e.stopLocked()
	loop := e.loop
	snapshot := e.session.Clone()
	e.mu.Unlock()

	m.unregister(id, e)
	loop.Wait()

	observability.RecordSessionTransition(ctx, string(domain.SessionCancelled), reason)
	m.logger.Info("sharing session cancelled", "session_id", id, "owner_id", snapshot.OwnerID, "reason", reason)
	m.publish(SessionCancelled, snapshot)
	return nil
}

func (m *SessionManager) cancelOrphan(ctx context.Context, id, requester, reason string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSharingSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get sharing session: %w", err)
	}
	if s.OwnerID != requester {
		return ErrNotOwner
	}
	if s.State != domain.SessionActive {
		return nil
	}
	now := m.now().UTC()
	state := domain.SessionCancelled
	update := domain.SharingSessionUpdate{State: &state, EndedAt: &now, UpdatedAt: now}
	if err := m.store.Update(ctx, id, update); err != nil {
		return fmt.Errorf("cancel sharing session: %w", err)
	}
	s.Apply(update)
	observability.RecordSessionTransition(ctx, string(domain.SessionCancelled), reason)
	m.publish(SessionCancelled, s)
	return nil
}

// GetSession returns a snapshot of the session, expiring it first when due.
func (m *SessionManager) GetSession(ctx context.Context, id string) (*domain.SharingSession, error) {
	m.CheckExpiry(ctx, id)
	if e := m.lookup(id); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.session.Clone(), nil
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSharingSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get sharing session: %w", err)
	}
	if s.State == domain.SessionActive && !m.now().Before(s.ExpiresAt) {
		s.State = domain.SessionExpired
	}
	return s, nil
}

func (m *SessionManager) ActiveSessionForOwner(ctx context.Context, ownerID string) (*domain.SharingSession, error) {
	id := m.ownerSessionID(ownerID)
	if id == "" {
		s, err := m.store.FindActiveByOwner(ctx, ownerID)
		if err != nil {
			if errors.Is(err, repository.ErrSharingSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("find active sharing session: %w", err)
		}
		id = s.ID
	}
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != domain.SessionActive {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ListSessions returns the owner's most recent sessions, newest first. Live
// sessions are reported from memory; stale active rows read as expired.
func (m *SessionManager) ListSessions(ctx context.Context, ownerID string, limit int) ([]domain.SharingSession, error) {
	rows, err := m.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sharing sessions: %w", err)
	}
	now := m.now()
	for i := range rows {
		if e := m.lookup(rows[i].ID); e != nil {
			e.mu.Lock()
			rows[i] = *e.session.Clone()
			e.mu.Unlock()
			continue
		}
		if rows[i].State == domain.SessionActive && !now.Before(rows[i].ExpiresAt) {
			rows[i].State = domain.SessionExpired
		}
	}
	return rows, nil
}

func (m *SessionManager) SessionHealth(id string) (SessionHealth, error) {
	e := m.lookup(id)
	if e == nil {
		return SessionHealth{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.health
	return h, nil
}

// Recover re-arms the active sessions found in the store, expiring those whose
// window closed while no process owned them. It returns how many were re-armed.
func (m *SessionManager) Recover(ctx context.Context) (int, error) {
	sessions, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sharing sessions: %w", err)
	}
	rearmed := 0
	for i := range sessions {
		s := sessions[i]
		unlock := m.ownerLocks.Lock(s.OwnerID)
		if m.lookup(s.ID) != nil {
			unlock()
			continue
		}
		if !m.now().Before(s.ExpiresAt) {
			m.expireOrphan(ctx, s.ID)
			unlock()
			continue
		}
		if other := m.ownerSessionID(s.OwnerID); other != "" {
			// An owner can hold one active session; keep the one already armed.
			unlock()
			if err := m.cancelOrphan(ctx, s.ID, s.OwnerID, "recovered_duplicate"); err != nil {
				m.logger.Warn("duplicate sharing session cleanup failed", "session_id", s.ID, "error", err)
			}
			continue
		}
		entry := &sessionEntry{session: s.Clone()}
		m.mu.Lock()
		m.entries[s.ID] = entry
		m.owners[s.OwnerID] = s.ID
		m.mu.Unlock()
		entry.mu.Lock()
		m.armLocked(entry)
		entry.mu.Unlock()
		unlock()
		rearmed++
	}
	if rearmed > 0 {
		m.logger.Info("sharing sessions recovered", "count", rearmed)
	}
	return rearmed, nil
}

// Shutdown stops every loop and timer without changing persisted state, so a
// later Recover resumes the sessions.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.stopAll()

	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	loops := make([]*Loop, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		e.stopLocked()
		loops = append(loops, e.loop)
		e.mu.Unlock()
	}
	for _, l := range loops {
		if err := l.WaitContext(ctx); err != nil {
			return fmt.Errorf("wait for sharing session loops: %w", err)
		}
	}
	return nil
}

func (m *SessionManager) publish(t SessionEventType, s *domain.SharingSession) {
	if len(m.observers) == 0 {
		return
	}
	ev := SessionEvent{Type: t, Session: *s}
	for _, o := range m.observers {
		o.SessionChanged(ev)
	}
}
