package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/notify"
)

// ShareAnnouncer tells a session's recipients that a share started or ended.
// Delivery runs in the background; recipients the directory cannot resolve
// are logged and skipped.
type ShareAnnouncer struct {
	directory RecipientDirectory
	notifier  notify.Notifier
	baseURL   string
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewShareAnnouncer(directory RecipientDirectory, notifier notify.Notifier, baseURL string, timeout time.Duration, logger *slog.Logger) *ShareAnnouncer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShareAnnouncer{
		directory: directory,
		notifier:  notifier,
		baseURL:   baseURL,
		timeout:   timeout,
		logger:    logger,
	}
}

func (a *ShareAnnouncer) SessionChanged(ev SessionEvent) {
	var msg notify.Message
	switch ev.Type {
	case SessionStarted:
		msg = notify.Message{
			Kind:     notify.KindShareStarted,
			Title:    "Live location shared with you",
			Body:     fmt.Sprintf("Location sharing for %s, until %s.", domain.ShareDurationLabel(ev.Session.Duration), ev.Session.ExpiresAt.Format(time.Kitchen+" MST")),
			ShareURL: a.baseURL + "/api/v1/shares/" + ev.Session.ID,
		}
	case SessionCancelled, SessionExpired:
		msg = notify.Message{
			Kind:  notify.KindShareEnded,
			Title: "Location sharing ended",
			Body:  "Location sharing has " + string(ev.Type) + ".",
		}
	default:
		return
	}

	s := ev.Session
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.announce(ctx, s, msg)
	}()
}

func (a *ShareAnnouncer) announce(ctx context.Context, s domain.SharingSession, msg notify.Message) {
	recipients, err := a.directory.Resolve(ctx, s.OwnerID, s.Recipients)
	if err != nil {
		a.logger.Warn("share recipients lookup failed", "session_id", s.ID, "error", err)
		return
	}
	if missing := len(s.Recipients) - len(recipients); missing > 0 {
		a.logger.Info("share recipients without contact address", "session_id", s.ID, "missing", missing)
	}
	if len(recipients) == 0 {
		return
	}
	deliveries := a.notifier.Notify(ctx, recipients, msg)
	a.logger.Info("share announcement sent",
		"session_id", s.ID,
		"kind", msg.Kind,
		"recipients", len(deliveries),
		"action_taken", domain.AnyDelivered(deliveries),
	)
}

// Wait blocks until pending announcements finish or ctx ends.
func (a *ShareAnnouncer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
