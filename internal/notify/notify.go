package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"

	"golang.org/x/sync/errgroup"
)

const (
	KindShareStarted = "share_started"
	KindShareEnded   = "share_ended"
	KindPanic        = "panic"
)

var ErrUnsupportedChannel = errors.New("unsupported notification channel")

type Recipient struct {
	ID      string
	Name    string
	Channel domain.ContactChannel
	Address string
}

type Message struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MapsURL  string `json:"maps_url,omitempty"`
	ShareURL string `json:"share_url,omitempty"`
}

// Sender delivers one message over one channel.
type Sender interface {
	Send(ctx context.Context, r Recipient, m Message) error
}

// Notifier fans a message out to recipients and reports one delivery per
// recipient, in input order. A failure for one recipient never stops the
// others.
type Notifier interface {
	Notify(ctx context.Context, recipients []Recipient, m Message) []domain.Delivery
}

type Router struct {
	senders     map[domain.ContactChannel]Sender
	concurrency int
	logger      *slog.Logger
	onGone      func(ctx context.Context, r Recipient)
}

func NewRouter(logger *slog.Logger, concurrency int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Router{
		senders:     make(map[domain.ContactChannel]Sender),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Register binds a sender to a channel. It is not safe to call concurrently
// with Notify.
func (r *Router) Register(channel domain.ContactChannel, s Sender) *Router {
	r.senders[channel] = s
	return r
}

// OnSubscriptionGone installs fn to run for every recipient whose sender
// returned ErrSubscriptionGone. It is not safe to call concurrently with
// Notify.
func (r *Router) OnSubscriptionGone(fn func(ctx context.Context, r Recipient)) *Router {
	r.onGone = fn
	return r
}

func (r *Router) Notify(ctx context.Context, recipients []Recipient, m Message) []domain.Delivery {
	deliveries := make([]domain.Delivery, len(recipients))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, rcpt := range recipients {
		g.Go(func() error {
			deliveries[i] = r.deliver(ctx, rcpt, m)
			return nil
		})
	}
	_ = g.Wait()
	return deliveries
}

func (r *Router) deliver(ctx context.Context, rcpt Recipient, m Message) domain.Delivery {
	d := domain.Delivery{RecipientID: rcpt.ID, Name: rcpt.Name, Channel: string(rcpt.Channel)}
	sender, ok := r.senders[rcpt.Channel]
	var err error
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnsupportedChannel, rcpt.Channel)
	} else {
		err = sender.Send(ctx, rcpt, m)
	}
	if err != nil {
		d.Error = err.Error()
		if errors.Is(err, ErrSubscriptionGone) && r.onGone != nil {
			r.onGone(context.WithoutCancel(ctx), rcpt)
		}
		observability.RecordNotificationDelivery(ctx, m.Kind, string(rcpt.Channel), "failure")
		r.logger.Warn("notification delivery failed",
			"kind", m.Kind,
			"recipient_id", rcpt.ID,
			"channel", rcpt.Channel,
			"error", err,
		)
		return d
	}
	d.Delivered = true
	observability.RecordNotificationDelivery(ctx, m.Kind, string(rcpt.Channel), "success")
	return d
}
