package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

var ErrSubscriptionGone = errors.New("push subscription expired")

// PushSubscription is the browser subscription stored as a contact address.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func ParsePushSubscription(raw string) (*PushSubscription, error) {
	var sub PushSubscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("parse push subscription: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errors.New("parse push subscription: endpoint and keys are required")
	}
	return &sub, nil
}

type WebPushSender struct {
	vapidPublic  string
	vapidPrivate string
	subscriber   string
	ttl          int
	httpClient   webpush.HTTPClient
}

func NewWebPushSender(vapidPublic, vapidPrivate, subscriber string) *WebPushSender {
	return &WebPushSender{
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subscriber:   subscriber,
		ttl:          3600,
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (s *WebPushSender) WithHTTPClient(c webpush.HTTPClient) *WebPushSender {
	s.httpClient = c
	return s
}

func (s *WebPushSender) Send(ctx context.Context, r Recipient, m Message) error {
	sub, err := ParsePushSubscription(r.Address)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		VAPIDPublicKey:  s.vapidPublic,
		VAPIDPrivateKey: s.vapidPrivate,
		Subscriber:      s.subscriber,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("send web push: status %d", resp.StatusCode)
	}
	return nil
}
