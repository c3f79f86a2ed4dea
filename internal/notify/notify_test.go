package notify

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

type senderFunc func(ctx context.Context, r Recipient, m Message) error

func (f senderFunc) Send(ctx context.Context, r Recipient, m Message) error { return f(ctx, r, m) }

func TestRouterIsolatesFailuresAndKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	router := NewRouter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 2).
		Register(domain.ChannelLog, senderFunc(func(_ context.Context, r Recipient, _ Message) error {
			calls.Add(1)
			if r.ID == "bad" {
				return errors.New("unreachable")
			}
			return nil
		}))

	recipients := []Recipient{
		{ID: "a", Channel: domain.ChannelLog},
		{ID: "bad", Channel: domain.ChannelLog},
		{ID: "push", Channel: domain.ChannelWebPush},
		{ID: "c", Channel: domain.ChannelLog},
	}
	got := router.Notify(context.Background(), recipients, Message{Kind: KindPanic, Body: "help"})

	if len(got) != len(recipients) {
		t.Fatalf("expected %d deliveries, got %d", len(recipients), len(got))
	}
	for i, d := range got {
		if d.RecipientID != recipients[i].ID {
			t.Fatalf("delivery %d out of order: %s", i, d.RecipientID)
		}
	}
	if !got[0].Delivered || !got[3].Delivered {
		t.Fatalf("expected healthy recipients delivered: %+v", got)
	}
	if got[1].Delivered || got[1].Error != "unreachable" {
		t.Fatalf("expected failure for bad recipient: %+v", got[1])
	}
	if got[2].Delivered || !strings.Contains(got[2].Error, "unsupported notification channel") {
		t.Fatalf("expected unsupported channel failure: %+v", got[2])
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 sender calls, got %d", calls.Load())
	}
	if !domain.AnyDelivered(got) {
		t.Fatal("expected at least one delivery")
	}
}

func TestLogSenderWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	err := s.Send(context.Background(), Recipient{ID: "c1", Name: "Mom"}, Message{
		Kind:    KindPanic,
		Body:    "Alice needs help",
		MapsURL: "https://www.google.com/maps?q=1.000000,2.000000",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["recipient_id"] != "c1" || rec["kind"] != KindPanic {
		t.Fatalf("unexpected log record: %v", rec)
	}
}

func TestParsePushSubscriptionRequiresKeys(t *testing.T) {
	if _, err := ParsePushSubscription(`{"endpoint":"https://push.example"}`); err == nil {
		t.Fatal("expected error for subscription without keys")
	}
	if _, err := ParsePushSubscription(`not json`); err == nil {
		t.Fatal("expected error for malformed subscription")
	}
}

func newSubscriptionForTest(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate p256dh: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth: %v", err)
	}
	sub := PushSubscription{Endpoint: endpoint}
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(auth)
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return string(raw)
}

func TestWebPushSenderStatusHandling(t *testing.T) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}

	tests := []struct {
		name    string
		status  int
		wantErr error
		anyErr  bool
	}{
		{name: "created", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, wantErr: ErrSubscriptionGone},
		{name: "server error", status: http.StatusInternalServerError, anyErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			s := NewWebPushSender(public, private, "mailto:alerts@example.com").WithHTTPClient(srv.Client())
			err := s.Send(context.Background(), Recipient{
				ID:      "c1",
				Channel: domain.ChannelWebPush,
				Address: newSubscriptionForTest(t, srv.URL+"/push/abc"),
			}, Message{Kind: KindPanic, Title: "Emergency", Body: "help"})

			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("send: %v", err)
				}
			}
			if !strings.HasPrefix(gotAuth, "vapid ") {
				t.Fatalf("expected vapid authorization header, got %q", gotAuth)
			}
		})
	}
}

func TestRouterReportsGoneSubscriptions(t *testing.T) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/expired") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var gone []string
	router := NewRouter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 1).
		Register(domain.ChannelWebPush, NewWebPushSender(public, private, "mailto:alerts@example.com").WithHTTPClient(srv.Client())).
		OnSubscriptionGone(func(_ context.Context, r Recipient) { gone = append(gone, r.ID) })

	got := router.Notify(context.Background(), []Recipient{
		{ID: "live", Channel: domain.ChannelWebPush, Address: newSubscriptionForTest(t, srv.URL+"/push/live")},
		{ID: "stale", Channel: domain.ChannelWebPush, Address: newSubscriptionForTest(t, srv.URL+"/push/expired")},
	}, Message{Kind: KindPanic, Body: "help"})

	if !got[0].Delivered || got[1].Delivered {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if len(gone) != 1 || gone[0] != "stale" {
		t.Fatalf("expected only the expired subscription reported, got %v", gone)
	}
}
