package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sandeepkv93/guardian-location-service/internal/domain"
	"github.com/sandeepkv93/guardian-location-service/internal/service"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 512

	subscriberBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	events chan service.SessionEvent
}

// Hub streams session changes to websocket watchers of each session. It is a
// service.SessionObserver; a slow watcher drops events instead of blocking
// the session manager.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
	closed bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), logger: logger}
}

func (h *Hub) SessionChanged(ev service.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[ev.Session.ID]
	for sub := range subs {
		select {
		case sub.events <- ev:
		default:
			h.logger.Debug("watch event dropped", "session_id", ev.Session.ID, "type", ev.Type)
		}
	}
	if ev.Session.State.Terminal() {
		for sub := range subs {
			close(sub.events)
		}
		delete(h.subs, ev.Session.ID)
	}
}

// Subscription is a registered watcher of one session. Its channel is closed
// once the session ends, the hub closes or Close is called.
type Subscription struct {
	sessionID string
	sub       *subscriber
	close     func()
}

func (s *Subscription) Close() { s.close() }

// Subscribe registers a watcher of sessionID. Subscribing before reading the
// session snapshot guarantees an end that happens in between is delivered.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &subscriber{events: make(chan service.SessionEvent, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		close(sub.events)
		h.mu.Unlock()
		return &Subscription{sessionID: sessionID, sub: sub, close: func() {}}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return &Subscription{sessionID: sessionID, sub: sub, close: func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[sessionID]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.events)
					if len(subs) == 0 {
						delete(h.subs, sessionID)
					}
				}
			}
		})
	}}
}

func (h *Hub) Watchers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close ends every stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, subs := range h.subs {
		for sub := range subs {
			close(sub.events)
		}
		delete(h.subs, id)
	}
}

// Serve upgrades the request and streams the session to a watcher registered
// with Subscribe, starting with the snapshot in initial. Events older than the
// snapshot are skipped. The stream ends when the session reaches a terminal
// state or the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sub *Subscription, initial domain.SharingSession) {
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", initial.ID, "error", err)
		return
	}
	defer conn.Close()

	first := service.SessionEvent{Type: service.SessionPosition, Session: initial}
	if err := writeEvent(conn, first); err != nil {
		return
	}
	if initial.State.Terminal() {
		closeStream(conn)
		return
	}

	stopCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readLoop(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stopCtx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.sub.events:
			if !ok {
				closeStream(conn)
				return
			}
			if !ev.Session.State.Terminal() && ev.Session.UpdatedAt.Before(initial.UpdatedAt) {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev service.SessionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeStream(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
}
