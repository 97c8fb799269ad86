// Package events streams file-tree changes to connected clients over
// websockets. Each identity only receives changes to its own tree.
package events

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"file-server-go/internal/files"
	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/httpx/response"
	"file-server-go/internal/logger"
	"file-server-go/internal/observability"
)

const (
	// MaxConcurrentConnections is the maximum number of simultaneous streams.
	MaxConcurrentConnections = 200

	// WriteTimeout is the timeout for writing to WebSocket
	WriteTimeout = 10 * time.Second

	// PingInterval is how often to send ping messages
	PingInterval = 30 * time.Second

	// PongTimeout is how long to wait for a pong before dropping the stream.
	PongTimeout = 2 * PingInterval

	// sendBuffer is how many events may queue for one slow subscriber.
	sendBuffer = 64
)

// TypeReady is sent once a stream is subscribed.
const TypeReady = "ready"

var wsLog = logger.WithComponent("EVENTS")

// Event is one message on the stream.
type Event struct {
	files.Change
	Time time.Time `json:"time"`
}

type subscriber struct {
	identity  string
	conn      *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans out changes to websocket subscribers. It implements files.Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *observability.Metrics

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	activeConns  int32
	shuttingDown atomic.Bool
}

// NewHub creates a hub. allowedOrigins extends the same-host and localhost
// origins accepted for browser upgrades. metrics may be nil.
func NewHub(allowedOrigins []string, metrics *observability.Metrics) *Hub {
	h := &Hub{
		metrics: metrics,
		subs:    make(map[string]map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if isAllowedOrigin(origin, r.Host, allowedOrigins) {
				return true
			}
			wsLog.Warn("Rejected WebSocket origin: %s (host: %s)", origin, r.Host)
			return false
		},
	}
	return h
}

// Notify queues change for every stream of identity. A subscriber whose
// queue is full is dropped rather than blocking the caller.
func (h *Hub) Notify(identity string, change files.Change) {
	ev := Event{Change: change, Time: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[identity] {
		select {
		case sub.send <- ev:
			h.metrics.EventPublished(string(change.Type))
		default:
			wsLog.Warn("Dropping slow event subscriber | identity=%s", identity)
			sub.close()
		}
	}
}

// Subscribers returns the number of open streams for identity.
func (h *Hub) Subscribers(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[identity])
}

// ActiveConnections returns the number of open streams.
func (h *Hub) ActiveConnections() int {
	return int(atomic.LoadInt32(&h.activeConns))
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.identity]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sub.identity] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.identity]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.identity)
		}
	}
}

// ServeHTTP handles GET /api/events. Runs behind RequireAuth; browsers pass
// the token as a query parameter since they cannot set upgrade headers.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := httpxmiddleware.PrincipalFrom(r.Context())
	if !ok || p.Name == "" {
		response.Unauthorized(w)
		return
	}
	if h.shuttingDown.Load() {
		response.Error(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	if atomic.AddInt32(&h.activeConns, 1) > MaxConcurrentConnections {
		atomic.AddInt32(&h.activeConns, -1)
		response.Error(w, http.StatusServiceUnavailable, "Too many connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		atomic.AddInt32(&h.activeConns, -1)
		wsLog.Debug("Upgrade failed | identity=%s err=%v", p.Name, err)
		return
	}

	sub := &subscriber{
		identity: p.Name,
		conn:     conn,
		send:     make(chan Event, sendBuffer),
		done:     make(chan struct{}),
	}
	h.add(sub)
	h.metrics.EventStreamOpened()
	wsLog.Info("Event stream opened | identity=%s active=%d", p.Name, h.ActiveConnections())

	sub.send <- Event{Change: files.Change{Type: TypeReady}, Time: time.Now().UTC()}

	go h.readLoop(sub)
	h.writeLoop(sub)

	h.remove(sub)
	_ = conn.Close()
	atomic.AddInt32(&h.activeConns, -1)
	h.metrics.EventStreamClosed()
	wsLog.Info("Event stream closed | identity=%s", p.Name)
}

// readLoop discards client frames and keeps the read deadline fresh on pongs.
// It ends the stream when the client goes away.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.close()

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := sub.conn.WriteJSON(ev); err != nil {
				sub.close()
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				sub.close()
				return
			}
		case <-sub.done:
			_ = sub.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

// Shutdown closes every stream and waits for them to finish or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) {
	h.shuttingDown.Store(true)

	h.mu.RLock()
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
	h.mu.RUnlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt32(&h.activeConns) == 0 {
			wsLog.Info("All event streams closed")
			return
		}
		select {
		case <-ctx.Done():
			wsLog.Warn("Shutdown timeout, %d event streams still active", atomic.LoadInt32(&h.activeConns))
			return
		case <-ticker.C:
		}
	}
}

// isAllowedOrigin accepts requests without an Origin (non-browser clients),
// same-host origins, localhost, subdomains of the host's base domain, and any
// configured origin.
func isAllowedOrigin(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	for _, a := range allowed {
		if strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}

	originHost := u.Hostname()
	if strings.EqualFold(u.Host, host) || strings.EqualFold(originHost, stripPort(host)) {
		return true
	}
	if originHost == "localhost" || originHost == "127.0.0.1" || originHost == "::1" {
		return true
	}

	baseDomain := extractBaseDomain(host)
	if baseDomain == "" {
		return false
	}
	return originHost == baseDomain || strings.HasSuffix(originHost, "."+baseDomain)
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}

// extractBaseDomain returns the last two labels of host, "" for single-label
// hosts.
func extractBaseDomain(host string) string {
	host = stripPort(host)
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "." + parts[len(parts)-1]
}
