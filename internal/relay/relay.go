// Package relay pushes live events and session statistics to local UI
// clients over WebSocket and serves JSON snapshots for pollers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tlifarm/internal/logevent"
	"tlifarm/internal/pricecache"
	"tlifarm/internal/session"
)

// Message kinds.
const (
	KindItemDrop      = "item-drop"
	KindPriceUpdate   = "price-update"
	KindMapChange     = "map-change"
	KindStats         = "stats-update"
	KindLogPathNeeded = "log-path-needed"
)

const writeTimeout = 5 * time.Second

// Message is the frame sent to clients.
type Message struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// PriceUpdate is the payload of a price-update message.
type PriceUpdate struct {
	ItemID    int64     `json:"item_id"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source provides the snapshots the hub serves.
type Source interface {
	Stats() session.SessionStats
	AggregatedDrops() []session.AggregatedDrop
}

// Hub fans messages out to connected WebSocket clients.
type Hub struct {
	source   Source
	limiter  *rate.Limiter
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a Hub. Stats broadcasts are limited to statsPerSecond;
// zero or less means unlimited.
func NewHub(src Source, statsPerSecond float64) *Hub {
	limit := rate.Inf
	if statsPerSecond > 0 {
		limit = rate.Limit(statsPerSecond)
	}
	return &Hub{
		source:   src,
		limiter:  rate.NewLimiter(limit, 1),
		upgrader: websocket.Upgrader{CheckOrigin: loopbackOrigin},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends one message to every client. Clients that fail to
// receive it are dropped.
func (h *Hub) Broadcast(kind string, payload any) {
	msg, err := json.Marshal(Message{Kind: kind, Payload: payload})
	if err != nil {
		log.Printf("relay: marshal %s: %v", kind, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("relay: write to %s: %v", c.RemoteAddr(), err)
			c.Close()
			delete(h.clients, c)
		}
	}
}

// PublishEvent relays a parsed log event.
func (h *Hub) PublishEvent(ev logevent.Event) {
	switch ev.Type {
	case logevent.EventItemDrop:
		h.Broadcast(KindItemDrop, ev)
	case logevent.EventMapChange:
		h.Broadcast(KindMapChange, ev)
	}
}

// PublishPrice relays a price cache update.
func (h *Hub) PublishPrice(itemID int64, e pricecache.Entry) {
	h.Broadcast(KindPriceUpdate, PriceUpdate{ItemID: itemID, Price: e.Price, UpdatedAt: e.UpdatedAt})
}

// PublishStats broadcasts the current statistics unless the rate limit
// says it is too soon. force skips the limit. It reports whether a
// message was sent.
func (h *Hub) PublishStats(force bool) bool {
	if !force && !h.limiter.Allow() {
		return false
	}
	h.Broadcast(KindStats, h.source.Stats())
	return true
}

// PublishLogPathNeeded tells clients the log could not be opened and a
// path must be supplied.
func (h *Hub) PublishLogPathNeeded(reason string) {
	h.Broadcast(KindLogPathNeeded, map[string]string{"reason": reason})
}

// Handler serves /ws, /stats and /drops. Only loopback clients are
// accepted.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		h.serveJSON(w, r, h.source.Stats())
	})
	mux.HandleFunc("/drops", func(w http.ResponseWriter, r *http.Request) {
		h.serveJSON(w, r, h.source.AggregatedDrops())
	})
	return loopbackOnly(mux)
}

func (h *Hub) serveJSON(w http.ResponseWriter, r *http.Request, v any) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Greet with the current snapshot so a fresh UI is not blank until the
	// next event.
	h.sendTo(conn, KindStats, h.source.Stats())

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) sendTo(conn *websocket.Conn, kind string, payload any) {
	msg, err := json.Marshal(Message{Kind: kind, Payload: payload})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.Close()
		delete(h.clients, c)
	}
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.serve(ctx, ln)
}

func (h *Hub) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Printf("relay: listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loopbackOrigin accepts clients without an Origin header and browser pages
// served from a loopback host.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
