// Package realtime serves the authenticated WebSocket endpoint: handshake,
// frame codec, per-connection pumps and topic subscriptions.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/ids"
	"bazaar.app/internal/messaging"
	"bazaar.app/internal/obs"
	"bazaar.app/internal/stream"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Gateway is the set of conversation operations reachable over the socket.
type Gateway interface {
	CreateConversation(ctx context.Context, itemID int64) (conversation.Conversation, error)
	GetConversation(ctx context.Context, id int64) (conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	SendMessage(ctx context.Context, req messaging.SendMessageRequest) (conversation.Message, error)
	MarkRead(ctx context.Context, messageID int64) (conversation.Message, error)
}

// Subscriber hands out topic feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) <-chan stream.Event
}

// Options tune a Server. Zero values fall back to defaults.
type Options struct {
	AllowedOrigins []string
	RatePerSec     float64
	RateBurst      int
	// Logger defaults to the process logger.
	Logger *slog.Logger
}

// Server upgrades authorized requests and runs one connection per socket.
type Server struct {
	handshake *Handshake
	gateway   Gateway
	hub       Subscriber
	upgrader  websocket.Upgrader
	opts      Options
	log       *slog.Logger

	// base parents every connection context; Shutdown cancels it.
	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
}

func NewServer(h *Handshake, g Gateway, hub Subscriber, opts Options) (*Server, error) {
	if h == nil || g == nil || hub == nil {
		return nil, errors.New("realtime: handshake, gateway and hub are required")
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		handshake: h,
		gateway:   g,
		hub:       hub,
		opts:      opts,
		log:       opts.Logger,
		base:      base,
		stop:      stop,
		conns:     make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return obs.Logger()
}

// ServeHTTP denies unauthenticated upgrades with a bare 401.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	attrs := Attributes{}
	if s.handshake.Authorize(r, attrs) != Allowed {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	session, ok := SessionFromAttributes(attrs)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger().Warn("ws upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(auth.ContextWithSession(s.base, session))
	defer cancel()

	c := newConn(ws, s, session, rate.NewLimiter(rate.Limit(s.opts.RatePerSec), s.opts.RateBurst))
	if !s.track(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer s.untrack(c)
	obs.WSConnectionOpened()
	defer obs.WSConnectionClosed()
	s.logger().Info("ws connected", "conn_id", c.id, "user_id", session.UserID)

	go c.writePump(ctx)
	c.readPump(ctx)
	cancel()
	s.logger().Info("ws disconnected", "conn_id", c.id, "user_id", session.UserID)
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Active reports the number of open connections.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown refuses new connections, closes the open ones with a going-away
// frame and waits until they are gone or ctx ends. Hijacked sockets are not
// covered by http.Server.Shutdown, so callers run this after it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for s.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, origin) || isLocalOrigin(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func isLocalOrigin(o string) bool {
	return strings.HasPrefix(o, "http://localhost:") || strings.HasPrefix(o, "http://127.0.0.1:")
}

func newConnID() string { return ids.Connection() }
