// Package gateway exposes the runtime over WebSocket: an RPC method
// router for operational queries and a push stream of bus events.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

const busSubscriberID = "gateway"

// Config assembles a gateway server.
type Config struct {
	// Token guards connect. Empty leaves the gateway open.
	Token string
	// ServerVersion is echoed in the connect response.
	ServerVersion string
	// Bus supplies the events forwarded to connected clients.
	Bus *bus.EventBus
	// RequestsPerMinute bounds per-client request rates. Zero disables
	// limiting.
	RequestsPerMinute int
	Burst             int
}

// Server accepts WebSocket connections, routes their requests, and
// pushes bus events to every authenticated client.
type Server struct {
	token     string
	version   string
	bus       *bus.EventBus
	router    *MethodRouter
	limiter   *RateLimiter
	upgrader  websocket.Upgrader
	startedAt time.Time

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

func NewServer(cfg Config) *Server {
	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}
	s := &Server{
		token:     cfg.Token,
		version:   version,
		bus:       cfg.Bus,
		limiter:   NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = NewMethodRouter(s)
	return s
}

// Router exposes the method router for registration.
func (s *Server) Router() *MethodRouter { return s.router }

// RateLimiter exposes the per-client limiter, shared with the HTTP API.
func (s *Server) RateLimiter() *RateLimiter { return s.limiter }

// Start begins forwarding bus events to connected clients.
func (s *Server) Start() {
	if s.bus != nil {
		s.bus.Subscribe(busSubscriberID, s.forwardEvent)
	}
	slog.Info("gateway started", "auth", s.token != "")
}

// Shutdown detaches from the bus and closes every client.
func (s *Server) Shutdown() {
	if s.bus != nil {
		s.bus.Unsubscribe(busSubscriberID)
	}
	s.limiter.Stop()

	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	slog.Info("gateway stopped", "clients_closed", len(clients))
}

// ServeHTTP upgrades the connection and runs it until disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s)
	if !s.addClient(client) {
		conn.Close()
		return
	}
	slog.Info("gateway client connected", "client", client.id, "remote", r.RemoteAddr)

	defer s.removeClient(client)
	client.Run(context.Background())
}

// ClientCount reports connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.Close()
	if present {
		slog.Info("gateway client disconnected", "client", c.id)
	}
}

// forwardEvent fans one bus event out to authenticated clients. Slow
// clients drop frames instead of blocking the bus.
func (s *Server) forwardEvent(e bus.Event) {
	frame := protocol.NewEventFrame(e.Name, e.Payload, e.At)

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if c.Authenticated() {
			c.SendEvent(frame)
		}
	}
}
