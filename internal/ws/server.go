// Package ws handles WebSocket connection management: upgrading HTTP
// connections, gating them on token verification, admitting authenticated
// sessions into the registry, and running the per-session read loop that
// feeds the event dispatcher.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/cipherchat/dm-app/internal/auth"
	"github.com/cipherchat/dm-app/internal/messaging"
	"github.com/cipherchat/dm-app/internal/metrics"
	"github.com/cipherchat/dm-app/internal/protocol"
	"github.com/cipherchat/dm-app/internal/ratelimit"
	"github.com/cipherchat/dm-app/internal/registry"
	"github.com/cipherchat/dm-app/internal/session"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // idle timeout for WebSocket reads
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Verifier is the credential gate consulted once per connection, before the
// session is admitted to the registry.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Server upgrades HTTP connections to WebSocket, authenticates them, and
// runs one goroutine per session that reads frames and dispatches events.
// Sessions live in the registry; everything else observes them through it.
type Server struct {
	config     ServerConfig
	verifier   Verifier
	registry   *registry.Registry
	presence   *session.Store     // optional Redis presence records
	bridge     *messaging.Bridge  // optional cross-instance delivery
	limiter    *ratelimit.Limiter // optional connect throttling
	dispatcher *Dispatcher
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server. The presence store, bridge, and limiter are
// optional; nil disables the corresponding feature.
func NewServer(config ServerConfig, verifier Verifier, reg *registry.Registry, dispatcher *Dispatcher,
	presence *session.Store, bridge *messaging.Bridge, limiter *ratelimit.Limiter) *Server {
	return &Server{
		config:     config,
		verifier:   verifier,
		registry:   reg,
		presence:   presence,
		bridge:     bridge,
		limiter:    limiter,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}
}

// Start configures the HTTP server and begins accepting WebSocket
// connections. It starts the heartbeat monitor and blocks on
// http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the connection parameters, upgrades the HTTP
// request, and admits the session. A connection that fails verification is
// refused and never reaches the registry or the relay.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	identity, err := s.verifier.Verify(token)
	if err != nil {
		metrics.AuthFailures.Inc()
		log.Printf("ws: refusing connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid authentication credentials", http.StatusUnauthorized)
		return
	}

	if s.limiter != nil && !s.limiter.AllowID(r.Context(), ratelimit.RuleConnect, identity.ID) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for user=%s: %v", identity.Username, err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.Touch()

	c.Session = s.registry.Admit(identity, c, c.ID)
	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Create(ctx, c.ID, identity); err != nil {
			log.Printf("ws: failed to create presence for conn=%s: %v", c.ID, err)
		}
		cancel()
	}

	if s.bridge != nil {
		userID := identity.ID
		if err := s.bridge.SubscribeUser(userID, func(payload []byte) {
			s.registry.SendTo(userID, payload)
		}); err != nil {
			log.Printf("ws: bridge subscribe failed for user=%d: %v", userID, err)
		}
	}

	ack, err := protocol.NewServerEvent(protocol.TypeSessionCreated, protocol.SessionCreatedEvent{
		SessionID: c.ID,
		Username:  identity.Username,
	})
	if err != nil {
		log.Printf("ws: failed to build session_created for conn=%s: %v", c.ID, err)
	} else if err := c.WriteEvent(ack); err != nil {
		log.Printf("ws: failed to send session_created for conn=%s: %v", c.ID, err)
	}

	log.Printf("ws: new session id=%d user=%s conn=%s (total=%d)",
		c.Session.ID, identity.Username, c.ID, s.registry.Count())

	go s.sessionLoop(c)
}

// handleHealth responds with the server's health status as JSON, including
// the current session count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// sessionLoop is the per-session task: it reads one frame at a time and
// dispatches events strictly in arrival order. The loop exits on close
// frames, read errors, and idle timeouts; it never re-enters after exit.
func (s *Server) sessionLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if s.config.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle past the read timeout; the heartbeat decides whether
				// the peer is actually dead. Keep waiting.
				if time.Since(c.LastActive()) < heartbeatDeadline() {
					continue
				}
			}
			return
		}

		c.Touch()

		// Control frames prove liveness; close ends the session.
		if header.OpCode.IsControl() {
			if header.Length > 0 {
				_, _ = io.Copy(io.Discard, reader)
			}
			if header.OpCode == ws.OpClose {
				return
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		s.dispatcher.Dispatch(c, data)
	}
}

// RemoveConnection deregisters the session from the registry, cleans up
// presence and bridge state, and closes the connection. It is exported so
// that the heartbeat monitor can evict dead connections. Racing removers
// are serialized by the registry's removal guard.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.registry.Remove(c.Session.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))

	if s.bridge != nil {
		if err := s.bridge.UnsubscribeUser(c.Session.Identity.ID); err != nil {
			log.Printf("ws: bridge unsubscribe failed for user=%d: %v", c.Session.Identity.ID, err)
		}
	}

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Delete(ctx, c.ID); err != nil {
			log.Printf("ws: failed to delete presence for conn=%s: %v", c.ID, err)
		}
		cancel()
	}

	log.Printf("ws: session closed id=%d user=%s conn=%s (total=%d)",
		c.Session.ID, c.Session.Identity.Username, c.ID, s.registry.Count())
}

// Registry returns the connection registry for external access (e.g., by
// the heartbeat monitor or the relay's fan-out).
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Shutdown performs a graceful shutdown: it stops the HTTP listener, marks
// live sessions as closing, and deregisters them.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, sess := range s.registry.All() {
		sess.MarkClosing()
		if c, ok := sess.Conn.(*Connection); ok {
			s.RemoveConnection(c)
		} else {
			s.registry.Remove(sess.ID)
		}
	}

	log.Printf("ws: server stopped, all sessions closed")
	return nil
}
