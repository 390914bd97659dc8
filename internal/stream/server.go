// Package stream serves the websocket endpoint: it authenticates clients,
// applies their subscribe messages and writes fanned-out events to them.
package stream

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
	"bustrack/pkg/realtime"
)

// Options tunes connection handling.
type Options struct {
	QueueSize      int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowAnonymous bool
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

// Server accepts streaming connections.
type Server struct {
	hub      *realtime.Broadcaster
	verifier *auth.Verifier
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a websocket server publishing through hub.
func NewServer(hub *realtime.Broadcaster, verifier *auth.Verifier, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	s := &Server{
		hub:      hub,
		verifier: verifier,
		opts:     opts,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: opts.WriteTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, authErr := s.authenticate(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(uuid.NewString(), ws, s.hub, s.opts, s.logger)
	if authErr != nil {
		s.logger.Info("stream authentication failed", "conn_id", c.id, "err", authErr)
		c.reject(apperr.CodeUnauthenticated, "authentication required")
		return
	}
	c.authenticate(identity)
	c.logger.Info("stream connection opened")
	c.run()
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	token := auth.TokenFromRequest(r)
	if token == "" && s.opts.AllowAnonymous {
		return auth.Identity{UserID: "anonymous", Role: auth.RoleAnonymous}, nil
	}
	if s.verifier == nil {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthenticated, "no token verifier configured")
	}
	return s.verifier.Verify(token)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
