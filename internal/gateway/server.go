// Package gateway exposes agents over a WebSocket chat endpoint. Streamed
// model text is forwarded as delta frames while a turn runs.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"spellcast/internal/domain"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// shutdownGrace bounds how long Run waits for open requests on shutdown.
const shutdownGrace = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server serves GET / as a health check and /ws as the chat endpoint, both
// behind BearerAuth when an auth token is configured.
type Server struct {
	port   int
	http   *http.Server
	logger *slog.Logger
	ready  chan struct{}

	mu        sync.Mutex
	addr      string
	listenErr error
}

// NewServer builds a server from cfg (port 8080 when nil). Port 0 binds a
// random port. Chat on /ws goes through rt; a nil rt echoes messages back.
func NewServer(cfg *domain.GatewayConfig, rt ChatRouter, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	s := &Server{port: cfg.Port, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/ws", &wsHandler{router: rt, logger: s.log()})

	s.http = &http.Server{
		Handler:           logRequests(s.log(), BearerAuth(cfg.AuthToken)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Addr is the bound address once Ready is closed, empty before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenErr is the error of the listen in Run, if it failed.
func (s *Server) ListenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenErr
}

// Ready is closed once Run has bound its listener.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Handler is the full handler chain, for tests that do not bind.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Seams for tests.
var (
	netListen      = net.Listen
	serverShutdown = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// Run binds the port and serves until shutdown is closed. A clean stop
// returns nil.
func (s *Server) Run(shutdown <-chan struct{}) error {
	ln, err := netListen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		s.mu.Lock()
		s.listenErr = err
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)
	s.log().Info("gateway: listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err = serverShutdown(s.http, ctx)
	if err != nil {
		_ = s.http.Close()
	}
	<-served
	if err != nil {
		return err
	}
	s.log().Info("gateway: stopped")
	return nil
}
