// Package server implements the HTTP Surface (spec §4.10): one listener per
// vendor exposing the client dialect endpoints and an admin surface, both
// routed through a single internal/gateway.Facade. Grounded on the
// teacher's internal/server.Server for the bind/restart/shutdown lifecycle
// and requestLogger middleware shape.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/gateway"
	"github.com/mira-ai/antigravity-gateway/internal/logging"
)

// Server is one vendor's HTTP listener: client dialect endpoints plus an
// admin surface, both backed by a single Facade (spec §4.1 start/stop/
// restart).
type Server struct {
	Vendor  account.Vendor
	Facade  *gateway.Facade
	Bus     *logging.Bus
	Version string

	mu         sync.Mutex
	httpServer *http.Server
	host       string
	port       int
	startTime  time.Time

	oauthSessions *oauthSessionStore
}

func New(vendor account.Vendor, facade *gateway.Facade, bus *logging.Bus, version string) *Server {
	return &Server{Vendor: vendor, Facade: facade, Bus: bus, Version: version, oauthSessions: newOAuthSessionStore()}
}

// Status is the external-facing lifecycle snapshot (spec §4.1 `Status`).
type Status struct {
	Running bool   `json:"running"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.httpServer != nil, Host: s.host, Port: s.port}
}

// Start binds (host, port) and begins serving in the background. Calling
// Start while already running returns the current status without rebinding
// (spec §4.1 "If already running, returns current status").
func (s *Server) Start(host string, port int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return Status{Running: true, Host: s.host, Port: s.port}, nil
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	httpSrv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", host, port),
		Handler:        requestLogger(mux),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return Status{}, fmt.Errorf("bind %s: %w", httpSrv.Addr, err)
	}

	s.httpServer = httpSrv
	s.host = host
	s.port = port
	s.startTime = time.Now()

	if err := s.Facade.Start(); err != nil {
		s.httpServer = nil
		ln.Close()
		return Status{}, fmt.Errorf("start account pool: %w", err)
	}

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("listener stopped", "vendor", s.Vendor, "error", err)
		}
	}()

	s.publish(logging.EventStatusChange, true, port)
	return Status{Running: true, Host: host, Port: port}, nil
}

// Stop shuts the listener down gracefully; in-flight requests complete
// (spec §5 "Cancellation semantics").
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpSrv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if httpSrv == nil {
		return nil
	}
	s.Facade.Stop()
	s.publish(logging.EventStatusChange, false, 0)
	return httpSrv.Shutdown(ctx)
}

// Restart stops then starts on the given address (spec §4.1 "restart() —
// stop then start; used when host or port changes mid-update").
func (s *Server) Restart(ctx context.Context, host string, port int) (Status, error) {
	if err := s.Stop(ctx); err != nil {
		return Status{}, err
	}
	return s.Start(host, port)
}

func (s *Server) publish(kind logging.EventKind, running bool, port int) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(logging.Event{Kind: kind, Vendor: string(s.Vendor), Running: running, Port: port})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
