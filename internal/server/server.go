// ABOUTME: HTTP server exposing the store protocol as a JSON API for the UI
// ABOUTME: Owns routing, auth middleware wiring and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/ordertrack/internal/auth"
	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/store"
)

// Server serves the ordertrack HTTP API. All reads go through getters and
// all writes go through dispatched actions; the server holds no state of
// its own.
type Server struct {
	store      *store.Store
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	markdown   goldmark.Markdown
	logger     *slog.Logger
}

// New creates a Server bound to the given store. Pass nil logger for default.
func New(s *store.Store, verifier *auth.JWTVerifier, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		store:    s,
		verifier: verifier,
		markdown: goldmark.New(),
		logger:   logger.With("component", "server"),
	}

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)

	authed := auth.HTTPAuthMiddleware(s.verifier, s.lookupUser)

	mux.Handle("/api/orders", authed(http.HandlerFunc(s.handleOrders)))
	mux.Handle("/api/orders/", authed(http.HandlerFunc(s.handleOrderRoutes)))
	mux.Handle("/api/processes", authed(http.HandlerFunc(s.handleProcesses)))
	mux.Handle("/api/processes/", authed(http.HandlerFunc(s.handleProcessRoutes)))
	mux.Handle("/api/stats", authed(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/events", authed(http.HandlerFunc(s.handleEvents)))

	adminOnly := auth.RequireAdminHTTP()
	mux.Handle("/api/history", authed(adminOnly(http.HandlerFunc(s.handleHistory))))
	mux.Handle("/api/state", authed(adminOnly(http.HandlerFunc(s.handleState))))

	return mux
}

// lookupUser resolves a verified token subject through the users module.
func (s *Server) lookupUser(userID string) (name, role string, ok bool) {
	v, err := s.store.Get(users.GetterUserByID)
	if err != nil {
		return "", "", false
	}
	user := v.(func(string) *model.User)(userID)
	if user == nil {
		return "", "", false
	}
	return user.Name, user.Role, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests with a fresh timeout context.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
