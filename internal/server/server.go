// Package server exposes the view models over HTTP: one-shot JSON endpoints for reads and
// actions, and a websocket endpoint that keeps a view model mounted and pushes its state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bookshelf/internal/identity"
	"bookshelf/internal/remote"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer returns new Server serving the view models of backend, with sessions resolved by verifier
func NewServer(logger *zap.SugaredLogger, backend remote.Backend, verifier *identity.Verifier, opts ...Option) (*Server, error) {
	if verifier == nil {
		return nil, fmt.Errorf("server: %w", identity.ErrNoSecret)
	}

	h := &handler{
		logger:  logger,
		backend: backend,
	}

	cfg := &config{
		httpServer: &http.Server{Addr: EnvConfig{Host: "0.0.0.0", Port: 9000}.Addr()},
		handlers: map[string]http.Handler{
			"/reviews/get":      http.HandlerFunc(h.reviewsByBook),
			"/reviews/add":      http.HandlerFunc(h.submitReview),
			"/messages/get":     http.HandlerFunc(h.conversation),
			"/messages/add":     http.HandlerFunc(h.sendMessage),
			"/communities/get":  http.HandlerFunc(h.communityList),
			"/communities/add":  http.HandlerFunc(h.createCommunity),
			"/communities/join": http.HandlerFunc(h.joinCommunity),
			"/books/get":        http.HandlerFunc(h.bookList),
			"/books/checkout":   h.bookAction(h.checkOut),
			"/books/checkin":    h.bookAction(h.checkIn),
			"/books/wishlist":   h.bookAction(h.toggleWishlist),
			"/loans/get":        http.HandlerFunc(h.loanList),
		},
		routes: map[string]http.Handler{
			"/live":    http.HandlerFunc(h.live),
			"/metrics": promhttp.Handler(),
		},
	}

	for _, o := range opts {
		o.apply(cfg)
	}
	h.upgrader = newUpgrader(cfg.origins)

	internal := []Option{
		applyEnforcePostJson(),
		mergeRoutes(),
		applyAuthenticate(verifier),
		applyLog(logger.Desugar()),
		registerHandlers(),
	}
	for _, o := range internal {
		o.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root handler with every middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
