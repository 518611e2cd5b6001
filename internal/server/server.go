// Package server constructs and starts the chat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"echat/internal/auth"
	"echat/internal/store"
)

// Server owns the HTTP surface, the session registry, and the live-delivery
// components. All state is wired explicitly; there are no package-level
// singletons.
type Server struct {
	cfg      *Config
	store    *store.Store
	tokens   *auth.TokenIssuer
	hub      *Hub
	router   *DeliveryRouter
	presence *PresenceBroadcaster
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server
}

// New wires a Server from its configuration and an open store.
func New(cfg *Config, st *store.Store) *Server {
	hub := NewHub()
	origins := newOriginPolicy(cfg.AllowedOrigins)

	s := &Server{
		cfg:      cfg,
		store:    st,
		tokens:   auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		hub:      hub,
		router:   NewDeliveryRouter(hub, st),
		presence: NewPresenceBroadcaster(hub, st),
		origins:  origins,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      origins.checkOrigin,
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub exposes the session registry for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for connections and blocks until the server exits.
func (s *Server) Start() error {
	log.Printf("Server listening on %s", s.cfg.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, then closes all live chat
// connections and waits for their pump goroutines.
func (s *Server) Shutdown() error {
	log.Println("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	return s.hub.Shutdown(s.cfg.ShutdownTimeout)
}
