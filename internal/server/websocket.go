// Package server upgrades authenticated HTTP requests into live chat
// connections.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// closeCodeAuthFailure is the distinguished close code sent when the token
// presented at connect time is missing, invalid, or expired. It is distinct
// from normal closure so clients can tell a bad credential from a dropped
// connection.
const closeCodeAuthFailure = 4001

// handleWebSocket authenticates and registers a live connection.
//
// The token arrives as a query parameter, so verification completes before
// any session exists: a connection that fails authentication is closed with
// closeCodeAuthFailure and never appears in the registry. The upgrader's
// HandshakeTimeout bounds half-open upgrade attempts.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, authErr := s.tokens.Verify(r.URL.Query().Get("token"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if authErr != nil {
		log.Printf("Rejecting unauthenticated connection from %s", r.RemoteAddr)
		deadline := time.Now().Add(writeDeadline)
		msg := websocket.FormatCloseMessage(closeCodeAuthFailure, "authentication failed")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error writing auth rejection to %s: %v", r.RemoteAddr, err)
		}
		conn.Close()
		return
	}

	client := NewClient(s.hub, conn, identity.UserID, r.RemoteAddr, s.cfg)
	client.router = s.router
	client.onOffline = func() {
		if err := s.store.UpdateLastSeen(identity.UserID, time.Now().UTC()); err != nil {
			log.Printf("Updating last_seen for user %d failed: %v", identity.UserID, err)
		}
		s.presence.BroadcastStatus(identity.UserID, StatusOffline)
	}

	if s.hub.Register(client) {
		s.presence.BroadcastStatus(identity.UserID, StatusOnline)
	}

	s.hub.track(client.writePump)
	s.hub.track(client.readPump)
}
