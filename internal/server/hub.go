// Package server coordinates session registration, message fan-out, and
// connection cleanup for the chat WebSocket system via the Hub type.
package server

import (
	"errors"
	"log"
	"sync"
	"time"
)

// Per-session send failures are isolated: the failed session is cleaned up
// by its own disconnect handler, never by the sender.
var (
	errSessionClosed   = errors.New("session closed")
	errSendBufferFull  = errors.New("send buffer full")
	errShutdownTimeout = errors.New("hub shutdown timed out")
)

// SendResult reports the outcome of one per-session push attempt.
type SendResult struct {
	Session *Client
	Err     error
}

// Hub is the session registry: it tracks which users are reachable through
// which live connections. A user may hold multiple concurrent sessions
// across devices; a user whose session set empties is removed from the map
// entirely, so the online check is a single map lookup.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Client]struct{}
	wg       sync.WaitGroup
}

// NewHub creates an empty session registry.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[int64]map[*Client]struct{}),
	}
}

// Register adds a client to its user's live session set and reports whether
// this was the user's first session (the offline to online transition). The
// caller owns the resulting presence broadcast; the registry never fans out
// on its own.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[client.userID] = set
	}
	client.closed = false
	set[client] = struct{}{}

	log.Printf("Client registered for user %d from %s. Sessions: %d", client.userID, client.addr, len(set))
	return !ok
}

// Unregister removes a client from its user's session set and reports
// whether the user went offline (last session removed). Unregistering a
// client that is not present is a no-op; duplicate disconnect events are
// expected.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()

	set, ok := h.sessions[client.userID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, present := set[client]; !present {
		h.mu.Unlock()
		return false
	}

	delete(set, client)
	client.closed = true
	wentOffline := len(set) == 0
	if wentOffline {
		delete(h.sessions, client.userID)
	}
	remaining := len(set)
	h.mu.Unlock()

	// Close the send channel after releasing the lock.
	close(client.send)
	log.Printf("Client unregistered for user %d from %s. Sessions: %d", client.userID, client.addr, remaining)
	return wentOffline
}

// IsOnline reports whether the user has at least one live session.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// SessionsFor returns a snapshot of the user's live sessions. Sessions may
// be unregistered concurrently; callers must not assume the snapshot stays
// live.
func (h *Hub) SessionsFor(userID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.sessions[userID]
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// SendToUser pushes the payload to every live session of the user and
// returns the per-session outcomes. A failure on one session never aborts
// delivery to the others and never surfaces as an error to the caller.
func (h *Hub) SendToUser(userID int64, payload []byte) []SendResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.sessions[userID]
	results := make([]SendResult, 0, len(set))
	for client := range set {
		results = append(results, SendResult{Session: client, Err: h.push(client, payload)})
	}
	return results
}

// push attempts a non-blocking send to one session. The hub lock is held by
// the caller, so the closed check and the channel send form one critical
// section with respect to Unregister.
func (h *Hub) push(client *Client, payload []byte) error {
	if client.closed {
		return errSessionClosed
	}
	select {
	case client.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// track runs a pump goroutine under the shutdown WaitGroup.
func (h *Hub) track(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Shutdown closes every live connection and waits for the pump goroutines to
// finish, or gives up after the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Shutting down all client connections...")

	h.mu.Lock()
	var clients []*Client
	for _, set := range h.sessions {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Hub shutdown completed, closed %d client connections", len(clients))
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return errShutdownTimeout
	}
}
