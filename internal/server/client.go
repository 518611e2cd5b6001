// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// Client is one live connection bound to exactly one authenticated user.
// The hub owns its registry membership for the connection's lifetime; the
// send channel is buffered so fan-out never blocks on a slow reader.
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	userID         int64
	addr           string
	closed         bool
	router         *DeliveryRouter
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	teardownOnce sync.Once
	onOffline    func()
}

// NewClient creates a Client for an authenticated connection. conn may be
// nil in tests that only exercise registry and fan-out behavior.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, addr string, cfg *Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         userID,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// UserID returns the identity the connection authenticated as.
func (c *Client) UserID() int64 {
	return c.userID
}

// GetSendChan returns the client's send channel for reading outgoing
// payloads. This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// teardown runs the close path exactly once, no matter how many of the
// three close causes fire (client disconnect, transport error, forced
// closure). The offline callback runs only when the last session is gone.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		wentOffline := c.hub.Unregister(c)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing connection for %s: %v", c.addr, err)
			}
		}
		if wentOffline && c.onOffline != nil {
			c.onOffline()
		}
	})
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError logs an appropriate message for the error that ended the
// read loop.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// processFrame decodes one inbound frame and hands it to the delivery
// router. Frames outside the closed event set are dropped without a
// response; the connection stays open.
func (c *Client) processFrame(rawMessage []byte) {
	event, err := DecodeEvent(rawMessage)
	if err != nil {
		log.Printf("Dropping invalid event from user %d (%s): %v", c.userID, c.addr, err)
		return
	}
	c.router.Route(c.userID, event)
}

// readPump processes inbound frames in strict arrival order until the
// connection ends, then runs the close path.
func (c *Client) readPump() {
	defer c.teardown()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			break
		}

		if c.rateLimiter != nil && !c.rateLimiter.allow() {
			log.Printf("Rate limit exceeded for %s (%d events per %s); discarding event", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
			continue
		}

		c.processFrame(rawMessage)
	}
}

// writePump flushes the send channel to the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", c.addr, err)
				return
			}
			if !ok {
				// Registry closed the channel; say goodbye.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", c.addr, err)
				}
				return
			}
			if !c.writePayload(payload) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing ping message to %s: %v", c.addr, err)
				}
				return
			}
		}
	}
}

// writePayload writes one payload plus anything queued behind it, one frame
// each so clients never have to split concatenated pushes.
func (c *Client) writePayload(payload []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return false
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing queued message to %s: %v", c.addr, err)
			}
			return false
		}
	}
	return true
}
