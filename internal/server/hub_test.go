package server

import (
	"fmt"
	"sync"
	"testing"
)

// newTestClient builds a connection-less client suitable for registry and
// fan-out tests.
func newTestClient(hub *Hub, userID int64) *Client {
	return NewClient(hub, nil, userID, fmt.Sprintf("test-%d", userID), DefaultConfig())
}

func TestRegisterFirstSessionComesOnline(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, 1)

	if !hub.Register(client) {
		t.Error("Register() of a first session should report the user came online")
	}
	if !hub.IsOnline(1) {
		t.Error("IsOnline(1) = false after registering a session")
	}
}

func TestRegisterSecondSessionDoesNotReportTransition(t *testing.T) {
	hub := NewHub()
	first := newTestClient(hub, 1)
	second := newTestClient(hub, 1)

	hub.Register(first)
	if hub.Register(second) {
		t.Error("Register() of a second session should not report a transition")
	}
	if got := len(hub.SessionsFor(1)); got != 2 {
		t.Errorf("SessionsFor(1) returned %d sessions, want 2", got)
	}
}

func TestUnregisterLastSessionGoesOffline(t *testing.T) {
	hub := NewHub()
	first := newTestClient(hub, 1)
	second := newTestClient(hub, 1)
	hub.Register(first)
	hub.Register(second)

	if hub.Unregister(first) {
		t.Error("Unregister() should not report offline while a session remains")
	}
	if !hub.IsOnline(1) {
		t.Error("IsOnline(1) = false while one session remains")
	}

	if !hub.Unregister(second) {
		t.Error("Unregister() of the last session should report the user went offline")
	}
	if hub.IsOnline(1) {
		t.Error("IsOnline(1) = true after the last session unregistered")
	}
	if got := len(hub.SessionsFor(1)); got != 0 {
		t.Errorf("SessionsFor(1) returned %d sessions after going offline, want 0", got)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, 1)
	hub.Register(client)

	if !hub.Unregister(client) {
		t.Error("first Unregister() should report offline")
	}
	if hub.Unregister(client) {
		t.Error("second Unregister() of the same client should be a no-op")
	}
}

func TestUnregisterUnknownClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, 1)

	if hub.Unregister(client) {
		t.Error("Unregister() of a never-registered client should be a no-op")
	}
}

func TestSendToUserReachesAllSessions(t *testing.T) {
	hub := NewHub()
	first := newTestClient(hub, 1)
	second := newTestClient(hub, 1)
	hub.Register(first)
	hub.Register(second)

	results := hub.SendToUser(1, []byte("hello"))
	if len(results) != 2 {
		t.Fatalf("SendToUser() returned %d results, want 2", len(results))
	}
	for _, result := range results {
		if result.Err != nil {
			t.Errorf("push to session %s failed: %v", result.Session.addr, result.Err)
		}
	}

	for _, client := range []*Client{first, second} {
		select {
		case payload := <-client.GetSendChan():
			if string(payload) != "hello" {
				t.Errorf("session received %q, want %q", payload, "hello")
			}
		default:
			t.Errorf("session %s received nothing", client.addr)
		}
	}
}

func TestSendToOfflineUserIsEmpty(t *testing.T) {
	hub := NewHub()

	if results := hub.SendToUser(99, []byte("hello")); len(results) != 0 {
		t.Errorf("SendToUser() to an offline user returned %d results, want 0", len(results))
	}
}

func TestSendToUserFullBufferDoesNotAbortOthers(t *testing.T) {
	hub := NewHub()
	slow := newTestClient(hub, 1)
	healthy := newTestClient(hub, 1)
	hub.Register(slow)
	hub.Register(healthy)

	// Fill the slow session's buffer to capacity.
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("filler")
	}

	results := hub.SendToUser(1, []byte("payload"))
	if len(results) != 2 {
		t.Fatalf("SendToUser() returned %d results, want 2", len(results))
	}

	var failed, delivered int
	for _, result := range results {
		if result.Err != nil {
			failed++
			if result.Session != slow {
				t.Error("the failing session should be the one with the full buffer")
			}
		} else {
			delivered++
		}
	}
	if failed != 1 || delivered != 1 {
		t.Errorf("got %d failures and %d deliveries, want 1 and 1", failed, delivered)
	}

	select {
	case payload := <-healthy.GetSendChan():
		if string(payload) != "payload" {
			t.Errorf("healthy session received %q, want %q", payload, "payload")
		}
	default:
		t.Error("healthy session received nothing despite sibling failure")
	}
}

func TestSendToUnregisteredSessionFails(t *testing.T) {
	hub := NewHub()
	gone := newTestClient(hub, 1)
	stays := newTestClient(hub, 1)
	hub.Register(gone)
	hub.Register(stays)
	hub.Unregister(gone)

	results := hub.SendToUser(1, []byte("payload"))
	if len(results) != 1 {
		t.Fatalf("SendToUser() returned %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("push to the remaining session failed: %v", results[0].Err)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			client := newTestClient(hub, userID)
			hub.Register(client)
			hub.SendToUser(userID, []byte("ping"))
			hub.Unregister(client)
		}(int64(i % 10))
	}
	wg.Wait()

	for userID := int64(0); userID < 10; userID++ {
		if hub.IsOnline(userID) {
			t.Errorf("IsOnline(%d) = true after all sessions unregistered", userID)
		}
	}
}
