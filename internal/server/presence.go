// Package server broadcasts online/offline transitions to the contacts of
// the affected user.
package server

import "log"

// ContactSource resolves the visible contact set for a user.
type ContactSource interface {
	ContactIDs(userID int64) ([]int64, error)
}

// Presence status values pushed to contacts.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceBroadcaster emits user_status pushes to a user's contacts. The
// connection lifecycle invokes it exactly twice per user: when the session
// count goes 0 to 1 and when it returns to 0. A second device connecting
// does not re-broadcast.
type PresenceBroadcaster struct {
	hub      *Hub
	contacts ContactSource
}

// NewPresenceBroadcaster wires the broadcaster to the session registry and
// the contacts lookup.
func NewPresenceBroadcaster(hub *Hub, contacts ContactSource) *PresenceBroadcaster {
	return &PresenceBroadcaster{hub: hub, contacts: contacts}
}

// BroadcastStatus notifies each of the user's contacts about the status
// change. Offline or unreachable contacts are skipped silently.
func (p *PresenceBroadcaster) BroadcastStatus(userID int64, status string) {
	contactIDs, err := p.contacts.ContactIDs(userID)
	if err != nil {
		log.Printf("Resolving contacts of user %d for presence broadcast failed: %v", userID, err)
		return
	}

	push := encodePayload(userStatusPayload{Type: "user_status", UserID: userID, Status: status})
	for _, contactID := range contactIDs {
		for _, result := range p.hub.SendToUser(contactID, push) {
			if result.Err != nil {
				log.Printf("Presence push to user %d session %s failed: %v", contactID, result.Session.addr, result.Err)
			}
		}
	}
}
