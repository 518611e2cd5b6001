// Package server routes inbound client events to persistence and to the live
// sessions that should receive them.
package server

import (
	"log"

	"echat/internal/store"
)

// MessageStore is the persistence surface the delivery router needs.
type MessageStore interface {
	CreateMessage(msg *store.Message) (*store.Message, error)
	MessageByID(id int64) (*store.Message, error)
	UpdateMessageStatus(id int64, status store.MessageStatus) error
	GroupMemberIDs(groupID int64) ([]int64, error)
}

// DeliveryRouter turns one inbound event into at most one persisted message
// plus a set of live pushes. Persistence always happens before fan-out, so a
// client reconnecting right after a live push can still load the message
// from history. Fan-out is at-most-once and best-effort.
type DeliveryRouter struct {
	hub   *Hub
	store MessageStore
}

// NewDeliveryRouter wires the router to the session registry and the store.
func NewDeliveryRouter(hub *Hub, messageStore MessageStore) *DeliveryRouter {
	return &DeliveryRouter{hub: hub, store: messageStore}
}

// Route dispatches one validated event from the given sender.
func (r *DeliveryRouter) Route(senderID int64, event Event) {
	switch ev := event.(type) {
	case MessageEvent:
		r.RouteNewMessage(senderID, ev)
	case TypingEvent:
		r.RouteTypingSignal(senderID, ev)
	case ReadReceiptEvent:
		r.RouteReadReceipt(senderID, ev)
	}
}

// RouteNewMessage persists the message, then fans it out. A persistence
// failure aborts before any push; an unpersisted message is never delivered.
func (r *DeliveryRouter) RouteNewMessage(senderID int64, ev MessageEvent) {
	msg, err := r.store.CreateMessage(&store.Message{
		SenderID:   senderID,
		ReceiverID: ev.ReceiverID,
		GroupID:    ev.GroupID,
		Content:    ev.Content,
		FileURL:    ev.FileURL,
		FileType:   ev.FileType,
		FileName:   ev.FileName,
		FileSize:   ev.FileSize,
	})
	if err != nil {
		log.Printf("Persisting message from user %d failed: %v", senderID, err)
		return
	}

	if msg.IsGroup() {
		r.fanOutGroupMessage(msg)
		return
	}

	push := encodePayload(newMessagePayload("new_message", msg))
	r.deliver(msg.ReceiverID, push)

	// The sender's own sessions get a distinct acknowledgment carrying the
	// persisted message, so every one of the sender's devices sees the sent
	// message without having to infer it from the broadcast.
	ack := encodePayload(newMessagePayload("message_sent_ack", msg))
	r.deliver(msg.SenderID, ack)
}

// fanOutGroupMessage delivers a group message to every member except the
// sender, and a distinct sent acknowledgment back to the sender.
func (r *DeliveryRouter) fanOutGroupMessage(msg *store.Message) {
	members, err := r.store.GroupMemberIDs(msg.GroupID)
	if err != nil {
		log.Printf("Resolving members of group %d failed: %v", msg.GroupID, err)
		return
	}

	push := encodePayload(newMessagePayload("new_message", msg))
	for _, memberID := range members {
		if memberID == msg.SenderID {
			continue
		}
		r.deliver(memberID, push)
	}

	ack := encodePayload(newMessagePayload("message_sent_ack", msg))
	r.deliver(msg.SenderID, ack)
}

// RouteTypingSignal forwards a typing indicator. Nothing is persisted;
// offline targets mean the signal evaporates.
func (r *DeliveryRouter) RouteTypingSignal(senderID int64, ev TypingEvent) {
	pushType := "typing_stop"
	if ev.Starting {
		pushType = "typing_start"
	}
	push := encodePayload(typingPayload{Type: pushType, SenderID: senderID, GroupID: ev.GroupID})

	if ev.GroupID != 0 {
		members, err := r.store.GroupMemberIDs(ev.GroupID)
		if err != nil {
			log.Printf("Resolving members of group %d failed: %v", ev.GroupID, err)
			return
		}
		for _, memberID := range members {
			if memberID == senderID {
				continue
			}
			r.deliver(memberID, push)
		}
		return
	}

	r.deliver(ev.ReceiverID, push)
}

// RouteReadReceipt advances the message to read and notifies the original
// sender. The status update is monotonic, so marking twice is idempotent.
func (r *DeliveryRouter) RouteReadReceipt(readerID int64, ev ReadReceiptEvent) {
	msg, err := r.store.MessageByID(ev.MessageID)
	if err != nil {
		log.Printf("Read receipt for unknown message %d from user %d: %v", ev.MessageID, readerID, err)
		return
	}

	// Already read: the update would be a no-op, and the sender was already
	// notified. Exactly one receipt per message.
	if msg.Status == store.StatusRead {
		return
	}

	if err := r.store.UpdateMessageStatus(msg.ID, store.StatusRead); err != nil {
		log.Printf("Marking message %d read failed: %v", msg.ID, err)
		return
	}

	push := encodePayload(readReceiptPayload{Type: "message_read", MessageID: msg.ID, ReadBy: readerID})
	r.deliver(msg.SenderID, push)
}

// deliver pushes the payload to every live session of one user, logging
// per-session failures without propagating them.
func (r *DeliveryRouter) deliver(userID int64, payload []byte) {
	for _, result := range r.hub.SendToUser(userID, payload) {
		if result.Err != nil {
			log.Printf("Push to user %d session %s failed: %v", userID, result.Session.addr, result.Err)
		}
	}
}
