// Package server defines the wire shapes exchanged over live connections:
// the closed set of inbound client events and the outbound push payloads.
package server

import (
	"encoding/json"
	"errors"
	"time"

	"echat/internal/store"
)

// Inbound event validation failures. Malformed events are dropped silently
// at the boundary; the connection stays open.
var (
	errUnknownEventType = errors.New("unknown event type")
	errMissingTarget    = errors.New("event needs exactly one of receiver_id, group_id")
	errEmptyMessage     = errors.New("message has neither content nor attachment")
	errMissingMessageID = errors.New("message_read needs message_id")
)

// Event is one validated inbound client event. The concrete types form a
// closed set; router logic never branches on unchecked field presence.
type Event interface {
	isEvent()
}

// MessageEvent is a request to send a message to a user or a group.
type MessageEvent struct {
	ReceiverID int64
	GroupID    int64
	Content    string
	FileURL    string
	FileType   string
	FileName   string
	FileSize   int64
}

// TypingEvent is an ephemeral typing indicator.
type TypingEvent struct {
	Starting   bool
	ReceiverID int64
	GroupID    int64
}

// ReadReceiptEvent marks a message as read by the connected user.
type ReadReceiptEvent struct {
	MessageID int64
}

func (MessageEvent) isEvent()     {}
func (TypingEvent) isEvent()      {}
func (ReadReceiptEvent) isEvent() {}

// rawEvent is the loose JSON frame before validation.
type rawEvent struct {
	Type       string `json:"type"`
	ReceiverID int64  `json:"receiver_id"`
	GroupID    int64  `json:"group_id"`
	Content    string `json:"content"`
	FileURL    string `json:"file_url"`
	FileType   string `json:"file_type"`
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	MessageID  int64  `json:"message_id"`
}

// DecodeEvent parses and validates one inbound frame. It returns an error
// for anything outside the closed event set; callers drop such frames.
func DecodeEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "message":
		if (raw.ReceiverID == 0) == (raw.GroupID == 0) {
			return nil, errMissingTarget
		}
		if raw.Content == "" && raw.FileURL == "" {
			return nil, errEmptyMessage
		}
		return MessageEvent{
			ReceiverID: raw.ReceiverID,
			GroupID:    raw.GroupID,
			Content:    raw.Content,
			FileURL:    raw.FileURL,
			FileType:   raw.FileType,
			FileName:   raw.FileName,
			FileSize:   raw.FileSize,
		}, nil

	case "typing_start", "typing_stop":
		if (raw.ReceiverID == 0) == (raw.GroupID == 0) {
			return nil, errMissingTarget
		}
		return TypingEvent{
			Starting:   raw.Type == "typing_start",
			ReceiverID: raw.ReceiverID,
			GroupID:    raw.GroupID,
		}, nil

	case "message_read":
		if raw.MessageID == 0 {
			return nil, errMissingMessageID
		}
		return ReadReceiptEvent{MessageID: raw.MessageID}, nil
	}

	return nil, errUnknownEventType
}

// messagePayload is the outbound shape shared by new_message pushes and
// message_sent_ack echoes.
type messagePayload struct {
	Type       string `json:"type"`
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	Content    string `json:"content,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

func newMessagePayload(pushType string, msg *store.Message) messagePayload {
	return messagePayload{
		Type:       pushType,
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		GroupID:    msg.GroupID,
		Content:    msg.Content,
		FileURL:    msg.FileURL,
		FileType:   msg.FileType,
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		Status:     string(msg.Status),
		CreatedAt:  msg.CreatedAt.Format(time.RFC3339),
	}
}

type typingPayload struct {
	Type     string `json:"type"`
	SenderID int64  `json:"sender_id"`
	GroupID  int64  `json:"group_id,omitempty"`
}

type readReceiptPayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	ReadBy    int64  `json:"read_by"`
}

type userStatusPayload struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// encodePayload marshals an outbound push. The payload structs hold only
// plain values, so this cannot fail at runtime.
func encodePayload(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
