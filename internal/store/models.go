// Package store persists users, contacts, groups, and messages in SQLite.
package store

import "time"

// MessageStatus is the delivery lifecycle of a message. Transitions are
// monotonic: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// rank orders statuses so updates never regress an already-read message.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// User is an account row. PasswordHash is a bcrypt hash and never leaves the
// store layer in API responses.
type User struct {
	ID              int64
	Email           string
	PasswordHash    string
	DisplayName     string
	About           string
	ProfilePhotoURL string
	ThemePreference string
	LastSeen        time.Time
	CreatedAt       time.Time
}

// Group is a named chat group with a single immutable admin.
type Group struct {
	ID        int64
	Name      string
	AdminID   int64
	CreatedAt time.Time
}

// Message is immutable once persisted, except for its status. Exactly one of
// ReceiverID/GroupID is set.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	GroupID    int64
	Content    string
	FileURL    string
	FileType   string
	FileName   string
	FileSize   int64
	Status     MessageStatus
	CreatedAt  time.Time
}

// IsGroup reports whether the message is addressed to a group.
func (m *Message) IsGroup() bool {
	return m.GroupID != 0
}
