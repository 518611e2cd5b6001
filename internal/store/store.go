package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated,
// e.g. signing up with an email that is already registered.
var ErrDuplicate = errors.New("already exists")

const timeLayout = time.RFC3339

// Store wraps the SQLite database handle.
type Store struct {
	conn *sql.DB
}

// Open opens the database at path and creates the schema if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			about TEXT NOT NULL DEFAULT '',
			profile_photo_url TEXT NOT NULL DEFAULT '',
			theme_preference TEXT NOT NULL DEFAULT 'light',
			last_seen TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES users(id),
			contact_user_id INTEGER NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL,
			UNIQUE(owner_id, contact_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			admin_id INTEGER NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES groups(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			joined_at TEXT NOT NULL,
			UNIQUE(group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			receiver_id INTEGER,
			group_id INTEGER,
			content TEXT NOT NULL DEFAULT '',
			file_url TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'sent',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, receiver_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return nil
}

// --- Users ---

// CreateUser inserts a new account. Returns ErrDuplicate if the email is
// already registered.
func (s *Store) CreateUser(email, passwordHash string) (*User, error) {
	var exists int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check user exists: %w", err)
	}
	if exists > 0 {
		return nil, ErrDuplicate
	}

	now := time.Now().UTC()
	res, err := s.conn.Exec(
		`INSERT INTO users (email, password_hash, last_seen, created_at) VALUES (?, ?, ?, ?)`,
		email, passwordHash, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return s.UserByID(id)
}

const userColumns = `id, email, password_hash, display_name, about, profile_photo_url, theme_preference, last_seen, created_at`

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastSeen, createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.About,
		&u.ProfilePhotoURL, &u.ThemePreference, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.LastSeen, _ = time.Parse(timeLayout, lastSeen)
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &u, nil
}

// UserByEmail looks up an account by email.
func (s *Store) UserByEmail(email string) (*User, error) {
	row := s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return s.scanUser(row)
}

// UserByID looks up an account by id.
func (s *Store) UserByID(id int64) (*User, error) {
	row := s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return s.scanUser(row)
}

// UpdateProfile applies the non-nil profile fields to the user.
func (s *Store) UpdateProfile(id int64, displayName, about, themePreference *string) (*User, error) {
	if displayName != nil {
		if _, err := s.conn.Exec(`UPDATE users SET display_name = ? WHERE id = ?`, *displayName, id); err != nil {
			return nil, fmt.Errorf("update display_name: %w", err)
		}
	}
	if about != nil {
		if _, err := s.conn.Exec(`UPDATE users SET about = ? WHERE id = ?`, *about, id); err != nil {
			return nil, fmt.Errorf("update about: %w", err)
		}
	}
	if themePreference != nil {
		if _, err := s.conn.Exec(`UPDATE users SET theme_preference = ? WHERE id = ?`, *themePreference, id); err != nil {
			return nil, fmt.Errorf("update theme_preference: %w", err)
		}
	}
	return s.UserByID(id)
}

// UpdateProfilePhoto sets the profile photo URL. An empty URL clears it.
func (s *Store) UpdateProfilePhoto(id int64, url string) error {
	if _, err := s.conn.Exec(`UPDATE users SET profile_photo_url = ? WHERE id = ?`, url, id); err != nil {
		return fmt.Errorf("update profile photo: %w", err)
	}
	return nil
}

// UpdateLastSeen records when the user was last connected.
func (s *Store) UpdateLastSeen(id int64, at time.Time) error {
	if _, err := s.conn.Exec(`UPDATE users SET last_seen = ? WHERE id = ?`, at.UTC().Format(timeLayout), id); err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

// --- Contacts ---

// AddContact records an explicit contact edge. Adding an existing contact is
// a no-op.
func (s *Store) AddContact(ownerID, contactUserID int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.conn.Exec(
		`INSERT OR IGNORE INTO contacts (owner_id, contact_user_id, created_at) VALUES (?, ?, ?)`,
		ownerID, contactUserID, now,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// ContactIDs returns the visible contact set for a user: explicit contact
// edges plus every user a direct message has been exchanged with. The union
// is recomputed on every call; it changes whenever a new conversation starts.
func (s *Store) ContactIDs(userID int64) ([]int64, error) {
	rows, err := s.conn.Query(`
		SELECT contact_user_id FROM contacts WHERE owner_id = ?
		UNION
		SELECT sender_id FROM messages WHERE receiver_id = ?
		UNION
		SELECT receiver_id FROM messages WHERE sender_id = ? AND receiver_id IS NOT NULL`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// Contacts resolves the visible contact set to user rows.
func (s *Store) Contacts(userID int64) ([]*User, error) {
	ids, err := s.ContactIDs(userID)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := s.UserByID(id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// --- Groups ---

// CreateGroup creates a group and joins the creator as its first member in
// one transaction. A group with zero members is never observable.
func (s *Store) CreateGroup(name string, adminID int64) (*Group, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO groups (name, admin_id, created_at) VALUES (?, ?, ?)`,
		name, adminID, now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("group id: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
		id, adminID, now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit group: %w", err)
	}

	return &Group{ID: id, Name: name, AdminID: adminID, CreatedAt: now}, nil
}

// GroupByID looks up a group.
func (s *Store) GroupByID(id int64) (*Group, error) {
	var g Group
	var createdAt string
	err := s.conn.QueryRow(`SELECT id, name, admin_id, created_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.AdminID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &g, nil
}

// AddGroupMember joins a user to a group. Adding an existing member is a
// no-op.
func (s *Store) AddGroupMember(groupID, userID int64) error {
	if _, err := s.GroupByID(groupID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.conn.Exec(
		`INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
		groupID, userID, now,
	)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// GroupMemberIDs returns the ids of all members of a group.
func (s *Store) GroupMemberIDs(groupID int64) ([]int64, error) {
	rows, err := s.conn.Query(`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserGroups returns the groups the user belongs to.
func (s *Store) UserGroups(userID int64) ([]*Group, error) {
	rows, err := s.conn.Query(`
		SELECT g.id, g.name, g.admin_id, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.AdminID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// --- Messages ---

const messageColumns = `id, sender_id, COALESCE(receiver_id, 0), COALESCE(group_id, 0), content, file_url, file_type, file_name, file_size, status, created_at`

// CreateMessage persists a new message with status "sent" and a
// server-assigned timestamp. Exactly one of ReceiverID/GroupID must be set;
// the caller validates that before reaching the store.
func (s *Store) CreateMessage(msg *Message) (*Message, error) {
	now := time.Now().UTC()

	var receiver, group interface{}
	if msg.ReceiverID != 0 {
		receiver = msg.ReceiverID
	}
	if msg.GroupID != 0 {
		group = msg.GroupID
	}

	res, err := s.conn.Exec(
		`INSERT INTO messages (sender_id, receiver_id, group_id, content, file_url, file_type, file_name, file_size, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SenderID, receiver, group, msg.Content,
		msg.FileURL, msg.FileType, msg.FileName, msg.FileSize,
		string(StatusSent), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return s.MessageByID(id)
}

func scanMessage(scan func(dest ...interface{}) error) (*Message, error) {
	var m Message
	var status, createdAt string
	err := scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content,
		&m.FileURL, &m.FileType, &m.FileName, &m.FileSize, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Status = MessageStatus(status)
	m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &m, nil
}

// MessageByID looks up a single message.
func (s *Store) MessageByID(id int64) (*Message, error) {
	row := s.conn.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row.Scan)
}

// UpdateMessageStatus advances the message status. The lifecycle is
// monotonic, so an update to an earlier or equal state is a no-op rather
// than an error.
func (s *Store) UpdateMessageStatus(id int64, status MessageStatus) error {
	msg, err := s.MessageByID(id)
	if err != nil {
		return err
	}
	if status.rank() <= msg.Status.rank() {
		return nil
	}
	if _, err := s.conn.Exec(`UPDATE messages SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(query string, args ...interface{}) ([]*Message, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DirectHistory returns all direct messages between two users in both
// directions, oldest first.
func (s *Store) DirectHistory(userID, contactID int64) ([]*Message, error) {
	return s.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC`,
		userID, contactID, contactID, userID,
	)
}

// GroupHistory returns all messages addressed to a group, oldest first.
func (s *Store) GroupHistory(groupID int64) ([]*Message, error) {
	return s.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE group_id = ?
		ORDER BY created_at ASC, id ASC`,
		groupID,
	)
}
