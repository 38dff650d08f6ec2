package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or replaces a message row. Conflict resolution is
// last-writer-wins on (id, owner_id); merge policy lives in the sync
// engine, not here.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, owner_id, partner_id, sender_id, receiver_id, body, status, from_me, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, owner_id) DO UPDATE SET
			partner_id = excluded.partner_id,
			sender_id = excluded.sender_id,
			receiver_id = excluded.receiver_id,
			body = excluded.body,
			status = excluded.status,
			from_me = excluded.from_me,
			timestamp = excluded.timestamp`,
		m.ID, m.OwnerID, m.PartnerID, m.SenderID, m.ReceiverID, m.Body, m.Status, m.FromMe, m.Timestamp, now)
	return err
}

// UpsertMessages inserts or replaces a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		if _, err := tx.Exec(`
			INSERT INTO messages (id, owner_id, partner_id, sender_id, receiver_id, body, status, from_me, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, owner_id) DO UPDATE SET
				partner_id = excluded.partner_id,
				sender_id = excluded.sender_id,
				receiver_id = excluded.receiver_id,
				body = excluded.body,
				status = excluded.status,
				from_me = excluded.from_me,
				timestamp = excluded.timestamp`,
			m.ID, m.OwnerID, m.PartnerID, m.SenderID, m.ReceiverID, m.Body, m.Status, m.FromMe, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

const messageColumns = `id, owner_id, partner_id, sender_id, receiver_id, body, status, from_me, timestamp`

// ListChatMessages returns all cached messages for one conversation,
// ordered ascending by timestamp.
func (db *DB) ListChatMessages(ownerID, partnerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND partner_id = ?
		ORDER BY timestamp ASC`, ownerID, partnerID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// PendingMessages returns messages with pending status for the owner,
// oldest first. This is the retry queue.
func (db *DB) PendingMessages(ownerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND status = ?
		ORDER BY timestamp ASC`, ownerID, StatusPending)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// LastMessagePerPartner returns the most recent cached message for each
// distinct conversation partner of the owner, newest conversation first.
func (db *DB) LastMessagePerPartner(ownerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT m.id, m.owner_id, m.partner_id, m.sender_id, m.receiver_id, m.body, m.status, m.from_me, m.timestamp
		FROM messages m
		JOIN (
			SELECT partner_id, MAX(timestamp) AS ts
			FROM messages
			WHERE owner_id = ?
			GROUP BY partner_id
		) last ON m.partner_id = last.partner_id AND m.timestamp = last.ts
		WHERE m.owner_id = ?
		GROUP BY m.partner_id
		ORDER BY m.timestamp DESC`, ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// UpdateMessageStatus sets the status of a single cached message.
func (db *DB) UpdateMessageStatus(id, ownerID string, status Status) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ? AND owner_id = ?`, status, id, ownerID)
	return err
}

// UnreadCount returns how many cached messages from the partner to the
// owner do not yet have seen status.
func (db *DB) UnreadCount(ownerID, partnerID string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE owner_id = ? AND partner_id = ? AND sender_id = ? AND status != ?`,
		ownerID, partnerID, partnerID, StatusSeen).Scan(&count)
	return count, err
}

// MarkConversationSeen moves every message from the partner addressed to
// the owner to seen status.
func (db *DB) MarkConversationSeen(ownerID, partnerID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE owner_id = ? AND partner_id = ? AND sender_id = ? AND status != ?`,
		StatusSeen, ownerID, partnerID, partnerID, StatusSeen)
	return err
}

// DeleteConversation removes all cached messages for one (partner, owner) pair.
func (db *DB) DeleteConversation(partnerID, ownerID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE owner_id = ? AND partner_id = ?`, ownerID, partnerID)
	return err
}

// DeleteOwner removes all cached messages belonging to one account,
// leaving other accounts' rows untouched.
func (db *DB) DeleteOwner(ownerID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE owner_id = ?`, ownerID)
	return err
}

// DeleteAllMessages wipes the whole message cache.
func (db *DB) DeleteAllMessages() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.PartnerID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Status, &m.FromMe, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
