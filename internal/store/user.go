package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or refreshes a cached user snapshot.
func (db *DB) UpsertUser(u *User) error {
	cachedAt := u.CachedAt
	if cachedAt == 0 {
		cachedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO users (id, name, contact, avatar_url, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			contact = CASE WHEN excluded.contact != '' THEN excluded.contact ELSE users.contact END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			cached_at = excluded.cached_at`,
		u.ID, u.Name, u.Contact, u.AvatarURL, cachedAt)
	return err
}

// UpsertUsers refreshes multiple user snapshots in a single transaction.
func (db *DB) UpsertUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range users {
		u := &users[i]
		cachedAt := u.CachedAt
		if cachedAt == 0 {
			cachedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO users (id, name, contact, avatar_url, cached_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
				contact = CASE WHEN excluded.contact != '' THEN excluded.contact ELSE users.contact END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
				cached_at = excluded.cached_at`,
			u.ID, u.Name, u.Contact, u.AvatarURL, cachedAt); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a cached user snapshot, or nil if not cached.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, name, contact, avatar_url, cached_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Contact, &u.AvatarURL, &u.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers performs a case-insensitive substring match on the cached
// display names.
func (db *DB) SearchUsers(query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, name, contact, avatar_url, cached_at
		FROM users
		WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY name COLLATE NOCASE
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Contact, &u.AvatarURL, &u.CachedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// PruneUsersBefore deletes user snapshots cached before the cutoff.
// Returns the number of rows removed.
func (db *DB) PruneUsersBefore(cutoff int64) (int64, error) {
	result, err := db.Exec(`DELETE FROM users WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UserCount returns the total number of cached user snapshots.
func (db *DB) UserCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
