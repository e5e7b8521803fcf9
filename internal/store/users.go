package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// User is a record of an authenticated caller. Identity itself comes from the
// token verifier; this table only tracks who has been seen.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetOrCreateUser retrieves a user by id, creating the row on first sight and
// bumping last_seen otherwise.
func (db *DB) GetOrCreateUser(ctx context.Context, id, name string) (*User, error) {
	u, err := db.GetUser(ctx, id)
	if err == nil {
		db.ExecContext(ctx, `UPDATE users SET last_seen = CURRENT_TIMESTAMP WHERE id = ?`, id)
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if name == "" {
		name = "User " + id
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, id, name); err != nil {
		return nil, err
	}
	return db.GetUser(ctx, id)
}

// GetUser retrieves a user by id.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var name sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, name, first_seen, last_seen FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &name, &u.FirstSeen, &u.LastSeen)
	if err != nil {
		return nil, notFound(err)
	}
	u.Name = name.String
	return &u, nil
}
