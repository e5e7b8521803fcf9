package store

import (
	"context"
	"database/sql"
	"time"
)

// Task is a user-owned todo record. The tool layer mediates all access;
// every query is scoped by (user_id, id) so one owner can never see another's rows.
type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateTask inserts a new incomplete task and returns it.
func (db *DB) CreateTask(ctx context.Context, userID, title, description string) (*Task, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		userID, title, description, now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetTask(ctx, userID, id)
}

// GetTask returns the task with the given id if it belongs to userID.
func (db *DB) GetTask(ctx context.Context, userID string, id int64) (*Task, error) {
	var t Task
	var desc sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&t.ID, &t.UserID, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	t.Description = desc.String
	return &t, nil
}

// ListTasks returns the user's tasks, newest first, with optional completion
// filter and case-insensitive title search, plus the total count before pagination.
func (db *DB) ListTasks(ctx context.Context, userID string, completed *bool, search string, limit, offset int) ([]Task, int, error) {
	where := `WHERE user_id = ?`
	args := []interface{}{userID}
	if completed != nil {
		where += ` AND completed = ?`
		args = append(args, *completed)
	}
	if search != "" {
		where += ` AND title LIKE ? COLLATE NOCASE`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, user_id, title, description, completed, created_at, updated_at
		 FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		t.Description = desc.String
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// UpdateTask updates the provided fields of a task owned by userID.
// nil means leave unchanged; an empty description clears it.
func (db *DB) UpdateTask(ctx context.Context, userID string, id int64, title, description *string) (*Task, error) {
	if _, err := db.GetTask(ctx, userID, id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if title != nil {
		if _, err := db.ExecContext(ctx,
			`UPDATE tasks SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			*title, now, id, userID,
		); err != nil {
			return nil, err
		}
	}
	if description != nil {
		if _, err := db.ExecContext(ctx,
			`UPDATE tasks SET description = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			*description, now, id, userID,
		); err != nil {
			return nil, err
		}
	}
	return db.GetTask(ctx, userID, id)
}

// SetTaskCompleted flips the completion flag on a task owned by userID.
func (db *DB) SetTaskCompleted(ctx context.Context, userID string, id int64, completed bool) (*Task, error) {
	if _, err := db.GetTask(ctx, userID, id); err != nil {
		return nil, err
	}
	_, err := db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		completed, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return nil, err
	}
	return db.GetTask(ctx, userID, id)
}

// DeleteTask removes a task owned by userID and returns the deleted record.
func (db *DB) DeleteTask(ctx context.Context, userID string, id int64) (*Task, error) {
	t, err := db.GetTask(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskStore is the task persistence boundary the tool layer depends on.
type TaskStore interface {
	CreateTask(ctx context.Context, userID, title, description string) (*Task, error)
	GetTask(ctx context.Context, userID string, id int64) (*Task, error)
	ListTasks(ctx context.Context, userID string, completed *bool, search string, limit, offset int) ([]Task, int, error)
	UpdateTask(ctx context.Context, userID string, id int64, title, description *string) (*Task, error)
	SetTaskCompleted(ctx context.Context, userID string, id int64, completed bool) (*Task, error)
	DeleteTask(ctx context.Context, userID string, id int64) (*Task, error)
}

// Ensure *DB implements TaskStore.
var _ TaskStore = (*DB)(nil)
