package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// LogEntry is one structured log record.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// LogStore handles structured logging with automatic cleanup.
type LogStore struct {
	db         *sql.DB
	mu         sync.Mutex
	maxEntries int
	maxAgeDays int
}

// NewLogStore creates a log store with default limits.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{
		db:         db.DB,
		maxEntries: 10000,
		maxAgeDays: 7,
	}
}

// Log writes a log entry.
func (s *LogStore) Log(level, component, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO system_logs (level, component, message) VALUES (?, ?, ?)`,
		level, component, message,
	)
	return err
}

// LogError is a convenience method for error-level logs.
func (s *LogStore) LogError(component, message string) error {
	return s.Log("error", component, message)
}

// LogWarn is a convenience method for warn-level logs.
func (s *LogStore) LogWarn(component, message string) error {
	return s.Log("warn", component, message)
}

// LogInfo is a convenience method for info-level logs.
func (s *LogStore) LogInfo(component, message string) error {
	return s.Log("info", component, message)
}

// Recent retrieves recent logs with optional level/component filters.
func (s *LogStore) Recent(level, component string, limit int) ([]LogEntry, error) {
	query := `SELECT id, timestamp, level, component, message FROM system_logs WHERE 1=1`
	args := []interface{}{}
	if level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	if component != "" {
		query += ` AND component = ?`
		args = append(args, component)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Component, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup removes old logs based on configured limits.
func (s *LogStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)
	if _, err := s.db.Exec(`DELETE FROM system_logs WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup by age: %w", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM system_logs WHERE id NOT IN (
			SELECT id FROM system_logs ORDER BY timestamp DESC LIMIT ?
		)`, s.maxEntries)
	if err != nil {
		return fmt.Errorf("cleanup by count: %w", err)
	}
	return nil
}
