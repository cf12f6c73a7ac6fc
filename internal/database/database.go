package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the companion service.
type DB struct {
	*sql.DB
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Registered users
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			email TEXT,
			account_type INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Remember-me tokens
		`CREATE TABLE IF NOT EXISTS remember_tokens (
			token TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Per-principal reminder collections, stored whole as a JSON array
		`CREATE TABLE IF NOT EXISTS reminder_collections (
			storage_key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Fired/dismissed/snoozed alert history for the monthly audit export
		`CREATE TABLE IF NOT EXISTS alert_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			principal TEXT NOT NULL,
			reminder_id INTEGER NOT NULL,
			reminder_type TEXT NOT NULL,
			title TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_alert_history_created
			ON alert_history(created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// AlertRecord is one row of the alert history table.
type AlertRecord struct {
	ID           int64
	Principal    string
	ReminderID   int
	ReminderType string
	Title        string
	Action       string
	CreatedAt    time.Time
}

// RecordAlert appends an alert history row.
func (db *DB) RecordAlert(ctx context.Context, rec AlertRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO alert_history (principal, reminder_id, reminder_type, title, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Principal, rec.ReminderID, rec.ReminderType, rec.Title, rec.Action, time.Now())
	return err
}

// RecordAlertAction appends an alert history row from its parts.
func (db *DB) RecordAlertAction(ctx context.Context, principal string, reminderID int, reminderType, title, action string) error {
	return db.RecordAlert(ctx, AlertRecord{
		Principal:    principal,
		ReminderID:   reminderID,
		ReminderType: reminderType,
		Title:        title,
		Action:       action,
	})
}

// ListAlertHistory returns alert rows created at or after the given time.
func (db *DB) ListAlertHistory(ctx context.Context, since time.Time) ([]AlertRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, principal, reminder_id, reminder_type, title, action, created_at
		FROM alert_history
		WHERE created_at >= ?
		ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.Principal, &rec.ReminderID,
			&rec.ReminderType, &rec.Title, &rec.Action, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteAlertHistoryBefore deletes alert rows older than the duration.
// Returns the number of deleted rows.
func (db *DB) DeleteAlertHistoryBefore(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := db.ExecContext(ctx, `
		DELETE FROM alert_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpiredRememberTokens prunes remember-me tokens past expiry.
func (db *DB) DeleteExpiredRememberTokens(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `
		DELETE FROM remember_tokens WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
