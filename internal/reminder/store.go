package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"careplus/internal/database"
)

// ErrNoData signals a legitimate "first run": no collection has ever
// been saved under the principal's key. It is not a failure.
var ErrNoData = errors.New("reminder: no stored collection")

// Store persists a principal's whole reminder collection. Saves are
// synchronous and durability-confirmed; the caller's next action may
// depend on the write having completed.
type Store interface {
	Load(ctx context.Context, principal string) ([]ReminderItem, error)
	Save(ctx context.Context, principal string, items []ReminderItem) error
}

// StorageKey derives the per-principal storage key.
func StorageKey(principal string) string {
	return "reminders_" + principal
}

// storedItem is the wire schema. isEnabled is optional on read for
// backward compatibility; absence means enabled.
type storedItem struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Time    string   `json:"time"`
	Days    []string `json:"days"`
	Type    string   `json:"type"`
	Enabled *bool    `json:"isEnabled,omitempty"`
}

// encodeItems serializes the collection to the stored JSON array.
func encodeItems(items []ReminderItem) ([]byte, error) {
	stored := make([]storedItem, 0, len(items))
	for _, item := range items {
		enabled := item.Enabled
		stored = append(stored, storedItem{
			ID:      item.ID,
			Title:   item.Title,
			Time:    item.Time,
			Days:    item.Days,
			Type:    string(item.Type),
			Enabled: &enabled,
		})
	}
	return json.Marshal(stored)
}

// decodeItems deserializes a stored JSON array. An unknown type name
// makes the whole payload corrupt; callers treat that as "no data".
func decodeItems(payload []byte) ([]ReminderItem, error) {
	var stored []storedItem
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("decode reminders: %w", err)
	}

	items := make([]ReminderItem, 0, len(stored))
	for _, s := range stored {
		typ, err := ParseReminderType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("decode reminders: %w", err)
		}
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		items = append(items, ReminderItem{
			ID:      s.ID,
			Title:   s.Title,
			Time:    s.Time,
			Days:    s.Days,
			Type:    typ,
			Enabled: enabled,
		})
	}
	return items, nil
}

// SQLiteStore is the durable Store backed by the reminder_collections
// table.
type SQLiteStore struct {
	db *database.DB
}

func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context, principal string) ([]ReminderItem, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM reminder_collections WHERE storage_key = ?",
		StorageKey(principal),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	return decodeItems([]byte(payload))
}

func (s *SQLiteStore) Save(ctx context.Context, principal string, items []ReminderItem) error {
	payload, err := encodeItems(items)
	if err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminder_collections (storage_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(storage_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		StorageKey(principal), string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	return nil
}
