package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/smartsavvy/internal/model"
)

// maxPayloadBytes caps the raw body persisted alongside a failure.
const maxPayloadBytes = 64 << 10

// AppLogStore is append-only: rows are inserted and listed, never changed.
type AppLogStore struct {
	db *sql.DB
}

func NewAppLogStore(db *sql.DB) *AppLogStore {
	return &AppLogStore{db: db}
}

const appLogCols = `id, delivery_id, source, level, message, payload, created_at`

func (s *AppLogStore) Insert(entry model.AppLog) (int64, error) {
	payload := entry.Payload
	if len(payload) > maxPayloadBytes {
		payload = payload[:maxPayloadBytes]
	}
	result, err := s.db.Exec(
		`INSERT INTO app_logs (delivery_id, source, level, message, payload) VALUES (?, ?, ?, ?, ?)`,
		entry.DeliveryID, entry.Source, entry.Level, entry.Message, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("insert app log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns up to limit entries, newest first.
func (s *AppLogStore) List(limit int) ([]model.AppLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+appLogCols+` FROM app_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list app logs: %w", err)
	}
	defer rows.Close()

	var entries []model.AppLog
	for rows.Next() {
		var e model.AppLog
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.Source, &e.Level, &e.Message, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
