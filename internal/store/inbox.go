package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nithusan2002/matlogg/internal/types"
)

// HasInboxEvent reports whether an event id has already been processed.
// Read-only; safe to call outside a transaction.
func (s *SQLiteStore) HasInboxEvent(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_inbox WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query inbox: %w", err)
	}
	return true, nil
}

// InsertInboxEventTx records an event id in the inbox inside tx. A primary
// key collision surfaces as ErrDuplicateEvent so the caller can distinguish
// retransmission from storage failure.
func InsertInboxEventTx(ctx context.Context, tx *sql.Tx, rec types.InboxRecord) error {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_inbox
			(event_id, user_id, device_id, type, created_at, schema_version, payload_json, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.UserID, rec.DeviceID, rec.Type,
		sqliteTime(rec.CreatedAt),
		rec.SchemaVersion, string(rec.PayloadJSON),
		sqliteTime(rec.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert inbox event %s: %w", rec.EventID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// GetInboxRecord returns a processed event by id, for tests and inspection.
func (s *SQLiteStore) GetInboxRecord(ctx context.Context, eventID string) (*types.InboxRecord, error) {
	var (
		rec               types.InboxRecord
		createdAt, recvAt string
		payload           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, user_id, device_id, type, created_at, schema_version, payload_json, received_at
		FROM event_inbox WHERE event_id = ?`, eventID).
		Scan(&rec.EventID, &rec.UserID, &rec.DeviceID, &rec.Type,
			&createdAt, &rec.SchemaVersion, &payload, &recvAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inbox record: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.ReceivedAt, err = time.Parse(time.RFC3339Nano, recvAt); err != nil {
		return nil, fmt.Errorf("parse received_at: %w", err)
	}
	if payload.Valid {
		rec.PayloadJSON = []byte(payload.String)
	}
	return &rec, nil
}

// CountInboxEvents returns the total number of inbox rows.
func (s *SQLiteStore) CountInboxEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_inbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count inbox events: %w", err)
	}
	return n, nil
}

// PurgeInbox deletes inbox rows received before the cutoff. Storage hygiene
// only; deleting a row makes redelivery of that event id apply again, so the
// retention window must comfortably exceed the client's retry ceiling.
func (s *SQLiteStore) PurgeInbox(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_inbox WHERE received_at < ?`,
		sqliteTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge inbox: %w", err)
	}
	return res.RowsAffected()
}
