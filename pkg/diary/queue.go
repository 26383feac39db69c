package diary

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

// Queue operations. Only the orchestrator calls the mutating ones; the
// status transitions they implement are pending→inFlight→{acked, pending},
// plus the deliberate pending→deadLetter exit for events the server will
// never accept.

// FetchDue returns up to limit pending events whose retry gate has passed,
// oldest first. Side-effect free.
func (s *Store) FetchDue(limit int) ([]SyncEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	rows, err := s.db.Query(`
		SELECT event_id, type, created_at, entity_id, payload, status,
		       attempt_count, last_attempt_at, next_retry_at, last_error
		FROM sync_events
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due events: %w", err)
	}
	defer rows.Close()

	var events []SyncEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return events, nil
}

// MarkInFlight transitions pending events to inFlight, bumping the attempt
// count and stamping the attempt time. The status guard makes it idempotent
// per id: an event already in flight is not bumped twice.
func (s *Store) MarkInFlight(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		UPDATE sync_events
		SET status = 'inFlight',
		    attempt_count = attempt_count + 1,
		    last_attempt_at = ?
		WHERE event_id IN (%s) AND status = 'pending'`, placeholders(len(ids)))

	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mark in flight: %w", err)
	}
	return nil
}

// MarkAcked transitions events to acked and clears their error. Terminal.
func (s *Store) MarkAcked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		UPDATE sync_events
		SET status = 'acked', next_retry_at = NULL, last_error = NULL
		WHERE event_id IN (%s)`, placeholders(len(ids)))

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("mark acked: %w", err)
	}
	return nil
}

// MarkForRetry returns an event to pending with a retry gate delay in the
// future and the failure recorded.
func (s *Store) MarkForRetry(id, errMsg string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sync_events
		SET status = 'pending', next_retry_at = ?, last_error = ?
		WHERE event_id = ?`,
		formatTime(time.Now().Add(delay)), errMsg, id)
	if err != nil {
		return fmt.Errorf("mark for retry %s: %w", id, err)
	}
	return nil
}

// MarkDeadLetter parks an event the server will never accept. Terminal;
// dead-lettered events are never re-sent.
func (s *Store) MarkDeadLetter(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sync_events
		SET status = 'deadLetter', next_retry_at = NULL, last_error = ?
		WHERE event_id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark dead letter %s: %w", id, err)
	}
	return nil
}

// ResetInFlightToPending demotes every inFlight event back to pending with
// no retry gate. Called once at process start: an event stranded in flight
// by a crash mid-transmission is resent rather than lost. The server's
// inbox makes the resend safe.
func (s *Store) ResetInFlightToPending() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE sync_events
		SET status = 'pending', next_retry_at = NULL
		WHERE status = 'inFlight'`)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight events: %w", err)
	}
	return res.RowsAffected()
}

// PurgeAcked deletes acked events created before the cutoff. Storage
// hygiene, not correctness: acked events are never re-sent either way.
func (s *Store) PurgeAcked(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM sync_events
		WHERE status = 'acked' AND created_at < ?`,
		formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge acked events: %w", err)
	}
	return res.RowsAffected()
}

// PendingCount reports how many events still wait to reach the server.
// Feeds the best-effort sync status indicator.
func (s *Store) PendingCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sync_events WHERE status IN ('pending', 'inFlight')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

// GetEvent returns a queue row by id, or nil when absent.
func (s *Store) GetEvent(eventID string) (*SyncEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT event_id, type, created_at, entity_id, payload, status,
		       attempt_count, last_attempt_at, next_retry_at, last_error
		FROM sync_events WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*SyncEvent, error) {
	var (
		ev                         SyncEvent
		typ, createdAt             string
		entityID, lastErr          sql.NullString
		lastAttemptAt, nextRetryAt sql.NullString
	)
	err := row.Scan(&ev.EventID, &typ, &createdAt, &entityID, &ev.Payload,
		&ev.Status, &ev.AttemptCount, &lastAttemptAt, &nextRetryAt, &lastErr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.Type = matsync.EventType(typ)
	ev.EntityID = entityID.String
	ev.LastError = lastErr.String
	if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if lastAttemptAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_attempt_at: %w", err)
		}
		ev.LastAttemptAt = &t
	}
	if nextRetryAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, nextRetryAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse next_retry_at: %w", err)
		}
		ev.NextRetryAt = &t
	}
	return &ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
