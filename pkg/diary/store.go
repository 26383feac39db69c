package diary

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

// Store is the local diary database: domain tables plus the sync_events
// queue. A single mutex serializes all writes so concurrent domain writes
// never interleave partial queue mutations.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens (or creates) the diary database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id          TEXT PRIMARY KEY,
		product_id  TEXT,
		name        TEXT NOT NULL,
		grams       REAL NOT NULL DEFAULT 0,
		calories    REAL NOT NULL DEFAULT 0,
		protein     REAL NOT NULL DEFAULT 0,
		carbs       REAL NOT NULL DEFAULT 0,
		fat         REAL NOT NULL DEFAULT 0,
		logged_at   TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goal (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		calories    REAL NOT NULL,
		protein     REAL NOT NULL DEFAULT 0,
		carbs       REAL NOT NULL DEFAULT 0,
		fat         REAL NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS favorites (
		product_id  TEXT PRIMARY KEY,
		added_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS weights (
		id           TEXT PRIMARY KEY,
		kg           REAL NOT NULL,
		measured_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		barcode     TEXT,
		name        TEXT NOT NULL,
		brand       TEXT,
		calories    REAL NOT NULL DEFAULT 0,
		protein     REAL NOT NULL DEFAULT 0,
		carbs       REAL NOT NULL DEFAULT 0,
		fat         REAL NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_events (
		event_id        TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		entity_id       TEXT,
		payload         BLOB,
		status          TEXT NOT NULL DEFAULT 'pending',
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		next_retry_at   TEXT,
		last_error      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_events_due
		ON sync_events(status, next_retry_at, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// timeLayout is RFC 3339 with fixed-width fractional seconds. RFC3339Nano
// drops trailing zeros, which breaks text comparison of stored timestamps at
// exact-second boundaries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// withTx runs fn inside a transaction under the store lock. Domain mutators
// rely on this so their domain write and queue append commit or roll back
// together.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// enqueueTx appends one pending event inside the caller's transaction.
func enqueueTx(tx *sql.Tx, eventType matsync.EventType, entityID string, payload any) error {
	var blob []byte
	if payload != nil {
		var err error
		blob, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	_, err := tx.Exec(`
		INSERT INTO sync_events (event_id, type, created_at, entity_id, payload, status)
		VALUES (?, ?, ?, ?, ?, 'pending')`,
		ulid.Make().String(), string(eventType),
		formatTime(time.Now()), entityID, blob)
	if err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

// AddLog inserts a new diary entry and enqueues a log.create event.
func (s *Store) AddLog(entry LogEntry) (*LogEntry, error) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}

	err := s.withTx(func(tx *sql.Tx) error {
		if err := upsertLogTx(tx, entry); err != nil {
			return err
		}
		return enqueueTx(tx, matsync.EventLogCreate, entry.ID, logPayload(entry))
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateLog replaces a diary entry and enqueues a log.update event.
func (s *Store) UpdateLog(entry LogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("log entry id is required")
	}
	return s.withTx(func(tx *sql.Tx) error {
		if err := upsertLogTx(tx, entry); err != nil {
			return err
		}
		return enqueueTx(tx, matsync.EventLogUpdate, entry.ID, logPayload(entry))
	})
}

// DeleteLog removes a diary entry and enqueues a log.delete event.
func (s *Store) DeleteLog(logID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM logs WHERE id = ?`, logID); err != nil {
			return fmt.Errorf("delete log %s: %w", logID, err)
		}
		return enqueueTx(tx, matsync.EventLogDelete, logID, nil)
	})
}

// SetGoal replaces the diary's single goal and enqueues a goal.set event.
func (s *Store) SetGoal(g Goal) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO goal (id, calories, protein, carbs, fat, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				calories   = excluded.calories,
				protein    = excluded.protein,
				carbs      = excluded.carbs,
				fat        = excluded.fat,
				updated_at = excluded.updated_at`,
			g.Calories, g.Protein, g.Carbs, g.Fat,
			formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("upsert goal: %w", err)
		}
		return enqueueTx(tx, matsync.EventGoalSet, "", matsync.GoalPayload{
			Calories: g.Calories, Protein: g.Protein, Carbs: g.Carbs, Fat: g.Fat,
		})
	})
}

// AddFavorite marks a product as favorite and enqueues a favorite.add event.
func (s *Store) AddFavorite(productID string) error {
	addedAt := time.Now().UTC()
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO favorites (product_id, added_at) VALUES (?, ?)
			ON CONFLICT(product_id) DO UPDATE SET added_at = excluded.added_at`,
			productID, formatTime(addedAt))
		if err != nil {
			return fmt.Errorf("add favorite %s: %w", productID, err)
		}
		return enqueueTx(tx, matsync.EventFavoriteAdd, productID, matsync.FavoritePayload{
			ProductID: productID, AddedAt: addedAt,
		})
	})
}

// RemoveFavorite unmarks a product and enqueues a favorite.remove event.
func (s *Store) RemoveFavorite(productID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM favorites WHERE product_id = ?`, productID); err != nil {
			return fmt.Errorf("remove favorite %s: %w", productID, err)
		}
		return enqueueTx(tx, matsync.EventFavoriteRemove, productID, matsync.FavoritePayload{
			ProductID: productID,
		})
	})
}

// AddWeight records a weight measurement and enqueues a weight.add event.
func (s *Store) AddWeight(kg float64, measuredAt time.Time) (*WeightEntry, error) {
	if measuredAt.IsZero() {
		measuredAt = time.Now().UTC()
	}
	entry := WeightEntry{ID: ulid.Make().String(), Kg: kg, MeasuredAt: measuredAt}

	err := s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO weights (id, kg, measured_at) VALUES (?, ?, ?)`,
			entry.ID, entry.Kg, formatTime(entry.MeasuredAt))
		if err != nil {
			return fmt.Errorf("insert weight: %w", err)
		}
		return enqueueTx(tx, matsync.EventWeightAdd, entry.ID, matsync.WeightPayload{
			ID: entry.ID, Kg: entry.Kg, MeasuredAt: entry.MeasuredAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteWeight removes a weight measurement and enqueues a weight.delete event.
func (s *Store) DeleteWeight(weightID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM weights WHERE id = ?`, weightID); err != nil {
			return fmt.Errorf("delete weight %s: %w", weightID, err)
		}
		return enqueueTx(tx, matsync.EventWeightDelete, weightID, nil)
	})
}

// UpsertProduct caches a product locally and enqueues a product.upsert event.
func (s *Store) UpsertProduct(p Product) error {
	if p.ID == "" {
		return fmt.Errorf("product id is required")
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO products (id, barcode, name, brand, calories, protein, carbs, fat, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				barcode    = excluded.barcode,
				name       = excluded.name,
				brand      = excluded.brand,
				calories   = excluded.calories,
				protein    = excluded.protein,
				carbs      = excluded.carbs,
				fat        = excluded.fat,
				updated_at = excluded.updated_at`,
			p.ID, p.Barcode, p.Name, p.Brand, p.Calories, p.Protein, p.Carbs, p.Fat,
			formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		return enqueueTx(tx, matsync.EventProductUpsert, p.ID, matsync.ProductPayload{
			ID: p.ID, Barcode: p.Barcode, Name: p.Name, Brand: p.Brand,
			Calories: p.Calories, Protein: p.Protein, Carbs: p.Carbs, Fat: p.Fat,
		})
	})
}

func upsertLogTx(tx *sql.Tx, entry LogEntry) error {
	_, err := tx.Exec(`
		INSERT INTO logs (id, product_id, name, grams, calories, protein, carbs, fat, logged_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			name       = excluded.name,
			grams      = excluded.grams,
			calories   = excluded.calories,
			protein    = excluded.protein,
			carbs      = excluded.carbs,
			fat        = excluded.fat,
			logged_at  = excluded.logged_at,
			updated_at = excluded.updated_at`,
		entry.ID, entry.ProductID, entry.Name, entry.Grams, entry.Calories,
		entry.Protein, entry.Carbs, entry.Fat,
		formatTime(entry.LoggedAt),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert log %s: %w", entry.ID, err)
	}
	return nil
}

func logPayload(entry LogEntry) matsync.LogPayload {
	return matsync.LogPayload{
		ID: entry.ID, ProductID: entry.ProductID, Name: entry.Name,
		Grams: entry.Grams, Calories: entry.Calories, Protein: entry.Protein,
		Carbs: entry.Carbs, Fat: entry.Fat, LoggedAt: entry.LoggedAt.UTC(),
	}
}

// GetLog returns a diary entry by id, or nil when absent.
func (s *Store) GetLog(logID string) (*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		entry     LogEntry
		productID sql.NullString
		loggedAt  string
	)
	err := s.db.QueryRow(`
		SELECT id, product_id, name, grams, calories, protein, carbs, fat, logged_at
		FROM logs WHERE id = ?`, logID).
		Scan(&entry.ID, &productID, &entry.Name, &entry.Grams, &entry.Calories,
			&entry.Protein, &entry.Carbs, &entry.Fat, &loggedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	entry.ProductID = productID.String
	if entry.LoggedAt, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
		return nil, fmt.Errorf("parse logged_at: %w", err)
	}
	return &entry, nil
}
