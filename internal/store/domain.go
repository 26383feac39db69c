package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nithusan2002/matlogg/internal/types"
)

// The tx-scoped writers below are the projection half of the applier
// pipeline. They run inside the same transaction as the inbox insert, and
// every write is keyed on row identity so reapplying an identical payload is
// a no-op beyond the inbox check.

// UpsertLogTx inserts or replaces a log entry by id, scoped to the user.
func UpsertLogTx(ctx context.Context, tx *sql.Tx, l types.Log) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO logs (id, user_id, product_id, name, grams, calories, protein, carbs, fat, logged_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			name       = excluded.name,
			grams      = excluded.grams,
			calories   = excluded.calories,
			protein    = excluded.protein,
			carbs      = excluded.carbs,
			fat        = excluded.fat,
			logged_at  = excluded.logged_at,
			updated_at = excluded.updated_at
		WHERE logs.user_id = excluded.user_id`,
		l.ID, l.UserID, l.ProductID, l.Name, l.Grams, l.Calories, l.Protein, l.Carbs, l.Fat,
		sqliteTime(l.LoggedAt), sqliteTime(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert log %s: %w", l.ID, err)
	}
	return nil
}

// DeleteLogTx deletes a log entry by id, scoped to the user. Deleting a row
// that is already gone is not an error.
func DeleteLogTx(ctx context.Context, tx *sql.Tx, userID, logID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM logs WHERE id = ? AND user_id = ?`, logID, userID); err != nil {
		return fmt.Errorf("delete log %s: %w", logID, err)
	}
	return nil
}

// UpsertGoalTx sets the single goal row for the user.
func UpsertGoalTx(ctx context.Context, tx *sql.Tx, g types.Goal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO goals (user_id, calories, protein, carbs, fat, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			calories   = excluded.calories,
			protein    = excluded.protein,
			carbs      = excluded.carbs,
			fat        = excluded.fat,
			updated_at = excluded.updated_at`,
		g.UserID, g.Calories, g.Protein, g.Carbs, g.Fat,
		sqliteTime(g.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert goal for %s: %w", g.UserID, err)
	}
	return nil
}

// UpsertFavoriteTx adds a favorite keyed on (user_id, product_id).
func UpsertFavoriteTx(ctx context.Context, tx *sql.Tx, f types.Favorite) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO favorites (user_id, product_id, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, product_id) DO UPDATE SET added_at = excluded.added_at`,
		f.UserID, f.ProductID, sqliteTime(f.AddedAt))
	if err != nil {
		return fmt.Errorf("upsert favorite (%s, %s): %w", f.UserID, f.ProductID, err)
	}
	return nil
}

// DeleteFavoriteTx removes a favorite by its composite key.
func DeleteFavoriteTx(ctx context.Context, tx *sql.Tx, userID, productID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND product_id = ?`, userID, productID); err != nil {
		return fmt.Errorf("delete favorite (%s, %s): %w", userID, productID, err)
	}
	return nil
}

// UpsertWeightTx inserts or replaces a weight row by id.
func UpsertWeightTx(ctx context.Context, tx *sql.Tx, w types.Weight) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO weights (id, user_id, kg, measured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kg          = excluded.kg,
			measured_at = excluded.measured_at
		WHERE weights.user_id = excluded.user_id`,
		w.ID, w.UserID, w.Kg, sqliteTime(w.MeasuredAt))
	if err != nil {
		return fmt.Errorf("upsert weight %s: %w", w.ID, err)
	}
	return nil
}

// DeleteWeightTx deletes a weight row by id, scoped to the user.
func DeleteWeightTx(ctx context.Context, tx *sql.Tx, userID, weightID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM weights WHERE id = ? AND user_id = ?`, weightID, userID); err != nil {
		return fmt.Errorf("delete weight %s: %w", weightID, err)
	}
	return nil
}

// UpsertProductTx inserts or replaces a product by id.
func UpsertProductTx(ctx context.Context, tx *sql.Tx, p types.Product) error {
	_, err := tx.ExecContext(ctx, `
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
		sqliteTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// Read helpers used by handlers and tests.

// GetLog returns a log entry by id scoped to the user.
func (s *SQLiteStore) GetLog(ctx context.Context, userID, logID string) (*types.Log, error) {
	var (
		l                   types.Log
		productID           sql.NullString
		loggedAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, name, grams, calories, protein, carbs, fat, logged_at, updated_at
		FROM logs WHERE id = ? AND user_id = ?`, logID, userID).
		Scan(&l.ID, &l.UserID, &productID, &l.Name, &l.Grams, &l.Calories, &l.Protein, &l.Carbs, &l.Fat,
			&loggedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	l.ProductID = productID.String
	if l.LoggedAt, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
		return nil, fmt.Errorf("parse logged_at: %w", err)
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &l, nil
}

// GetGoal returns the user's goal row.
func (s *SQLiteStore) GetGoal(ctx context.Context, userID string) (*types.Goal, error) {
	var (
		g         types.Goal
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, calories, protein, carbs, fat, updated_at
		FROM goals WHERE user_id = ?`, userID).
		Scan(&g.UserID, &g.Calories, &g.Protein, &g.Carbs, &g.Fat, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query goal: %w", err)
	}
	if g.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &g, nil
}

// HasFavorite reports whether (userID, productID) is favorited.
func (s *SQLiteStore) HasFavorite(ctx context.Context, userID, productID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM favorites WHERE user_id = ? AND product_id = ?`,
		userID, productID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query favorite: %w", err)
	}
	return true, nil
}

// CountWeights returns the number of weight rows for the user.
func (s *SQLiteStore) CountWeights(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM weights WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count weights: %w", err)
	}
	return n, nil
}

// GetProduct returns a product by id.
func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*types.Product, error) {
	var (
		p              types.Product
		barcode, brand sql.NullString
		updatedAt      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, barcode, name, brand, calories, protein, carbs, fat, updated_at
		FROM products WHERE id = ?`, productID).
		Scan(&p.ID, &barcode, &p.Name, &brand, &p.Calories, &p.Protein, &p.Carbs, &p.Fat, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	p.Barcode = barcode.String
	p.Brand = brand.String
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}
