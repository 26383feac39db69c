// Package types holds the authoritative server-side projections of the
// client's domain entities, plus the inbox ledger record.
package types

import "time"

// InboxRecord is one row in the event inbox, the idempotency ledger.
// Insertion of the event id is the sole gate: an event whose id is already
// present is acknowledged without reapplying side effects.
type InboxRecord struct {
	EventID       string
	UserID        string
	DeviceID      string
	Type          string
	CreatedAt     time.Time
	SchemaVersion int
	PayloadJSON   []byte
	ReceivedAt    time.Time
}

// Log is a single food diary entry.
type Log struct {
	ID        string
	UserID    string
	ProductID string
	Name      string
	Grams     float64
	Calories  float64
	Protein   float64
	Carbs     float64
	Fat       float64
	LoggedAt  time.Time
	UpdatedAt time.Time
}

// Goal is the single nutrition goal row per user.
type Goal struct {
	UserID    string
	Calories  float64
	Protein   float64
	Carbs     float64
	Fat       float64
	UpdatedAt time.Time
}

// Favorite marks a product as favorited by a user. Identity is the
// (UserID, ProductID) pair.
type Favorite struct {
	UserID    string
	ProductID string
	AddedAt   time.Time
}

// Weight is a single weight measurement.
type Weight struct {
	ID         string
	UserID     string
	Kg         float64
	MeasuredAt time.Time
}

// Product is a food product definition. Macros are per 100g.
type Product struct {
	ID        string
	Barcode   string
	Name      string
	Brand     string
	Calories  float64
	Protein   float64
	Carbs     float64
	Fat       float64
	UpdatedAt time.Time
}
