// Package diary is the client-side engine: a local food diary backed by
// SQLite, a durable queue of pending mutations, and a sync orchestrator that
// drains the queue to the server with retry and backoff. Domain writes and
// their queue entries commit in one transaction, so an enqueued event always
// describes a mutation that actually happened locally.
package diary

import (
	"time"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

// EventStatus is the lifecycle state of a queued event.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusInFlight   EventStatus = "inFlight"
	StatusAcked      EventStatus = "acked"
	StatusDeadLetter EventStatus = "deadLetter"
)

// SyncEvent is one durable queue row: a mutation waiting to reach the server.
// Only the orchestrator mutates an event after it is enqueued.
type SyncEvent struct {
	EventID       string
	Type          matsync.EventType
	CreatedAt     time.Time
	EntityID      string
	Payload       []byte
	Status        EventStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     string
}

// LogEntry is a local food diary entry.
type LogEntry struct {
	ID        string
	ProductID string
	Name      string
	Grams     float64
	Calories  float64
	Protein   float64
	Carbs     float64
	Fat       float64
	LoggedAt  time.Time
}

// Goal is the local nutrition goal. There is a single goal per diary.
type Goal struct {
	Calories float64
	Protein  float64
	Carbs    float64
	Fat      float64
}

// Favorite marks a product as favorited.
type Favorite struct {
	ProductID string
	AddedAt   time.Time
}

// WeightEntry is one weight measurement.
type WeightEntry struct {
	ID         string
	Kg         float64
	MeasuredAt time.Time
}

// Product is a locally cached food product. Macros are per 100g.
type Product struct {
	ID       string
	Barcode  string
	Name     string
	Brand    string
	Calories float64
	Protein  float64
	Carbs    float64
	Fat      float64
}
