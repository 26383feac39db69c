package diary

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

var (
	// ErrSyncInProgress is returned when a run is already active.
	// Concurrent triggers are dropped, not queued.
	ErrSyncInProgress = errors.New("sync already running")

	// ErrSyncDisabled is returned when remote sync is administratively
	// disabled. Terminal for the call; nothing is retried.
	ErrSyncDisabled = errors.New("remote sync is disabled")
)

// SyncerOptions configures a Syncer. The zero value gets sane defaults.
type SyncerOptions struct {
	// Disabled gates all network sync attempts (builds without a backend).
	Disabled bool

	// BatchSize caps events pulled per run. Defaults to the wire limit.
	BatchSize int

	// MaxAttempts dead-letters an event rejected as permanently invalid
	// (VALIDATION_ERROR / UNSUPPORTED_TYPE) once its attempt count reaches
	// this threshold. 0 means DefaultMaxAttempts; a negative value disables
	// dead-lettering entirely, restoring retry-forever behavior. Transport
	// failures and SERVER_ERROR rejections never dead-letter.
	MaxAttempts int

	// AckedRetention is how long acked events stay in the queue before
	// purge. Defaults to 7 days.
	AckedRetention time.Duration

	Backoff Backoff
}

// DefaultMaxAttempts is the attempt budget before a permanently rejected
// event is dead-lettered.
const DefaultMaxAttempts = 10

// Syncer drains the local queue to the server. One instance per process,
// constructed at startup and passed by reference; the single-flight guard
// makes concurrent triggers harmless.
type Syncer struct {
	store     *Store
	transport *Transport
	opts      SyncerOptions

	running atomic.Bool
}

// NewSyncer creates the orchestrator and performs crash recovery: any event
// stranded inFlight by a previous process is demoted back to pending.
func NewSyncer(store *Store, transport *Transport, opts SyncerOptions) (*Syncer, error) {
	if opts.BatchSize <= 0 || opts.BatchSize > matsync.MaxBatchEvents {
		opts.BatchSize = matsync.MaxBatchEvents
	}
	if opts.AckedRetention <= 0 {
		opts.AckedRetention = 7 * 24 * time.Hour
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}

	recovered, err := store.ResetInFlightToPending()
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		slog.Info("recovered stranded events",
			"component", "syncer",
			"action", "crash_recovery",
			"count", recovered,
		)
	}

	return &Syncer{store: store, transport: transport, opts: opts}, nil
}

// Trigger starts a sync run as a detached task. Fire-and-forget: the caller
// never blocks, and a run already in progress makes the trigger a no-op.
func (y *Syncer) Trigger(ctx context.Context) {
	go func() {
		err := y.Sync(ctx)
		if err != nil && !errors.Is(err, ErrSyncInProgress) {
			slog.Warn("background sync failed",
				"component", "syncer",
				"action", "sync_failed",
				"error", err,
			)
		}
	}()
}

// Sync runs one drain cycle. A nil return means the batch was transmitted
// and the server's verdict applied; individual events may still have been
// rejected and rescheduled.
func (y *Syncer) Sync(ctx context.Context) error {
	if !y.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer y.running.Store(false)

	if y.opts.Disabled {
		return ErrSyncDisabled
	}

	start := time.Now()
	events, err := y.store.FetchDue(y.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		y.purgeAcked()
		return nil
	}

	// Local caps are checked before anything is marked in flight, so a cap
	// violation surfaces immediately and changes no queue state.
	if err := y.transport.Preflight(events); err != nil {
		return err
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	if err := y.store.MarkInFlight(ids); err != nil {
		return err
	}

	verdict, err := y.transport.Push(ctx, events)
	if err != nil {
		// Transport-level failure: reschedule the whole batch, each event
		// on its own attempt count.
		for _, ev := range events {
			attempt := ev.AttemptCount + 1
			if retryErr := y.store.MarkForRetry(ev.EventID, err.Error(), y.opts.Backoff.Delay(attempt)); retryErr != nil {
				slog.Error("failed to reschedule event",
					"component", "syncer",
					"action", "reschedule_failed",
					"event_id", ev.EventID,
					"error", retryErr,
				)
			}
		}
		slog.Warn("sync transmission failed",
			"component", "syncer",
			"action", "sync_transport_error",
			"events", len(events),
			"error", err,
		)
		return err
	}

	inBatch := make(map[string]bool, len(events))
	for _, ev := range events {
		inBatch[ev.EventID] = true
	}

	// Only ids from the transmitted batch are honored; a verdict cannot ack
	// an event that was never sent.
	acked := make(map[string]bool, len(verdict.AckedEventIDs))
	ackedIDs := make([]string, 0, len(verdict.AckedEventIDs))
	for _, id := range verdict.AckedEventIDs {
		if !inBatch[id] {
			slog.Warn("ignoring ack for unsent event",
				"component", "syncer",
				"action", "foreign_ack_ignored",
				"event_id", id,
			)
			continue
		}
		acked[id] = true
		ackedIDs = append(ackedIDs, id)
	}
	rejections := make(map[string]matsync.RejectedEvent, len(verdict.Rejected))
	for _, rej := range verdict.Rejected {
		rejections[rej.EventID] = rej
	}

	if err := y.store.MarkAcked(ackedIDs); err != nil {
		return err
	}

	// Every event the server did not ack is rescheduled, whether it was
	// explicitly rejected or silently omitted from the verdict.
	var rescheduled, deadLettered int
	for _, ev := range events {
		if acked[ev.EventID] {
			continue
		}
		attempt := ev.AttemptCount + 1
		rej, wasRejected := rejections[ev.EventID]
		msg := "not acknowledged by server"
		if wasRejected && rej.Message != "" {
			msg = rej.Message
		}

		if wasRejected && y.deadLetterable(rej.Code, attempt) {
			if err := y.store.MarkDeadLetter(ev.EventID, msg); err != nil {
				return err
			}
			deadLettered++
			slog.Warn("event dead-lettered",
				"component", "syncer",
				"action", "event_dead_lettered",
				"event_id", ev.EventID,
				"code", rej.Code,
				"attempts", attempt,
			)
			continue
		}

		if err := y.store.MarkForRetry(ev.EventID, msg, y.opts.Backoff.Delay(attempt)); err != nil {
			return err
		}
		rescheduled++
	}

	y.purgeAcked()

	slog.Info("sync completed",
		"component", "syncer",
		"action", "sync_completed",
		"events", len(events),
		"acked", len(ackedIDs),
		"rescheduled", rescheduled,
		"dead_lettered", deadLettered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// deadLetterable reports whether a rejection should stop retrying. Only
// codes that signal a permanently invalid event qualify, and only once the
// attempt budget is spent.
func (y *Syncer) deadLetterable(code string, attempt int) bool {
	if y.opts.MaxAttempts < 0 {
		return false
	}
	if code != matsync.RejectValidation && code != matsync.RejectUnsupportedType {
		return false
	}
	return attempt >= y.opts.MaxAttempts
}

func (y *Syncer) purgeAcked() {
	purged, err := y.store.PurgeAcked(time.Now().UTC().Add(-y.opts.AckedRetention))
	if err != nil {
		slog.Warn("acked purge failed",
			"component", "syncer",
			"action", "purge_failed",
			"error", err,
		)
		return
	}
	if purged > 0 {
		slog.Debug("purged acked events",
			"component", "syncer",
			"action", "purge_completed",
			"count", purged,
		)
	}
}
