package diary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

// ackAllHandler acks every event it receives.
func ackAllHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode push request: %v", err)
		}
		acked := make([]string, len(req.Events))
		for i, ev := range req.Events {
			acked[i] = ev.EventID
		}
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: acked,
			Rejected:      []matsync.RejectedEvent{},
			ServerTime:    time.Now().UTC(),
		})
	}
}

func newTestSyncer(t *testing.T, s *Store, handler http.Handler, opts SyncerOptions) *Syncer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr := NewTransport(srv.URL, "device-test", staticToken("t"))
	y, err := NewSyncer(s, tr, opts)
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}
	return y
}

func TestSync_AcksDrainTheQueue(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 3)
	y := newTestSyncer(t, s, ackAllHandler(t), SyncerOptions{})

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, ev := range events {
		got := mustGetEvent(t, s, ev.EventID)
		if got.Status != StatusAcked {
			t.Errorf("event %s: expected acked, got %s", ev.EventID, got.Status)
		}
		if got.AttemptCount != 1 {
			t.Errorf("event %s: expected 1 attempt, got %d", ev.EventID, got.AttemptCount)
		}
	}
	if n, _ := s.PendingCount(); n != 0 {
		t.Errorf("expected empty queue, got %d pending", n)
	}
}

func TestSync_EmptyQueueIsANoOp(t *testing.T) {
	s := newTestStore(t)
	requests := 0
	y := newTestSyncer(t, s, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}), SyncerOptions{})

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if requests != 0 {
		t.Fatalf("empty queue must not hit the server, got %d requests", requests)
	}
}

func TestSync_Disabled(t *testing.T) {
	s := newTestStore(t)
	enqueueTestEvents(t, s, 1)
	y := newTestSyncer(t, s, ackAllHandler(t), SyncerOptions{Disabled: true})

	if err := y.Sync(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Fatalf("expected ErrSyncDisabled, got %v", err)
	}
	// Nothing was touched
	if due := dueEvents(t, s); len(due) != 1 || due[0].AttemptCount != 0 {
		t.Fatalf("disabled sync must leave the queue untouched: %+v", due)
	}
}

func TestSync_SingleFlight(t *testing.T) {
	s := newTestStore(t)
	enqueueTestEvents(t, s, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		ackAllHandler(t)(w, r)
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = y.Sync(context.Background())
	}()

	// A second run while the first holds the flight lock is refused
	<-entered
	if err := y.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first run failed: %v", firstErr)
	}

	// The lock is released after the run
	if err := y.Sync(context.Background()); err != nil {
		t.Errorf("Sync after completed run: %v", err)
	}
}

func TestSync_TransportFailureReschedulesWholeBatch(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 2)
	y := newTestSyncer(t, s, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), SyncerOptions{})

	if err := y.Sync(context.Background()); err == nil {
		t.Fatal("expected transport error")
	}

	for _, ev := range events {
		got := mustGetEvent(t, s, ev.EventID)
		if got.Status != StatusPending {
			t.Errorf("event %s: expected pending, got %s", ev.EventID, got.Status)
		}
		if got.AttemptCount != 1 {
			t.Errorf("event %s: expected failed attempt counted, got %d", ev.EventID, got.AttemptCount)
		}
		if got.NextRetryAt == nil || !got.NextRetryAt.After(time.Now()) {
			t.Errorf("event %s: expected future retry gate, got %v", ev.EventID, got.NextRetryAt)
		}
		if got.LastError == "" {
			t.Errorf("event %s: expected failure recorded", ev.EventID)
		}
	}
}

func TestSync_PartialVerdict(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 3)

	// Server acks the first, rejects the second as a server fault, and
	// silently omits the third.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{req.Events[0].EventID},
			Rejected: []matsync.RejectedEvent{{
				EventID: req.Events[1].EventID,
				Code:    matsync.RejectServerError,
				Message: "projection write failed",
			}},
			ServerTime: time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{})

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := mustGetEvent(t, s, events[0].EventID); got.Status != StatusAcked {
		t.Errorf("acked event: expected acked, got %s", got.Status)
	}

	rejected := mustGetEvent(t, s, events[1].EventID)
	if rejected.Status != StatusPending || rejected.NextRetryAt == nil {
		t.Errorf("rejected event must be rescheduled: status=%s gate=%v", rejected.Status, rejected.NextRetryAt)
	}
	if rejected.LastError != "projection write failed" {
		t.Errorf("expected server message recorded, got %q", rejected.LastError)
	}

	// An event the verdict never mentions is treated like a rejection
	omitted := mustGetEvent(t, s, events[2].EventID)
	if omitted.Status != StatusPending || omitted.NextRetryAt == nil {
		t.Errorf("omitted event must be rescheduled: status=%s gate=%v", omitted.Status, omitted.NextRetryAt)
	}
}

func TestSync_DeadLettersPermanentRejections(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{},
			Rejected: []matsync.RejectedEvent{{
				EventID: req.Events[0].EventID,
				Code:    matsync.RejectUnsupportedType,
				Message: "unknown event type",
			}},
			ServerTime: time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{MaxAttempts: 2})

	// First rejection: attempt budget not spent, so it reschedules
	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ev := mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusPending {
		t.Fatalf("first rejection must reschedule, got %s", ev.Status)
	}

	// Make it due again and let the second rejection hit the budget
	if err := s.MarkForRetry(ev.EventID, ev.LastError, -time.Minute); err != nil {
		t.Fatalf("MarkForRetry: %v", err)
	}
	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ev = mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusDeadLetter {
		t.Fatalf("expected deadLetter after budget spent, got %s", ev.Status)
	}
	if ev.LastError != "unknown event type" {
		t.Errorf("expected server message recorded, got %q", ev.LastError)
	}
}

func TestSync_ServerErrorNeverDeadLetters(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{},
			Rejected: []matsync.RejectedEvent{{
				EventID: req.Events[0].EventID,
				Code:    matsync.RejectServerError,
				Message: "transient",
			}},
			ServerTime: time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{MaxAttempts: 1})

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ev := mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusPending {
		t.Fatalf("transient rejection must reschedule even past the budget, got %s", ev.Status)
	}
}

func TestSync_PreflightFailureLeavesQueueUntouched(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(srv.Close)

	tr := NewTransport(srv.URL, "device-test", staticToken("t"))
	tr.MaxPayloadBytes = 1
	y, err := NewSyncer(s, tr, SyncerOptions{})
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}

	if err := y.Sync(context.Background()); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if requests != 0 {
		t.Errorf("no request must reach the server, got %d", requests)
	}
	// Nothing was marked in flight, no attempt was spent
	ev := mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusPending || ev.AttemptCount != 0 {
		t.Errorf("expected untouched event, got status=%s attempts=%d", ev.Status, ev.AttemptCount)
	}
}

func TestNewSyncer_RecoversStrandedInFlight(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)
	if err := s.MarkInFlight([]string{events[0].EventID}); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}

	// Constructing the syncer performs crash recovery
	y := newTestSyncer(t, s, ackAllHandler(t), SyncerOptions{})

	ev := mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusPending {
		t.Fatalf("expected stranded event recovered to pending, got %s", ev.Status)
	}

	// The recovered event syncs on the next run and its attempt accumulates
	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ev = mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusAcked || ev.AttemptCount != 2 {
		t.Fatalf("expected acked with 2 attempts, got status=%s attempts=%d", ev.Status, ev.AttemptCount)
	}
}

func TestSync_PurgesOldAckedEvents(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)
	y := newTestSyncer(t, s, ackAllHandler(t), SyncerOptions{AckedRetention: time.Nanosecond})

	// The ack and the purge happen in the same run; with a nanosecond
	// retention the freshly acked event is already past its cutoff.
	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	ev, err := s.GetEvent(events[0].EventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected acked event purged, got %+v", ev)
	}
}

func TestTrigger_FireAndForget(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)
	y := newTestSyncer(t, s, ackAllHandler(t), SyncerOptions{})

	y.Trigger(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := mustGetEvent(t, s, events[0].EventID)
		if ev.Status == StatusAcked {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background sync never acked the event")
}

func TestSync_ZeroOptionsApplyDefaultAttemptBudget(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{},
			Rejected: []matsync.RejectedEvent{{
				EventID: req.Events[0].EventID,
				Code:    matsync.RejectValidation,
				Message: "payload failed validation",
			}},
			ServerTime: time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{})

	for i := 1; i < DefaultMaxAttempts; i++ {
		if err := y.Sync(context.Background()); err != nil {
			t.Fatalf("Sync attempt %d: %v", i, err)
		}
		ev := mustGetEvent(t, s, events[0].EventID)
		if ev.Status != StatusPending {
			t.Fatalf("attempt %d: expected pending, got %s", i, ev.Status)
		}
		if err := s.MarkForRetry(ev.EventID, ev.LastError, -time.Minute); err != nil {
			t.Fatalf("MarkForRetry: %v", err)
		}
	}

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("final Sync: %v", err)
	}
	ev := mustGetEvent(t, s, events[0].EventID)
	if ev.Status != StatusDeadLetter {
		t.Fatalf("expected deadLetter at attempt %d, got %s", DefaultMaxAttempts, ev.Status)
	}
	if ev.AttemptCount != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, ev.AttemptCount)
	}
}

func TestSync_NegativeMaxAttemptsRetriesForever(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{},
			Rejected: []matsync.RejectedEvent{{
				EventID: req.Events[0].EventID,
				Code:    matsync.RejectValidation,
				Message: "payload failed validation",
			}},
			ServerTime: time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{MaxAttempts: -1})

	for i := 1; i <= DefaultMaxAttempts+2; i++ {
		if err := y.Sync(context.Background()); err != nil {
			t.Fatalf("Sync attempt %d: %v", i, err)
		}
		ev := mustGetEvent(t, s, events[0].EventID)
		if ev.Status != StatusPending {
			t.Fatalf("attempt %d: expected pending, got %s", i, ev.Status)
		}
		if err := s.MarkForRetry(ev.EventID, ev.LastError, -time.Minute); err != nil {
			t.Fatalf("MarkForRetry: %v", err)
		}
	}
}

func TestSync_IgnoresAckForUnsentEvent(t *testing.T) {
	s := newTestStore(t)
	events := enqueueTestEvents(t, s, 2)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matsync.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Ack the transmitted event and one that was never sent.
		json.NewEncoder(w).Encode(matsync.PushResponse{
			AckedEventIDs: []string{req.Events[0].EventID, events[1].EventID},
			Rejected:      []matsync.RejectedEvent{},
			ServerTime:    time.Now().UTC(),
		})
	})
	y := newTestSyncer(t, s, handler, SyncerOptions{BatchSize: 1})

	if err := y.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	first := mustGetEvent(t, s, events[0].EventID)
	if first.Status != StatusAcked {
		t.Fatalf("transmitted event: expected acked, got %s", first.Status)
	}
	second := mustGetEvent(t, s, events[1].EventID)
	if second.Status != StatusPending {
		t.Fatalf("unsent event must stay pending, got %s", second.Status)
	}
	if second.AttemptCount != 0 {
		t.Errorf("unsent event must keep 0 attempts, got %d", second.AttemptCount)
	}
}
