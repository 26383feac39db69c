package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockPurger struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
}

func (m *mockPurger) PurgeInbox(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.cutoffs = append(m.cutoffs, olderThan)
	return 1, nil
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestPurgeCoordinator_PurgesImmediatelyOnStart(t *testing.T) {
	purger := &mockPurger{}
	c := NewPurgeCoordinator(purger, time.Hour, 30*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("coordinator never purged on start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on context cancel")
	}
}

func TestPurgeCoordinator_CutoffRespectsRetention(t *testing.T) {
	purger := &mockPurger{}
	retention := 30 * 24 * time.Hour
	c := NewPurgeCoordinator(purger, time.Hour, retention)

	before := time.Now().UTC().Add(-retention)
	c.purge(context.Background())
	after := time.Now().UTC().Add(-retention)

	purger.mu.Lock()
	defer purger.mu.Unlock()
	if len(purger.cutoffs) != 1 {
		t.Fatalf("expected one purge call, got %d", len(purger.cutoffs))
	}
	cutoff := purger.cutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff %v not within retention window [%v, %v]", cutoff, before, after)
	}
}
