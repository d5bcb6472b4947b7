package game

import (
	"testing"
	"time"
)

func TestLoopStopIsIdempotentAndAwaitable(t *testing.T) {
	l := newLoop(5 * time.Millisecond)
	ticks := make(chan struct{}, 1)
	l.start(func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never ticked")
	}

	l.Stop()
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not drain after Stop")
	}
}

func TestScheduledMatchTicksAndFinishCloses(t *testing.T) {
	cfg := testConfig()
	cfg.TickRate = 200
	m, _, _ := newBoundMatch(t, cfg)
	if err := m.Ready("alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := m.Ready("bob"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for m.Snapshot().Tick == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduled loop never advanced a tick")
		case <-time.After(2 * time.Millisecond):
		}
	}

	m.Cancel()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("match did not release its loop on cancel")
	}

	tick := m.Snapshot().Tick
	time.Sleep(20 * time.Millisecond)
	if got := m.Snapshot().Tick; got != tick {
		t.Fatalf("ticks continued after cancel: %d -> %d", tick, got)
	}
}
