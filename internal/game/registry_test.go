package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/telemetry"
)

func TestRegistryEnforcesOneActiveMatchPerIdentity(t *testing.T) {
	bus := events.NewBus()
	r := NewRegistry(testConfig(), Deps{Bus: bus})

	first := r.Create(Config{})
	second := r.Create(Config{})

	if err := r.Bind(first.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("bind first: %v", err)
	}
	err := r.Bind(second.ID(), SlotLeft, "alice", &fakeConn{})
	if !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}

	// Rebinding into the same match is a reconnect, not a conflict.
	if err := r.Bind(first.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("rebind same match: %v", err)
	}
}

func TestConcurrentBindsKeepOneActiveMatch(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := NewRegistry(testConfig(), Deps{})
		targets := [2]*Match{r.Create(Config{}), r.Create(Config{})}

		var wg sync.WaitGroup
		var errs [2]error
		for j := range targets {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				errs[j] = r.Bind(targets[j].ID(), SlotLeft, "bob", &fakeConn{})
			}(j)
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrAlreadyBound):
			default:
				t.Fatalf("unexpected bind error: %v", err)
			}
		}
		if won != 1 {
			t.Fatalf("expected exactly one winning bind, got %d", won)
		}

		held := 0
		for _, m := range targets {
			if left, _ := m.Players(); left == "bob" {
				held++
			}
		}
		if held != 1 {
			t.Fatalf("identity bound into %d matches at once", held)
		}
		if _, ok := r.MatchFor("bob"); !ok {
			t.Fatalf("winning bind must be indexed")
		}
	}
}

func TestFailedConfigSendDoesNotReserveIdentity(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})
	m := r.Create(Config{})

	err := r.Bind(m.ID(), SlotLeft, "alice", &fakeConn{failing: true})
	if !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if _, ok := r.MatchFor("alice"); ok {
		t.Fatalf("a dead connection must not reserve the identity")
	}

	// The slot frees up for a working connection straight away.
	if err := r.Bind(m.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("rebind after failed send: %v", err)
	}
}

func TestRegistryReleasesIdentitiesOnFinish(t *testing.T) {
	bus := events.NewBus()
	r := NewRegistry(testConfig(), Deps{Bus: bus})

	m := r.Create(Config{})
	if err := r.Bind(m.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := r.Bind(m.ID(), SlotRight, "bob", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	forceOngoing(m)

	m.mu.Lock()
	m.slots[SlotLeft].paddle.Score = m.cfg.WinScore - 1
	m.ball = Ball{X: m.cfg.CanvasWidth - m.cfg.BallRadius - 1, Y: m.cfg.CanvasHeight / 2, DX: m.cfg.BallSpeedX, DY: 0}
	m.slots[SlotRight].paddle.Y = 0
	m.mu.Unlock()
	m.Advance()

	if m.Status() != StatusFinished {
		t.Fatalf("expected finished match, status=%s", m.Status())
	}

	// Identities must be free for the next match straight away.
	next := r.Create(Config{})
	if err := r.Bind(next.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("alice should be free after finish: %v", err)
	}
	if err := r.Bind(next.ID(), SlotRight, "bob", &fakeConn{}); err != nil {
		t.Fatalf("bob should be free after finish: %v", err)
	}
}

func TestRegistryBindUnknownMatch(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})
	err := r.Bind("no-such-match", SlotLeft, "alice", &fakeConn{})
	if !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestRegistryMatchFor(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})
	m := r.Create(Config{})
	if err := r.Bind(m.ID(), SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, ok := r.MatchFor("alice")
	if !ok || got.ID() != m.ID() {
		t.Fatalf("expected alice bound to %s, got %v %v", m.ID(), got, ok)
	}
	if _, ok := r.MatchFor("bob"); ok {
		t.Fatalf("unbound identity must not resolve to a match")
	}
}

func TestRegistryDefaultsApplyToCreatedMatches(t *testing.T) {
	defaults := testConfig()
	defaults.WinScore = 11
	r := NewRegistry(defaults, Deps{})

	m := r.Create(Config{Mode: ModeAI})
	if m.cfg.WinScore != 11 {
		t.Fatalf("expected registry default win score, got %d", m.cfg.WinScore)
	}
	if m.Mode() != ModeAI {
		t.Fatalf("explicit mode must win over default, got %s", m.Mode())
	}
}

func TestSweepReleasesAbandonedMatches(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})

	idle := r.Create(Config{})      // waiting, never bound
	fresh := r.Create(Config{})     // waiting, but too young to sweep
	finished := r.Create(Config{})  // terminal with connections gone
	populated := r.Create(Config{}) // waiting with a live connection

	if err := r.Bind(populated.ID(), SlotLeft, "carol", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	finished.mu.Lock()
	finished.status = StatusFinished
	finished.mu.Unlock()

	cutoff := idle.CreatedAt().Add(time.Minute)
	fresh.createdAt = cutoff

	removed := r.Sweep(cutoff, 30*time.Second)
	if removed != 2 {
		t.Fatalf("expected 2 matches swept, got %d", removed)
	}
	if _, ok := r.Get(fresh.ID()); !ok {
		t.Fatalf("young waiting match must survive the sweep")
	}
	if _, ok := r.Get(idle.ID()); ok {
		t.Fatalf("idle waiting match should be swept")
	}
	if _, ok := r.Get(finished.ID()); ok {
		t.Fatalf("terminal match without connections should be swept")
	}
	if _, ok := r.Get(populated.ID()); !ok {
		t.Fatalf("match with a live connection must survive the sweep")
	}
}

func TestRegistryReportsLiveMatchGauge(t *testing.T) {
	counters := telemetry.NewCounters()
	r := NewRegistry(testConfig(), Deps{Metrics: counters})

	first := r.Create(Config{})
	r.Create(Config{})
	if got := counters.Snapshot()["game.live_matches"]; got != 2 {
		t.Fatalf("expected gauge at 2 after two creates, got %d", got)
	}

	r.Remove(first.ID())
	if got := counters.Snapshot()["game.live_matches"]; got != 1 {
		t.Fatalf("expected gauge at 1 after remove, got %d", got)
	}
}

func TestJanitorAcceptsInjectedLogger(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})
	sched, err := r.StartJanitor(time.Hour, time.Hour, telemetry.LoggerFunc(func(string, ...any) {}))
	if err != nil {
		t.Fatalf("start janitor: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		t.Fatalf("shutdown janitor: %v", err)
	}
}

func TestRemoveCancelsLiveMatch(t *testing.T) {
	r := NewRegistry(testConfig(), Deps{})
	m := r.Create(Config{})
	r.Remove(m.ID())
	if !m.Canceled() {
		t.Fatalf("removing a live match must cancel it")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, len=%d", r.Len())
	}
}
