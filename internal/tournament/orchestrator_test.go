package tournament

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/identity"
	"paddle-arena/server/internal/protocol"
)

type nopConn struct{}

func (nopConn) Send(string, any) error { return nil }
func (nopConn) Close() error           { return nil }

type fixture struct {
	bus      *events.Bus
	registry *game.Registry
	notifier *identity.MemoryNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T, countdown time.Duration) *fixture {
	t.Helper()
	bus := events.NewBus()
	defaults := game.DefaultConfig()
	defaults.TickRate = 1
	defaults.ForfeitTimeout = 20 * time.Millisecond
	registry := game.NewRegistry(defaults, game.Deps{Bus: bus})
	notifier := identity.NewMemoryNotifier()
	orch := NewOrchestrator(registry, notifier, identity.NewStaticDirectory(), countdown, game.Deps{Bus: bus})
	return &fixture{bus: bus, registry: registry, notifier: notifier, orch: orch}
}

var roster = []string{"alice", "bob", "carol", "dave"}

// playOut starts a match and forfeits it so the given identity wins.
func playOut(t *testing.T, f *fixture, matchID, winner, loser string) {
	t.Helper()
	m, ok := f.registry.Get(matchID)
	if !ok {
		t.Fatalf("match %s not in registry", matchID)
	}
	left, _ := m.Players()
	winnerSlot, loserSlot := game.SlotLeft, game.SlotRight
	if left != winner {
		winnerSlot, loserSlot = game.SlotRight, game.SlotLeft
	}
	if err := f.registry.Bind(matchID, winnerSlot, winner, nopConn{}); err != nil {
		t.Fatalf("bind %s: %v", winner, err)
	}
	if err := f.registry.Bind(matchID, loserSlot, loser, nopConn{}); err != nil {
		t.Fatalf("bind %s: %v", loser, err)
	}
	if err := m.Ready(winner); err != nil {
		t.Fatalf("ready %s: %v", winner, err)
	}
	if err := m.Ready(loser); err != nil {
		t.Fatalf("ready %s: %v", loser, err)
	}
	if m.Status() != game.StatusOngoing {
		t.Fatalf("match %s did not start, status=%s", matchID, m.Status())
	}

	m.Disconnect(loser)
	deadline := time.After(2 * time.Second)
	for m.Status() != game.StatusFinished {
		select {
		case <-deadline:
			t.Fatalf("match %s never finished", matchID)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := m.Winner(); got != winner {
		t.Fatalf("expected %s to win %s, got %q", winner, matchID, got)
	}
}

func TestCreateValidatesRoster(t *testing.T) {
	f := newFixture(t, 0)

	if _, err := f.orch.Create(context.Background(), "cup", roster[:3]); !errors.Is(err, ErrPlayerCount) {
		t.Fatalf("expected ErrPlayerCount, got %v", err)
	}
	if _, err := f.orch.Create(context.Background(), "cup", []string{"alice", "bob", "carol", "alice"}); !errors.Is(err, ErrDuplicatePlayer) {
		t.Fatalf("expected ErrDuplicatePlayer, got %v", err)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("rejected tournaments must not leave matches behind, len=%d", f.registry.Len())
	}
}

func TestCreateSeedsSemiFinalsInRosterOrder(t *testing.T) {
	f := newFixture(t, 0)

	bracket, err := f.orch.Create(context.Background(), "cup", roster)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if bracket.Stage != StageSemiFinals {
		t.Fatalf("expected semi-finals stage, got %s", bracket.Stage)
	}
	if f.registry.Len() != 2 {
		t.Fatalf("expected two semi-final matches, len=%d", f.registry.Len())
	}
	first, second := bracket.SemiFinals[0], bracket.SemiFinals[1]
	if first.Left != "alice" || first.Right != "bob" {
		t.Fatalf("unexpected first pairing: %+v", first)
	}
	if second.Left != "carol" || second.Right != "dave" {
		t.Fatalf("unexpected second pairing: %+v", second)
	}

	for _, p := range roster {
		sent := f.notifier.Sent(p)
		if len(sent) != 1 || sent[0].Type != protocol.TypeTournamentSemiFinals {
			t.Fatalf("player %s missing bracket reveal, got %v", p, sent)
		}
	}
}

func TestCountdownHoldsReadyGate(t *testing.T) {
	f := newFixture(t, time.Hour)

	bracket, err := f.orch.Create(context.Background(), "cup", roster)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	matchID := bracket.SemiFinals[0].MatchID
	m, _ := f.registry.Get(matchID)
	if err := f.registry.Bind(matchID, game.SlotLeft, "alice", nopConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := f.registry.Bind(matchID, game.SlotRight, "bob", nopConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := m.Ready("alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := m.Ready("bob"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	if got := m.Status(); got != game.StatusWaiting {
		t.Fatalf("match must not start before the countdown, status=%s", got)
	}
}

func TestTournamentRunsToChampion(t *testing.T) {
	f := newFixture(t, 0)

	var busResults []events.TournamentResult
	var busMu sync.Mutex
	f.bus.Subscribe(events.TopicTournamentFinished, func(event events.Event) {
		busMu.Lock()
		busResults = append(busResults, *event.Tournament)
		busMu.Unlock()
	})

	bracket, err := f.orch.Create(context.Background(), "cup", roster)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	playOut(t, f, bracket.SemiFinals[0].MatchID, "alice", "bob")
	playOut(t, f, bracket.SemiFinals[1].MatchID, "dave", "carol")

	bracket, err = f.orch.Bracket(bracket.TournamentID)
	if err != nil {
		t.Fatalf("bracket: %v", err)
	}
	if bracket.Stage != StageFinal {
		t.Fatalf("expected final stage after both semis, got %s", bracket.Stage)
	}
	if bracket.Final.Left != "alice" || bracket.Final.Right != "dave" {
		t.Fatalf("final must pair the semi winners, got %+v", bracket.Final)
	}
	for _, p := range roster {
		found := false
		for _, n := range f.notifier.Sent(p) {
			if n.Type == protocol.TypeTournamentFinal {
				found = true
			}
		}
		if !found {
			t.Fatalf("player %s missing final reveal", p)
		}
	}

	playOut(t, f, bracket.Final.MatchID, "dave", "alice")

	bracket, err = f.orch.Bracket(bracket.TournamentID)
	if err != nil {
		t.Fatalf("bracket: %v", err)
	}
	if bracket.Stage != StageFinished {
		t.Fatalf("expected finished tournament, got %s", bracket.Stage)
	}
	if bracket.Winner != "dave" {
		t.Fatalf("expected dave as champion, got %q", bracket.Winner)
	}

	busMu.Lock()
	defer busMu.Unlock()
	if len(busResults) != 1 {
		t.Fatalf("expected one tournament result on the bus, got %d", len(busResults))
	}
	if busResults[0].Winner != "dave" || busResults[0].Canceled {
		t.Fatalf("unexpected result: %+v", busResults[0])
	}
	for _, p := range roster {
		found := false
		for _, n := range f.notifier.Sent(p) {
			if n.Type == protocol.TypeTournamentFinish {
				found = true
			}
		}
		if !found {
			t.Fatalf("player %s missing finish notification", p)
		}
	}
}

func TestSemiFinalCancellationDiscardsTournament(t *testing.T) {
	f := newFixture(t, 0)

	var busResults []events.TournamentResult
	f.bus.Subscribe(events.TopicTournamentFinished, func(event events.Event) {
		busResults = append(busResults, *event.Tournament)
	})

	bracket, err := f.orch.Create(context.Background(), "cup", roster)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := f.registry.Get(bracket.SemiFinals[0].MatchID)
	second, _ := f.registry.Get(bracket.SemiFinals[1].MatchID)
	first.Cancel()

	got, err := f.orch.Bracket(bracket.TournamentID)
	if err != nil {
		t.Fatalf("bracket: %v", err)
	}
	if got.Stage != StageCanceled {
		t.Fatalf("expected canceled tournament, got %s", got.Stage)
	}
	if !second.Canceled() {
		t.Fatalf("sibling semi-final must be canceled too")
	}
	if len(busResults) != 1 || !busResults[0].Canceled || busResults[0].Winner != "" {
		t.Fatalf("expected one canceled result, got %v", busResults)
	}
}
