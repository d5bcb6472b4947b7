// Package tournament runs four-player single-elimination brackets on top of
// the match registry: two semi-finals, then a final seeded from the winners.
// The orchestrator never touches paddles or balls; it only creates matches,
// gates their start and reacts to their results on the event bus.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/identity"
	"paddle-arena/server/internal/protocol"
	"paddle-arena/server/logging"
)

const PlayerCount = 4

var (
	ErrPlayerCount     = errors.New("tournament: exactly four players required")
	ErrDuplicatePlayer = errors.New("tournament: players must be distinct")
	ErrNotFound        = errors.New("tournament: not found")
)

type Stage string

const (
	StageSemiFinals Stage = "semi-finals"
	StageFinal      Stage = "final"
	StageFinished   Stage = "finished"
	StageCanceled   Stage = "canceled"
)

// Pairing is one bracket slot: a match and the identities seeded into it.
type Pairing struct {
	MatchID string `json:"matchId"`
	Left    string `json:"left"`
	Right   string `json:"right"`
}

// Bracket is the externally visible state of one tournament.
type Bracket struct {
	TournamentID string     `json:"tournamentId"`
	Title        string     `json:"title,omitempty"`
	Stage        Stage      `json:"stage"`
	Players      []string   `json:"players"`
	SemiFinals   [2]Pairing `json:"semiFinals"`
	Final        Pairing    `json:"final,omitempty"`
	Winner       string     `json:"winner,omitempty"`
}

// StageNotice is the notification payload pushed to every participant when
// the bracket advances.
type StageNotice struct {
	TournamentID string          `json:"tournamentId"`
	Title        string          `json:"title,omitempty"`
	Stage        Stage           `json:"stage"`
	Matches      []PairingNotice `json:"matches,omitempty"`
	CountdownMS  int64           `json:"countdownMs,omitempty"`
	Winner       *identity.User  `json:"winner,omitempty"`
	Canceled     bool            `json:"canceled,omitempty"`
}

type PairingNotice struct {
	MatchID string          `json:"matchId"`
	Players []identity.User `json:"players"`
}

type tournament struct {
	id          string
	title       string
	players     [PlayerCount]string
	stage       Stage
	semis       [2]Pairing
	semiWinners [2]string
	final       Pairing
	winner      string
}

// Orchestrator owns all running tournaments.
type Orchestrator struct {
	registry  *game.Registry
	bus       *events.Bus
	notifier  identity.Notifier
	directory identity.Directory
	publisher logging.Publisher
	countdown time.Duration

	mu          sync.Mutex
	tournaments map[string]*tournament
	byMatch     map[string]string
}

// NewOrchestrator wires the orchestrator into the registry's event bus. The
// countdown is the delay between revealing a stage and opening its matches'
// ready-gates; zero opens them immediately.
func NewOrchestrator(registry *game.Registry, notifier identity.Notifier, directory identity.Directory, countdown time.Duration, deps game.Deps) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		bus:         deps.Bus,
		notifier:    notifier,
		directory:   directory,
		publisher:   deps.Publisher,
		countdown:   countdown,
		tournaments: make(map[string]*tournament),
		byMatch:     make(map[string]string),
	}
	if o.publisher == nil {
		o.publisher = logging.NopPublisher()
	}
	if o.notifier == nil {
		o.notifier = identity.NewMemoryNotifier()
	}
	if o.directory == nil {
		o.directory = identity.NewStaticDirectory()
	}
	if o.bus != nil {
		o.bus.Subscribe(events.TopicMatchFinished, o.onMatchFinished)
		o.bus.Subscribe(events.TopicMatchCanceled, o.onMatchCanceled)
	}
	return o
}

// Create validates the roster, seeds the semi-finals in roster order and
// reveals the bracket to every participant. Matches start only after the
// countdown opens their ready-gates and both players signalled ready.
func (o *Orchestrator) Create(ctx context.Context, title string, players []string) (Bracket, error) {
	if len(players) != PlayerCount {
		return Bracket{}, fmt.Errorf("%w, got %d", ErrPlayerCount, len(players))
	}
	seen := make(map[string]struct{}, PlayerCount)
	for _, p := range players {
		if p == "" {
			return Bracket{}, fmt.Errorf("%w, empty identity", ErrPlayerCount)
		}
		if _, dup := seen[p]; dup {
			return Bracket{}, fmt.Errorf("%w: %s", ErrDuplicatePlayer, p)
		}
		seen[p] = struct{}{}
	}

	t := &tournament{id: uuid.NewString(), title: title, stage: StageSemiFinals}
	copy(t.players[:], players)

	for i := 0; i < 2; i++ {
		m := o.registry.Create(game.Config{Mode: game.ModeTournament, HoldReadyGate: true})
		t.semis[i] = Pairing{MatchID: m.ID(), Left: players[2*i], Right: players[2*i+1]}
	}

	o.mu.Lock()
	o.tournaments[t.id] = t
	o.byMatch[t.semis[0].MatchID] = t.id
	o.byMatch[t.semis[1].MatchID] = t.id
	o.mu.Unlock()

	notice := StageNotice{
		TournamentID: t.id,
		Title:        title,
		Stage:        StageSemiFinals,
		Matches: []PairingNotice{
			o.pairingNotice(ctx, t.semis[0]),
			o.pairingNotice(ctx, t.semis[1]),
		},
		CountdownMS: o.countdown.Milliseconds(),
	}
	o.notifyAll(ctx, t.players[:], protocol.TypeTournamentSemiFinals, notice)
	o.publishStage(t, "tournament.created")

	o.scheduleGateOpen(t.id, t.semis[0].MatchID, t.semis[1].MatchID)

	o.mu.Lock()
	bracket := o.bracketLocked(t)
	o.mu.Unlock()
	return bracket, nil
}

// Bracket reports the current state of a tournament.
func (o *Orchestrator) Bracket(tournamentID string) (Bracket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tournaments[tournamentID]
	if !ok {
		return Bracket{}, ErrNotFound
	}
	return o.bracketLocked(t), nil
}

// SeededPairing reports the undecided match an identity is seeded into for
// its tournament's current stage. Players offline at the stage reveal use it
// to join their slot when they connect.
func (o *Orchestrator) SeededPairing(identity string) (string, game.Slot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.tournaments {
		var pairings []Pairing
		switch t.stage {
		case StageSemiFinals:
			pairings = t.semis[:]
		case StageFinal:
			pairings = []Pairing{t.final}
		default:
			continue
		}
		for _, p := range pairings {
			if _, undecided := o.byMatch[p.MatchID]; !undecided {
				continue
			}
			if p.Left == identity {
				return p.MatchID, game.SlotLeft, true
			}
			if p.Right == identity {
				return p.MatchID, game.SlotRight, true
			}
		}
	}
	return "", 0, false
}

// Len reports the number of tracked tournaments.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tournaments)
}

func (o *Orchestrator) bracketLocked(t *tournament) Bracket {
	return Bracket{
		TournamentID: t.id,
		Title:        t.title,
		Stage:        t.stage,
		Players:      append([]string(nil), t.players[:]...),
		SemiFinals:   t.semis,
		Final:        t.final,
		Winner:       t.winner,
	}
}

// scheduleGateOpen opens the given matches' ready-gates after the countdown.
// A tournament canceled during the countdown keeps its gates shut.
func (o *Orchestrator) scheduleGateOpen(tournamentID string, matchIDs ...string) {
	open := func() {
		o.mu.Lock()
		t, ok := o.tournaments[tournamentID]
		if !ok || t.stage == StageCanceled || t.stage == StageFinished {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		for _, id := range matchIDs {
			if m, ok := o.registry.Get(id); ok {
				m.OpenReadyGate()
			}
		}
	}
	if o.countdown <= 0 {
		open()
		return
	}
	time.AfterFunc(o.countdown, open)
}

func (o *Orchestrator) onMatchFinished(event events.Event) {
	if event.Match == nil {
		return
	}
	o.mu.Lock()
	tournamentID, ok := o.byMatch[event.Match.MatchID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.byMatch, event.Match.MatchID)
	t := o.tournaments[tournamentID]

	switch t.stage {
	case StageSemiFinals:
		for i := range t.semis {
			if t.semis[i].MatchID == event.Match.MatchID {
				t.semiWinners[i] = event.Match.Winner
			}
		}
		if t.semiWinners[0] == "" || t.semiWinners[1] == "" {
			o.mu.Unlock()
			return
		}
		t.stage = StageFinal
		final := o.registry.Create(game.Config{Mode: game.ModeTournament, HoldReadyGate: true})
		t.final = Pairing{MatchID: final.ID(), Left: t.semiWinners[0], Right: t.semiWinners[1]}
		o.byMatch[final.ID()] = t.id
		players := t.players
		pairing := t.final
		o.mu.Unlock()

		ctx := context.Background()
		notice := StageNotice{
			TournamentID: tournamentID,
			Stage:        StageFinal,
			Matches:      []PairingNotice{o.pairingNotice(ctx, pairing)},
			CountdownMS:  o.countdown.Milliseconds(),
		}
		o.notifyAll(ctx, players[:], protocol.TypeTournamentFinal, notice)
		o.publishStage(t, "tournament.final")
		o.scheduleGateOpen(tournamentID, pairing.MatchID)

	case StageFinal:
		t.stage = StageFinished
		t.winner = event.Match.Winner
		players := t.players
		o.mu.Unlock()

		ctx := context.Background()
		champion, _ := o.directory.Lookup(ctx, event.Match.Winner)
		notice := StageNotice{TournamentID: tournamentID, Stage: StageFinished, Winner: &champion}
		o.notifyAll(ctx, players[:], protocol.TypeTournamentFinish, notice)
		o.publishStage(t, "tournament.finished")
		if o.bus != nil {
			o.bus.Publish(events.Event{
				Topic:      events.TopicTournamentFinished,
				Tournament: &events.TournamentResult{TournamentID: tournamentID, Winner: event.Match.Winner},
			})
		}

	default:
		o.mu.Unlock()
	}
}

// onMatchCanceled discards the whole bracket when any of its matches is
// canceled; a tournament cannot limp on with a hole in it.
func (o *Orchestrator) onMatchCanceled(event events.Event) {
	if event.Match == nil {
		return
	}
	o.mu.Lock()
	tournamentID, ok := o.byMatch[event.Match.MatchID]
	if !ok {
		o.mu.Unlock()
		return
	}
	t := o.tournaments[tournamentID]
	if t.stage == StageCanceled || t.stage == StageFinished {
		o.mu.Unlock()
		return
	}
	t.stage = StageCanceled
	players := t.players
	var live []string
	for _, id := range []string{t.semis[0].MatchID, t.semis[1].MatchID, t.final.MatchID} {
		if id != "" && id != event.Match.MatchID {
			live = append(live, id)
		}
		delete(o.byMatch, id)
	}
	o.mu.Unlock()

	// Canceling the sibling matches publishes their own canceled events;
	// the stage check above makes the reentrant calls no-ops.
	for _, id := range live {
		if m, ok := o.registry.Get(id); ok {
			m.Cancel()
		}
	}

	ctx := context.Background()
	notice := StageNotice{TournamentID: tournamentID, Stage: StageCanceled, Canceled: true}
	o.notifyAll(ctx, players[:], protocol.TypeTournamentFinish, notice)
	o.publishStage(t, "tournament.canceled")
	if o.bus != nil {
		o.bus.Publish(events.Event{
			Topic:      events.TopicTournamentFinished,
			Tournament: &events.TournamentResult{TournamentID: tournamentID, Canceled: true},
		})
	}
}

func (o *Orchestrator) pairingNotice(ctx context.Context, p Pairing) PairingNotice {
	left, _ := o.directory.Lookup(ctx, p.Left)
	right, _ := o.directory.Lookup(ctx, p.Right)
	return PairingNotice{MatchID: p.MatchID, Players: []identity.User{left, right}}
}

func (o *Orchestrator) notifyAll(ctx context.Context, players []string, msgType string, payload any) {
	for _, p := range players {
		if p == "" {
			continue
		}
		if err := o.notifier.Notify(ctx, p, identity.Notification{Type: msgType, Payload: payload}); err != nil {
			o.publisher.Publish(ctx, logging.Event{
				Type:     "tournament.notify_failed",
				Severity: logging.SeverityWarn,
				Category: logging.CategoryTournament,
				Actor:    logging.EntityRef{ID: p, Kind: logging.EntityKindPlayer},
				Extra:    map[string]any{"error": err.Error()},
			})
		}
	}
}

func (o *Orchestrator) publishStage(t *tournament, eventType logging.EventType) {
	o.publisher.Publish(context.Background(), logging.Event{
		Type:     eventType,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTournament,
		Actor:    logging.EntityRef{ID: t.id, Kind: logging.EntityKindTournament},
	})
}
