package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/protocol"
)

type sentMessage struct {
	Type    string
	Payload any
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []sentMessage
	failing bool
	closed  bool
}

func (c *fakeConn) Send(msgType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, sentMessage{Type: msgType, Payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messagesOfType(msgType string) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentMessage
	for _, msg := range c.sent {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickRate = 1 // slow scheduled loop; tests advance manually
	cfg.ForfeitTimeout = 50 * time.Millisecond
	return cfg
}

func newBoundMatch(t *testing.T, cfg Config) (*Match, *fakeConn, *fakeConn) {
	t.Helper()
	m := NewMatch(cfg, Deps{})
	left := &fakeConn{}
	right := &fakeConn{}
	if err := m.Bind(SlotLeft, "alice", left); err != nil {
		t.Fatalf("bind left: %v", err)
	}
	if err := m.Bind(SlotRight, "bob", right); err != nil {
		t.Fatalf("bind right: %v", err)
	}
	return m, left, right
}

// forceOngoing flips a bound match to ongoing without scheduling its loop so
// tests can advance ticks deterministically.
func forceOngoing(m *Match) {
	m.mu.Lock()
	m.status = StatusOngoing
	m.mu.Unlock()
}

func TestMatchStartsOnlyAfterBothReady(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())

	if err := m.Ready("alice"); err != nil {
		t.Fatalf("ready alice: %v", err)
	}
	if got := m.Status(); got != StatusWaiting {
		t.Fatalf("one ready signal should not start the match, status=%s", got)
	}
	if err := m.Ready("bob"); err != nil {
		t.Fatalf("ready bob: %v", err)
	}
	if got := m.Status(); got != StatusOngoing {
		t.Fatalf("expected ongoing after both ready, status=%s", got)
	}
}

func TestReadyGateHoldsUntilOpened(t *testing.T) {
	cfg := testConfig()
	cfg.HoldReadyGate = true
	m, _, _ := newBoundMatch(t, cfg)

	if err := m.Ready("alice"); err != nil {
		t.Fatalf("ready alice: %v", err)
	}
	if err := m.Ready("bob"); err != nil {
		t.Fatalf("ready bob: %v", err)
	}
	if got := m.Status(); got != StatusWaiting {
		t.Fatalf("gate closed, match must not start, status=%s", got)
	}

	m.OpenReadyGate()
	if got := m.Status(); got != StatusOngoing {
		t.Fatalf("expected ongoing once gate opened, status=%s", got)
	}
}

func TestBindSendsGameConfig(t *testing.T) {
	m, left, _ := newBoundMatch(t, testConfig())
	configs := left.messagesOfType(protocol.TypeGameConfig)
	if len(configs) != 1 {
		t.Fatalf("expected exactly one game_config on bind, got %d", len(configs))
	}
	msg, ok := configs[0].Payload.(ConfigMessage)
	if !ok {
		t.Fatalf("unexpected payload type %T", configs[0].Payload)
	}
	if msg.MatchID != m.ID() || msg.Slot != "left" {
		t.Fatalf("unexpected config message: %+v", msg)
	}
}

func TestBindRejectsOccupiedSlot(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	err := m.Bind(SlotLeft, "mallory", &fakeConn{})
	if !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}
}

func TestSubmitInputRequiresOwnedSlot(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	err := m.SubmitInput("mallory", Input{Up: true})
	if !errors.Is(err, ErrNotYourSlot) {
		t.Fatalf("expected ErrNotYourSlot, got %v", err)
	}
}

func TestSubmitInputNeverMovesPaddles(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	forceOngoing(m)
	before := m.Snapshot()
	if err := m.SubmitInput("alice", Input{Up: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	after := m.Snapshot()
	if before.Left.Y != after.Left.Y {
		t.Fatalf("input submission must not move paddles: %v -> %v", before.Left.Y, after.Left.Y)
	}
}

func TestDuplicateInputIsIdempotent(t *testing.T) {
	once, _, _ := newBoundMatch(t, testConfig())
	twice, _, _ := newBoundMatch(t, testConfig())
	forceOngoing(once)
	forceOngoing(twice)

	if err := once.SubmitInput("alice", Input{Up: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := twice.SubmitInput("alice", Input{Up: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := twice.SubmitInput("alice", Input{Up: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	once.Advance()
	twice.Advance()

	if once.Snapshot().Left.Y != twice.Snapshot().Left.Y {
		t.Fatalf("duplicate intent before a tick must equal a single intent: %v vs %v",
			once.Snapshot().Left.Y, twice.Snapshot().Left.Y)
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	forceOngoing(m)

	m.mu.Lock()
	m.slots[SlotLeft].paddle.Score = m.cfg.WinScore - 1
	m.ball = Ball{X: m.cfg.CanvasWidth - m.cfg.BallRadius - 1, Y: m.cfg.CanvasHeight / 2, DX: m.cfg.BallSpeedX, DY: 0}
	m.slots[SlotRight].paddle.Y = 0 // move the right paddle away
	m.mu.Unlock()

	m.Advance()

	if got := m.Status(); got != StatusFinished {
		t.Fatalf("expected finished at win score, status=%s", got)
	}
	if got := m.Winner(); got != "alice" {
		t.Fatalf("expected alice as winner, got %q", got)
	}

	// No operation may move the match out of finished.
	if err := m.Ready("alice"); !errors.Is(err, ErrMatchOver) {
		t.Fatalf("expected ErrMatchOver for ready after finish, got %v", err)
	}
	if err := m.SubmitInput("alice", Input{Down: true}); !errors.Is(err, ErrMatchOver) {
		t.Fatalf("expected ErrMatchOver for input after finish, got %v", err)
	}
	m.Advance()
	if got := m.Status(); got != StatusFinished {
		t.Fatalf("status moved backwards after finish: %s", got)
	}
}

func TestWinnerRegardlessOfOtherScore(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	forceOngoing(m)

	m.mu.Lock()
	m.slots[SlotLeft].paddle.Score = 3
	m.slots[SlotRight].paddle.Score = m.cfg.WinScore - 1
	m.ball = Ball{X: m.cfg.BallRadius + 1, Y: m.cfg.CanvasHeight / 2, DX: -m.cfg.BallSpeedX, DY: 0}
	m.slots[SlotLeft].paddle.Y = 0
	m.mu.Unlock()

	m.Advance()

	if got := m.Status(); got != StatusFinished {
		t.Fatalf("expected finished, status=%s", got)
	}
	if got := m.Winner(); got != "bob" {
		t.Fatalf("expected bob at win score, got %q", got)
	}
}

func TestDisconnectPausesUntilReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ForfeitTimeout = time.Minute // keep the timer out of this test
	m, _, _ := newBoundMatch(t, cfg)
	forceOngoing(m)

	if err := m.SubmitInput("bob", Input{Down: true}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	m.Disconnect("alice")
	if !m.Paused() {
		t.Fatalf("expected match paused after disconnect")
	}

	before := m.Snapshot()
	m.Advance()
	m.Advance()
	after := m.Snapshot()
	if before.Ball.X != after.Ball.X || before.Right.Y != after.Right.Y {
		t.Fatalf("paused ticks must not mutate state: %+v vs %+v", before, after)
	}

	if err := m.Bind(SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if m.Paused() {
		t.Fatalf("expected unpause after reconnect")
	}
	m.Advance()
	if m.Snapshot().Ball.X == after.Ball.X {
		t.Fatalf("expected ball to move again after reconnect")
	}
}

func TestForfeitTimerFinishesWithRemainingWinner(t *testing.T) {
	m, _, _ := newBoundMatch(t, testConfig())
	forceOngoing(m)
	m.mu.Lock()
	m.scored = true
	m.mu.Unlock()

	m.Disconnect("alice")

	deadline := time.After(2 * time.Second)
	for m.Status() != StatusFinished {
		select {
		case <-deadline:
			t.Fatalf("forfeit timer never finished the match")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := m.Winner(); got != "bob" {
		t.Fatalf("expected remaining player as winner, got %q", got)
	}
}

func TestBothDroppedBeforeActivityCancels(t *testing.T) {
	bus := events.NewBus()
	var canceled []string
	bus.Subscribe(events.TopicMatchCanceled, func(event events.Event) {
		canceled = append(canceled, event.Match.MatchID)
	})

	m := NewMatch(testConfig(), Deps{Bus: bus})
	if err := m.Bind(SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := m.Bind(SlotRight, "bob", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	forceOngoing(m)

	m.Disconnect("alice")
	m.Disconnect("bob")

	if !m.Canceled() {
		t.Fatalf("expected cancellation when both drop before any point")
	}
	if got := m.Status(); got == StatusFinished {
		t.Fatalf("a no-contest match must not be finished")
	}
	if got := m.Winner(); got != "" {
		t.Fatalf("no-contest match must have no winner, got %q", got)
	}
	if len(canceled) != 1 || canceled[0] != m.ID() {
		t.Fatalf("expected one canceled event for %s, got %v", m.ID(), canceled)
	}
}

func TestFinishPublishesMatchResult(t *testing.T) {
	bus := events.NewBus()
	var results []events.MatchResult
	bus.Subscribe(events.TopicMatchFinished, func(event events.Event) {
		results = append(results, *event.Match)
	})

	m := NewMatch(testConfig(), Deps{Bus: bus})
	if err := m.Bind(SlotLeft, "alice", &fakeConn{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	right := &fakeConn{}
	if err := m.Bind(SlotRight, "bob", right); err != nil {
		t.Fatalf("bind: %v", err)
	}
	forceOngoing(m)

	m.mu.Lock()
	m.slots[SlotRight].paddle.Score = m.cfg.WinScore - 1
	m.ball = Ball{X: m.cfg.BallRadius + 1, Y: m.cfg.CanvasHeight / 2, DX: -m.cfg.BallSpeedX, DY: 0}
	m.slots[SlotLeft].paddle.Y = 0
	m.mu.Unlock()
	m.Advance()

	if len(results) != 1 {
		t.Fatalf("expected one finished event, got %d", len(results))
	}
	if results[0].MatchID != m.ID() || results[0].Winner != "bob" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if got := right.messagesOfType("game_finish"); len(got) != 1 {
		t.Fatalf("expected one game_finish broadcast, got %d", len(got))
	}
}

func TestFailingConnectionIsDroppedNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.ForfeitTimeout = time.Minute
	m, _, right := newBoundMatch(t, cfg)
	forceOngoing(m)

	m.mu.Lock()
	m.slots[SlotLeft].conn.(*fakeConn).failing = true
	m.mu.Unlock()

	m.Advance()

	if m.ConnectionCount() != 1 {
		t.Fatalf("expected failing connection dropped, count=%d", m.ConnectionCount())
	}
	if len(right.messagesOfType("game_update")) == 0 {
		t.Fatalf("surviving connection should keep receiving updates")
	}
	if !m.Paused() {
		t.Fatalf("dropping a live player should pause the match")
	}
}
