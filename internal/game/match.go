// Package game owns the authoritative state of live matches: the per-match
// tick loop, the per-slot input cells, the physics step, and the forfeit
// handling around dropped connections. The tick goroutine is the only writer
// of paddle, ball, and score state; connections only ever write intent cells.
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/protocol"
	"paddle-arena/server/internal/telemetry"
	"paddle-arena/server/logging"
)

type slotState struct {
	identity  string
	conn      Conn
	connected bool
	virtual   bool
	ready     bool
	paddle    Paddle
	intent    Input
}

type boundConn struct {
	identity string
	conn     Conn
}

// Match is one live two-paddle contest.
type Match struct {
	id  string
	cfg Config

	bus       *events.Bus
	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock

	mu       sync.Mutex
	status   Status
	paused   bool
	canceled bool
	gateOpen bool
	scored   bool
	tick     uint64
	slots    [2]slotState
	ball     Ball
	winner   string

	loop        *loop
	loopStarted bool
	forfeit     *time.Timer

	createdAt time.Time
	done      chan struct{}
}

func NewMatch(cfg Config, deps Deps) *Match {
	cfg = cfg.normalized()
	deps = deps.normalized()
	m := &Match{
		id:        uuid.NewString(),
		cfg:       cfg,
		bus:       deps.Bus,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		status:    StatusWaiting,
		gateOpen:  !cfg.HoldReadyGate,
		loop:      newLoop(time.Second / time.Duration(cfg.TickRate)),
		createdAt: deps.Clock.Now(),
		done:      make(chan struct{}),
	}
	centerY := (cfg.CanvasHeight - cfg.PaddleHeight) / 2
	m.slots[SlotLeft].paddle = Paddle{X: cfg.PaddleMargin, Y: centerY}
	m.slots[SlotRight].paddle = Paddle{X: cfg.CanvasWidth - cfg.PaddleMargin - cfg.PaddleWidth, Y: centerY}
	m.ball = Ball{X: cfg.CanvasWidth / 2, Y: cfg.CanvasHeight / 2, DX: cfg.BallSpeedX, DY: cfg.BallSpeedY}
	return m
}

func (m *Match) ID() string { return m.id }

func (m *Match) Mode() Mode { return m.cfg.Mode }

func (m *Match) CreatedAt() time.Time { return m.createdAt }

func (m *Match) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Match) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Match) Canceled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}

func (m *Match) Winner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winner
}

// Players returns the identities bound to the left and right slot.
func (m *Match) Players() (left, right string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[SlotLeft].identity, m.slots[SlotRight].identity
}

func (m *Match) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.slots {
		if m.slots[i].connected {
			count++
		}
	}
	return count
}

// Done closes once the match reached a terminal state and its tick loop, if
// one was started, has exited.
func (m *Match) Done() <-chan struct{} {
	return m.done
}

// Bind attaches a connection to a slot. Rebinding the same identity swaps
// the connection (reconnect); a different identity can only take over a slot
// that was abandoned before the match started.
func (m *Match) Bind(slot Slot, identity string, conn Conn) error {
	return m.bind(slot, identity, conn, false)
}

// BindAI attaches a synthetic input source to a slot. AI slots are always
// ready and never enter the forfeit path.
func (m *Match) BindAI(slot Slot, identity string, conn Conn) error {
	return m.bind(slot, identity, conn, true)
}

func (m *Match) bind(slot Slot, identity string, conn Conn, virtual bool) error {
	if identity == "" || conn == nil {
		return fmt.Errorf("bind slot %s: identity and connection required", slot)
	}
	m.mu.Lock()
	if m.terminalLocked() {
		m.mu.Unlock()
		return ErrMatchOver
	}
	s := &m.slots[slot]
	var old Conn
	resumed := false
	switch {
	case s.identity == identity:
		if s.conn != conn {
			old = s.conn
		}
		s.conn = conn
		s.connected = true
		if m.status == StatusOngoing && m.paused && m.otherSideAliveLocked(slot) {
			m.paused = false
			resumed = true
			m.stopForfeitLocked()
		}
	case s.identity == "":
		s.identity = identity
		s.conn = conn
		s.connected = true
		s.virtual = virtual
		s.ready = virtual
	case !s.connected && m.status == StatusWaiting:
		s.identity = identity
		s.conn = conn
		s.connected = true
		s.virtual = virtual
		s.ready = virtual
	default:
		m.mu.Unlock()
		return ErrSlotOccupied
	}
	cfgMsg := m.configMessageLocked(slot)
	conns := m.boundConnsLocked()
	started := m.maybeStartLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if err := conn.Send(protocol.TypeGameConfig, cfgMsg); err != nil {
		m.dropConn(identity)
		return ErrConnClosed
	}
	if resumed {
		m.broadcast(conns, protocol.TypeGamePause, PauseMessage{MatchID: m.id, Paused: false})
		m.publishEvent("match.resumed", logging.SeverityInfo, identity, nil)
	}
	if started {
		m.announceStart(conns)
	}
	m.publishEvent("match.bound", logging.SeverityDebug, identity, map[string]any{"slot": slot.String(), "virtual": virtual})
	return nil
}

// SubmitInput overwrites the intent cell for the sender's slot. It never
// touches positions; the tick loop applies the latest intent.
func (m *Match) SubmitInput(identity string, input Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminalLocked() {
		return ErrMatchOver
	}
	s := m.slotByIdentityLocked(identity)
	if s == nil {
		return ErrNotYourSlot
	}
	s.intent = input
	return nil
}

// Ready records a player's ready signal. The match starts once both bound
// identities are ready and the ready-gate is open.
func (m *Match) Ready(identity string) error {
	m.mu.Lock()
	if m.terminalLocked() {
		m.mu.Unlock()
		return ErrMatchOver
	}
	s := m.slotByIdentityLocked(identity)
	if s == nil {
		m.mu.Unlock()
		return ErrNotYourSlot
	}
	s.ready = true
	started := m.maybeStartLocked()
	conns := m.boundConnsLocked()
	m.mu.Unlock()
	if started {
		m.announceStart(conns)
	}
	return nil
}

// OpenReadyGate releases a gate held closed at creation (tournament
// countdown). Ready signals received while the gate was closed still count.
func (m *Match) OpenReadyGate() {
	m.mu.Lock()
	m.gateOpen = true
	started := m.maybeStartLocked()
	conns := m.boundConnsLocked()
	m.mu.Unlock()
	if started {
		m.announceStart(conns)
	}
}

func (m *Match) maybeStartLocked() bool {
	if m.status != StatusWaiting || !m.gateOpen {
		return false
	}
	for i := range m.slots {
		if m.slots[i].identity == "" || !m.slots[i].ready {
			return false
		}
	}
	m.status = StatusOngoing
	m.loopStarted = true
	m.loop.start(m.runTick)
	return true
}

func (m *Match) announceStart(conns []boundConn) {
	m.broadcast(conns, protocol.TypeGameStart, StartMessage{MatchID: m.id})
	m.publishEvent("match.started", logging.SeverityInfo, "", nil)
	m.metrics.Add("game.matches_started", 1)
}

// SetPaused freezes tick effects while the loop keeps running.
func (m *Match) SetPaused(paused bool) {
	m.mu.Lock()
	if m.status != StatusOngoing || m.paused == paused {
		m.mu.Unlock()
		return
	}
	m.paused = paused
	conns := m.boundConnsLocked()
	m.mu.Unlock()
	m.broadcast(conns, protocol.TypeGamePause, PauseMessage{MatchID: m.id, Paused: paused})
}

// Disconnect marks an identity's connection as lost. Mid-match this pauses
// the game and arms the forfeit timer; before any point was scored, losing
// both human connections discards the match entirely.
func (m *Match) Disconnect(identity string) {
	m.mu.Lock()
	s := m.slotByIdentityLocked(identity)
	if s == nil || !s.connected || s.virtual {
		m.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	if m.terminalLocked() || m.status == StatusWaiting {
		m.mu.Unlock()
		return
	}

	if !m.anySideAliveLocked() && !m.scored {
		m.cancelCoreLocked()
		m.mu.Unlock()
		m.publishCancel()
		return
	}

	m.paused = true
	m.armForfeitLocked(identity)
	conns := m.boundConnsLocked()
	m.mu.Unlock()

	m.broadcast(conns, protocol.TypeGamePause, PauseMessage{MatchID: m.id, Paused: true})
	m.publishEvent("match.connection_lost", logging.SeverityWarn, identity, nil)
	m.metrics.Add("game.disconnects", 1)
}

func (m *Match) armForfeitLocked(identity string) {
	m.stopForfeitLocked()
	m.forfeit = time.AfterFunc(m.cfg.ForfeitTimeout, func() {
		m.forfeitExpired(identity)
	})
}

func (m *Match) stopForfeitLocked() {
	if m.forfeit != nil {
		m.forfeit.Stop()
		m.forfeit = nil
	}
}

func (m *Match) forfeitExpired(identity string) {
	m.mu.Lock()
	if m.terminalLocked() {
		m.mu.Unlock()
		return
	}
	s := m.slotByIdentityLocked(identity)
	if s == nil || s.connected {
		m.mu.Unlock()
		return
	}
	other := m.otherSlotLocked(s)
	if other != nil && other.identity != "" && (other.connected || other.virtual) {
		winner := other.identity
		m.finishCoreLocked(winner)
		conns := m.boundConnsLocked()
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.broadcast(conns, protocol.TypeGameUpdate, snap)
		m.broadcast(conns, protocol.TypeGameFinish, FinishMessage{MatchID: m.id, Winner: winner})
		m.publishFinish(winner, "forfeit")
		return
	}
	m.cancelCoreLocked()
	m.mu.Unlock()
	m.publishCancel()
}

// Cancel discards the match with no winner.
func (m *Match) Cancel() {
	m.mu.Lock()
	if m.terminalLocked() {
		m.mu.Unlock()
		return
	}
	m.cancelCoreLocked()
	conns := m.boundConnsLocked()
	m.mu.Unlock()
	m.broadcast(conns, protocol.TypeGameFinish, FinishMessage{MatchID: m.id})
	m.publishCancel()
}

func (m *Match) runTick() {
	began := m.clock.Now()
	m.mu.Lock()
	if m.status != StatusOngoing {
		m.mu.Unlock()
		return
	}
	finished := false
	if !m.paused {
		finished = m.advanceLocked()
	}
	snap := m.snapshotLocked()
	conns := m.boundConnsLocked()
	winner := m.winner
	m.mu.Unlock()

	m.metrics.Add("game.ticks", 1)
	m.metrics.Add("game.tick_micros", uint64(m.clock.Now().Sub(began).Microseconds()))
	m.broadcast(conns, protocol.TypeGameUpdate, snap)
	if finished {
		m.broadcast(conns, protocol.TypeGameFinish, FinishMessage{MatchID: m.id, Winner: winner})
		m.publishFinish(winner, "score")
	}
}

// Advance runs one tick synchronously; the scheduled loop drives the same
// path. Deterministic tests step matches with it directly.
func (m *Match) Advance() {
	m.runTick()
}

func (m *Match) finishCoreLocked(winner string) {
	m.status = StatusFinished
	m.winner = winner
	m.stopForfeitLocked()
	m.releaseLoopLocked()
}

func (m *Match) cancelCoreLocked() {
	m.canceled = true
	m.stopForfeitLocked()
	m.releaseLoopLocked()
}

func (m *Match) releaseLoopLocked() {
	m.loop.Stop()
	if m.loopStarted {
		go func() {
			<-m.loop.Done()
			close(m.done)
		}()
		return
	}
	close(m.done)
}

func (m *Match) terminalLocked() bool {
	return m.status == StatusFinished || m.canceled
}

func (m *Match) slotByIdentityLocked(identity string) *slotState {
	for i := range m.slots {
		if m.slots[i].identity == identity && identity != "" {
			return &m.slots[i]
		}
	}
	return nil
}

func (m *Match) otherSlotLocked(s *slotState) *slotState {
	if s == &m.slots[SlotLeft] {
		return &m.slots[SlotRight]
	}
	return &m.slots[SlotLeft]
}

func (m *Match) otherSideAliveLocked(slot Slot) bool {
	other := &m.slots[slot.Other()]
	return other.identity != "" && (other.connected || other.virtual)
}

func (m *Match) anySideAliveLocked() bool {
	for i := range m.slots {
		if m.slots[i].connected || m.slots[i].virtual {
			return true
		}
	}
	return false
}

func (m *Match) boundConnsLocked() []boundConn {
	conns := make([]boundConn, 0, len(m.slots))
	for i := range m.slots {
		if m.slots[i].connected && m.slots[i].conn != nil {
			conns = append(conns, boundConn{identity: m.slots[i].identity, conn: m.slots[i].conn})
		}
	}
	return conns
}

// broadcast is best-effort: a connection that fails to accept a message is
// dropped through the regular disconnect path rather than stalling the tick.
func (m *Match) broadcast(conns []boundConn, msgType string, payload any) {
	for _, bc := range conns {
		if err := bc.conn.Send(msgType, payload); err != nil {
			m.metrics.Add("game.broadcast_errors", 1)
			m.dropConn(bc.identity)
		}
	}
	m.metrics.Add("game.broadcasts", 1)
}

func (m *Match) dropConn(identity string) {
	m.Disconnect(identity)
}

func (m *Match) publishFinish(winner, reason string) {
	m.publishEvent("match.finished", logging.SeverityInfo, winner, map[string]any{"reason": reason})
	m.metrics.Add("game.matches_finished", 1)
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Topic: events.TopicMatchFinished,
			Match: &events.MatchResult{MatchID: m.id, Winner: winner},
		})
	}
}

func (m *Match) publishCancel() {
	m.publishEvent("match.canceled", logging.SeverityInfo, "", nil)
	m.metrics.Add("game.matches_canceled", 1)
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Topic: events.TopicMatchCanceled,
			Match: &events.MatchResult{MatchID: m.id},
		})
	}
}

func (m *Match) publishEvent(eventType logging.EventType, severity logging.Severity, player string, extra map[string]any) {
	event := logging.Event{
		Type:     eventType,
		Tick:     m.tickValue(),
		Severity: severity,
		Category: logging.CategoryGameplay,
		Actor:    logging.EntityRef{ID: m.id, Kind: logging.EntityKindMatch},
		Extra:    extra,
	}
	if player != "" {
		event.Targets = []logging.EntityRef{{ID: player, Kind: logging.EntityKindPlayer}}
	}
	m.publisher.Publish(context.Background(), event)
}

func (m *Match) tickValue() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}
