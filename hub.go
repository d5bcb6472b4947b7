// Package server is the protocol gateway: it owns the live connection
// registry, frames every message in the {type, payload} envelope and routes
// inbound traffic to the match engine, the tournament orchestrator and the
// invite flow. Sender identity is fixed at connection time; payloads never
// override it.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paddle-arena/server/internal/ai"
	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/identity"
	"paddle-arena/server/internal/protocol"
	"paddle-arena/server/internal/telemetry"
	"paddle-arena/server/internal/tournament"
	"paddle-arena/server/logging"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
)

var ErrNotConnected = errors.New("gateway: identity has no live connection")

// Socket is the write side of one duplex connection. *websocket.Conn
// satisfies it; tests plug in fakes.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered connection. It implements game.Conn, so matches
// broadcast to it directly; writes are serialized and carry a deadline so a
// stalled peer cannot wedge a tick loop.
type Client struct {
	identity string
	sock     Socket

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *Client) Identity() string { return c.identity }

func (c *Client) Send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Close() error { return c.sock.Close() }

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Hub owns the connection registry. Insert and remove are tied to socket
// open/close; nothing else holds connection state.
type Hub struct {
	registry  *game.Registry
	orch      *tournament.Orchestrator
	directory identity.Directory
	forward   identity.Notifier
	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock

	mu      sync.Mutex
	clients map[string]*Client
	invites map[string]Invitation
}

func NewHub(registry *game.Registry, directory identity.Directory, deps game.Deps) *Hub {
	h := &Hub{
		registry:  registry,
		directory: directory,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		clients:   make(map[string]*Client),
		invites:   make(map[string]Invitation),
	}
	if h.directory == nil {
		h.directory = identity.NewStaticDirectory()
	}
	if h.publisher == nil {
		h.publisher = logging.NopPublisher()
	}
	if h.metrics == nil {
		h.metrics = telemetry.NewCounters()
	}
	if h.clock == nil {
		h.clock = logging.SystemClock{}
	}
	return h
}

// AttachOrchestrator wires the tournament orchestrator after construction;
// the orchestrator needs the hub as its notifier, so the two are built in
// sequence.
func (h *Hub) AttachOrchestrator(orch *tournament.Orchestrator) {
	h.orch = orch
}

// SetForwardNotifier routes notifications for offline identities to an
// external sink (the platform's push channel).
func (h *Hub) SetForwardNotifier(n identity.Notifier) {
	h.forward = n
}

// Connect registers a connection for an identity, replacing any previous one.
// An identity mid-match is rebound to its slot, which resumes a paused game.
func (h *Hub) Connect(identityID string, sock Socket) *Client {
	client := &Client{identity: identityID, sock: sock, lastSeen: h.clock.Now()}
	h.mu.Lock()
	old := h.clients[identityID]
	h.clients[identityID] = client
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if m, ok := h.registry.MatchFor(identityID); ok {
		left, _ := m.Players()
		slot := game.SlotRight
		if left == identityID {
			slot = game.SlotLeft
		}
		if err := m.Bind(slot, identityID, client); err != nil {
			h.logConnection("gateway.rebind_failed", identityID, logging.SeverityWarn, map[string]any{"error": err.Error()})
		}
	} else if h.orch != nil {
		// A tournament player offline at the stage reveal joins their
		// seeded slot on connect.
		if matchID, slot, seeded := h.orch.SeededPairing(identityID); seeded {
			if err := h.registry.Bind(matchID, slot, identityID, client); err != nil {
				h.logConnection("gateway.seed_bind_failed", identityID, logging.SeverityWarn, map[string]any{
					"matchId": matchID,
					"error":   err.Error(),
				})
			}
		}
	}

	h.metrics.Add("gateway.connects", 1)
	h.metrics.Store("gateway.connections", uint64(h.ConnectionCount()))
	h.logConnection("gateway.connected", identityID, logging.SeverityInfo, nil)
	return client
}

// Disconnect removes the identity's connection and routes the loss into the
// match engine's pause/forfeit path.
func (h *Hub) Disconnect(identityID string) {
	h.mu.Lock()
	client, ok := h.clients[identityID]
	delete(h.clients, identityID)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = client.Close()

	if m, found := h.registry.MatchFor(identityID); found {
		m.Disconnect(identityID)
	}
	h.metrics.Add("gateway.disconnects", 1)
	h.metrics.Store("gateway.connections", uint64(h.ConnectionCount()))
	h.logConnection("gateway.disconnected", identityID, logging.SeverityInfo, nil)
}

// Client returns the live connection for an identity, if any.
func (h *Hub) Client(identityID string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[identityID]
	return c, ok
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SweepIdle drops connections that have been silent past the heartbeat
// window. The app schedules it alongside the registry janitor.
func (h *Hub) SweepIdle(now time.Time, timeout time.Duration) int {
	if timeout <= 0 {
		timeout = disconnectAfter
	}
	h.mu.Lock()
	var stale []string
	for id, c := range h.clients {
		if now.Sub(c.seen()) > timeout {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.logConnection("gateway.heartbeat_timeout", id, logging.SeverityWarn, nil)
		h.Disconnect(id)
	}
	return len(stale)
}

// Notify implements identity.Notifier: live connections get the event over
// their socket, offline identities fall through to the forward sink.
// Tournament stage reveals also bind the notified player to their seeded
// match so the ready-gate handshake can follow.
func (h *Hub) Notify(ctx context.Context, identityID string, event identity.Notification) error {
	h.bindRevealedMatch(identityID, event)

	if client, ok := h.Client(identityID); ok {
		if err := client.Send(event.Type, event.Payload); err != nil {
			h.Disconnect(identityID)
			return err
		}
		return nil
	}
	if h.forward != nil {
		return h.forward.Notify(ctx, identityID, event)
	}
	return nil
}

func (h *Hub) bindRevealedMatch(identityID string, event identity.Notification) {
	if event.Type != protocol.TypeTournamentSemiFinals && event.Type != protocol.TypeTournamentFinal {
		return
	}
	notice, ok := event.Payload.(tournament.StageNotice)
	if !ok {
		return
	}
	client, connected := h.Client(identityID)
	if !connected {
		return
	}
	for _, pairing := range notice.Matches {
		for i, user := range pairing.Players {
			if user.ID != identityID {
				continue
			}
			slot := game.SlotLeft
			if i == 1 {
				slot = game.SlotRight
			}
			if err := h.registry.Bind(pairing.MatchID, slot, identityID, client); err != nil {
				h.logConnection("gateway.seed_bind_failed", identityID, logging.SeverityWarn, map[string]any{
					"matchId": pairing.MatchID,
					"error":   err.Error(),
				})
			}
			return
		}
	}
}

// CreateFriendMatch is the entrypoint the invite/matchmaking flow calls with
// two identities. Both must be connected; the inviter takes the left slot.
func (h *Hub) CreateFriendMatch(ctx context.Context, left, right string) (*game.Match, error) {
	leftClient, ok := h.Client(left)
	if !ok {
		return nil, ErrNotConnected
	}
	rightClient, ok := h.Client(right)
	if !ok {
		return nil, ErrNotConnected
	}

	m := h.registry.Create(game.Config{Mode: game.ModeFriend})
	if err := h.registry.Bind(m.ID(), game.SlotLeft, left, leftClient); err != nil {
		h.registry.Remove(m.ID())
		return nil, err
	}
	if err := h.registry.Bind(m.ID(), game.SlotRight, right, rightClient); err != nil {
		h.registry.Remove(m.ID())
		return nil, err
	}
	h.metrics.Add("gateway.friend_matches", 1)
	return m, nil
}

// CreateAIMatch seeds a match against the synthetic opponent. The human takes
// the left slot; the controller binds to the right one as a virtual player.
func (h *Hub) CreateAIMatch(ctx context.Context, identityID, difficulty string) (*game.Match, error) {
	client, ok := h.Client(identityID)
	if !ok {
		return nil, ErrNotConnected
	}

	m := h.registry.Create(game.Config{Mode: game.ModeAI})
	if err := h.registry.Bind(m.ID(), game.SlotLeft, identityID, client); err != nil {
		h.registry.Remove(m.ID())
		return nil, err
	}

	profile := ai.ProfileByName(difficulty)
	bot := ai.NewController(
		"bot-"+profile.Name+"-"+m.ID()[:8],
		profile,
		m,
		ai.WithDirectory(h.directory),
		ai.WithPublisher(h.publisher),
	)
	if err := h.registry.BindAI(m.ID(), game.SlotRight, bot.Identity(), bot); err != nil {
		h.registry.Remove(m.ID())
		return nil, err
	}
	h.metrics.Add("gateway.ai_matches", 1)
	return m, nil
}

// CreateTournament is the four-identity entrypoint.
func (h *Hub) CreateTournament(ctx context.Context, title string, players []string) (tournament.Bracket, error) {
	if h.orch == nil {
		return tournament.Bracket{}, errors.New("gateway: no tournament orchestrator attached")
	}
	return h.orch.Create(ctx, title, players)
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}

func (h *Hub) logConnection(eventType logging.EventType, identityID string, severity logging.Severity, extra map[string]any) {
	h.publisher.Publish(context.Background(), logging.Event{
		Type:     eventType,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Actor:    logging.EntityRef{ID: identityID, Kind: logging.EntityKindConnection},
		Extra:    extra,
	})
}
