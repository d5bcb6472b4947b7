package ai

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/identity"
	"paddle-arena/server/internal/protocol"
	"paddle-arena/server/logging"
)

// InputSink is where the controller submits its paddle intent. Both *game.Match
// and *game.Registry satisfy it.
type InputSink interface {
	SubmitInput(identity string, input game.Input) error
}

// Controller is a synthetic player. It implements game.Conn, so a match
// broadcasts to it exactly as it would to a remote connection; the controller
// reacts to game_update snapshots by overwriting its slot's intent cell.
type Controller struct {
	identity  string
	sink      InputSink
	publisher logging.Publisher
	directory identity.Directory

	mu           sync.Mutex
	profile      Profile
	slot         string
	matchID      string
	opponent     string
	paddleHeight float64
	canvasH      float64
	lastIntent   game.Input
	closed       bool

	rng func() float64
}

// Option tweaks controller construction.
type Option func(*Controller)

// WithRand replaces the reaction gate's randomness source. Tests pin it.
func WithRand(rng func() float64) Option {
	return func(c *Controller) { c.rng = rng }
}

func WithPublisher(p logging.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithDirectory lets the controller resolve its opponent's display name for
// decision logging.
func WithDirectory(d identity.Directory) Option {
	return func(c *Controller) { c.directory = d }
}

func NewController(identity string, profile Profile, sink InputSink, opts ...Option) *Controller {
	c := &Controller{
		identity:  identity,
		sink:      sink,
		profile:   profile,
		publisher: logging.NopPublisher(),
		rng:       rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Identity() string { return c.identity }

// UpdateSettings swaps the difficulty profile mid-match.
func (c *Controller) UpdateSettings(profile Profile) {
	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()
}

// Send receives the match's outbound messages. The controller only acts on
// its slot assignment and on tick snapshots; everything else is ignored.
func (c *Controller) Send(msgType string, payload any) error {
	switch msgType {
	case protocol.TypeGameConfig:
		if cfg, ok := payload.(game.ConfigMessage); ok {
			opponentID := cfg.State.Left.PlayerID
			if cfg.Slot == "left" {
				opponentID = cfg.State.Right.PlayerID
			}
			opponent := opponentID
			if c.directory != nil && opponentID != "" {
				if user, err := c.directory.Lookup(context.Background(), opponentID); err == nil {
					opponent = user.Username
				}
			}
			c.mu.Lock()
			c.slot = cfg.Slot
			c.matchID = cfg.MatchID
			c.opponent = opponent
			c.paddleHeight = cfg.PaddleHeight
			c.canvasH = cfg.Canvas.Height
			c.mu.Unlock()
			c.publisher.Publish(context.Background(), logging.Event{
				Type:     "ai.bound",
				Severity: logging.SeverityDebug,
				Category: logging.CategoryGameplay,
				Actor:    logging.EntityRef{ID: c.identity, Kind: logging.EntityKindPlayer},
				Extra:    map[string]any{"slot": cfg.Slot, "matchId": cfg.MatchID, "opponent": opponent},
			})
		}
	case protocol.TypeGameUpdate:
		if snap, ok := payload.(game.Snapshot); ok {
			c.observe(snap)
		}
	}
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) observe(snap game.Snapshot) {
	c.mu.Lock()
	if c.closed || c.slot == "" || snap.Paused || snap.Status != game.StatusOngoing {
		c.mu.Unlock()
		return
	}
	if c.rng() > c.profile.ReactionRate {
		// Missed reaction: the previous intent keeps applying.
		c.mu.Unlock()
		return
	}
	intent := c.decide(snap)
	changed := intent != c.lastIntent
	c.lastIntent = intent
	matchID, opponent := c.matchID, c.opponent
	c.mu.Unlock()

	if changed {
		_ = c.sink.SubmitInput(c.identity, intent)
		c.publisher.Publish(context.Background(), logging.Event{
			Type:     "ai.move",
			Tick:     snap.Tick,
			Severity: logging.SeverityDebug,
			Category: logging.CategoryGameplay,
			Actor:    logging.EntityRef{ID: c.identity, Kind: logging.EntityKindPlayer},
			Extra:    map[string]any{"matchId": matchID, "opponent": opponent, "up": intent.Up, "down": intent.Down},
		})
	}
}

// decide picks the next intent from one snapshot. Caller holds c.mu.
func (c *Controller) decide(snap game.Snapshot) game.Input {
	me := snap.Left
	towardMe := snap.Ball.DX < 0
	if c.slot == "right" {
		me = snap.Right
		towardMe = snap.Ball.DX > 0
	}

	targetY := snap.Ball.Y
	if towardMe && c.profile.PredictionFrames > 0 {
		targetY = snap.Ball.Y + snap.Ball.DY*float64(c.profile.PredictionFrames)
		if targetY < 0 {
			targetY = -targetY // wall reflection
		}
		if targetY > snap.Canvas.Height {
			targetY = 2*snap.Canvas.Height - targetY
		}
	}

	center := me.Y + c.paddleHeight/2
	diff := targetY - center
	if math.Abs(diff) <= c.profile.Threshold {
		return game.Input{}
	}
	if diff < 0 {
		return game.Input{Up: true}
	}
	return game.Input{Down: true}
}
