package game

import (
	"time"

	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/telemetry"
	"paddle-arena/server/logging"
)

type Mode string

const (
	ModeLocal      Mode = "local"
	ModeFriend     Mode = "friend"
	ModeRandom     Mode = "random"
	ModeAI         Mode = "ai"
	ModeTournament Mode = "tournament"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusOngoing  Status = "ongoing"
	StatusFinished Status = "finished"
)

// Slot addresses one of the two paddle positions in a match.
type Slot int

const (
	SlotLeft Slot = iota
	SlotRight
)

func (s Slot) String() string {
	if s == SlotLeft {
		return "left"
	}
	return "right"
}

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	if s == SlotLeft {
		return SlotRight
	}
	return SlotLeft
}

// Input is a player's intended paddle movement. The engine keeps only the
// latest value per slot between ticks.
type Input struct {
	Up   bool `json:"up"`
	Down bool `json:"down"`
}

type Paddle struct {
	X     float64
	Y     float64
	Score int
}

type Ball struct {
	X  float64
	Y  float64
	DX float64
	DY float64
}

// Config carries the geometry and rules of one match. Velocities are in
// pixels per tick.
type Config struct {
	Mode Mode

	CanvasWidth  float64
	CanvasHeight float64

	PaddleWidth  float64
	PaddleHeight float64
	PaddleSpeed  float64
	PaddleMargin float64

	BallRadius float64
	BallSpeedX float64
	BallSpeedY float64

	// SpinFactor scales how much the paddle contact point perturbs the
	// vertical velocity on rebound. Zero means a pure horizontal inversion.
	SpinFactor float64

	WinScore int
	TickRate int

	ForfeitTimeout time.Duration

	// HoldReadyGate keeps the ready-gate closed at creation. The tournament
	// orchestrator opens it after the bracket countdown.
	HoldReadyGate bool
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeFriend,
		CanvasWidth:    800,
		CanvasHeight:   600,
		PaddleWidth:    10,
		PaddleHeight:   150,
		PaddleSpeed:    6,
		PaddleMargin:   10,
		BallRadius:     10,
		BallSpeedX:     5,
		BallSpeedY:     5,
		SpinFactor:     0,
		WinScore:       5,
		TickRate:       30,
		ForfeitTimeout: 10 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.CanvasWidth <= 0 {
		c.CanvasWidth = def.CanvasWidth
	}
	if c.CanvasHeight <= 0 {
		c.CanvasHeight = def.CanvasHeight
	}
	if c.PaddleWidth <= 0 {
		c.PaddleWidth = def.PaddleWidth
	}
	if c.PaddleHeight <= 0 {
		c.PaddleHeight = def.PaddleHeight
	}
	if c.PaddleSpeed <= 0 {
		c.PaddleSpeed = def.PaddleSpeed
	}
	if c.PaddleMargin < 0 {
		c.PaddleMargin = def.PaddleMargin
	}
	if c.BallRadius <= 0 {
		c.BallRadius = def.BallRadius
	}
	if c.BallSpeedX == 0 {
		c.BallSpeedX = def.BallSpeedX
	}
	if c.BallSpeedY == 0 {
		c.BallSpeedY = def.BallSpeedY
	}
	if c.WinScore <= 0 {
		c.WinScore = def.WinScore
	}
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.ForfeitTimeout <= 0 {
		c.ForfeitTimeout = def.ForfeitTimeout
	}
	return c
}

// Conn is the outbound side of one bound connection. Send must not block
// indefinitely; a failing Send drops the connection from the match.
type Conn interface {
	Send(msgType string, payload any) error
	Close() error
}

// Deps are the collaborators a match or registry reports into.
type Deps struct {
	Bus       *events.Bus
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

func (d Deps) normalized() Deps {
	if d.Publisher == nil {
		d.Publisher = logging.NopPublisher()
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NewCounters()
	}
	if d.Clock == nil {
		d.Clock = logging.SystemClock{}
	}
	return d
}
