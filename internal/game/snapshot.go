package game

type CanvasSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PaddleSnapshot struct {
	PlayerID string  `json:"playerId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Score    int     `json:"score"`
}

type BallSnapshot struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Radius float64 `json:"radius"`
}

// Snapshot is the full match state broadcast on every tick.
type Snapshot struct {
	MatchID    string         `json:"matchId"`
	Mode       Mode           `json:"mode"`
	Status     Status         `json:"status"`
	Paused     bool           `json:"paused,omitempty"`
	Tick       uint64         `json:"t"`
	ServerTime int64          `json:"serverTime"`
	Canvas     CanvasSize     `json:"canvas"`
	Left       PaddleSnapshot `json:"left"`
	Right      PaddleSnapshot `json:"right"`
	Ball       BallSnapshot   `json:"ball"`
	Winner     string         `json:"winner,omitempty"`
}

// ConfigMessage is sent to a connection right after it binds to a slot.
type ConfigMessage struct {
	MatchID      string     `json:"matchId"`
	Mode         Mode       `json:"mode"`
	Slot         string     `json:"slot"`
	Canvas       CanvasSize `json:"canvas"`
	PaddleWidth  float64    `json:"paddleWidth"`
	PaddleHeight float64    `json:"paddleHeight"`
	PaddleSpeed  float64    `json:"paddleSpeed"`
	BallRadius   float64    `json:"ballRadius"`
	WinScore     int        `json:"winScore"`
	State        Snapshot   `json:"state"`
}

type StartMessage struct {
	MatchID string `json:"matchId"`
}

type PauseMessage struct {
	MatchID string `json:"matchId"`
	Paused  bool   `json:"paused"`
}

type FinishMessage struct {
	MatchID string `json:"matchId"`
	Winner  string `json:"winner"`
}

func (m *Match) snapshotLocked() Snapshot {
	return Snapshot{
		MatchID:    m.id,
		Mode:       m.cfg.Mode,
		Status:     m.status,
		Paused:     m.paused,
		Tick:       m.tick,
		ServerTime: m.clock.Now().UnixMilli(),
		Canvas:     CanvasSize{Width: m.cfg.CanvasWidth, Height: m.cfg.CanvasHeight},
		Left:       m.paddleSnapshotLocked(SlotLeft),
		Right:      m.paddleSnapshotLocked(SlotRight),
		Ball: BallSnapshot{
			X:      m.ball.X,
			Y:      m.ball.Y,
			DX:     m.ball.DX,
			DY:     m.ball.DY,
			Radius: m.cfg.BallRadius,
		},
		Winner: m.winner,
	}
}

func (m *Match) paddleSnapshotLocked(slot Slot) PaddleSnapshot {
	s := &m.slots[slot]
	return PaddleSnapshot{
		PlayerID: s.identity,
		X:        s.paddle.X,
		Y:        s.paddle.Y,
		Score:    s.paddle.Score,
	}
}

func (m *Match) configMessageLocked(slot Slot) ConfigMessage {
	return ConfigMessage{
		MatchID:      m.id,
		Mode:         m.cfg.Mode,
		Slot:         slot.String(),
		Canvas:       CanvasSize{Width: m.cfg.CanvasWidth, Height: m.cfg.CanvasHeight},
		PaddleWidth:  m.cfg.PaddleWidth,
		PaddleHeight: m.cfg.PaddleHeight,
		PaddleSpeed:  m.cfg.PaddleSpeed,
		BallRadius:   m.cfg.BallRadius,
		WinScore:     m.cfg.WinScore,
		State:        m.snapshotLocked(),
	}
}

// Snapshot copies the current match state.
func (m *Match) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}
