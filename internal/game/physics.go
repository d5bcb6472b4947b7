package game

import "math"

// advanceLocked runs one physics step. Caller holds m.mu. Returns true when
// the step ended the match.
func (m *Match) advanceLocked() bool {
	m.tick++
	m.movePaddlesLocked()
	m.moveBallLocked()
	if scorer, goal := m.detectGoalLocked(); goal {
		m.slots[scorer].paddle.Score++
		m.scored = true
		m.metrics.Add("game.goals", 1)
		m.resetBallLocked()
		if m.slots[scorer].paddle.Score >= m.cfg.WinScore {
			m.finishCoreLocked(m.slots[scorer].identity)
			return true
		}
	}
	m.clipBallLocked()
	return false
}

func (m *Match) movePaddlesLocked() {
	limit := m.cfg.CanvasHeight - m.cfg.PaddleHeight
	for i := range m.slots {
		s := &m.slots[i]
		dy := 0.0
		if s.intent.Up {
			dy -= m.cfg.PaddleSpeed
		}
		if s.intent.Down {
			dy += m.cfg.PaddleSpeed
		}
		s.paddle.Y = clamp(s.paddle.Y+dy, 0, limit)
	}
}

func (m *Match) moveBallLocked() {
	b := &m.ball
	b.X += b.DX
	b.Y += b.DY

	r := m.cfg.BallRadius
	if b.Y-r <= 0 {
		b.Y = r
		b.DY = -b.DY
	} else if b.Y+r >= m.cfg.CanvasHeight {
		b.Y = m.cfg.CanvasHeight - r
		b.DY = -b.DY
	}

	if b.DX < 0 {
		m.reflectOffPaddleLocked(SlotLeft)
	} else if b.DX > 0 {
		m.reflectOffPaddleLocked(SlotRight)
	}
}

// reflectOffPaddleLocked inverts the horizontal velocity on paddle contact,
// preserving its magnitude. SpinFactor optionally perturbs the vertical
// velocity by the normalized contact offset.
func (m *Match) reflectOffPaddleLocked(slot Slot) {
	b := &m.ball
	p := &m.slots[slot].paddle
	r := m.cfg.BallRadius

	if b.Y < p.Y || b.Y > p.Y+m.cfg.PaddleHeight {
		return
	}

	var hit bool
	if slot == SlotLeft {
		face := p.X + m.cfg.PaddleWidth
		hit = b.X-r <= face && b.X-r >= p.X-math.Abs(b.DX)
		if hit {
			b.X = face + r
		}
	} else {
		face := p.X
		hit = b.X+r >= face && b.X+r <= p.X+m.cfg.PaddleWidth+math.Abs(b.DX)
		if hit {
			b.X = face - r
		}
	}
	if !hit {
		return
	}

	b.DX = -b.DX
	if m.cfg.SpinFactor != 0 {
		center := p.Y + m.cfg.PaddleHeight/2
		offset := (b.Y - center) / (m.cfg.PaddleHeight / 2)
		b.DY += offset * m.cfg.SpinFactor * math.Abs(b.DX)
	}
}

// detectGoalLocked reports which slot scored when the ball crossed a
// horizontal boundary without paddle contact.
func (m *Match) detectGoalLocked() (Slot, bool) {
	b := &m.ball
	r := m.cfg.BallRadius
	if b.X-r <= 0 {
		return SlotRight, true
	}
	if b.X+r >= m.cfg.CanvasWidth {
		return SlotLeft, true
	}
	return 0, false
}

// resetBallLocked recenters the ball after a goal, flipping the horizontal
// direction it was travelling in.
func (m *Match) resetBallLocked() {
	b := &m.ball
	b.X = m.cfg.CanvasWidth / 2
	b.Y = m.cfg.CanvasHeight / 2
	b.DX = math.Copysign(m.cfg.BallSpeedX, -b.DX)
	b.DY = math.Copysign(m.cfg.BallSpeedY, b.DY)
}

// clipBallLocked keeps the ball inside the canvas after all step handling.
func (m *Match) clipBallLocked() {
	b := &m.ball
	r := m.cfg.BallRadius
	b.X = clamp(b.X, r, m.cfg.CanvasWidth-r)
	b.Y = clamp(b.Y, r, m.cfg.CanvasHeight-r)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
