// Package ai drives the synthetic opponent. A Controller binds to a match
// slot like any remote player: it consumes the same broadcast messages a
// websocket client would and answers with intent submissions only.
package ai

import "strings"

// Profile tunes how sharply the controller plays.
type Profile struct {
	Name string

	// ReactionRate is the probability per update that the controller acts
	// on what it saw. Below 1 it occasionally keeps stale intent, which is
	// what makes lower difficulties beatable.
	ReactionRate float64

	// Threshold is the dead zone in pixels around the paddle center. The
	// controller holds still while the target sits inside it.
	Threshold float64

	// PredictionFrames is how many ticks of ball travel the controller
	// extrapolates when the ball is moving toward its side.
	PredictionFrames int
}

var (
	Easy   = Profile{Name: "easy", ReactionRate: 0.45, Threshold: 45, PredictionFrames: 0}
	Medium = Profile{Name: "medium", ReactionRate: 0.75, Threshold: 20, PredictionFrames: 6}
	Hard   = Profile{Name: "hard", ReactionRate: 0.95, Threshold: 8, PredictionFrames: 12}
)

func DefaultProfile() Profile {
	return Medium
}

// ProfileByName resolves a difficulty label, falling back to the default for
// anything it does not recognize.
func ProfileByName(name string) Profile {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "easy":
		return Easy
	case "medium", "normal":
		return Medium
	case "hard":
		return Hard
	default:
		return DefaultProfile()
	}
}
