package game

import "errors"

var (
	// ErrMatchNotFound reports an operation against an unknown match id.
	ErrMatchNotFound = errors.New("match not found")
	// ErrMatchOver reports an operation against a finished or discarded match.
	ErrMatchOver = errors.New("match already over")
	// ErrSlotOccupied reports a bind against a slot held by a connected player.
	ErrSlotOccupied = errors.New("slot occupied by another player")
	// ErrNotYourSlot reports input or ready signals from an identity that
	// does not own a slot in the match.
	ErrNotYourSlot = errors.New("identity does not own a slot in this match")
	// ErrAlreadyBound reports an identity already playing another match.
	ErrAlreadyBound = errors.New("identity already bound to an active match")
	// ErrConnClosed reports a connection that failed before the bind completed.
	ErrConnClosed = errors.New("connection closed during bind")
)
