package server

import (
	"context"
	"encoding/json"
	"errors"

	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/protocol"
	"paddle-arena/server/internal/tournament"
	"paddle-arena/server/logging"
)

// Error codes sent back in the error envelope.
const (
	CodeProtocolError      = "protocol_error"
	CodeAuthorizationError = "authorization_error"
	CodeStateError         = "state_error"
	CodeValidationError    = "validation_error"
)

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type readyPayload struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

type inputPayload struct {
	MatchID  string     `json:"matchId"`
	PlayerID string     `json:"playerId"`
	Input    game.Input `json:"input"`
}

type heartbeatPayload struct {
	SentAt int64 `json:"sentAt"`
}

type heartbeatAck struct {
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	Interval   int64 `json:"interval"`
}

type tournamentCreatePayload struct {
	Title   string   `json:"title"`
	Players []string `json:"players"`
}

type invitePayload struct {
	InviteID string `json:"inviteId,omitempty"`
	Target   string `json:"target,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

// Dispatch routes one inbound frame. The identity is the one established at
// connection time; payload identities are cross-checked, never trusted.
// Failures never close the connection from here: protocol and state errors
// answer with an error envelope and move on.
func (h *Hub) Dispatch(identityID string, frame []byte) {
	client, ok := h.Client(identityID)
	if !ok {
		return
	}
	client.touch(h.clock.Now())
	h.metrics.Add("gateway.frames_in", 1)

	env, err := protocol.Decode(frame)
	if err != nil {
		h.rejectFrame(client, CodeProtocolError, "malformed envelope", err)
		return
	}

	switch env.Type {
	case protocol.TypeHeartbeat:
		var p heartbeatPayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		_ = client.Send(protocol.TypeHeartbeat, heartbeatAck{
			ServerTime: h.clock.Now().UnixMilli(),
			ClientTime: p.SentAt,
			Interval:   heartbeatInterval.Milliseconds(),
		})

	case protocol.TypePlayerReady:
		var p readyPayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if p.PlayerID != "" && p.PlayerID != identityID {
			h.rejectFrame(client, CodeAuthorizationError, "ready signal for another identity", nil)
			return
		}
		m, found := h.resolveMatch(identityID, p.MatchID)
		if !found {
			h.rejectFrame(client, CodeStateError, "no such match", nil)
			return
		}
		if err := m.Ready(identityID); err != nil {
			h.rejectMatchOp(client, err)
		}

	case protocol.TypeGameUpdate:
		var p inputPayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if p.PlayerID != "" && p.PlayerID != identityID {
			h.rejectFrame(client, CodeAuthorizationError, "input attributed to another identity", nil)
			return
		}
		m, found := h.resolveMatch(identityID, p.MatchID)
		if !found {
			h.rejectFrame(client, CodeStateError, "no such match", nil)
			return
		}
		if err := m.SubmitInput(identityID, p.Input); err != nil {
			h.rejectMatchOp(client, err)
		}

	case protocol.TypeTournamentCreate:
		var p tournamentCreatePayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if _, err := h.CreateTournament(context.Background(), p.Title, p.Players); err != nil {
			if errors.Is(err, tournament.ErrPlayerCount) || errors.Is(err, tournament.ErrDuplicatePlayer) {
				h.rejectFrame(client, CodeValidationError, err.Error(), nil)
				return
			}
			h.rejectFrame(client, CodeStateError, err.Error(), nil)
		}

	case protocol.TypeSendInvite:
		var p invitePayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if _, err := h.SendInvite(context.Background(), identityID, p.Target, p.RoomID); err != nil {
			h.rejectFrame(client, CodeValidationError, err.Error(), nil)
		}

	case protocol.TypeAcceptInvite:
		var p invitePayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if _, err := h.AcceptInvite(context.Background(), identityID, p.InviteID); err != nil {
			h.rejectInviteOp(client, err)
		}

	case protocol.TypeDeclineInvite:
		var p invitePayload
		if !h.decodePayload(client, env.Payload, &p) {
			return
		}
		if err := h.DeclineInvite(context.Background(), identityID, p.InviteID); err != nil {
			h.rejectInviteOp(client, err)
		}

	default:
		h.metrics.Add("gateway.unknown_types", 1)
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     "gateway.unknown_type",
			Severity: logging.SeverityWarn,
			Category: logging.CategoryNetwork,
			Actor:    logging.EntityRef{ID: identityID, Kind: logging.EntityKindConnection},
			Extra:    map[string]any{"messageType": env.Type},
		})
	}
}

// resolveMatch prefers the explicit matchId and falls back to the sender's
// active match.
func (h *Hub) resolveMatch(identityID, matchID string) (*game.Match, bool) {
	if matchID != "" {
		return h.registry.Get(matchID)
	}
	return h.registry.MatchFor(identityID)
}

func (h *Hub) decodePayload(client *Client, raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		h.rejectFrame(client, CodeProtocolError, "malformed payload", err)
		return false
	}
	return true
}

func (h *Hub) rejectMatchOp(client *Client, err error) {
	switch {
	case errors.Is(err, game.ErrNotYourSlot):
		h.rejectFrame(client, CodeAuthorizationError, err.Error(), nil)
	case errors.Is(err, game.ErrMatchNotFound), errors.Is(err, game.ErrMatchOver):
		h.rejectFrame(client, CodeStateError, err.Error(), nil)
	default:
		h.rejectFrame(client, CodeStateError, err.Error(), nil)
	}
}

func (h *Hub) rejectInviteOp(client *Client, err error) {
	switch {
	case errors.Is(err, ErrInviteNotFound):
		h.rejectFrame(client, CodeStateError, err.Error(), nil)
	case errors.Is(err, ErrNotYourInvite):
		h.rejectFrame(client, CodeAuthorizationError, err.Error(), nil)
	default:
		h.rejectFrame(client, CodeValidationError, err.Error(), nil)
	}
}

func (h *Hub) rejectFrame(client *Client, code, message string, cause error) {
	h.metrics.Add("gateway.rejected_frames", 1)
	extra := map[string]any{"code": code, "message": message}
	if cause != nil {
		extra["error"] = cause.Error()
	}
	h.publisher.Publish(context.Background(), logging.Event{
		Type:     "gateway.rejected",
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Actor:    logging.EntityRef{ID: client.identity, Kind: logging.EntityKindConnection},
		Extra:    extra,
	})
	_ = client.Send(protocol.TypeError, ErrorMessage{Code: code, Message: message})
}
