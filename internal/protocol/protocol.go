// Package protocol defines the websocket envelope and the message type tags
// shared by the gateway and the engines.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	TypeGameConfig  = "game_config"
	TypeGameStart   = "game_start"
	TypePlayerReady = "player_ready"
	TypeGameUpdate  = "game_update"
	TypeGamePause   = "game_pause"
	TypeGameFinish  = "game_finish"

	TypeTournamentCreate     = "tournament_create"
	TypeTournamentSemiFinals = "tournament_semi-finals"
	TypeTournamentFinal      = "tournament_final"
	TypeTournamentFinish     = "tournament_finish"

	TypeSendInvite    = "send_invite"
	TypeAcceptInvite  = "accept_invite"
	TypeDeclineInvite = "decline_invite"
	TypeFriendInvite  = "friend_invite"

	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload into an envelope and marshals the frame.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Decode parses a frame into its envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}
