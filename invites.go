package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paddle-arena/server/internal/identity"
	"paddle-arena/server/internal/protocol"
)

var (
	ErrInviteNotFound = errors.New("invite: not found")
	ErrNotYourInvite  = errors.New("invite: addressed to another identity")
)

// Invitation is one pending game invite from one identity to another.
type Invitation struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	RoomID    string    `json:"roomId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type friendInviteNotice struct {
	InviteID string        `json:"inviteId"`
	From     identity.User `json:"from"`
	RoomID   string        `json:"roomId,omitempty"`
}

type inviteAnswerNotice struct {
	InviteID string `json:"inviteId"`
	By       string `json:"by"`
	MatchID  string `json:"matchId,omitempty"`
}

// SendInvite records a pending invite and pushes a friend_invite notification
// to the target.
func (h *Hub) SendInvite(ctx context.Context, from, to, roomID string) (Invitation, error) {
	if to == "" || to == from {
		return Invitation{}, fmt.Errorf("invite: invalid target %q", to)
	}
	inv := Invitation{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		RoomID:    roomID,
		CreatedAt: h.clock.Now(),
	}
	h.mu.Lock()
	h.invites[inv.ID] = inv
	h.mu.Unlock()

	sender, _ := h.directory.Lookup(ctx, from)
	_ = h.Notify(ctx, to, identity.Notification{
		Type:    protocol.TypeFriendInvite,
		Payload: friendInviteNotice{InviteID: inv.ID, From: sender, RoomID: roomID},
	})
	h.metrics.Add("gateway.invites_sent", 1)
	return inv, nil
}

// AcceptInvite consumes the invite and creates the friend match, inviter on
// the left. Only the invited identity may accept.
func (h *Hub) AcceptInvite(ctx context.Context, identityID, inviteID string) (Invitation, error) {
	inv, err := h.takeInvite(identityID, inviteID)
	if err != nil {
		return Invitation{}, err
	}

	m, err := h.CreateFriendMatch(ctx, inv.From, inv.To)
	if err != nil {
		return Invitation{}, fmt.Errorf("accept invite %s: %w", inviteID, err)
	}
	_ = h.Notify(ctx, inv.From, identity.Notification{
		Type:    protocol.TypeAcceptInvite,
		Payload: inviteAnswerNotice{InviteID: inv.ID, By: identityID, MatchID: m.ID()},
	})
	h.metrics.Add("gateway.invites_accepted", 1)
	return inv, nil
}

// DeclineInvite consumes the invite and tells the inviter.
func (h *Hub) DeclineInvite(ctx context.Context, identityID, inviteID string) error {
	inv, err := h.takeInvite(identityID, inviteID)
	if err != nil {
		return err
	}
	_ = h.Notify(ctx, inv.From, identity.Notification{
		Type:    protocol.TypeDeclineInvite,
		Payload: inviteAnswerNotice{InviteID: inv.ID, By: identityID},
	})
	h.metrics.Add("gateway.invites_declined", 1)
	return nil
}

func (h *Hub) takeInvite(identityID, inviteID string) (Invitation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inv, ok := h.invites[inviteID]
	if !ok {
		return Invitation{}, ErrInviteNotFound
	}
	if inv.To != identityID {
		return Invitation{}, ErrNotYourInvite
	}
	delete(h.invites, inviteID)
	return inv, nil
}

// PendingInvites counts undecided invites addressed to an identity.
func (h *Hub) PendingInvites(identityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, inv := range h.invites {
		if inv.To == identityID {
			count++
		}
	}
	return count
}
