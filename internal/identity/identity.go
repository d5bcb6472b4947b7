// Package identity declares the collaborator interfaces the match core
// consumes from the surrounding platform: a read-only user lookup and a
// push-notification sink. The platform wires its own implementations; the
// in-memory ones here back tests and local runs.
package identity

import (
	"context"
	"sync"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Directory resolves player identities to display data.
type Directory interface {
	Lookup(ctx context.Context, id string) (User, error)
}

// Notification is relayed to a player outside any live match connection.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Notifier pushes platform notifications toward one identity.
type Notifier interface {
	Notify(ctx context.Context, identity string, event Notification) error
}

// StaticDirectory serves a fixed user set and falls back to the raw id as
// username for unknown identities.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewStaticDirectory(users ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *StaticDirectory) Put(user User) {
	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()
}

func (d *StaticDirectory) Lookup(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if user, ok := d.users[id]; ok {
		return user, nil
	}
	return User{ID: id, Username: id}, nil
}

// MemoryNotifier records notifications for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent map[string][]Notification
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{sent: make(map[string][]Notification)}
}

func (n *MemoryNotifier) Notify(_ context.Context, identity string, event Notification) error {
	n.mu.Lock()
	n.sent[identity] = append(n.sent[identity], event)
	n.mu.Unlock()
	return nil
}

// Sent copies the notifications recorded for one identity.
func (n *MemoryNotifier) Sent(identity string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	copied := make([]Notification, len(n.sent[identity]))
	copy(copied, n.sent[identity])
	return copied
}
