// Package events provides the in-process lifecycle bus connecting match
// engines to the tournament orchestrator and the gateway.
package events

import (
	"sync"
)

type Topic string

const (
	TopicMatchFinished      Topic = "match.finished"
	TopicMatchCanceled      Topic = "match.canceled"
	TopicTournamentFinished Topic = "tournament.finished"
)

// MatchResult describes a match reaching a terminal state. Winner is empty
// for a canceled (no-contest) match.
type MatchResult struct {
	MatchID string
	Winner  string
}

// TournamentResult describes a tournament reaching a terminal state.
type TournamentResult struct {
	TournamentID string
	Winner       string
	Canceled     bool
}

type Event struct {
	Topic      Topic
	Match      *MatchResult
	Tournament *TournamentResult
}

type Handler func(Event)

// Bus is a synchronous publish/subscribe hub. Handlers run on the publishing
// goroutine in subscription order; unsubscribing is idempotent and takes
// effect for the next publish.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Topic][]*Subscription
}

type Subscription struct {
	bus     *Bus
	topic   Topic
	id      uint64
	handler Handler
	once    sync.Once
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*Subscription)}
}

// Subscribe registers a handler for one topic and returns its subscription.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	if b == nil || handler == nil {
		return &Subscription{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{bus: b, topic: topic, id: b.nextID, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Publish delivers the event to every handler subscribed to its topic.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs[event.Topic]...)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.handler(event)
	}
}

// Cancel removes the subscription. Safe to call more than once and from
// inside a handler.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		list := s.bus.subs[s.topic]
		for i, candidate := range list {
			if candidate.id == s.id {
				s.bus.subs[s.topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	})
}
