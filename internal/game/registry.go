package game

import (
	"sync"
	"time"

	"paddle-arena/server/internal/events"
)

// Registry owns the live match set and the identity→match index that keeps
// each identity in at most one active match.
type Registry struct {
	deps     Deps
	defaults Config

	mu         sync.Mutex
	matches    map[string]*Match
	byIdentity map[string]string
}

func NewRegistry(defaults Config, deps Deps) *Registry {
	deps = deps.normalized()
	r := &Registry{
		deps:       deps,
		defaults:   defaults.normalized(),
		matches:    make(map[string]*Match),
		byIdentity: make(map[string]string),
	}
	if deps.Bus != nil {
		release := func(event events.Event) {
			if event.Match != nil {
				r.releaseIdentities(event.Match.MatchID)
			}
		}
		deps.Bus.Subscribe(events.TopicMatchFinished, release)
		deps.Bus.Subscribe(events.TopicMatchCanceled, release)
	}
	return r
}

// Create allocates a match; zero config fields fall back to the registry
// defaults.
func (r *Registry) Create(cfg Config) *Match {
	merged := r.merge(cfg)
	m := NewMatch(merged, r.deps)
	r.mu.Lock()
	r.matches[m.ID()] = m
	live := len(r.matches)
	r.mu.Unlock()
	r.deps.Metrics.Store("game.live_matches", uint64(live))
	return m
}

func (r *Registry) merge(cfg Config) Config {
	def := r.defaults
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.WinScore <= 0 {
		cfg.WinScore = def.WinScore
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.ForfeitTimeout <= 0 {
		cfg.ForfeitTimeout = def.ForfeitTimeout
	}
	return cfg.normalized()
}

func (r *Registry) Get(matchID string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	return m, ok
}

// MatchFor returns the active match an identity is bound to, if any.
func (r *Registry) MatchFor(identity string) (*Match, bool) {
	r.mu.Lock()
	matchID, ok := r.byIdentity[identity]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	m, ok := r.matches[matchID]
	r.mu.Unlock()
	return m, ok
}

// Bind routes a bind through the registry so the one-active-match-per-
// identity rule holds across matches.
func (r *Registry) Bind(matchID string, slot Slot, identity string, conn Conn) error {
	return r.bind(matchID, slot, identity, conn, false)
}

// BindAI is Bind for synthetic players.
func (r *Registry) BindAI(matchID string, slot Slot, identity string, conn Conn) error {
	return r.bind(matchID, slot, identity, conn, true)
}

func (r *Registry) bind(matchID string, slot Slot, identity string, conn Conn, virtual bool) error {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return ErrMatchNotFound
	}
	bound, reserved := r.byIdentity[identity]
	if reserved && bound != matchID {
		r.mu.Unlock()
		return ErrAlreadyBound
	}
	// Reserve the identity before releasing the lock so a concurrent bind
	// into another match cannot slip past the check above.
	r.byIdentity[identity] = matchID
	r.mu.Unlock()

	var err error
	if virtual {
		err = m.BindAI(slot, identity, conn)
	} else {
		err = m.Bind(slot, identity, conn)
	}
	if err != nil {
		if !reserved {
			r.mu.Lock()
			if r.byIdentity[identity] == matchID {
				delete(r.byIdentity, identity)
			}
			r.mu.Unlock()
		}
		return err
	}
	return nil
}

func (r *Registry) releaseIdentities(matchID string) {
	r.mu.Lock()
	for identity, bound := range r.byIdentity {
		if bound == matchID {
			delete(r.byIdentity, identity)
		}
	}
	r.mu.Unlock()
}

// Remove drops a match from the registry, canceling it first if it is still
// live.
func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	delete(r.matches, matchID)
	for identity, bound := range r.byIdentity {
		if bound == matchID {
			delete(r.byIdentity, identity)
		}
	}
	live := len(r.matches)
	r.mu.Unlock()
	r.deps.Metrics.Store("game.live_matches", uint64(live))
	if ok && m.Status() != StatusFinished && !m.Canceled() {
		m.Cancel()
	}
}

// Len reports the number of registered matches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}

// Sweep releases matches nobody will come back for: terminal matches whose
// connections are gone, and waiting matches that held zero connections for
// longer than idleTimeout.
func (r *Registry) Sweep(now time.Time, idleTimeout time.Duration) int {
	r.mu.Lock()
	candidates := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		candidates = append(candidates, m)
	}
	r.mu.Unlock()

	removed := 0
	for _, m := range candidates {
		terminal := m.Status() == StatusFinished || m.Canceled()
		switch {
		case terminal && m.ConnectionCount() == 0:
			r.Remove(m.ID())
			removed++
		case m.Status() == StatusWaiting && m.ConnectionCount() == 0 && now.Sub(m.CreatedAt()) >= idleTimeout:
			m.Cancel()
			r.Remove(m.ID())
			removed++
		}
	}
	if removed > 0 {
		r.deps.Metrics.Add("game.matches_swept", uint64(removed))
	}
	return removed
}
