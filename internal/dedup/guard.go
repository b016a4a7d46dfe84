// Package dedup enforces the minimum interval between two attendance commits of one identity.
package dedup

import (
	"sync"
	"time"
)

// Decision is the result of TryAdmit.
type Decision struct {
	Admitted        bool
	Remaining       time.Duration // wait time until the identity is admitted again; zero when admitted
	LastCommittedAt time.Time     // zero if the identity never committed
}

// Guard remembers the last commit time per identity.
type Guard struct {
	minInterval time.Duration

	mu   sync.RWMutex
	last map[string]time.Time
}

// NewGuard creates a guard with the given dedup window.
func NewGuard(minInterval time.Duration) *Guard {
	return &Guard{
		minInterval: minInterval,
		last:        make(map[string]time.Time),
	}
}

// TryAdmit reports whether identityID may be challenged at now. It does not record anything.
func (g *Guard) TryAdmit(identityID string, now time.Time) Decision {
	g.mu.RLock()
	last, ok := g.last[identityID]
	g.mu.RUnlock()

	if !ok {
		return Decision{Admitted: true}
	}

	elapsed := now.Sub(last)
	if elapsed >= g.minInterval {
		return Decision{Admitted: true, LastCommittedAt: last}
	}
	return Decision{
		Admitted:        false,
		Remaining:       g.minInterval - elapsed,
		LastCommittedAt: last,
	}
}

// Record stores a commit. Call it only after the attendance event was appended,
// never when a challenge is merely issued.
func (g *Guard) Record(identityID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[identityID] = now
}

// Seed replays a commit that happened before this process started.
// Older entries never overwrite newer ones.
func (g *Guard) Seed(identityID string, committedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[identityID]; ok && !committedAt.After(last) {
		return
	}
	g.last[identityID] = committedAt
}

// LastCommitted returns the last commit time for identityID.
func (g *Guard) LastCommitted(identityID string) (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.last[identityID]
	return t, ok
}

// Len returns the number of tracked identities.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.last)
}
