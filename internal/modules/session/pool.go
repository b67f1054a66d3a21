// README: Pool owns one Session per actor and replaces the process-wide singleton.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ridesync/internal/types"
)

type Pool struct {
	log   *slog.Logger
	clock func() time.Time

	mu       sync.Mutex
	pruner   Pruner
	sessions map[types.ID]*Session
}

func NewPool(pruner Pruner, log *slog.Logger) *Pool {
	return &Pool{
		log:      log,
		clock:    time.Now,
		pruner:   pruner,
		sessions: make(map[types.ID]*Session),
	}
}

// SetPruner wires the registry after construction; the registry itself needs the pool.
func (p *Pool) SetPruner(pr Pruner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruner = pr
	for _, s := range p.sessions {
		s.mu.Lock()
		s.pruner = pr
		s.mu.Unlock()
	}
}

// Session returns the actor's session, creating an empty one on first use.
func (p *Pool) Session(userID types.ID) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[userID]
	if !ok {
		s = newSession(userID, p.pruner, p.log, p.clock)
		p.sessions[userID] = s
	}
	return s
}

func (p *Pool) Lookup(userID types.ID) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[userID]
	return s, ok
}

// Reset clears an actor's state; it is wired to login and logout.
func (p *Pool) Reset(userID types.ID) {
	if s, ok := p.Lookup(userID); ok {
		s.Reset()
	}
}

// Dispose forgets the actor once its pending cleanups have drained.
func (p *Pool) Dispose(userID types.ID) {
	p.mu.Lock()
	s, ok := p.sessions[userID]
	delete(p.sessions, userID)
	p.mu.Unlock()
	if ok {
		s.WaitCleanup()
	}
}

// Wait blocks until every session's background cleanups have finished.
func (p *Pool) Wait() {
	p.mu.Lock()
	all := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		all = append(all, s)
	}
	p.mu.Unlock()
	for _, s := range all {
		s.WaitCleanup()
	}
}

// RunSearchTicker advances the search counter of every searching session once per tick.
func (p *Pool) RunSearchTicker(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			all := make([]*Session, 0, len(p.sessions))
			for _, s := range p.sessions {
				all = append(all, s)
			}
			p.mu.Unlock()
			for _, s := range all {
				s.TickSearch(tick)
			}
		}
	}
}
