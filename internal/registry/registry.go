// Package registry implements the process-wide session registry: the
// home for active sessions and listeners, id allocation, and orderly
// shutdown.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/relaykit/session/internal/session"
	"github.com/relaykit/session/internal/timer"
	"github.com/relaykit/session/internal/transport"
)

// Config holds the registry's tunables; timeouts are configurable at
// registry construction.
type Config struct {
	Timer     timer.Config
	Log       zerolog.Logger
	Callbacks session.Callbacks
}

// Registry is the process-wide table of active sessions (by sessionId) and
// active listeners (by a caller-chosen serverId), plus the shared timer
// thread. Message ids, handshake traffic included, are counted per
// session, not here.
type Registry struct {
	log zerolog.Logger
	tmr *timer.Service
	dep session.Deps

	mu        sync.Mutex
	sessions  map[uint32]*session.Session
	listeners map[uint32]transport.Listener
	nextID    uint32
}

// New constructs a Registry and starts its timer service. Call Shutdown
// to stop everything it owns.
func New(cfg Config) *Registry {
	tmr := timer.New(cfg.Timer, cfg.Log.With().Str("collaborator", "timer").Logger())
	tmr.Start()

	r := &Registry{
		log:       cfg.Log,
		tmr:       tmr,
		sessions:  make(map[uint32]*session.Session),
		listeners: make(map[uint32]transport.Listener),
	}
	r.dep = session.Deps{
		Timer:     tmr,
		Log:       cfg.Log,
		Callbacks: cfg.Callbacks,
	}
	return r
}

// OpenSession dials out: it performs the client-side handshake over conn
// and, on success, holds the resulting session in this registry's table.
func (r *Registry) OpenSession(ctx context.Context, conn transport.Conn, offeredSessionID uint32, sessionIdentifier uint64) (*session.Session, error) {
	return session.Open(ctx, conn, offeredSessionID, sessionIdentifier, r, r.dep)
}

// AcceptSession wraps a freshly accepted connection as a server-side
// session. The handshake (and this registry's Bind/Allocate negotiation
// of its id) completes asynchronously as frames arrive.
func (r *Registry) AcceptSession(conn transport.Conn) *session.Session {
	return session.Accept(conn, r, r.dep)
}

// Bind implements session.Registrar.
func (r *Registry) Bind(id uint32, s *session.Session) bool {
	if id == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = s
	return true
}

// Allocate implements session.Registrar: pick the next free id from a
// monotonic counter, retrying on wraparound collision with a live session
// Wraparound is acceptable but a collision with a live id requires retry.
func (r *Registry) Allocate(s *session.Session) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.nextID++
		if r.nextID == 0 {
			continue
		}
		if _, exists := r.sessions[r.nextID]; exists {
			continue
		}
		r.sessions[r.nextID] = s
		return r.nextID
	}
}

// Unbind implements session.Registrar.
func (r *Registry) Unbind(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup returns the session bound to id, if any.
func (r *Registry) Lookup(id uint32) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// AddListener registers a listener under serverId so Shutdown closes it.
func (r *Registry) AddListener(serverID uint32, ln transport.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[serverID] = ln
}

// RemoveListener removes a listener's entry without closing it.
func (r *Registry) RemoveListener(serverID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, serverID)
}

// Shutdown walks every active session issuing closeSession(replyExpected=false)
// concurrently, then closes every registered listener. Sessions are
// fanned out with an errgroup the way
// hashicorp-consul's controller.go joins concurrent work, since each
// session's close is independent of the others.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	listeners := make([]transport.Listener, 0, len(r.listeners))
	for _, ln := range r.listeners {
		listeners = append(listeners, ln)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.CloseSession(false)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: close listener: %w", err)
		}
	}

	r.tmr.Stop()
	return firstErr
}
