// Package timer implements the process-wide timer service: it tracks
// outstanding reply-expected messages and fires MESSAGE_TIMEOUT
// once they pass their deadline, and it ticks idle SESSION_READY
// sessions into sending a heartbeat.
package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaykit/session/internal/wire"
)

// Owner is the session-side collaborator a Service drives. Session
// implements it; the timer never holds anything but this interface, a
// non-owning handle onto the session it drives.
type Owner interface {
	// SessionID identifies the owning session; RegisterSession keys its
	// table of owners by it.
	SessionID() uint32

	// ReportTimeout surfaces a MESSAGE_TIMEOUT error for a pending
	// reply that was never satisfied.
	ReportTimeout(msgType wire.Type, subType wire.SubType, messageID uint32)

	// IdleSince returns the time this session last received or sent
	// any frame, and whether it is currently SESSION_READY (only
	// SESSION_READY sessions are heartbeat candidates).
	IdleSince() (since time.Time, ready bool)

	// SendHeartbeat sends a Heartbeat_Start frame with reply expected.
	// Returns false if the session is no longer ready.
	SendHeartbeat() bool
}

// key identifies one pending reply by (sessionId, messageId); lookups on
// reply arrival are by that pair.
type key struct {
	sessionID uint32
	messageID uint32
}

type pending struct {
	msgType  wire.Type
	subType  wire.SubType
	deadline time.Time
}

// Config holds the timer service's tunables.
type Config struct {
	// ReplyTimeout is how long a reply-expected message may go
	// unanswered before MESSAGE_TIMEOUT fires. Default 2s.
	ReplyTimeout time.Duration
	// HeartbeatInterval is how long a SESSION_READY session may sit
	// idle before a heartbeat is sent. Default 3s.
	HeartbeatInterval time.Duration
	// Tick is the service's polling cadence. Default 100ms.
	Tick time.Duration
}

// DefaultConfig returns the default timeouts.
func DefaultConfig() Config {
	return Config{
		ReplyTimeout:      2 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		Tick:              100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	return c
}

// Service is the single process-wide timer thread.
type Service struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	pending map[key]pending
	owners  map[uint32]Owner

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a Service. Call Start to begin the background ticker.
func New(cfg Config, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		pending: make(map[key]pending),
		owners:  make(map[uint32]Owner),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background tick loop.
func (s *Service) Start() {
	go s.run()
}

// Stop halts the tick loop. Outstanding pending replies are discarded
// without firing MESSAGE_TIMEOUT.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// RegisterSession makes a session a heartbeat candidate and a valid
// target for ReportTimeout lookups.
func (s *Service) RegisterSession(owner Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[owner.SessionID()] = owner
}

// UnregisterSession removes a session and every pending reply it owns,
// without firing any timeout for them: a session's own closeSession
// discards outstanding pending replies silently.
func (s *Service) UnregisterSession(sessionID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, sessionID)
	for k := range s.pending {
		if k.sessionID == sessionID {
			delete(s.pending, k)
		}
	}
}

// RegisterReply tracks a reply-expected message for timeout.
func (s *Service) RegisterReply(sessionID, messageID uint32, msgType wire.Type, subType wire.SubType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key{sessionID, messageID}] = pending{
		msgType:  msgType,
		subType:  subType,
		deadline: time.Now().Add(s.cfg.ReplyTimeout),
	}
}

// RemoveReply removes a pending reply on a matching reply's arrival.
// Returns true if an entry was found and removed; a false return means
// the reply was unmatched and already discarded, and the caller should
// not act on it further.
func (s *Service) RemoveReply(sessionID, messageID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{sessionID, messageID}
	if _, ok := s.pending[k]; !ok {
		return false
	}
	delete(s.pending, k)
	return true
}

func (s *Service) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Service) tick(now time.Time) {
	s.checkTimeouts(now)
	s.checkHeartbeats(now)
}

func (s *Service) checkTimeouts(now time.Time) {
	var fired []struct {
		key
		pending
		owner Owner
	}

	s.mu.Lock()
	for k, p := range s.pending {
		if now.After(p.deadline) {
			fired = append(fired, struct {
				key
				pending
				owner Owner
			}{k, p, s.owners[k.sessionID]})
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()

	for _, f := range fired {
		if f.owner == nil {
			continue
		}
		f.owner.ReportTimeout(f.pending.msgType, f.pending.subType, f.key.messageID)
	}
}

func (s *Service) checkHeartbeats(now time.Time) {
	s.mu.Lock()
	owners := make([]Owner, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, o)
	}
	s.mu.Unlock()

	for _, o := range owners {
		since, ready := o.IdleSince()
		if !ready {
			continue
		}
		if now.Sub(since) >= s.cfg.HeartbeatInterval {
			o.SendHeartbeat()
		}
	}
}
