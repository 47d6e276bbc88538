package timer

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaykit/session/internal/logging"
	"github.com/relaykit/session/internal/wire"
)

type fakeOwner struct {
	id uint32

	mu        sync.Mutex
	timeouts  []uint32
	idleSince time.Time
	ready     bool

	heartbeats atomic.Int32
}

func (o *fakeOwner) SessionID() uint32 { return o.id }

func (o *fakeOwner) ReportTimeout(_ wire.Type, _ wire.SubType, messageID uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts = append(o.timeouts, messageID)
}

func (o *fakeOwner) IdleSince() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.idleSince, o.ready
}

func (o *fakeOwner) SendHeartbeat() bool {
	o.heartbeats.Add(1)
	o.mu.Lock()
	o.idleSince = time.Now()
	o.mu.Unlock()
	return true
}

func (o *fakeOwner) setReady(ready bool, idleSince time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = ready
	o.idleSince = idleSince
}

func newTestService(cfg Config) *Service {
	return New(cfg, logging.NewWithWriter(io.Discard, "timer-test"))
}

func TestTimeoutFiresOncePastDeadline(t *testing.T) {
	svc := newTestService(Config{ReplyTimeout: 20 * time.Millisecond, HeartbeatInterval: time.Hour, Tick: 5 * time.Millisecond})
	owner := &fakeOwner{id: 1}
	svc.RegisterSession(owner)
	svc.RegisterReply(1, 42, wire.HeartbeatType, wire.HeartbeatStart)
	svc.Start()
	defer svc.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		owner.mu.Lock()
		n := len(owner.timeouts)
		owner.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.timeouts) != 1 {
		t.Fatalf("timeouts = %v, want exactly one", owner.timeouts)
	}
	if owner.timeouts[0] != 42 {
		t.Fatalf("timed-out messageId = %d, want 42", owner.timeouts[0])
	}
}

func TestRemoveReplyPreventsTimeout(t *testing.T) {
	svc := newTestService(Config{ReplyTimeout: 20 * time.Millisecond, HeartbeatInterval: time.Hour, Tick: 5 * time.Millisecond})
	owner := &fakeOwner{id: 1}
	svc.RegisterSession(owner)
	svc.RegisterReply(1, 7, wire.DataSingleType, wire.DataSingleStatic)

	if !svc.RemoveReply(1, 7) {
		t.Fatalf("RemoveReply() = false, want true for a registered reply")
	}

	svc.Start()
	defer svc.Stop()
	time.Sleep(100 * time.Millisecond)

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.timeouts) != 0 {
		t.Fatalf("timeouts = %v, want none", owner.timeouts)
	}
}

func TestRemoveReplyUnmatchedReturnsFalse(t *testing.T) {
	svc := newTestService(DefaultConfig())
	if svc.RemoveReply(1, 999) {
		t.Fatalf("RemoveReply() = true for an unmatched reply")
	}
}

func TestUnregisterSessionDiscardsPendingWithoutTimeout(t *testing.T) {
	svc := newTestService(Config{ReplyTimeout: 10 * time.Millisecond, HeartbeatInterval: time.Hour, Tick: 5 * time.Millisecond})
	owner := &fakeOwner{id: 1}
	svc.RegisterSession(owner)
	svc.RegisterReply(1, 1, wire.SessionType, wire.SessionCloseStart)

	svc.UnregisterSession(1)
	svc.Start()
	defer svc.Stop()
	time.Sleep(100 * time.Millisecond)

	owner.mu.Lock()
	defer owner.mu.Unlock()
	if len(owner.timeouts) != 0 {
		t.Fatalf("timeouts = %v, want none after unregister", owner.timeouts)
	}
}

func TestHeartbeatFiresWhenIdle(t *testing.T) {
	svc := newTestService(Config{ReplyTimeout: time.Hour, HeartbeatInterval: 15 * time.Millisecond, Tick: 5 * time.Millisecond})
	owner := &fakeOwner{id: 1}
	owner.setReady(true, time.Now())
	svc.RegisterSession(owner)
	svc.Start()
	defer svc.Stop()

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && owner.heartbeats.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if owner.heartbeats.Load() == 0 {
		t.Fatalf("expected at least one heartbeat")
	}
}

func TestHeartbeatSkippedWhenNotReady(t *testing.T) {
	svc := newTestService(Config{ReplyTimeout: time.Hour, HeartbeatInterval: 5 * time.Millisecond, Tick: 5 * time.Millisecond})
	owner := &fakeOwner{id: 1}
	owner.setReady(false, time.Now().Add(-time.Hour))
	svc.RegisterSession(owner)
	svc.Start()
	defer svc.Stop()

	time.Sleep(60 * time.Millisecond)
	if owner.heartbeats.Load() != 0 {
		t.Fatalf("heartbeat fired for a non-ready session")
	}
}
