package multiblock

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaykit/session/internal/logging"
	"github.com/relaykit/session/internal/wire"
)

// loopbackSender routes one engine's outbound frames directly into its
// peer engine's Handle* methods, simulating two sessions connected by a
// lossless transport without needing real sockets or the wire codec.
type loopbackSender struct {
	peer *Engine

	// beforeStatic, if set, runs at the start of Send for every
	// Data_Multi_Static part, before the part reaches the peer.
	beforeStatic func(partID uint32)

	mu        sync.Mutex
	nextMsgID uint32
	delivered [][]byte
	errors    []wire.ErrorCode
	sendOK    bool
}

func newLoopbackSender() *loopbackSender {
	return &loopbackSender{sendOK: true}
}

func (s *loopbackSender) Send(msg wire.Message, replyExpected bool) bool {
	if m, ok := msg.(wire.DataMultiStaticMsg); ok && s.beforeStatic != nil {
		s.beforeStatic(m.PartID)
	}
	s.mu.Lock()
	if !s.sendOK {
		s.mu.Unlock()
		return false
	}
	s.nextMsgID++
	id := s.nextMsgID
	s.mu.Unlock()

	switch m := msg.(type) {
	case wire.DataMultiInitMsg:
		s.peer.HandleInit(id, m)
	case wire.DataMultiStaticMsg:
		s.peer.HandleStatic(m)
	case wire.DataMultiFinishMsg:
		s.peer.HandleFinish(m)
	case wire.DataMultiAbortInitMsg:
		s.peer.HandleAbortInit(id, m)
	}
	return true
}

func (s *loopbackSender) SendReply(msg wire.Message, messageID uint32) bool {
	switch m := msg.(type) {
	case wire.DataMultiInitReplyMsg:
		s.peer.HandleInitReply(m)
	case wire.DataMultiAbortReplyMsg:
		s.peer.HandleAbortReply(m)
	}
	return true
}

func (s *loopbackSender) DeliverData(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), payload...)
	s.delivered = append(s.delivered, cp)
}

func (s *loopbackSender) ReportError(code wire.ErrorCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *loopbackSender) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func (s *loopbackSender) lastDelivered() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delivered) == 0 {
		return nil
	}
	return s.delivered[len(s.delivered)-1]
}

func (s *loopbackSender) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func newLinkedEngines(t *testing.T) (*Engine, *loopbackSender, *Engine, *loopbackSender) {
	t.Helper()
	senderA := newLoopbackSender()
	senderB := newLoopbackSender()

	log := logging.NewWithWriter(io.Discard, "test")
	engineA := New(senderA, log)
	engineB := New(senderB, log)

	senderA.peer = engineB
	senderB.peer = engineA

	t.Cleanup(func() {
		engineA.Close()
		engineB.Close()
	})

	return engineA, senderA, engineB, senderB
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestMultiblockRoundTripExactMultiplePartSize(t *testing.T) {
	engineA, _, _, senderB := newLinkedEngines(t)

	payload := bytes.Repeat([]byte("q"), wire.PartSize*3)
	id, ok := engineA.CreateOutgoing(payload)
	require.True(t, ok)
	require.NotZero(t, id)

	waitFor(t, time.Second, func() bool { return senderB.deliveredCount() == 1 })
	require.True(t, bytes.Equal(senderB.lastDelivered(), payload))
}

func TestMultiblockRoundTrip2500Bytes(t *testing.T) {
	engineA, _, _, senderB := newLinkedEngines(t)

	payload := bytes.Repeat([]byte("z"), 2500)
	_, ok := engineA.CreateOutgoing(payload)
	require.True(t, ok)

	waitFor(t, time.Second, func() bool { return senderB.deliveredCount() == 1 })
	require.Equal(t, payload, senderB.lastDelivered())
}

func TestMultiblockRoundTripZeroBytes(t *testing.T) {
	engineA, _, _, senderB := newLinkedEngines(t)

	_, ok := engineA.CreateOutgoing(nil)
	require.True(t, ok)

	waitFor(t, time.Second, func() bool { return senderB.deliveredCount() == 1 })
	require.Empty(t, senderB.lastDelivered())
}

func TestMultiblockAbortAfterFirstPart(t *testing.T) {
	engineA, senderA, engineB, senderB := newLinkedEngines(t)

	// The loopback delivers synchronously, so hold the worker just before
	// part 1: part 0 has gone out and Finish has not when Abort runs.
	reached := make(chan struct{})
	release := make(chan struct{})
	senderA.beforeStatic = func(partID uint32) {
		if partID == 1 {
			close(reached)
			<-release
		}
	}

	payload := bytes.Repeat([]byte("a"), wire.PartSize*3)
	id, ok := engineA.CreateOutgoing(payload)
	require.True(t, ok)

	<-reached
	engineA.Abort(id)
	close(release)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, senderB.deliveredCount(), "aborted transfer must not deliver partial data")

	engineB.inMu.Lock()
	_, stillPresent := engineB.incoming[id]
	engineB.inMu.Unlock()
	require.False(t, stillPresent, "receiver must drop its inbound buffer on abort")
}

func TestMultiblockInitFailureReportsError(t *testing.T) {
	engineA, senderA, _, _ := newLinkedEngines(t)

	// A zero-byte transfer; the peer itself replies OK, so the FAIL reply
	// is injected directly below.
	payload := make([]byte, 0)
	id, ok := engineA.CreateOutgoing(payload)
	require.True(t, ok)
	require.NotZero(t, id)

	// Manually simulate a FAIL reply as if the peer's allocation failed.
	engineA.HandleInitReply(wire.DataMultiInitReplyMsg{MultiblockID: id, Status: wire.MultiFail})

	waitFor(t, time.Second, func() bool { return senderA.errorCount() > 0 })
	require.Equal(t, wire.ErrMultiblockFailed, senderA.errors[0])
}

func TestMultiblockCloseDuringTransferReportsNoError(t *testing.T) {
	engineA, senderA, _, _ := newLinkedEngines(t)

	// Hold the worker at the start of its Send of part 1, after part 0
	// has gone out.
	reached := make(chan struct{})
	release := make(chan struct{})
	senderA.beforeStatic = func(partID uint32) {
		if partID == 1 {
			close(reached)
			<-release
		}
	}

	payload := bytes.Repeat([]byte("b"), wire.PartSize*20)
	id, ok := engineA.CreateOutgoing(payload)
	require.True(t, ok)
	require.NotZero(t, id)

	// Tear the engine down the way a session's teardown calls mb.Close()
	// after its connection is already gone: the worker's in-flight Send
	// fails too once released.
	<-reached
	senderA.mu.Lock()
	senderA.sendOK = false
	senderA.mu.Unlock()
	engineA.Close()
	close(release)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, senderA.errorCount(), "Close must cancel the in-flight transfer without a callback")
}

func TestMultiblockOutOfOrderPartIsMultiblockFailed(t *testing.T) {
	_, _, engineB, senderB := newLinkedEngines(t)

	engineB.HandleInit(1, wire.DataMultiInitMsg{MultiblockID: 99, TotalSize: 100})
	engineB.HandleStatic(wire.DataMultiStaticMsg{
		MultiblockID:    99,
		TotalPartNumber: 5,
		PartID:          5, // partId must be < totalPartNumber
		Payload:         []byte("x"),
	})

	require.Equal(t, 1, senderB.errorCount())
	require.Equal(t, wire.ErrMultiblockFailed, senderB.errors[0])
}
