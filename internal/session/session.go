// Package session implements the Session type: the per-connection object
// holding the state machine, multiblock engine handle, transport handle,
// and user callbacks. The message dispatcher lives in this same package
// (dispatch.go) rather than behind a separate exported type, collapsing
// what would otherwise be a standalone interface façade.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaykit/session/internal/multiblock"
	"github.com/relaykit/session/internal/ringbuf"
	"github.com/relaykit/session/internal/statem"
	"github.com/relaykit/session/internal/timer"
	"github.com/relaykit/session/internal/transport"
	"github.com/relaykit/session/internal/wire"
)

// SessionEventFunc is invoked once a session reaches SESSION_READY
// (established=true) and once more when it tears down (established=false).
type SessionEventFunc func(established bool, sessionIdentifier uint64)

// DataFunc delivers a completed payload to the application. isStream is
// true for DATA_SINGLE frames and false for a fully reassembled multiblock
// transfer. sess lets the application reply on the same session.
type DataFunc func(sess *Session, isStream bool, payload []byte)

// ErrorFunc surfaces a session-level or pre-session error. sess is the
// session whose connection the error arose on; for a framing error that
// occurs before a session id was assigned, its SessionID() is 0.
type ErrorFunc func(sess *Session, code wire.ErrorCode, message string)

// Callbacks bundles the three callback targets a Session carries.
type Callbacks struct {
	OnSessionEvent SessionEventFunc
	OnData         DataFunc
	OnError        ErrorFunc
}

// Registrar is the registry-side collaborator a server session negotiates
// its id through during the handshake and notifies on teardown. It is a
// non-owning handle: a Session never reaches into the registry's tables
// directly.
type Registrar interface {
	// Bind attempts to claim id for s. Returns false if id is already
	// taken by a live session.
	Bind(id uint32, s *Session) bool
	// Allocate picks a fresh, currently-unused id, binds s to it, and
	// returns it.
	Allocate(s *Session) uint32
	// Unbind removes the entry bound to id, whichever session holds it;
	// it does not check that the entry belongs to the caller.
	Unbind(id uint32)
}

// Deps bundles a Session's process-wide collaborators, passed as a plain
// struct the way goet's session.Config is passed to constructors rather
// than parsed from a file.
type Deps struct {
	Timer     *timer.Service
	Log       zerolog.Logger
	Callbacks Callbacks
}

// Session is one bidirectional conversation over one transport connection.
type Session struct {
	clientSide bool
	conn       transport.Conn
	registrar  Registrar

	sm  *statem.Machine
	mb  *multiblock.Engine
	tmr *timer.Service
	log zerolog.Logger

	callbacks Callbacks

	id         atomic.Uint32
	identifier uint64 // sessionIdentifier, held across the handshake
	msgID      atomic.Uint32

	in *ringbuf.Buffer

	writeMu sync.Mutex

	mu        sync.Mutex
	lastSeen  time.Time
	closeWait chan struct{}

	handshakeDone chan error // client-side only

	closeOnce sync.Once
}

func newSession(clientSide bool, conn transport.Conn, registrar Registrar, deps Deps) *Session {
	s := &Session{
		clientSide: clientSide,
		conn:       conn,
		registrar:  registrar,
		sm:         statem.New(),
		tmr:        deps.Timer,
		log:        deps.Log,
		callbacks:  deps.Callbacks,
		in:         ringbuf.New(),
		lastSeen:   time.Now(),
	}
	s.mb = multiblock.New(s, deps.Log.With().Str("collaborator", "multiblock").Logger())
	return s
}

// Open performs the client-side handshake over an already-connected
// transport and blocks until the session reaches
// SESSION_READY, the peer rejects it, or ctx is done.
func Open(ctx context.Context, conn transport.Conn, offeredSessionID uint32, sessionIdentifier uint64, registrar Registrar, deps Deps) (*Session, error) {
	s := newSession(true, conn, registrar, deps)
	if !s.sm.Connect() {
		return nil, errors.New("session: already connected")
	}
	s.identifier = sessionIdentifier
	s.handshakeDone = make(chan error, 1)

	go s.ioLoop()

	id := s.nextMessageID()
	if !s.writeFrame(wire.SessionInitStartMsg{
		OfferedSessionID:  offeredSessionID,
		SessionIdentifier: sessionIdentifier,
	}, 0, id) {
		return nil, errors.New("session: write Session_Init_Start failed")
	}

	select {
	case err := <-s.handshakeDone:
		if err != nil {
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		s.teardown()
		return nil, ctx.Err()
	}
}

// Accept wraps a freshly accepted connection as a server-side Session and
// starts its I/O loop. The handshake completes asynchronously as frames
// arrive; Callbacks.OnSessionEvent fires once it does.
func Accept(conn transport.Conn, registrar Registrar, deps Deps) *Session {
	s := newSession(false, conn, registrar, deps)
	s.sm.Connect()
	go s.ioLoop()
	return s
}

// SessionID returns the session's id, or 0 if the handshake hasn't
// assigned one yet.
func (s *Session) SessionID() uint32 { return s.id.Load() }

// SessionIdentifier returns the opaque identifier the initiator chose.
func (s *Session) SessionIdentifier() uint64 { return s.identifier }

// IsClientSide reports whether this endpoint initiated the connection.
func (s *Session) IsClientSide() bool { return s.clientSide }

func (s *Session) nextMessageID() uint32 { return s.msgID.Add(1) }

// SendStreamData sends one single-block message. dynamic selects a
// variable-length frame over the fixed-stride STATIC shape. Returns false
// iff the session isn't ACTIVE.
func (s *Session) SendStreamData(data []byte, dynamic bool, replyExpected bool) bool {
	var msg wire.Message
	if dynamic {
		msg = wire.DataSingleDynamicMsg{Payload: data}
	} else {
		msg = wire.DataSingleStaticMsg{Payload: data}
	}
	return s.Send(msg, replyExpected)
}

// SendMultiblockData hands a large payload to the multiblock engine.
// Returns (0, false) if the session isn't ACTIVE.
func (s *Session) SendMultiblockData(data []byte) (uint64, bool) {
	if !s.sm.IsActive() {
		return 0, false
	}
	return s.mb.CreateOutgoing(data)
}

// AbortMessages attempts to cancel an outbound multiblock transfer.
func (s *Session) AbortMessages(multiblockID uint64) {
	s.mb.Abort(multiblockID)
}

// CloseSession performs the orderly teardown sequence. With
// replyExpected=true it sends Session_Close_Start and blocks for the
// peer's Session_Close_Reply before tearing down locally; otherwise it
// tears down immediately. Returns false without effect if the session
// isn't currently SESSION_READY, which includes an already-closed
// session.
func (s *Session) CloseSession(replyExpected bool) bool {
	if s.sm.Current() != statem.SessionReady {
		return false
	}

	id := s.nextMessageID()
	flags := byte(0)
	if replyExpected {
		flags = wire.FlagReplyExpected
		done := make(chan struct{})
		s.mu.Lock()
		s.closeWait = done
		s.mu.Unlock()

		if !s.writeFrame(wire.SessionCloseStartMsg{SessionID: s.SessionID(), ReplyExpected: true}, flags, id) {
			s.mu.Lock()
			s.closeWait = nil
			s.mu.Unlock()
			return false
		}
		<-done
	} else {
		s.writeFrame(wire.SessionCloseStartMsg{SessionID: s.SessionID(), ReplyExpected: false}, flags, id)
	}

	s.teardown()
	return true
}

// --- multiblock.Sender ---

// Send encodes and writes msg as a new outbound frame. It returns false
// if the session isn't ACTIVE.
func (s *Session) Send(msg wire.Message, replyExpected bool) bool {
	if !s.sm.IsActive() {
		return false
	}
	id := s.nextMessageID()
	flags := byte(0)
	if replyExpected {
		flags = wire.FlagReplyExpected
		// Registered before the write so a fast reply always finds it.
		s.tmr.RegisterReply(s.SessionID(), id, msg.Type(), msg.SubType())
	}
	if !s.writeFrame(msg, flags, id) {
		if replyExpected {
			s.tmr.RemoveReply(s.SessionID(), id)
		}
		return false
	}
	return true
}

// SendReply encodes and writes msg as a reply to messageID.
func (s *Session) SendReply(msg wire.Message, messageID uint32) bool {
	return s.writeFrame(msg, wire.FlagIsReply, messageID)
}

// DeliverData hands a completed multiblock payload to the application.
func (s *Session) DeliverData(payload []byte) {
	if s.callbacks.OnData != nil {
		s.callbacks.OnData(s, false, payload)
	}
}

// ReportError surfaces an error through the application's error callback.
func (s *Session) ReportError(code wire.ErrorCode, message string) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(s, code, message)
	}
}

// --- timer.Owner ---

// ReportTimeout surfaces a MESSAGE_TIMEOUT for a pending reply that was
// never satisfied. Fires exactly once per pending reply.
func (s *Session) ReportTimeout(msgType wire.Type, subType wire.SubType, messageID uint32) {
	s.ReportError(wire.ErrMessageTimeout, "no reply received for "+msgType.String())
}

// IdleSince returns when this session last sent or received a frame, and
// whether it is currently a heartbeat candidate.
func (s *Session) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, s.sm.Current() == statem.SessionReady
}

// SendHeartbeat sends a zero-payload Heartbeat_Start with reply expected.
func (s *Session) SendHeartbeat() bool {
	return s.Send(wire.HeartbeatStartMsg{}, true)
}

// --- wire I/O ---

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) writeFrame(msg wire.Message, flags byte, messageID uint32) bool {
	h := wire.Header{
		Flags:     flags,
		Version:   wire.Version,
		MessageID: messageID,
		SessionID: s.SessionID(),
	}
	out := wire.EncodeFrame(h, msg)

	s.writeMu.Lock()
	_, err := s.conn.Write(out)
	s.writeMu.Unlock()
	if err != nil {
		s.log.Debug().Err(err).Msg("write failed")
		return false
	}
	s.touch()
	return true
}

func (s *Session) ioLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.in.Write(buf[:n])
			s.touch()
			if stop := s.drain(); stop {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("read failed")
			}
			s.teardown()
			return
		}
	}
}

// drain extracts and dispatches every complete frame currently buffered.
// It returns true if a framing error forced teardown, so the caller stops
// reading.
func (s *Session) drain() bool {
	for {
		frame, consumed, err := wire.TryDecode(s.in.Bytes())
		if errors.Is(err, wire.ErrNeedMore) {
			return false
		}
		if err != nil {
			s.handleFramingError(err)
			return true
		}
		s.in.Advance(consumed)
		s.dispatch(frame)
	}
}

func (s *Session) handleFramingError(err error) {
	code := wire.ErrInvalidMessageSize
	var fe *wire.FramingError
	if errors.As(err, &fe) {
		code = fe.Code
	}
	s.writeFrame(wire.ErrorMsg{Code: code, Message: err.Error()}, 0, s.nextMessageID())
	s.ReportError(code, err.Error())
	s.teardown()
}

// teardown performs local session teardown exactly once: state machine to
// NOT_CONNECTED, multiblock transfers discarded without callback, timer
// and registrar entries released, transport closed, and, if the session
// had reached SESSION_READY, the session-event callback invoked with
// established=false.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		wasReady := s.sm.StopSession()
		s.sm.Disconnect()
		s.mb.Close()
		s.tmr.UnregisterSession(s.SessionID())
		if s.registrar != nil {
			s.registrar.Unbind(s.SessionID())
		}
		s.conn.Close()
		if wasReady && s.callbacks.OnSessionEvent != nil {
			s.callbacks.OnSessionEvent(false, s.identifier)
		}

		s.mu.Lock()
		done := s.closeWait
		s.closeWait = nil
		s.mu.Unlock()
		if done != nil {
			close(done)
		}

		select {
		case s.handshakeDone <- errors.New("session: closed during handshake"):
		default:
		}
	})
}
