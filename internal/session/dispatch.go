package session

import (
	"fmt"

	"github.com/relaykit/session/internal/wire"
)

// dispatch routes one decoded frame by (type, subType) to a handler on
// the Session. It runs exclusively on the session's I/O goroutine, so
// handshake bookkeeping below needs no locking of its own; the close
// bookkeeping it shares with CloseSession goes through s.mu.
func (s *Session) dispatch(f *wire.Frame) {
	h := f.Header
	if h.IsReply() {
		s.tmr.RemoveReply(s.SessionID(), h.MessageID)
	}

	if !isHandshakeMsg(f.Body) && h.SessionID != s.SessionID() {
		s.ReportError(wire.ErrUnknownSession, fmt.Sprintf(
			"frame carries sessionId %d, this connection owns sessionId %d", h.SessionID, s.SessionID()))
		return
	}

	switch msg := f.Body.(type) {
	case wire.SessionInitStartMsg:
		s.handleInitStart(msg)
	case wire.SessionIDChangeMsg:
		s.handleIDChange(msg)
	case wire.SessionIDConfirmMsg:
		s.handleIDConfirm(msg)
	case wire.SessionInitReplyMsg:
		s.handleInitReply(msg)
	case wire.SessionCloseStartMsg:
		s.handleCloseStart(h, msg)
	case wire.SessionCloseReplyMsg:
		s.handleCloseReply()
	case wire.HeartbeatStartMsg:
		s.handleHeartbeatStart(h)
	case wire.HeartbeatReplyMsg:
		// RemoveReply above already matched the pending heartbeat.
	case wire.ErrorMsg:
		s.ReportError(msg.Code, msg.Message)
	case wire.DataSingleStaticMsg:
		s.handleDataSingle(h, msg.Payload)
	case wire.DataSingleDynamicMsg:
		s.handleDataSingle(h, msg.Payload)
	case wire.DataSingleReplyMsg:
		// RemoveReply above already matched the originating send.
	case wire.DataMultiInitMsg:
		s.mb.HandleInit(h.MessageID, msg)
	case wire.DataMultiInitReplyMsg:
		s.mb.HandleInitReply(msg)
	case wire.DataMultiStaticMsg:
		s.mb.HandleStatic(msg)
	case wire.DataMultiFinishMsg:
		s.mb.HandleFinish(msg)
	case wire.DataMultiAbortInitMsg:
		s.mb.HandleAbortInit(h.MessageID, msg)
	case wire.DataMultiAbortReplyMsg:
		s.mb.HandleAbortReply(msg)
	default:
		s.log.Warn().Str("msg", fmt.Sprintf("%T", msg)).Msg("dispatch: unhandled message type")
	}
}

// isHandshakeMsg reports whether body is one of the four handshake-phase
// messages, the only ones legitimately exchanged before this session's
// final sessionId is agreed on both ends.
func isHandshakeMsg(body wire.Message) bool {
	switch body.(type) {
	case wire.SessionInitStartMsg, wire.SessionIDChangeMsg, wire.SessionIDConfirmMsg, wire.SessionInitReplyMsg:
		return true
	default:
		return false
	}
}

func (s *Session) handleDataSingle(h wire.Header, payload []byte) {
	if s.callbacks.OnData != nil {
		s.callbacks.OnData(s, true, payload)
	}
	if h.ReplyExpected() {
		s.SendReply(wire.DataSingleReplyMsg{}, h.MessageID)
	}
}

func (s *Session) handleHeartbeatStart(h wire.Header) {
	if h.ReplyExpected() {
		s.SendReply(wire.HeartbeatReplyMsg{}, h.MessageID)
	}
}

// --- handshake ---

// handleInitStart is the server side's entry point: bind the client's
// offered id if free, or allocate a fresh one and negotiate it via
// Session_Id_Change / Session_Id_Confirm.
func (s *Session) handleInitStart(msg wire.SessionInitStartMsg) {
	if s.clientSide {
		s.log.Warn().Msg("unexpected Session_Init_Start on a client session")
		return
	}
	s.identifier = msg.SessionIdentifier

	if s.registrar.Bind(msg.OfferedSessionID, s) {
		s.id.Store(msg.OfferedSessionID)
		s.finishServerHandshake()
		return
	}

	newID := s.registrar.Allocate(s)
	s.id.Store(newID)
	s.writeFrame(wire.SessionIDChangeMsg{
		OldOfferedSessionID: msg.OfferedSessionID,
		NewOfferedSessionID: newID,
	}, 0, s.nextMessageID())
}

// handleIDChange is the client side's reaction to the server rejecting its
// offered id: adopt the server's choice and confirm it.
func (s *Session) handleIDChange(msg wire.SessionIDChangeMsg) {
	if !s.clientSide {
		return
	}
	s.id.Store(msg.NewOfferedSessionID)
	s.writeFrame(wire.SessionIDConfirmMsg{ConfirmedSessionID: msg.NewOfferedSessionID}, 0, s.nextMessageID())
}

// handleIDConfirm is the server side's cue that the client accepted the
// reassigned id; the handshake can now complete.
func (s *Session) handleIDConfirm(msg wire.SessionIDConfirmMsg) {
	if s.clientSide || s.SessionID() != msg.ConfirmedSessionID {
		s.log.Warn().Msg("Session_Id_Confirm for an id this session didn't offer")
		return
	}
	s.finishServerHandshake()
}

func (s *Session) finishServerHandshake() {
	s.writeFrame(wire.SessionInitReplyMsg{SessionID: s.SessionID()}, 0, s.nextMessageID())
	s.sm.StartSession()
	s.tmr.RegisterSession(s)
	if s.callbacks.OnSessionEvent != nil {
		s.callbacks.OnSessionEvent(true, s.identifier)
	}
}

// handleInitReply is the client side's cue that the server accepted (or
// reassigned-and-confirmed) the session id; the handshake is complete.
func (s *Session) handleInitReply(msg wire.SessionInitReplyMsg) {
	if !s.clientSide {
		return
	}
	s.id.Store(msg.SessionID)
	if s.registrar != nil {
		s.registrar.Bind(msg.SessionID, s)
	}
	s.sm.StartSession()
	s.tmr.RegisterSession(s)
	if s.callbacks.OnSessionEvent != nil {
		s.callbacks.OnSessionEvent(true, s.identifier)
	}
	select {
	case s.handshakeDone <- nil:
	default:
	}
}

// --- orderly close ---

// handleCloseStart is the receiving peer's reaction to Session_Close_Start:
// reply if asked to, then tear down locally (teardown notifies the
// application).
func (s *Session) handleCloseStart(h wire.Header, msg wire.SessionCloseStartMsg) {
	if msg.ReplyExpected {
		s.writeFrame(wire.SessionCloseReplyMsg{SessionID: s.SessionID()}, wire.FlagIsReply, h.MessageID)
	}
	s.teardown()
}

// handleCloseReply is the initiator's cue that the peer finished its side
// of an orderly close; the initiator's own CloseSession call is blocked
// waiting on this.
func (s *Session) handleCloseReply() {
	s.mu.Lock()
	done := s.closeWait
	s.closeWait = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}
