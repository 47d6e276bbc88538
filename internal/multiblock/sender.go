// Package multiblock implements the multiblock transfer engine: one
// instance per session, fragmenting outbound payloads into PartSize parts
// behind a serialized backlog worker, and reassembling inbound parts keyed
// by multiblockId.
package multiblock

import "github.com/relaykit/session/internal/wire"

// Sender is the session-side collaborator the engine uses to put frames
// on the wire and to hand results back to the application. It is the
// non-owning handle: the engine never reaches into Session internals,
// only through this interface.
type Sender interface {
	// Send encodes and writes msg as a new outbound frame, optionally
	// registering it with the timer service as reply-expected. It
	// returns false if the session isn't in a state that permits
	// sending (mirrors Session.SendStreamData's false-on-not-ACTIVE
	// contract).
	Send(msg wire.Message, replyExpected bool) bool

	// SendReply encodes and writes msg as a reply to messageId (IsReply
	// flag set, same messageId echoed).
	SendReply(msg wire.Message, messageId uint32) bool

	// DeliverData hands a fully reassembled multiblock payload to the
	// application's data callback (isStream=false).
	DeliverData(payload []byte)

	// ReportError surfaces an error through the session's error
	// callback.
	ReportError(code wire.ErrorCode, message string)
}
