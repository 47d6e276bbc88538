package multiblock

import "github.com/relaykit/session/internal/wire"

// HandleInit processes a peer's Data_Multi_Init: allocate a matching
// inbound buffer and reply OK, or reply FAIL if the requested size
// exceeds MaxTransferSize (the closest this implementation comes to a
// real allocation failure).
func (e *Engine) HandleInit(messageID uint32, msg wire.DataMultiInitMsg) {
	if msg.TotalSize > MaxTransferSize {
		e.sender.SendReply(wire.DataMultiInitReplyMsg{
			MultiblockID: msg.MultiblockID,
			Status:       wire.MultiFail,
		}, messageID)
		return
	}

	t := &inboundTransfer{
		totalSize: msg.TotalSize,
		buf:       make([]byte, msg.TotalSize),
	}

	e.inMu.Lock()
	e.incoming[msg.MultiblockID] = t
	e.inMu.Unlock()

	e.sender.SendReply(wire.DataMultiInitReplyMsg{
		MultiblockID: msg.MultiblockID,
		Status:       wire.MultiOK,
	}, messageID)
}

// HandleStatic appends one part to its inbound transfer. Out-of-order
// arrival (a part that doesn't land exactly where the
// transfer's write cursor is, or that overruns totalSize) is a framing
// bug, not a recoverable condition; it yields MULTIBLOCK_FAILED and the
// transfer is dropped without partial delivery.
func (e *Engine) HandleStatic(msg wire.DataMultiStaticMsg) {
	e.inMu.Lock()
	t, ok := e.incoming[msg.MultiblockID]
	if !ok {
		e.inMu.Unlock()
		e.sender.ReportError(wire.ErrMultiblockFailed, "data for unknown multiblock id")
		return
	}

	n := uint64(len(msg.Payload))
	if msg.PartID >= msg.TotalPartNumber || n > wire.PartSize || t.written+n > t.totalSize ||
		uint64(msg.PartID)*wire.PartSize != t.written {
		delete(e.incoming, msg.MultiblockID)
		e.inMu.Unlock()
		e.sender.ReportError(wire.ErrMultiblockFailed, "out-of-order or malformed multiblock part")
		return
	}

	copy(t.buf[t.written:t.written+n], msg.Payload)
	t.written += n
	e.inMu.Unlock()
}

// HandleFinish delivers the completed buffer to the application and
// removes the transfer.
func (e *Engine) HandleFinish(msg wire.DataMultiFinishMsg) {
	e.inMu.Lock()
	t, ok := e.incoming[msg.MultiblockID]
	if ok {
		delete(e.incoming, msg.MultiblockID)
	}
	e.inMu.Unlock()

	if !ok {
		e.sender.ReportError(wire.ErrMultiblockFailed, "finish for unknown multiblock id")
		return
	}
	e.sender.DeliverData(t.buf[:t.written])
}

// HandleAbortInit drops an inbound transfer the peer aborted, without
// delivering partial data, and acknowledges.
func (e *Engine) HandleAbortInit(messageID uint32, msg wire.DataMultiAbortInitMsg) {
	e.inMu.Lock()
	delete(e.incoming, msg.MultiblockID)
	e.inMu.Unlock()

	e.sender.SendReply(wire.DataMultiAbortReplyMsg{MultiblockID: msg.MultiblockID}, messageID)
}

// HandleAbortReply acknowledges the peer discarding our aborted outbound
// transfer. There is no further bookkeeping: Abort already marked our
// side's transfer aborted before sending Data_Multi_Abort_Init, and the
// worker drops it.
func (e *Engine) HandleAbortReply(msg wire.DataMultiAbortReplyMsg) {
	e.log.Debug().Uint64("multiblockId", msg.MultiblockID).Msg("peer acknowledged abort")
}
