package multiblock

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relaykit/session/internal/wire"
)

// MaxTransferSize bounds a single multiblock transfer. A peer asking for
// more than this is treated the same as a real allocation failure: the
// receiver replies FAIL rather than attempting it.
const MaxTransferSize = 256 * 1024 * 1024

// outboundTransfer is one entry in the backlog, outbound side.
type outboundTransfer struct {
	id          uint64
	data        []byte
	ready       bool
	aborted     bool
	partCounter uint32
	totalParts  uint32
}

// Engine is the per-session multiblock engine. The outbound backlog and
// the inbound reassembly table are guarded by independent locks, and a
// single worker goroutine drains the backlog.
type Engine struct {
	sender Sender
	log    zerolog.Logger

	outMu   sync.Mutex
	backlog []*outboundTransfer
	current *outboundTransfer

	inMu     sync.Mutex
	incoming map[uint64]*inboundTransfer

	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

type inboundTransfer struct {
	totalSize uint64
	buf       []byte
	written   uint64
}

// New creates an Engine and starts its backlog worker. Call Close when
// the owning session tears down.
func New(sender Sender, log zerolog.Logger) *Engine {
	e := &Engine{
		sender:   sender,
		log:      log,
		incoming: make(map[uint64]*inboundTransfer),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Close stops the worker and discards all outstanding transfers without
// invoking any callback. Marks the in-flight transfer (if any) and every
// backlog entry aborted before dropping them, so a worker goroutine
// currently inside sendTransfer on the transfer e.current pointed to
// notices and returns instead of reporting a spurious write failure.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.closed) })

	e.outMu.Lock()
	if e.current != nil {
		e.current.aborted = true
	}
	for _, t := range e.backlog {
		t.aborted = true
	}
	e.backlog = nil
	e.current = nil
	e.outMu.Unlock()

	e.inMu.Lock()
	e.incoming = make(map[uint64]*inboundTransfer)
	e.inMu.Unlock()
}

// CreateOutgoing copies data into a new outbound transfer and queues it
// on the backlog; the worker fragments it into parts once the peer replies
// OK. It returns the randomly chosen multiblockId and
// true, or (0, false) if the Session.Send for Data_Multi_Init failed
// (session not ACTIVE).
func (e *Engine) CreateOutgoing(data []byte) (uint64, bool) {
	id := newMultiblockID()
	buf := make([]byte, len(data))
	copy(buf, data)

	t := &outboundTransfer{
		id:         id,
		data:       buf,
		totalParts: totalParts(len(buf)),
	}

	e.outMu.Lock()
	e.backlog = append(e.backlog, t)
	e.outMu.Unlock()

	if !e.sender.Send(wire.DataMultiInitMsg{MultiblockID: id, TotalSize: uint64(len(buf))}, true) {
		e.removeBacklog(id)
		return 0, false
	}
	return id, true
}

// Abort cancels an outbound transfer: if it hasn't started sending, it's
// removed from the backlog silently; if it's the transfer
// currently in flight, it's marked aborted and, only if at least one part
// already went out, a Data_Multi_Abort_Init is sent so the peer discards
// its inbound buffer.
func (e *Engine) Abort(multiblockID uint64) {
	e.outMu.Lock()
	if e.current != nil && e.current.id == multiblockID {
		e.current.aborted = true
		sentAny := e.current.partCounter > 0
		e.outMu.Unlock()
		if sentAny {
			e.sender.Send(wire.DataMultiAbortInitMsg{MultiblockID: multiblockID}, false)
		}
		return
	}
	for i, t := range e.backlog {
		if t.id == multiblockID {
			e.backlog = append(e.backlog[:i], e.backlog[i+1:]...)
			break
		}
	}
	e.outMu.Unlock()
}

// HandleInitReply processes the peer's reply to our Data_Multi_Init: OK
// marks the backlog entry ready and wakes the worker; FAIL removes it
// and reports MULTIBLOCK_FAILED.
func (e *Engine) HandleInitReply(msg wire.DataMultiInitReplyMsg) {
	e.outMu.Lock()
	var t *outboundTransfer
	for _, cand := range e.backlog {
		if cand.id == msg.MultiblockID {
			t = cand
			break
		}
	}
	if t == nil {
		e.outMu.Unlock()
		return
	}
	if msg.Status == wire.MultiOK {
		t.ready = true
		e.outMu.Unlock()
		e.wakeWorker()
		return
	}
	e.removeBacklogLocked(msg.MultiblockID)
	e.outMu.Unlock()
	e.sender.ReportError(wire.ErrMultiblockFailed, "peer rejected multiblock init")
}

func (e *Engine) removeBacklog(id uint64) {
	e.outMu.Lock()
	e.removeBacklogLocked(id)
	e.outMu.Unlock()
}

func (e *Engine) removeBacklogLocked(id uint64) {
	for i, t := range e.backlog {
		if t.id == id {
			e.backlog = append(e.backlog[:i], e.backlog[i+1:]...)
			return
		}
	}
}

func (e *Engine) wakeWorker() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// run is the per-session backlog worker: one worker per session,
// draining the outbound backlog serially.
func (e *Engine) run() {
	for {
		t := e.popReady()
		if t == nil {
			select {
			case <-e.wake:
				continue
			case <-e.closed:
				return
			}
		}
		e.sendTransfer(t)
	}
}

func (e *Engine) popReady() *outboundTransfer {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if len(e.backlog) == 0 || !e.backlog[0].ready {
		return nil
	}
	t := e.backlog[0]
	e.backlog = e.backlog[1:]
	e.current = t
	return t
}

func (e *Engine) sendTransfer(t *outboundTransfer) {
	defer func() {
		e.outMu.Lock()
		e.current = nil
		e.outMu.Unlock()
	}()

	for t.partCounter < t.totalParts {
		if e.isCancelled(t) {
			return
		}

		start := int(t.partCounter) * wire.PartSize
		end := start + wire.PartSize
		if end > len(t.data) {
			end = len(t.data)
		}

		ok := e.sender.Send(wire.DataMultiStaticMsg{
			MultiblockID:    t.id,
			TotalPartNumber: t.totalParts,
			PartID:          t.partCounter,
			Payload:         t.data[start:end],
		}, false)
		if !ok {
			// A write failure during Close/teardown is expected and not a
			// real transfer error: the session cancelled this transfer,
			// it didn't fail.
			if e.isCancelled(t) {
				return
			}
			e.sender.ReportError(wire.ErrMultiblockFailed, "write failed mid-transfer")
			return
		}

		e.outMu.Lock()
		t.partCounter++
		e.outMu.Unlock()
	}

	if e.isCancelled(t) {
		return
	}

	e.sender.Send(wire.DataMultiFinishMsg{MultiblockID: t.id}, false)
}

// isCancelled reports whether t was aborted (explicitly or via Close)
// or the engine itself has been closed.
func (e *Engine) isCancelled(t *outboundTransfer) bool {
	select {
	case <-e.closed:
		return true
	default:
	}
	e.outMu.Lock()
	defer e.outMu.Unlock()
	return t.aborted
}

// totalParts follows the "no trailing empty part" convention: a payload
// whose size is an exact multiple of PartSize ends with one full-size
// final part, not an extra empty one. Zero-size payloads produce zero
// parts.
func totalParts(size int) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + wire.PartSize - 1) / wire.PartSize)
}

// newMultiblockID returns a random, non-zero 64-bit id, matching the
// teacher's crypto/rand-based token generation (internal/auth.GeneratePasskey)
// rather than math/rand.
func newMultiblockID() uint64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		id := binary.LittleEndian.Uint64(b[:])
		if id != 0 {
			return id
		}
	}
}
