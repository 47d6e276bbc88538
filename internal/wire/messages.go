package wire

import "encoding/binary"

// Message is a decoded/encodable frame body. Every sub-message type
// implements it.
type Message interface {
	Type() Type
	SubType() SubType
	MarshalBody() []byte
}

// --- SESSION_TYPE ---

type SessionInitStartMsg struct {
	OfferedSessionID  uint32
	SessionIdentifier uint64
}

func (SessionInitStartMsg) Type() Type       { return SessionType }
func (SessionInitStartMsg) SubType() SubType { return SessionInitStart }
func (m SessionInitStartMsg) MarshalBody() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], m.OfferedSessionID)
	binary.LittleEndian.PutUint64(b[4:12], m.SessionIdentifier)
	return b
}

type SessionInitReplyMsg struct {
	SessionID uint32
}

func (SessionInitReplyMsg) Type() Type       { return SessionType }
func (SessionInitReplyMsg) SubType() SubType { return SessionInitReply }

func (m SessionInitReplyMsg) MarshalBody() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, m.SessionID)
	return b
}

type SessionIDChangeMsg struct {
	OldOfferedSessionID uint32
	NewOfferedSessionID uint32
}

func (SessionIDChangeMsg) Type() Type       { return SessionType }
func (SessionIDChangeMsg) SubType() SubType { return SessionIDChange }
func (m SessionIDChangeMsg) MarshalBody() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], m.OldOfferedSessionID)
	binary.LittleEndian.PutUint32(b[4:8], m.NewOfferedSessionID)
	return b
}

type SessionIDConfirmMsg struct {
	ConfirmedSessionID uint32
}

func (SessionIDConfirmMsg) Type() Type       { return SessionType }
func (SessionIDConfirmMsg) SubType() SubType { return SessionIDConfirm }
func (m SessionIDConfirmMsg) MarshalBody() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, m.ConfirmedSessionID)
	return b
}

type SessionCloseStartMsg struct {
	SessionID     uint32
	ReplyExpected bool
}

func (SessionCloseStartMsg) Type() Type       { return SessionType }
func (SessionCloseStartMsg) SubType() SubType { return SessionCloseStart }
func (m SessionCloseStartMsg) MarshalBody() []byte {
	b := make([]byte, 5)
	binary.LittleEndian.PutUint32(b[0:4], m.SessionID)
	if m.ReplyExpected {
		b[4] = 1
	}
	return b
}

type SessionCloseReplyMsg struct {
	SessionID uint32
}

func (SessionCloseReplyMsg) Type() Type       { return SessionType }
func (SessionCloseReplyMsg) SubType() SubType { return SessionCloseReply }
func (m SessionCloseReplyMsg) MarshalBody() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, m.SessionID)
	return b
}

// --- HEARTBEAT_TYPE ---

type HeartbeatStartMsg struct{}

func (HeartbeatStartMsg) Type() Type            { return HeartbeatType }
func (HeartbeatStartMsg) SubType() SubType      { return HeartbeatStart }
func (HeartbeatStartMsg) MarshalBody() []byte   { return nil }

type HeartbeatReplyMsg struct{}

func (HeartbeatReplyMsg) Type() Type          { return HeartbeatType }
func (HeartbeatReplyMsg) SubType() SubType    { return HeartbeatReply }
func (HeartbeatReplyMsg) MarshalBody() []byte { return nil }

// --- ERROR_TYPE ---

type ErrorMsg struct {
	Code    ErrorCode
	Message string
}

func (ErrorMsg) Type() Type       { return ErrorType }
func (m ErrorMsg) SubType() SubType { return SubType(m.Code) }
func (m ErrorMsg) MarshalBody() []byte {
	msg := []byte(m.Message)
	b := make([]byte, 5+len(msg))
	b[0] = byte(m.Code)
	binary.LittleEndian.PutUint32(b[1:5], uint32(len(msg)))
	copy(b[5:], msg)
	return b
}

// --- DATA_SINGLE_TYPE ---

type DataSingleStaticMsg struct {
	Payload []byte
}

func (DataSingleStaticMsg) Type() Type       { return DataSingleType }
func (DataSingleStaticMsg) SubType() SubType { return DataSingleStatic }
func (m DataSingleStaticMsg) MarshalBody() []byte {
	b := make([]byte, 4+DataSingleStaticStride)
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(m.Payload)))
	copy(b[4:], m.Payload)
	return b
}

type DataSingleDynamicMsg struct {
	Payload []byte
}

func (DataSingleDynamicMsg) Type() Type       { return DataSingleType }
func (DataSingleDynamicMsg) SubType() SubType { return DataSingleDynamic }
func (m DataSingleDynamicMsg) MarshalBody() []byte {
	b := make([]byte, 4+len(m.Payload))
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(m.Payload)))
	copy(b[4:], m.Payload)
	return b
}

type DataSingleReplyMsg struct{}

func (DataSingleReplyMsg) Type() Type          { return DataSingleType }
func (DataSingleReplyMsg) SubType() SubType    { return DataSingleReply }
func (DataSingleReplyMsg) MarshalBody() []byte { return nil }

// --- DATA_MULTI_TYPE ---

type DataMultiInitMsg struct {
	MultiblockID uint64
	TotalSize    uint64
}

func (DataMultiInitMsg) Type() Type       { return DataMultiType }
func (DataMultiInitMsg) SubType() SubType { return DataMultiInit }
func (m DataMultiInitMsg) MarshalBody() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], m.MultiblockID)
	binary.LittleEndian.PutUint64(b[8:16], m.TotalSize)
	return b
}

type DataMultiInitReplyMsg struct {
	MultiblockID uint64
	Status       MultiStatus
}

func (DataMultiInitReplyMsg) Type() Type       { return DataMultiType }
func (DataMultiInitReplyMsg) SubType() SubType { return DataMultiInitReply }
func (m DataMultiInitReplyMsg) MarshalBody() []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint64(b[0:8], m.MultiblockID)
	b[8] = byte(m.Status)
	return b
}

type DataMultiStaticMsg struct {
	MultiblockID    uint64
	TotalPartNumber uint32
	PartID          uint32
	Payload         []byte
}

func (DataMultiStaticMsg) Type() Type       { return DataMultiType }
func (DataMultiStaticMsg) SubType() SubType { return DataMultiStatic }
func (m DataMultiStaticMsg) MarshalBody() []byte {
	b := make([]byte, 20+len(m.Payload))
	binary.LittleEndian.PutUint64(b[0:8], m.MultiblockID)
	binary.LittleEndian.PutUint32(b[8:12], m.TotalPartNumber)
	binary.LittleEndian.PutUint32(b[12:16], m.PartID)
	binary.LittleEndian.PutUint32(b[16:20], uint32(len(m.Payload)))
	copy(b[20:], m.Payload)
	return b
}

type DataMultiFinishMsg struct {
	MultiblockID uint64
}

func (DataMultiFinishMsg) Type() Type       { return DataMultiType }
func (DataMultiFinishMsg) SubType() SubType { return DataMultiFinish }
func (m DataMultiFinishMsg) MarshalBody() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, m.MultiblockID)
	return b
}

type DataMultiAbortInitMsg struct {
	MultiblockID uint64
}

func (DataMultiAbortInitMsg) Type() Type       { return DataMultiType }
func (DataMultiAbortInitMsg) SubType() SubType { return DataMultiAbortInit }
func (m DataMultiAbortInitMsg) MarshalBody() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, m.MultiblockID)
	return b
}

type DataMultiAbortReplyMsg struct {
	MultiblockID uint64
}

func (DataMultiAbortReplyMsg) Type() Type       { return DataMultiType }
func (DataMultiAbortReplyMsg) SubType() SubType { return DataMultiAbortReply }
func (m DataMultiAbortReplyMsg) MarshalBody() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, m.MultiblockID)
	return b
}

// DecodeBody decodes a raw body given its (type, subType) pair, the way
// goet's protocol.DecodePayload switches on a single message type byte;
// this protocol needs the pair because subType is only unique within a
// type's namespace.
func DecodeBody(t Type, st SubType, body []byte) (Message, error) {
	switch t {
	case SessionType:
		return decodeSessionBody(st, body)
	case HeartbeatType:
		return decodeHeartbeatBody(st)
	case ErrorType:
		return decodeErrorBody(st, body)
	case DataSingleType:
		return decodeDataSingleBody(st, body)
	case DataMultiType:
		return decodeDataMultiBody(st, body)
	default:
		return nil, ErrUnknownMessage
	}
}

func decodeSessionBody(st SubType, body []byte) (Message, error) {
	switch st {
	case SessionInitStart:
		if len(body) < 12 {
			return nil, ErrShortPayload
		}
		return SessionInitStartMsg{
			OfferedSessionID:  binary.LittleEndian.Uint32(body[0:4]),
			SessionIdentifier: binary.LittleEndian.Uint64(body[4:12]),
		}, nil
	case SessionInitReply:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		return SessionInitReplyMsg{SessionID: binary.LittleEndian.Uint32(body[0:4])}, nil
	case SessionIDChange:
		if len(body) < 8 {
			return nil, ErrShortPayload
		}
		return SessionIDChangeMsg{
			OldOfferedSessionID: binary.LittleEndian.Uint32(body[0:4]),
			NewOfferedSessionID: binary.LittleEndian.Uint32(body[4:8]),
		}, nil
	case SessionIDConfirm:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		return SessionIDConfirmMsg{ConfirmedSessionID: binary.LittleEndian.Uint32(body[0:4])}, nil
	case SessionCloseStart:
		if len(body) < 5 {
			return nil, ErrShortPayload
		}
		return SessionCloseStartMsg{
			SessionID:     binary.LittleEndian.Uint32(body[0:4]),
			ReplyExpected: body[4] != 0,
		}, nil
	case SessionCloseReply:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		return SessionCloseReplyMsg{SessionID: binary.LittleEndian.Uint32(body[0:4])}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

func decodeHeartbeatBody(st SubType) (Message, error) {
	switch st {
	case HeartbeatStart:
		return HeartbeatStartMsg{}, nil
	case HeartbeatReply:
		return HeartbeatReplyMsg{}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

func decodeErrorBody(st SubType, body []byte) (Message, error) {
	if len(body) < 5 {
		return nil, ErrShortPayload
	}
	msgLen := binary.LittleEndian.Uint32(body[1:5])
	if len(body) < int(5+msgLen) {
		return nil, ErrShortPayload
	}
	return ErrorMsg{
		Code:    ErrorCode(body[0]),
		Message: string(body[5 : 5+msgLen]),
	}, nil
}

func decodeDataSingleBody(st SubType, body []byte) (Message, error) {
	switch st {
	case DataSingleStatic:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		n := binary.LittleEndian.Uint32(body[0:4])
		if len(body) < int(4+n) || n > DataSingleStaticStride {
			return nil, ErrShortPayload
		}
		payload := make([]byte, n)
		copy(payload, body[4:4+n])
		return DataSingleStaticMsg{Payload: payload}, nil
	case DataSingleDynamic:
		if len(body) < 4 {
			return nil, ErrShortPayload
		}
		n := binary.LittleEndian.Uint32(body[0:4])
		if len(body) < int(4+n) {
			return nil, ErrShortPayload
		}
		payload := make([]byte, n)
		copy(payload, body[4:4+n])
		return DataSingleDynamicMsg{Payload: payload}, nil
	case DataSingleReply:
		return DataSingleReplyMsg{}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

func decodeDataMultiBody(st SubType, body []byte) (Message, error) {
	switch st {
	case DataMultiInit:
		if len(body) < 16 {
			return nil, ErrShortPayload
		}
		return DataMultiInitMsg{
			MultiblockID: binary.LittleEndian.Uint64(body[0:8]),
			TotalSize:    binary.LittleEndian.Uint64(body[8:16]),
		}, nil
	case DataMultiInitReply:
		if len(body) < 9 {
			return nil, ErrShortPayload
		}
		return DataMultiInitReplyMsg{
			MultiblockID: binary.LittleEndian.Uint64(body[0:8]),
			Status:       MultiStatus(body[8]),
		}, nil
	case DataMultiStatic:
		if len(body) < 20 {
			return nil, ErrShortPayload
		}
		n := binary.LittleEndian.Uint32(body[16:20])
		if len(body) < int(20+n) {
			return nil, ErrShortPayload
		}
		payload := make([]byte, n)
		copy(payload, body[20:20+n])
		return DataMultiStaticMsg{
			MultiblockID:    binary.LittleEndian.Uint64(body[0:8]),
			TotalPartNumber: binary.LittleEndian.Uint32(body[8:12]),
			PartID:          binary.LittleEndian.Uint32(body[12:16]),
			Payload:         payload,
		}, nil
	case DataMultiFinish:
		if len(body) < 8 {
			return nil, ErrShortPayload
		}
		return DataMultiFinishMsg{MultiblockID: binary.LittleEndian.Uint64(body[0:8])}, nil
	case DataMultiAbortInit:
		if len(body) < 8 {
			return nil, ErrShortPayload
		}
		return DataMultiAbortInitMsg{MultiblockID: binary.LittleEndian.Uint64(body[0:8])}, nil
	case DataMultiAbortReply:
		if len(body) < 8 {
			return nil, ErrShortPayload
		}
		return DataMultiAbortReplyMsg{MultiblockID: binary.LittleEndian.Uint64(body[0:8])}, nil
	default:
		return nil, ErrUnknownMessage
	}
}
