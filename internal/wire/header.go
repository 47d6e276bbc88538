package wire

import "encoding/binary"

// Header is the fixed 20-byte common header prefixing every frame.
type Header struct {
	Type             Type
	SubType          SubType
	Flags            byte
	Version          byte
	MessageID        uint32
	SessionID        uint32
	TotalMessageSize uint32
	PayloadSize      uint32
}

// ReplyExpected reports whether the sender wants a reply to this frame.
func (h Header) ReplyExpected() bool { return h.Flags&FlagReplyExpected != 0 }

// IsReply reports whether this frame itself is a reply.
func (h Header) IsReply() bool { return h.Flags&FlagIsReply != 0 }

func decodeHeader(b []byte) Header {
	return Header{
		Type:             Type(b[0]),
		SubType:          SubType(b[1]),
		Flags:            b[2],
		Version:          b[3],
		MessageID:        binary.LittleEndian.Uint32(b[4:8]),
		SessionID:        binary.LittleEndian.Uint32(b[8:12]),
		TotalMessageSize: binary.LittleEndian.Uint32(b[12:16]),
		PayloadSize:      binary.LittleEndian.Uint32(b[16:20]),
	}
}

func (h Header) encodeInto(b []byte) {
	b[0] = byte(h.Type)
	b[1] = byte(h.SubType)
	b[2] = h.Flags
	b[3] = h.Version
	binary.LittleEndian.PutUint32(b[4:8], h.MessageID)
	binary.LittleEndian.PutUint32(b[8:12], h.SessionID)
	binary.LittleEndian.PutUint32(b[12:16], h.TotalMessageSize)
	binary.LittleEndian.PutUint32(b[16:20], h.PayloadSize)
}
