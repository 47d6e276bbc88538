package wire

import "encoding/binary"

// Frame is a fully decoded wire-level message: the common header plus
// its typed body.
type Frame struct {
	Header Header
	Body   Message
}

// TryDecode attempts to slice one complete frame out of buf, the way
// the session's inbound ring buffer is drained. It returns:
//
//   - (frame, n, nil) on success, where n is the number of bytes the
//     frame consumed from buf;
//   - (nil, 0, ErrNeedMore) if buf doesn't yet hold a full frame;
//   - (nil, 0, *FramingError) if the header is structurally invalid.
//
// TryDecode never consumes a prefix of buf on error or NeedMore; the
// caller's ring buffer offset is only advanced on success.
func TryDecode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMore
	}

	h := decodeHeader(buf)

	if h.TotalMessageSize < uint32(HeaderSize+TrailerSize) || h.TotalMessageSize > MaxFrameSize {
		return nil, 0, newFramingError(ErrInvalidMessageSize, "wire: invalid totalMessageSize")
	}

	if uint32(len(buf)) < h.TotalMessageSize {
		return nil, 0, ErrNeedMore
	}

	if h.Version != Version {
		return nil, 0, newFramingError(ErrFalseVersion, "wire: unsupported protocol version")
	}

	if h.PayloadSize != h.TotalMessageSize-uint32(HeaderSize+TrailerSize) {
		return nil, 0, newFramingError(ErrInvalidMessageSize, "wire: payloadSize does not match totalMessageSize")
	}

	body := buf[HeaderSize : HeaderSize+h.PayloadSize]
	trailer := buf[HeaderSize+h.PayloadSize : h.TotalMessageSize]
	if binary.LittleEndian.Uint32(trailer) != Magic {
		return nil, 0, newFramingError(ErrInvalidMessageSize, "wire: bad end-marker")
	}

	msg, err := DecodeBody(h.Type, h.SubType, body)
	if err != nil {
		return nil, 0, newFramingError(ErrInvalidMessageSize, "wire: "+err.Error())
	}

	return &Frame{Header: h, Body: msg}, int(h.TotalMessageSize), nil
}

// EncodeFrame encodes a complete frame: header, body, and end-marker.
// Type, SubType and PayloadSize in h are overwritten from msg and the
// marshaled body length; callers only need to set Flags, Version,
// MessageID and SessionID.
func EncodeFrame(h Header, msg Message) []byte {
	body := msg.MarshalBody()

	h.Type = msg.Type()
	h.SubType = msg.SubType()
	h.PayloadSize = uint32(len(body))
	h.TotalMessageSize = uint32(HeaderSize+TrailerSize) + h.PayloadSize

	out := make([]byte, h.TotalMessageSize)
	h.encodeInto(out[:HeaderSize])
	copy(out[HeaderSize:], body)
	binary.LittleEndian.PutUint32(out[HeaderSize+len(body):], Magic)
	return out
}
