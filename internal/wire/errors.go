package wire

import "errors"

// ErrNeedMore signals the buffer does not yet hold a complete frame.
// Callers should wait for more bytes and retry.
var ErrNeedMore = errors.New("wire: need more bytes")

// ErrUnknownMessage is returned by DecodeBody for a (type, subType) pair
// this codec does not recognize.
var ErrUnknownMessage = errors.New("wire: unknown message type")

// ErrShortPayload is returned by DecodeBody when a payload is too short
// for the fields its (type, subType) declares.
var ErrShortPayload = errors.New("wire: payload too short")

// FramingError is a framing error: the frame's header failed
// structural validation (bad version, bad magic, or an inconsistent
// size). It always carries one of ErrFalseVersion or
// ErrInvalidMessageSize as Code.
type FramingError struct {
	Code ErrorCode
	Msg  string
}

func (e *FramingError) Error() string {
	return e.Msg
}

func newFramingError(code ErrorCode, msg string) *FramingError {
	return &FramingError{Code: code, Msg: msg}
}
