package wire

import (
	"bytes"
	"testing"
)

// roundTrip encodes msg, decodes it back, and returns the decoded frame.
func roundTrip(t *testing.T, h Header, msg Message) *Frame {
	t.Helper()
	encoded := EncodeFrame(h, msg)
	frame, n, err := TryDecode(encoded)
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	return frame
}

func TestRoundTripSessionInitStart(t *testing.T) {
	h := Header{Version: Version, MessageID: 7, SessionID: 0, Flags: FlagReplyExpected}
	msg := SessionInitStartMsg{OfferedSessionID: 42, SessionIdentifier: 0x1122334455}
	frame := roundTrip(t, h, msg)

	if frame.Header.Type != SessionType || frame.Header.SubType != SessionInitStart {
		t.Fatalf("unexpected header: %+v", frame.Header)
	}
	if !frame.Header.ReplyExpected() {
		t.Fatalf("expected ReplyExpected flag set")
	}
	got, ok := frame.Body.(SessionInitStartMsg)
	if !ok {
		t.Fatalf("body type = %T", frame.Body)
	}
	if got != msg {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestRoundTripSessionIDChange(t *testing.T) {
	h := Header{Version: Version}
	msg := SessionIDChangeMsg{OldOfferedSessionID: 42, NewOfferedSessionID: 77}
	frame := roundTrip(t, h, msg)
	if got := frame.Body.(SessionIDChangeMsg); got != msg {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestRoundTripHeartbeat(t *testing.T) {
	h := Header{Version: Version, Flags: FlagReplyExpected}
	frame := roundTrip(t, h, HeartbeatStartMsg{})
	if _, ok := frame.Body.(HeartbeatStartMsg); !ok {
		t.Fatalf("body type = %T", frame.Body)
	}

	h2 := Header{Version: Version, Flags: FlagIsReply}
	frame2 := roundTrip(t, h2, HeartbeatReplyMsg{})
	if !frame2.Header.IsReply() {
		t.Fatalf("expected IsReply flag set")
	}
}

func TestRoundTripError(t *testing.T) {
	h := Header{Version: Version}
	msg := ErrorMsg{Code: ErrMessageTimeout, Message: "no reply within deadline"}
	frame := roundTrip(t, h, msg)
	got := frame.Body.(ErrorMsg)
	if got.Code != msg.Code || got.Message != msg.Message {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestRoundTripDataSingleStatic(t *testing.T) {
	h := Header{Version: Version}
	payload := []byte("hello")
	frame := roundTrip(t, h, DataSingleStaticMsg{Payload: payload})
	got := frame.Body.(DataSingleStaticMsg)
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("got %q, want %q", got.Payload, payload)
	}
}

func TestRoundTripDataSingleDynamic(t *testing.T) {
	h := Header{Version: Version}
	payload := bytes.Repeat([]byte("x"), DataSingleStaticStride+500)
	frame := roundTrip(t, h, DataSingleDynamicMsg{Payload: payload})
	got := frame.Body.(DataSingleDynamicMsg)
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch, len got=%d want=%d", len(got.Payload), len(payload))
	}
}

func TestRoundTripDataMultiStatic(t *testing.T) {
	h := Header{Version: Version}
	payload := bytes.Repeat([]byte("a"), PartSize)
	msg := DataMultiStaticMsg{MultiblockID: 0xCAFEBABE, TotalPartNumber: 3, PartID: 1, Payload: payload}
	frame := roundTrip(t, h, msg)
	got := frame.Body.(DataMultiStaticMsg)
	if got.MultiblockID != msg.MultiblockID || got.TotalPartNumber != msg.TotalPartNumber || got.PartID != msg.PartID {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestTryDecodeNeedMore(t *testing.T) {
	h := Header{Version: Version}
	encoded := EncodeFrame(h, SessionInitReplyMsg{SessionID: 1})

	for n := 0; n < len(encoded); n++ {
		_, _, err := TryDecode(encoded[:n])
		if err != ErrNeedMore {
			t.Fatalf("TryDecode(%d bytes) = %v, want ErrNeedMore", n, err)
		}
	}
}

func TestTryDecodeBadVersion(t *testing.T) {
	h := Header{Version: Version}
	encoded := EncodeFrame(h, HeartbeatStartMsg{})
	encoded[3] = 0x99 // corrupt version byte

	_, _, err := TryDecode(encoded)
	fe, ok := err.(*FramingError)
	if !ok {
		t.Fatalf("err = %v, want *FramingError", err)
	}
	if fe.Code != ErrFalseVersion {
		t.Fatalf("code = %v, want ErrFalseVersion", fe.Code)
	}
}

func TestTryDecodeBadMagic(t *testing.T) {
	h := Header{Version: Version}
	encoded := EncodeFrame(h, HeartbeatStartMsg{})
	encoded[len(encoded)-1] ^= 0xFF // corrupt end-marker

	_, _, err := TryDecode(encoded)
	fe, ok := err.(*FramingError)
	if !ok {
		t.Fatalf("err = %v, want *FramingError", err)
	}
	if fe.Code != ErrInvalidMessageSize {
		t.Fatalf("code = %v, want ErrInvalidMessageSize", fe.Code)
	}
}

func TestTryDecodeBadSize(t *testing.T) {
	h := Header{Version: Version}
	encoded := EncodeFrame(h, HeartbeatStartMsg{})
	// Corrupt payloadSize field to disagree with totalMessageSize.
	encoded[16] ^= 0xFF

	_, _, err := TryDecode(encoded)
	fe, ok := err.(*FramingError)
	if !ok {
		t.Fatalf("err = %v, want *FramingError", err)
	}
	if fe.Code != ErrInvalidMessageSize {
		t.Fatalf("code = %v, want ErrInvalidMessageSize", fe.Code)
	}
}

func TestTryDecodeConsumesOnlyOneFrame(t *testing.T) {
	h := Header{Version: Version}
	first := EncodeFrame(h, SessionInitReplyMsg{SessionID: 1})
	second := EncodeFrame(h, SessionInitReplyMsg{SessionID: 2})
	buf := append(append([]byte{}, first...), second...)

	frame, n, err := TryDecode(buf)
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if n != len(first) {
		t.Fatalf("consumed %d, want %d", n, len(first))
	}
	if got := frame.Body.(SessionInitReplyMsg).SessionID; got != 1 {
		t.Fatalf("got sessionId=%d, want 1", got)
	}

	frame2, n2, err := TryDecode(buf[n:])
	if err != nil {
		t.Fatalf("TryDecode second frame: %v", err)
	}
	if n2 != len(second) {
		t.Fatalf("consumed %d, want %d", n2, len(second))
	}
	if got := frame2.Body.(SessionInitReplyMsg).SessionID; got != 2 {
		t.Fatalf("got sessionId=%d, want 2", got)
	}
}
