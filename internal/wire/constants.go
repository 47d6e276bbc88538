package wire

// Wire format version. Frames carrying any other value fail decode with
// ErrFalseVersion.
const Version = 0x01

// HeaderSize is the length in bytes of the common frame header:
// type(1) subType(1) flags(1) version(1) messageId(4) sessionId(4)
// totalMessageSize(4) payloadSize(4).
const HeaderSize = 20

// TrailerSize is the length in bytes of the end-marker that closes
// every frame.
const TrailerSize = 4

// Magic is the 4-byte end-marker value, little-endian on the wire.
const Magic uint32 = 0xDEADCAFE

// MaxFrameSize bounds totalMessageSize to guard against a corrupt or
// hostile peer claiming an unbounded frame. Multiblock payloads travel in
// PartSize-sized pieces; a DATA_SINGLE/DYNAMIC frame carries its whole
// payload, so a dynamic payload is bounded by this limit as well.
const MaxFrameSize = 4 * 1024 * 1024

// PartSize is the fixed chunk size used to fragment outbound multiblock
// payloads. The final part of a transfer may be shorter.
const PartSize = 1000

// DataSingleStaticStride is the fixed, zero-padded payload width carried
// by a DATA_SINGLE/STATIC frame. Smaller payloads pad with zero bytes up
// to the stride; payloadSize records the real length. Payloads larger
// than the stride must use DATA_SINGLE/DYNAMIC instead.
const DataSingleStaticStride = 1024

// Type identifies a frame's message class.
type Type byte

const (
	SessionType    Type = 1
	HeartbeatType  Type = 2
	ErrorType      Type = 3
	DataSingleType Type = 4
	DataMultiType  Type = 5
)

func (t Type) String() string {
	switch t {
	case SessionType:
		return "SESSION"
	case HeartbeatType:
		return "HEARTBEAT"
	case ErrorType:
		return "ERROR"
	case DataSingleType:
		return "DATA_SINGLE"
	case DataMultiType:
		return "DATA_MULTI"
	default:
		return "UNKNOWN"
	}
}

// SubType identifies a frame within its Type's namespace.
type SubType byte

const (
	// SessionType sub-types.
	SessionInitStart  SubType = 1
	SessionInitReply  SubType = 2
	SessionIDChange   SubType = 3
	SessionIDConfirm  SubType = 4
	SessionCloseStart SubType = 5
	SessionCloseReply SubType = 6

	// HeartbeatType sub-types.
	HeartbeatStart SubType = 1
	HeartbeatReply SubType = 2

	// ErrorType sub-types double as wire error codes.
	ErrFalseVersionCode       SubType = 1
	ErrUnknownSessionCode     SubType = 2
	ErrInvalidMessageSizeCode SubType = 3
	ErrMessageTimeoutCode     SubType = 4
	ErrMultiblockFailedCode   SubType = 5

	// DataSingleType sub-types.
	DataSingleStatic  SubType = 1
	DataSingleDynamic SubType = 2
	DataSingleReply   SubType = 3

	// DataMultiType sub-types.
	DataMultiInit       SubType = 1
	DataMultiInitReply  SubType = 2
	DataMultiStatic     SubType = 3
	DataMultiFinish     SubType = 4
	DataMultiAbortInit  SubType = 5
	DataMultiAbortReply SubType = 6
)

// Flags bits.
const (
	FlagReplyExpected byte = 1 << 0
	FlagIsReply       byte = 1 << 1
)

// MultiStatus is the OK/FAIL payload of a DATA_MULTI/INIT_REPLY frame.
type MultiStatus byte

const (
	MultiOK   MultiStatus = 0
	MultiFail MultiStatus = 1
)

// ErrorCode is the process-wide error taxonomy, also used as the
// subType of an ERROR_TYPE frame.
type ErrorCode byte

const (
	ErrUndefined           ErrorCode = 0
	ErrFalseVersion        ErrorCode = 1
	ErrUnknownSession      ErrorCode = 2
	ErrInvalidMessageSize  ErrorCode = 3
	ErrMessageTimeout      ErrorCode = 4
	ErrMultiblockFailed    ErrorCode = 5
)

func (c ErrorCode) String() string {
	switch c {
	case ErrFalseVersion:
		return "FALSE_VERSION"
	case ErrUnknownSession:
		return "UNKNOWN_SESSION"
	case ErrInvalidMessageSize:
		return "INVALID_MESSAGE_SIZE"
	case ErrMessageTimeout:
		return "MESSAGE_TIMEOUT"
	case ErrMultiblockFailed:
		return "MULTIBLOCK_FAILED"
	default:
		return "UNDEFINED"
	}
}
