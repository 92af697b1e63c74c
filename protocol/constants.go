package protocol

// Generic PDU constants shared by the device agent and the host client.
// All higher layers should depend on this file.
const (
	// PDU sizing
	// Layout:
	//   Header (28) | Payload (0-4060) | Footer (8)
	// Header:  Magic(4) | Seq(4) | RRN(4) | SubDev(4) | Status(4) | PayloadLen(4) | TimestampMs(4)
	// Footer:  Checksum(4) | EndMagic(4)
	// Everything little-endian on the wire.

	HeaderSize = 28
	FooterSize = 8

	// The whole PDU is assembled in one fixed buffer of this size,
	// nothing is allocated on the receive path.
	MaxPDUSize = 4096

	// Application-level payload allowance
	MaxPayloadSize = MaxPDUSize - HeaderSize - FooterSize

	// Intervals (milliseconds)
	BeaconInterval = 1000

	// Timeout value disabling the receive wait bound entirely.
	IndefiniteWait = 0xffffffff
)

// Direction-specific framing magics. The device never accepts an echo of
// its own outbound traffic because the two directions use distinct pairs.
const (
	DeviceStartMagic = 0x3e414353 // "SCA>"
	DeviceEndMagic   = 0x5343413c // "<ACS"
	HostStartMagic   = 0x3e545348 // "HST>"
	HostEndMagic     = 0x4853543c // "<TSH"
)

// Magics is the framing pair for one transfer direction.
type Magics struct {
	Start uint32
	End   uint32
}

var (
	// DeviceToHost frames PDUs emitted by the agent.
	DeviceToHost = Magics{Start: DeviceStartMagic, End: DeviceEndMagic}
	// HostToDevice frames PDUs emitted by the debugging host.
	HostToDevice = Magics{Start: HostStartMagic, End: HostEndMagic}
)

// RRNID identifies a request, response or notification PDU.
type RRNID uint32

// Request identifiers, only valid inbound on the device side.
const (
	RRNInvalid RRNID = 0

	ReqConnect        RRNID = 1
	ReqLocalMemRead   RRNID = 2
	ReqLocalMemWrite  RRNID = 3
	ReqLocalMmioRead  RRNID = 4
	ReqLocalMmioWrite RRNID = 5
	ReqSysRead        RRNID = 6
	ReqSysWrite       RRNID = 7
	ReqHostMemRead    RRNID = 8
	ReqHostMemWrite   RRNID = 9
	ReqHostMmioRead   RRNID = 10
	ReqHostMmioWrite  RRNID = 11

	reqFirst        RRNID = ReqConnect
	reqInvalidFirst RRNID = 12
)

// Response identifiers, one per request kind.
const (
	RespConnect        RRNID = 64
	RespLocalMemRead   RRNID = 65
	RespLocalMemWrite  RRNID = 66
	RespLocalMmioRead  RRNID = 67
	RespLocalMmioWrite RRNID = 68
	RespSysRead        RRNID = 69
	RespSysWrite       RRNID = 70
	RespHostMemRead    RRNID = 71
	RespHostMemWrite   RRNID = 72
	RespHostMmioRead   RRNID = 73
	RespHostMmioWrite  RRNID = 74

	respFirst        RRNID = RespConnect
	respInvalidFirst RRNID = 75
)

// Notification identifiers, emitted by the device without a prior request.
const (
	NotBeacon RRNID = 128
	NotLogMsg RRNID = 129

	notFirst        RRNID = NotBeacon
	notInvalidFirst RRNID = 130
)

// IsRequest reports whether id lies in the request identifier range.
func IsRequest(id RRNID) bool {
	return id >= reqFirst && id < reqInvalidFirst
}

// IsResponse reports whether id lies in the response identifier range.
func IsResponse(id RRNID) bool {
	return id >= respFirst && id < respInvalidFirst
}

// IsNotification reports whether id lies in the notification identifier range.
func IsNotification(id RRNID) bool {
	return id >= notFirst && id < notInvalidFirst
}

// ValidWidth reports whether n is a supported register access width.
// Register-style transfers allow exactly the four power-of-two widths.
func ValidWidth(n uint32) bool {
	return n == 1 || n == 2 || n == 4 || n == 8
}

// Status is the signed status code carried in every PDU header.
type Status int32

const (
	StatusSuccess          Status = 0
	StatusTryAgain         Status = 1
	StatusInvalidParameter Status = -1
	StatusBufferOverflow   Status = -2
	StatusNotImplemented   Status = -3
	StatusInvalidState     Status = -4
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTryAgain:
		return "try again"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusBufferOverflow:
		return "buffer overflow"
	case StatusNotImplemented:
		return "not implemented"
	case StatusInvalidState:
		return "invalid state"
	}
	return "unknown status"
}
