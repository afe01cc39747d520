package iuup

import "fmt"

// PDUType is the 4-bit discriminant in the high nibble of octet 0.
type PDUType uint8

const (
	PDUDataWithCRC PDUType = 0
	PDUDataNoCRC   PDUType = 1
	PDUControl     PDUType = 14
)

const (
	pduTypeMask    = 0xF0
	ackNackMask    = 0x0C
	ctrlFrameMask  = 0x03
	modeVerMask    = 0xF0
	procedureMask  = 0x0F
	dataFrameMask  = 0x0F
	fqcMask        = 0xC0
	rfciMask       = 0x3F
	payloadCRCMask = 0x03FF

	pseudoHeaderSize  = 2
	pseudoDirection   = 0x8000
	pseudoCircuitMask = 0x7FFF

	controlHeaderSize = 4
	maxRFCIs          = 64
	maxSubflows       = 8
)

func (t PDUType) String() string {
	switch t {
	case PDUDataWithCRC:
		return "Data with CRC"
	case PDUDataNoCRC:
		return "Data without CRC"
	case PDUControl:
		return "Control Procedure"
	default:
		return fmt.Sprintf("Unknown PDU Type(%d)", uint8(t))
	}
}

func (t PDUType) summary() string {
	switch t {
	case PDUDataWithCRC:
		return "Data (CRC) "
	case PDUDataNoCRC:
		return "Data (no CRC) "
	case PDUControl:
		return ""
	default:
		return fmt.Sprintf("Unknown PDU Type(%d) ", uint8(t))
	}
}

// AckNack is the 2-bit ACK/NACK field of a control frame.
type AckNack uint8

const (
	AckNackProcedure AckNack = 0
	AckNackAck       AckNack = 1
	AckNackNack      AckNack = 2
	AckNackReserved  AckNack = 3
)

func (a AckNack) String() string {
	switch a {
	case AckNackProcedure:
		return "Procedure"
	case AckNackAck:
		return "ACK"
	case AckNackNack:
		return "NACK"
	default:
		return "Reserved"
	}
}

func (a AckNack) summary() string {
	switch a {
	case AckNackProcedure:
		return ""
	case AckNackAck:
		return "ACK "
	case AckNackNack:
		return "NACK "
	default:
		return "Reserved "
	}
}

// ProcedureID is the 4-bit procedure indicator of a control frame.
type ProcedureID uint8

const (
	ProcInit          ProcedureID = 0
	ProcRateControl   ProcedureID = 1
	ProcTimeAlignment ProcedureID = 2
	ProcErrorEvent    ProcedureID = 3
)

func (p ProcedureID) String() string {
	switch p {
	case ProcInit:
		return "Initialization"
	case ProcRateControl:
		return "Rate Control"
	case ProcTimeAlignment:
		return "Time Alignment"
	case ProcErrorEvent:
		return "Error Event"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(p))
	}
}

func (p ProcedureID) summary() string {
	if p <= ProcErrorEvent {
		return p.String() + " "
	}
	return fmt.Sprintf("[proc:%d] ", uint8(p))
}

// FrameQuality is the frame quality classification of a data frame.
type FrameQuality uint8

const (
	FQCGood     FrameQuality = 0
	FQCBad      FrameQuality = 1
	FQCBadRadio FrameQuality = 2
	FQCSpare    FrameQuality = 3
)

func (q FrameQuality) String() string {
	switch q {
	case FQCGood:
		return "Frame Good"
	case FQCBad:
		return "Frame BAD"
	case FQCBadRadio:
		return "Frame bad due to radio"
	default:
		return "spare"
	}
}

// ControlHeader holds the fixed fields of a control frame.
type ControlHeader struct {
	AckNack     AckNack
	FrameNumber uint8
	ModeVersion uint8
	Procedure   ProcedureID
	HeaderCRC   uint8
	PayloadCRC  uint16
}

// DataHeader holds the fixed fields of a data frame.
type DataHeader struct {
	FrameNumber uint8
	Quality     FrameQuality
	RFCI        uint8
	HeaderCRC   uint8
	PayloadCRC  uint16
	HasCRC      bool
}

// Frame is the transient per-call view of one IuUP frame.
type Frame struct {
	Raw     []byte
	PDUType PDUType
	Control *ControlHeader
	Data    *DataHeader
}

// PseudoHeader is the optional 2-octet prefix carrying direction and circuit id.
type PseudoHeader struct {
	Direction uint8
	CircuitID uint16
}

// Subflow is one extracted bit-field of a payload frame.
type Subflow struct {
	Index int
	Name  string
	Bits  int
	Data  []byte
}

// PayloadFrame is one repetition of an RFCI's subflow set inside a data payload.
type PayloadFrame struct {
	Offset   int
	Subflows []Subflow
}

// Result is what one decode call produced besides the sink output.
type Result struct {
	Frame        Frame
	PseudoHeader *PseudoHeader
	// Offset is where the frame started inside the caller buffer.
	Offset      int
	Located     bool
	Summary     string
	Procedure   Procedure
	Payload     []byte
	Frames      []PayloadFrame
	Committed   *Circuit
	Annotations []Annotation
}

// HasErrors reports whether any annotation carries error severity.
func (r *Result) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, a := range r.Annotations {
		if a.Severity == SeverityError {
			return true
		}
	}
	return false
}
