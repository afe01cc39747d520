package iuup

import "fmt"

// Severity grades an annotation.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// Kind is the class of a protocol finding attached to a decoded item.
type Kind string

const (
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindMalformedField   Kind = "malformed_field"
	KindUndecodedPayload Kind = "undecoded_payload"
	KindErrorResponse    Kind = "error_response"
)

// Severity returns the fixed severity for the kind.
func (k Kind) Severity() Severity {
	switch k {
	case KindChecksumMismatch, KindMalformedField:
		return SeverityError
	case KindUndecodedPayload:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// Annotation details.
const (
	DetailHeader         = "header"
	DetailPayload        = "payload"
	DetailAckNack        = "ack_nack"
	DetailProcedure      = "procedure"
	DetailPDUType        = "pdu_type"
	DetailTimeAlign      = "time_align"
	DetailUnknownCircuit = "unknown_circuit"
	DetailUnknownRFCI    = "unknown_rfci"
	DetailCause          = "cause"
	DetailFrameQuality   = "frame_quality"
)

// Annotation is a non-fatal finding attached to one decoded item.
type Annotation struct {
	Kind     Kind     `json:"kind"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Cause is set for error responses carrying an error cause value.
	Cause *uint8 `json:"cause,omitempty"`
	// Offset is the start of the annotated item in the caller buffer.
	Offset int `json:"offset"`
}

func (a Annotation) String() string {
	return fmt.Sprintf("%s %s/%s at %d: %s", a.Severity, a.Kind, a.Detail, a.Offset, a.Message)
}

func newAnnotation(kind Kind, detail, format string, args ...any) Annotation {
	return Annotation{
		Kind:     kind,
		Detail:   detail,
		Severity: kind.Severity(),
		Message:  fmt.Sprintf(format, args...),
	}
}

func causeAnnotation(cause uint8) Annotation {
	a := newAnnotation(KindErrorResponse, DetailCause, "Error Cause: %s (%d)", CauseText(cause), cause)
	c := cause
	a.Cause = &c
	return a
}

// Reporter receives every annotation produced while decoding.
type Reporter func(Annotation)

var causeTexts = map[uint8]string{
	0:  "CRC error of frame header",
	1:  "CRC error of frame payload",
	2:  "Unexpected frame number",
	3:  "Frame loss",
	4:  "PDU type unknown",
	5:  "Unknown procedure",
	6:  "Unknown reserved value",
	7:  "Unknown field",
	8:  "Frame too short",
	9:  "Missing fields",
	16: "Unexpected PDU type",
	18: "Unexpected procedure",
	19: "Unexpected RFCI",
	20: "Unexpected value",
	42: "Initialisation failure",
	43: "Initialisation failure (network error, timer expiry)",
	44: "Initialisation failure (Iu UP function error, repeated NACK)",
	45: "Rate control failure",
	46: "Error event failure",
	47: "Time Alignment not supported",
	48: "Requested Time Alignment not possible",
	49: "Iu UP Mode version not supported",
}

// CauseText maps an error cause value to its name.
func CauseText(cause uint8) string {
	if s, ok := causeTexts[cause]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", cause)
}

var distanceTexts = [4]string{
	"Reporting local",
	"First forwarding of error event report",
	"Second forwarding of error event report",
	"Reserved",
}

// DistanceText names an error distance value.
func DistanceText(d uint8) string {
	return distanceTexts[d&0x03]
}
