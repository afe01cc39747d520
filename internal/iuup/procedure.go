package iuup

import "time"

// Procedure is the decoded body of a control frame. The concrete type is one
// of InitRequest, InitAck, RateControl, TimeAlignment, ErrorEvent or Nack.
type Procedure interface {
	ProcedureID() ProcedureID
}

// InitRequest carries the configuration an Initialization negotiates.
type InitRequest struct {
	Circuit *Circuit
}

func (*InitRequest) ProcedureID() ProcedureID { return ProcInit }

// InitAck acknowledges an Initialization. It carries only spare bits.
type InitAck struct{}

func (*InitAck) ProcedureID() ProcedureID { return ProcInit }

// RateControl lists which RFCIs are barred.
type RateControl struct {
	Ack    bool
	Barred []bool
}

func (*RateControl) ProcedureID() ProcedureID { return ProcRateControl }

// Allowed returns the indexes of the RFCI indicators that are not barred.
func (r *RateControl) Allowed() []int {
	var out []int
	for i, b := range r.Barred {
		if !b {
			out = append(out, i)
		}
	}
	return out
}

// TimeAlignment requests a delay or an advance of the frame timing.
type TimeAlignment struct {
	Ack   bool
	Value uint8
	// Valid is false when Value is outside both the delay and advance ranges.
	Valid   bool
	Delay   time.Duration
	Advance time.Duration
}

func (*TimeAlignment) ProcedureID() ProcedureID { return ProcTimeAlignment }

// Delta returns the signed adjustment in seconds: positive for a delay.
func (t *TimeAlignment) Delta() float64 {
	return (t.Delay - t.Advance).Seconds()
}

// ErrorEvent reports an error at some distance from the sender.
type ErrorEvent struct {
	Ack      bool
	Distance uint8
	Cause    uint8
}

func (*ErrorEvent) ProcedureID() ProcedureID { return ProcErrorEvent }

// Nack rejects a procedure with a cause.
type Nack struct {
	Procedure ProcedureID
	Cause     uint8
}

func (n *Nack) ProcedureID() ProcedureID { return n.Procedure }

const (
	taDelayMin    = 1
	taDelayMax    = 80
	taAdvanceMin  = 129
	taAdvanceMax  = 208
	taAdvanceBase = 128
	taStep        = 500 * time.Microsecond
)

func newTimeAlignment(v uint8, ack bool) *TimeAlignment {
	t := &TimeAlignment{Ack: ack, Value: v}
	switch {
	case v >= taDelayMin && v <= taDelayMax:
		t.Valid = true
		t.Delay = time.Duration(v) * taStep
	case v >= taAdvanceMin && v <= taAdvanceMax:
		t.Valid = true
		t.Advance = time.Duration(v-taAdvanceBase) * taStep
	}
	return t
}
