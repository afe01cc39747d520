package iuup

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidFrame is returned by the encoders for parameters that cannot be
// represented on the wire.
var ErrInvalidFrame = errors.New("iuup: invalid frame parameters")

func sealHeader(f []byte, payloadCRC uint16) {
	f[2] = HeaderCRC6([2]byte{f[0], f[1]})<<2 | byte(payloadCRC>>8)&0x03
	f[3] = byte(payloadCRC)
}

// EncodeControl builds a control frame from h and body. Both CRCs are
// computed; the CRC fields of h are ignored.
func EncodeControl(h ControlHeader, body []byte) []byte {
	f := make([]byte, controlHeaderSize+len(body))
	f[0] = byte(PDUControl)<<4 | byte(h.AckNack&0x03)<<2 | h.FrameNumber&ctrlFrameMask
	f[1] = (h.ModeVersion&0x0F)<<4 | byte(h.Procedure)&procedureMask
	copy(f[controlHeaderSize:], body)
	sealHeader(f, ComputePayloadCRC10(body))
	return f
}

// EncodeData builds a data frame. HasCRC selects PDU type 0 or 1.
func EncodeData(h DataHeader, payload []byte) []byte {
	hdrLen := 3
	t := PDUDataNoCRC
	if h.HasCRC {
		hdrLen = 4
		t = PDUDataWithCRC
	}
	f := make([]byte, hdrLen+len(payload))
	f[0] = byte(t)<<4 | h.FrameNumber&dataFrameMask
	f[1] = byte(h.Quality&0x03)<<6 | h.RFCI&rfciMask
	copy(f[hdrLen:], payload)
	if h.HasCRC {
		sealHeader(f, ComputePayloadCRC10(payload))
	} else {
		f[2] = HeaderCRC6([2]byte{f[0], f[1]}) << 2
	}
	return f
}

// EncodeInit builds the Initialization request that negotiates c.
func EncodeInit(c *Circuit, frameNumber, modeVersion uint8) ([]byte, error) {
	if c.SubflowCount < 0 || c.SubflowCount > 7 {
		return nil, fmt.Errorf("%w: %d subflows", ErrInvalidFrame, c.SubflowCount)
	}
	if len(c.RFCIs) == 0 || len(c.RFCIs) > maxRFCIs {
		return nil, fmt.Errorf("%w: %d RFCIs", ErrInvalidFrame, len(c.RFCIs))
	}
	o := byte(c.SubflowCount) << 1
	if c.TimingInfo {
		o |= 0x10
	}
	if c.Chained {
		o |= 0x01
	}
	body := []byte{o}
	for i, r := range c.RFCIs {
		if len(r.SubflowLengths) != c.SubflowCount {
			return nil, fmt.Errorf("%w: RFCI %d has %d lengths, want %d",
				ErrInvalidFrame, r.ID, len(r.SubflowLengths), c.SubflowCount)
		}
		width := r.LengthOctets
		if width == 0 {
			width = 1
			for _, l := range r.SubflowLengths {
				if l > 0xFF {
					width = 2
				}
			}
		}
		hdr := r.ID & rfciMask
		if width == 2 {
			hdr |= 0x40
		}
		if i == len(c.RFCIs)-1 {
			hdr |= 0x80
		}
		body = append(body, hdr)
		for _, l := range r.SubflowLengths {
			if l < 0 || (width == 1 && l > 0xFF) || l > 0xFFFF {
				return nil, fmt.Errorf("%w: RFCI %d length %d", ErrInvalidFrame, r.ID, l)
			}
			if width == 2 {
				body = binary.BigEndian.AppendUint16(body, uint16(l))
			} else {
				body = append(body, byte(l))
			}
		}
	}
	if c.TimingInfo {
		iptis := make([]byte, (len(c.RFCIs)+1)/2)
		for i, r := range c.RFCIs {
			var v byte
			if r.IPTI != nil {
				v = *r.IPTI & 0x0F
			}
			if i%2 == 0 {
				iptis[i/2] |= v << 4
			} else {
				iptis[i/2] |= v
			}
		}
		body = append(body, iptis...)
	}
	body = binary.BigEndian.AppendUint16(body, c.ModeVersions)
	body = append(body, c.DataPDUType<<4)
	h := ControlHeader{FrameNumber: frameNumber, ModeVersion: modeVersion, Procedure: ProcInit}
	return EncodeControl(h, body), nil
}

// EncodeInitAck builds the acknowledgement of an Initialization.
func EncodeInitAck(frameNumber, modeVersion uint8) []byte {
	return EncodeControl(ControlHeader{
		AckNack:     AckNackAck,
		FrameNumber: frameNumber,
		ModeVersion: modeVersion,
		Procedure:   ProcInit,
	}, nil)
}

// EncodeRateControl builds a Rate Control request or acknowledgement.
func EncodeRateControl(barred []bool, ack bool, frameNumber uint8) ([]byte, error) {
	if len(barred) > 0x3F {
		return nil, fmt.Errorf("%w: %d rate control indicators", ErrInvalidFrame, len(barred))
	}
	body := make([]byte, 1+(len(barred)+7)/8)
	body[0] = byte(len(barred))
	for i, b := range barred {
		if b {
			body[1+i/8] |= 0x80 >> uint(i%8)
		}
	}
	return EncodeControl(ControlHeader{AckNack: ackValue(ack), FrameNumber: frameNumber, Procedure: ProcRateControl}, body), nil
}

// EncodeTimeAlignment builds a Time Alignment frame carrying value.
func EncodeTimeAlignment(value uint8, ack bool, frameNumber uint8) []byte {
	return EncodeControl(ControlHeader{AckNack: ackValue(ack), FrameNumber: frameNumber, Procedure: ProcTimeAlignment}, []byte{value})
}

// EncodeErrorEvent builds an Error Event frame.
func EncodeErrorEvent(distance, cause uint8, ack bool, frameNumber uint8) []byte {
	return EncodeControl(ControlHeader{AckNack: ackValue(ack), FrameNumber: frameNumber, Procedure: ProcErrorEvent},
		[]byte{(distance&0x03)<<6 | cause&0x3F})
}

// EncodeNack builds a negative acknowledgement of proc.
func EncodeNack(proc ProcedureID, cause uint8, frameNumber uint8) []byte {
	return EncodeControl(ControlHeader{AckNack: AckNackNack, FrameNumber: frameNumber, Procedure: proc},
		[]byte{(cause & 0x3F) << 2})
}

// WithPseudoHeader prefixes frame with the direction/circuit pseudoheader.
func WithPseudoHeader(direction uint8, circuit uint16, frame []byte) []byte {
	v := uint16(direction&0x01)<<15 | circuit&pseudoCircuitMask
	out := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(frame)), v)
	return append(out, frame...)
}

// PackSubflows concatenates left-aligned bit fields, one per non-zero length,
// padding the result to a whole octet.
func PackSubflows(lengths []int, fields [][]byte) ([]byte, error) {
	total := 0
	for _, l := range lengths {
		total += l
	}
	out := make([]byte, (total+7)/8)
	bit := 0
	for i, l := range lengths {
		if l == 0 {
			continue
		}
		if i >= len(fields) || len(fields[i])*8 < l {
			return nil, fmt.Errorf("%w: subflow %d needs %d bits", ErrInvalidFrame, i, l)
		}
		for j := 0; j < l; j++ {
			if fields[i][j/8]&(0x80>>uint(j%8)) != 0 {
				out[bit/8] |= 0x80 >> uint(bit%8)
			}
			bit++
		}
	}
	return out, nil
}

func ackValue(ack bool) AckNack {
	if ack {
		return AckNackAck
	}
	return AckNackProcedure
}
