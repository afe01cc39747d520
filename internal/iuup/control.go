package iuup

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTooManyRFCIs is returned when an Initialization lists more than 64 RFCIs.
var ErrTooManyRFCIs = errors.New("iuup: too many RFCIs in initialization")

var (
	tiTexts    = [2]string{"IPTIs not present", "IPTIs present in frame"}
	chainTexts = [2]string{
		"this frame is the last frame for the procedure",
		"additional frames will be sent for the procedure",
	}
	supportTexts = [2]string{"not supported", "supported"}
	pduTypeTexts = [2]string{"PDU type 0", "PDU type 1"}
)

func boolIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *frameState) decodeControl(parent Sink) error {
	if err := need(s.buf, 0, controlHeaderSize); err != nil {
		return err
	}
	b := s.buf
	h := &ControlHeader{
		AckNack:     AckNack((b[0] & ackNackMask) >> 2),
		FrameNumber: b[0] & ctrlFrameMask,
		ModeVersion: (b[1] & modeVerMask) >> 4,
		Procedure:   ProcedureID(b[1] & procedureMask),
		HeaderCRC:   b[2] >> 2,
		PayloadCRC:  binary.BigEndian.Uint16(b[2:]) & payloadCRCMask,
	}
	s.res.Frame.Control = h

	ackItem := s.addText(parent, "Ack/Nack", FieldUint, 0, 1, uint8(h.AckNack), h.AckNack.String())
	s.add(parent, "Frame Number", FieldUint, 0, 1, h.FrameNumber)
	s.add(parent, "Mode Version", FieldUint, 1, 1, h.ModeVersion)
	procItem := s.addText(parent, "Procedure", FieldUint, 1, 1, uint8(h.Procedure), h.Procedure.String())
	s.checkHeaderCRC(parent)

	s.res.Summary += h.AckNack.summary() + h.Procedure.summary()

	switch h.AckNack {
	case AckNackAck:
		switch h.Procedure {
		case ProcInit:
			s.add(parent, "Spare", FieldUint, 2, 1, b[2]&0x03)
			s.add(parent, "Spare", FieldUint, 3, 1, b[3])
			s.res.Procedure = &InitAck{}
			return nil
		case ProcRateControl:
			return s.decodeRateControl(parent, true)
		case ProcTimeAlignment, ProcErrorEvent:
			return s.decodeTimeOrError(parent, h, true)
		default:
			s.note(procItem, 1, newAnnotation(KindMalformedField, DetailProcedure,
				"Unexpected procedure %d in ACK", uint8(h.Procedure)))
			return nil
		}
	case AckNackNack:
		if err := need(b, 4, 1); err != nil {
			return err
		}
		cause := b[4] >> 2
		it := s.addText(parent, "Error Cause", FieldUint, 4, 1, cause, CauseText(cause))
		s.note(it, 4, causeAnnotation(cause))
		s.res.Procedure = &Nack{Procedure: h.Procedure, Cause: cause}
		return nil
	case AckNackReserved:
		s.note(ackItem, 0, newAnnotation(KindMalformedField, DetailAckNack, "Reserved Ack/Nack value"))
		return nil
	}

	switch h.Procedure {
	case ProcInit:
		s.checkPayloadCRC(parent)
		return s.decodeInit(parent)
	case ProcRateControl:
		s.checkPayloadCRC(parent)
		return s.decodeRateControl(parent, false)
	case ProcTimeAlignment, ProcErrorEvent:
		return s.decodeTimeOrError(parent, h, false)
	default:
		s.note(procItem, 1, newAnnotation(KindMalformedField, DetailProcedure,
			"Reserved procedure %d", uint8(h.Procedure)))
		return nil
	}
}

func (s *frameState) decodeInit(parent Sink) error {
	b := s.buf
	if err := need(b, 4, 1); err != nil {
		return err
	}
	o := b[4]
	ti := o&0x10 != 0
	subflows := int(o&0x0E) >> 1
	chained := o&0x01 != 0
	s.add(parent, "Spare", FieldUint, 4, 1, (o&0xE0)>>5)
	s.addText(parent, "TI", FieldBool, 4, 1, ti, tiTexts[boolIndex(ti)])
	s.add(parent, "Subflows", FieldUint, 4, 1, subflows)
	s.addText(parent, "Chain Indicator", FieldBool, 4, 1, chained, chainTexts[boolIndex(chained)])

	c := newCircuit(0, subflows)
	c.TimingInfo = ti
	c.Chained = chained

	off := 5
	for n := 0; ; n++ {
		if n >= maxRFCIs {
			return fmt.Errorf("%w: offset %d", ErrTooManyRFCIs, s.base+off)
		}
		if err := need(b, off, 1); err != nil {
			return err
		}
		hdr := b[off]
		last := hdr&0x80 != 0
		width := 1
		if hdr&0x40 != 0 {
			width = 2
		}
		id := hdr & rfciMask
		size := 1 + subflows*width
		if err := need(b, off, size); err != nil {
			return err
		}
		rec := s.add(parent, fmt.Sprintf("RFCI %d Initialization", id), FieldGroup, off, size, nil)
		s.add(rec, "LRI", FieldBool, off, 1, last)
		s.add(rec, "LI", FieldBool, off, 1, width == 2)
		s.add(rec, "RFCI", FieldUint, off, 1, id)

		r := RFCI{ID: id, LengthOctets: width}
		p := off + 1
		for i := 0; i < subflows; i++ {
			l := int(b[p])
			if width == 2 {
				l = int(binary.BigEndian.Uint16(b[p:]))
			}
			s.add(rec, fmt.Sprintf("RFCI %d Flow %d Len", id, i), FieldUint, p, width, l)
			r.SubflowLengths = append(r.SubflowLengths, l)
			r.TotalBits += l
			p += width
		}
		c.appendRFCI(r)
		off = p
		if last {
			break
		}
	}

	if ti {
		octets := (len(c.RFCIs) + 1) / 2
		if err := need(b, off, octets); err != nil {
			return err
		}
		iptis := s.add(parent, "IPTIs", FieldGroup, off, octets, nil)
		for i := range c.RFCIs {
			v := b[off+i/2]
			if i%2 == 0 {
				v >>= 4
			} else {
				v &= 0x0F
			}
			c.RFCIs[i].IPTI = &v
			s.add(iptis, fmt.Sprintf("RFCI %d IPTI", c.RFCIs[i].ID), FieldUint, off+i/2, 1, v)
		}
		off += octets
	}

	if err := need(b, off, 3); err != nil {
		return err
	}
	c.ModeVersions = binary.BigEndian.Uint16(b[off:])
	sup := s.add(parent, "Iu UP Mode Versions Supported", FieldUint, off, 2, c.ModeVersions)
	for v := 16; v >= 1; v-- {
		ok := c.SupportsMode(v)
		s.addText(sup, fmt.Sprintf("Version %d", v), FieldBool, off, 2, ok, supportTexts[boolIndex(ok)])
	}
	off += 2

	c.DataPDUType = b[off] >> 4
	text := fmt.Sprintf("Unknown (%d)", c.DataPDUType)
	if c.DataPDUType < 2 {
		text = pduTypeTexts[c.DataPDUType]
	}
	s.addText(parent, "RFCI Data Pdu Type", FieldUint, off, 1, c.DataPDUType, text)

	s.commit(c)
	s.res.Procedure = &InitRequest{Circuit: c}
	return nil
}

// commit installs c as the only configuration of the frame's circuit.
// An existing entry hands its id to the replacement.
func (s *frameState) commit(c *Circuit) {
	reg := s.dec.registry
	if old, ok := reg.Lookup(s.key); ok {
		c.ID = old.ID
		reg.Remove(s.key)
	} else {
		c.ID = s.key.circuitID()
	}
	reg.Put(s.key, c)
	s.res.Committed = c
}

func (s *frameState) decodeRateControl(parent Sink, ack bool) error {
	b := s.buf
	if err := need(b, 4, 1); err != nil {
		return err
	}
	n := int(b[4] & 0x3F)
	if err := need(b, 5, (n+7)/8); err != nil {
		return err
	}
	inds := s.add(parent, "Number of RFCI Indicators", FieldUint, 4, 1, n)
	rc := &RateControl{Ack: ack, Barred: make([]bool, n)}
	for i := 0; i < n; i++ {
		off := 5 + i/8
		barred := b[off]&(0x80>>uint(i%8)) != 0
		rc.Barred[i] = barred
		text := "RFCI allowed"
		if barred {
			text = "RFCI barred"
		}
		s.addText(inds, fmt.Sprintf("RFCI %d", i), FieldBool, off, 1, barred, text)
	}
	s.res.Procedure = rc
	return nil
}

func (s *frameState) decodeTimeOrError(parent Sink, h *ControlHeader, ack bool) error {
	s.checkPayloadCRC(parent)
	b := s.buf
	if err := need(b, 4, 1); err != nil {
		return err
	}
	if h.Procedure == ProcTimeAlignment {
		ta := newTimeAlignment(b[4], ack)
		it := s.add(parent, "Time Align", FieldUint, 4, 1, ta.Value)
		switch {
		case ta.Delay > 0:
			s.generated(it, "Delay", FieldUint, 4, 1, uint32(ta.Delay.Microseconds()))
			s.generated(it, "Delta Time", FieldFloat, 4, 1, ta.Delta())
		case ta.Advance > 0:
			s.generated(it, "Advance", FieldUint, 4, 1, uint32(ta.Advance.Microseconds()))
			s.generated(it, "Delta Time", FieldFloat, 4, 1, ta.Delta())
		default:
			s.note(it, 4, newAnnotation(KindMalformedField, DetailTimeAlign,
				"Time alignment value %d out of range", ta.Value))
		}
		s.spare(parent, 5)
		s.res.Procedure = ta
		return nil
	}

	dist := b[4] >> 6
	cause := b[4] & 0x3F
	s.res.Summary += CauseText(cause)
	s.addText(parent, "Error Distance", FieldUint, 4, 1, dist, DistanceText(dist))
	it := s.addText(parent, "Error Cause", FieldUint, 4, 1, cause, CauseText(cause))
	s.note(it, 4, causeAnnotation(cause))
	s.spare(parent, 5)
	s.res.Procedure = &ErrorEvent{Ack: ack, Distance: dist, Cause: cause}
	return nil
}
