package iuup

import (
	"encoding/binary"
	"fmt"
)

func (s *frameState) decodeData(parent Sink, withCRC bool) error {
	hdrLen := 3
	if withCRC {
		hdrLen = 4
	}
	b := s.buf
	if err := need(b, 0, hdrLen); err != nil {
		return err
	}
	h := &DataHeader{
		FrameNumber: b[0] & dataFrameMask,
		Quality:     FrameQuality((b[1] & fqcMask) >> 6),
		RFCI:        b[1] & rfciMask,
		HeaderCRC:   b[2] >> 2,
		HasCRC:      withCRC,
	}
	s.res.Frame.Data = h
	s.res.Summary += fmt.Sprintf("FN: %x RFCI: %d", h.FrameNumber, h.RFCI)

	s.add(parent, "Frame Number", FieldUint, 0, 1, h.FrameNumber)
	fqc := s.addText(parent, "FQC", FieldUint, 1, 1, uint8(h.Quality), h.Quality.String())
	if h.Quality != FQCGood {
		s.note(fqc, 1, newAnnotation(KindErrorResponse, DetailFrameQuality, "Frame quality: %s", h.Quality))
	}
	s.add(parent, "RFCI", FieldUint, 1, 1, h.RFCI)
	s.checkHeaderCRC(parent)
	if withCRC {
		h.PayloadCRC = binary.BigEndian.Uint16(b[2:]) & payloadCRCMask
		s.checkPayloadCRC(parent)
	}

	off := hdrLen
	if off == len(b) {
		return nil
	}
	payload := b[off:]
	s.res.Payload = payload
	it := s.add(parent, "Payload Data", FieldBytes, off, len(payload), payload)
	if !s.dec.opts.DecodeSubflows {
		return nil
	}
	c, ok := s.dec.registry.Lookup(s.key)
	if !ok {
		s.note(it, off, newAnnotation(KindUndecodedPayload, DetailUnknownCircuit,
			"No initialization seen for %s", s.key))
		return nil
	}
	r, ok := c.RFCI(h.RFCI)
	if !ok {
		s.note(it, off, newAnnotation(KindUndecodedPayload, DetailUnknownRFCI,
			"RFCI %d not negotiated on circuit %d", h.RFCI, c.ID))
		return nil
	}
	return s.demux(it, r, off)
}

// demux splits the payload starting at off into repeated instances of the
// RFCI's subflow set.
func (s *frameState) demux(parent Sink, r *RFCI, off int) error {
	last := len(s.buf) - 1
	for off <= last {
		group := s.add(parent, "Payload Frame", FieldGroup, off, len(s.buf)-off, nil)
		pf := PayloadFrame{Offset: s.base + off}
		bit := 0
		for i, n := range r.SubflowLengths {
			if n == 0 {
				continue
			}
			data, err := ExtractBits(s.buf, off+bit/8, bit%8, n)
			if err != nil {
				return err
			}
			sf := Subflow{Index: i, Name: s.subflowName(r.ID, i), Bits: n, Data: data}
			group.Add(Field{
				Label:  sf.Name,
				Kind:   FieldBytes,
				Start:  s.base + off + bit/8,
				Length: len(data),
				Value:  data,
				Text:   fmt.Sprintf("%d Bits", n),
			})
			pf.Subflows = append(pf.Subflows, sf)
			bit += n
		}
		s.res.Frames = append(s.res.Frames, pf)
		if r.TotalBits == 0 {
			break
		}
		off += (bit + 7) / 8
	}
	return nil
}

func (s *frameState) subflowName(rfci uint8, index int) string {
	if names := s.dec.opts.Names; names != nil {
		if name, ok := names.SubflowName(rfci, index); ok {
			return name
		}
	}
	return fmt.Sprintf("RFCI %d Flow %d", rfci, index)
}
