package iuup

import (
	"encoding/binary"
	"strings"
)

// SubflowNamer supplies display names for subflows of an RFCI.
type SubflowNamer interface {
	SubflowName(rfci uint8, index int) (string, bool)
}

// Options configure a Decoder. The registry mode follows PseudoHeader and
// cannot change after construction.
type Options struct {
	// DecodeSubflows enables splitting data payloads into subflows.
	DecodeSubflows bool
	// PseudoHeader expects a 2-octet direction/circuit prefix on every frame.
	PseudoHeader bool
	Reporter     Reporter
	Names        SubflowNamer
	// Registry defaults to a fresh MemoryRegistry.
	Registry Registry
}

// Decoder decodes IuUP frames and tracks negotiated circuits. It is not safe
// for concurrent use.
type Decoder struct {
	opts     Options
	registry Registry
}

func NewDecoder(opts Options) *Decoder {
	reg := opts.Registry
	if reg == nil {
		reg = NewMemoryRegistry()
	}
	return &Decoder{opts: opts, registry: reg}
}

func (d *Decoder) Options() Options { return d.opts }

func (d *Decoder) Registry() Registry { return d.registry }

// Reset drops every circuit. Call it at the end of a capture or session.
func (d *Decoder) Reset() { d.registry.Reset() }

// Decode decodes buf as one frame, preceded by the pseudoheader when enabled.
// conv selects the circuit in implicit mode and is ignored otherwise.
// The returned Result is non-nil even when an error aborts the frame.
func (d *Decoder) Decode(buf []byte, conv Conversation, sink Sink) (*Result, error) {
	res := &Result{}
	top := d.top(sink, buf)
	key, start, err := d.bind(buf, conv, top, res)
	if err != nil {
		return res, err
	}
	res.Located = true
	res.Offset = start
	return res, d.decodeAt(buf, start, key, top, res)
}

// DecodeHeuristic searches buf for the first plausible frame start and
// decodes from there. When nothing matches, the buffer is emitted as an
// opaque blob and Result.Located is false.
func (d *Decoder) DecodeHeuristic(buf []byte, conv Conversation, sink Sink) (*Result, error) {
	res := &Result{}
	top := d.top(sink, buf)
	key, start, err := d.bind(buf, conv, top, res)
	if err != nil {
		return res, err
	}
	off, ok := Locate(buf[start:])
	if !ok {
		top.Add(Field{Label: "Data", Kind: FieldBytes, Start: start, Length: len(buf) - start, Value: buf[start:]})
		return res, nil
	}
	res.Located = true
	res.Offset = start + off
	if off > 0 {
		top.Add(Field{Label: "Leading Data", Kind: FieldBytes, Start: start, Length: off, Value: buf[start : start+off]})
	}
	return res, d.decodeAt(buf, start+off, key, top, res)
}

func (d *Decoder) top(sink Sink, buf []byte) Item {
	if sink == nil {
		sink = Discard
	}
	return sink.Add(Field{Label: "IuUP", Kind: FieldGroup, Start: 0, Length: len(buf)})
}

func (d *Decoder) bind(buf []byte, conv Conversation, parent Sink, res *Result) (Key, int, error) {
	if !d.opts.PseudoHeader {
		return ConversationKey(conv), 0, nil
	}
	if err := need(buf, 0, pseudoHeaderSize); err != nil {
		return Key{}, 0, err
	}
	phdr := binary.BigEndian.Uint16(buf)
	ph := &PseudoHeader{Direction: uint8(phdr >> 15), CircuitID: phdr & pseudoCircuitMask}
	res.PseudoHeader = ph
	parent.Add(Field{Label: "Frame Direction", Kind: FieldUint, Start: 0, Length: 2, Value: ph.Direction})
	parent.Add(Field{Label: "Circuit ID", Kind: FieldUint, Start: 0, Length: 2, Value: ph.CircuitID})
	return CircuitKey(ph.CircuitID), pseudoHeaderSize, nil
}

func (d *Decoder) decodeAt(buf []byte, base int, key Key, parent Sink, res *Result) error {
	s := &frameState{dec: d, buf: buf[base:], base: base, key: key, res: res}
	err := s.decode(parent)
	res.Summary = strings.TrimSpace(res.Summary)
	return err
}

// frameState is the per-call decoding context of one frame.
type frameState struct {
	dec  *Decoder
	buf  []byte
	base int
	key  Key
	res  *Result
}

func (s *frameState) add(parent Sink, label string, kind FieldKind, off, n int, v any) Item {
	return parent.Add(Field{Label: label, Kind: kind, Start: s.base + off, Length: n, Value: v})
}

func (s *frameState) addText(parent Sink, label string, kind FieldKind, off, n int, v any, text string) Item {
	return parent.Add(Field{Label: label, Kind: kind, Start: s.base + off, Length: n, Value: v, Text: text})
}

func (s *frameState) generated(parent Sink, label string, kind FieldKind, off, n int, v any) Item {
	return parent.Add(Field{Label: label, Kind: kind, Start: s.base + off, Length: n, Value: v, Generated: true})
}

func (s *frameState) note(it Item, off int, a Annotation) {
	a.Offset = s.base + off
	it.Annotate(a)
	s.res.Annotations = append(s.res.Annotations, a)
	if s.dec.opts.Reporter != nil {
		s.dec.opts.Reporter(a)
	}
}

func (s *frameState) decode(parent Sink) error {
	if err := need(s.buf, 0, 1); err != nil {
		return err
	}
	t := PDUType(s.buf[0] >> 4)
	s.res.Frame = Frame{Raw: s.buf, PDUType: t}
	s.res.Summary = t.summary()
	it := s.addText(parent, "PDU Type", FieldUint, 0, 1, uint8(t), t.String())
	switch t {
	case PDUDataWithCRC:
		return s.decodeData(parent, true)
	case PDUDataNoCRC:
		return s.decodeData(parent, false)
	case PDUControl:
		return s.decodeControl(parent)
	default:
		s.note(it, 0, newAnnotation(KindMalformedField, DetailPDUType, "Unknown PDU type %d", uint8(t)))
		return nil
	}
}

func (s *frameState) checkHeaderCRC(parent Sink) {
	got := s.buf[2] >> 2
	want := HeaderCRC6([2]byte{s.buf[0], s.buf[1]})
	it := s.add(parent, "Header CRC", FieldUint, 2, 1, got)
	if got != want {
		s.note(it, 2, newAnnotation(KindChecksumMismatch, DetailHeader,
			"Bad header CRC: got 0x%02x, computed 0x%02x", got, want))
	}
}

// checkPayloadCRC verifies the CRC-10 over everything after octet 3.
// It reports the stored value so callers can record it.
func (s *frameState) checkPayloadCRC(parent Sink) uint16 {
	got := binary.BigEndian.Uint16(s.buf[2:]) & payloadCRCMask
	it := s.add(parent, "Payload CRC", FieldUint, 2, 2, got)
	if PayloadCRC10(s.buf, 2, len(s.buf)-4) != 0 {
		s.note(it, 2, newAnnotation(KindChecksumMismatch, DetailPayload,
			"Bad payload CRC: got 0x%03x, computed 0x%03x", got, ComputePayloadCRC10(s.buf[4:])))
	}
	return got
}

func (s *frameState) spare(parent Sink, off int) {
	if off < len(s.buf) {
		s.add(parent, "Spare", FieldBytes, off, len(s.buf)-off, s.buf[off:])
	}
}
