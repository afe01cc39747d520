// Package capture feeds IuUP frames carried in UDP datagrams of a pcap or
// pcapng capture through a decoder.
package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtp"

	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/tree"
)

var (
	ErrUnknownFormat = errors.New("not a pcap or pcapng capture")
	ErrNotRTP        = errors.New("payload is not an RTP packet")
)

var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Options select which datagrams are decoded and how.
type Options struct {
	// Ports restricts decoding to datagrams with a matching source or
	// destination port. Empty means every UDP datagram.
	Ports []uint16
	// RTP strips an RTP header before decoding (Nb interface framing).
	RTP bool
	// Heuristic scans each payload for the first plausible frame start.
	Heuristic bool
	// Tree builds a field tree for every frame.
	Tree bool
}

// Frame is one UDP payload and its decode outcome.
type Frame struct {
	// Index is the 1-based packet number within the capture.
	Index        int
	Timestamp    time.Time
	Conversation iuup.Conversation
	Heuristic    bool
	Payload      []byte
	RTP          *rtp.Header
	Result       *iuup.Result
	Tree         *tree.Node
	Err          error
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader iterates the UDP datagrams of a capture and decodes each one.
type Reader struct {
	closer  io.Closer
	src     *gopacket.PacketSource
	dec     *iuup.Decoder
	opts    Options
	ports   map[uint16]struct{}
	metrics *common.Metrics
	index   int
	size    int64
}

// NewReader opens the capture at path.
func NewReader(path string, dec *iuup.Decoder, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReaderFrom(f, dec, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if info, err := f.Stat(); err == nil {
		r.size = info.Size()
	}
	r.closer = f
	return r, nil
}

// NewReaderFrom reads a capture from an arbitrary stream. The format is
// detected from the leading magic number.
func NewReaderFrom(in io.Reader, dec *iuup.Decoder, opts Options) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, ErrUnknownFormat
	}
	var pr packetReader
	if bytes.Equal(magic, ngMagic) {
		pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true}
	r := &Reader{src: src, dec: dec, opts: opts}
	if len(opts.Ports) > 0 {
		r.ports = make(map[uint16]struct{}, len(opts.Ports))
		for _, p := range opts.Ports {
			r.ports[p] = struct{}{}
		}
	}
	return r, nil
}

// SetMetrics attaches a progress recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if m != nil {
		m.SetTotalBytes(r.size)
	}
}

func (r *Reader) Decoder() *iuup.Decoder {
	return r.dec
}

// Circuits returns the circuits negotiated so far.
func (r *Reader) Circuits() []iuup.CircuitEntry {
	return r.dec.Registry().Snapshot()
}

// Close ends the capture session: every circuit is dropped and the
// underlying file, if any, is closed.
func (r *Reader) Close() error {
	r.dec.Reset()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Next decodes the next matching datagram. It returns io.EOF when the capture
// is exhausted. A decode failure is reported in Frame.Err, not as an error.
func (r *Reader) Next() (Frame, error) {
	for {
		pkt, err := r.src.NextPacket()
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if err != nil {
			return Frame{}, err
		}
		r.index++
		udp, conv, ok := r.match(pkt)
		if !ok {
			if r.metrics != nil {
				r.metrics.AddBytes(int64(pkt.Metadata().CaptureLength))
			}
			continue
		}
		fr := Frame{
			Index:        r.index,
			Timestamp:    pkt.Metadata().Timestamp,
			Conversation: conv,
			Heuristic:    r.opts.Heuristic,
			Payload:      udp.Payload,
		}
		r.decode(&fr)
		if r.metrics != nil {
			r.metrics.AddFrame(int64(pkt.Metadata().CaptureLength))
			switch {
			case fr.Err != nil:
				r.metrics.IncDecodeError()
			case fr.Result != nil && !fr.Result.Located:
				r.metrics.IncHeuristicMiss()
			}
		}
		return fr, nil
	}
}

func (r *Reader) match(pkt gopacket.Packet) (*layers.UDP, iuup.Conversation, bool) {
	l := pkt.Layer(layers.LayerTypeUDP)
	if l == nil {
		return nil, iuup.Conversation{}, false
	}
	udp, _ := l.(*layers.UDP)
	if r.ports != nil {
		_, src := r.ports[uint16(udp.SrcPort)]
		_, dst := r.ports[uint16(udp.DstPort)]
		if !src && !dst {
			return nil, iuup.Conversation{}, false
		}
	}
	conv := iuup.Conversation{Transport: udp.TransportFlow()}
	if nl := pkt.NetworkLayer(); nl != nil {
		conv.Network = nl.NetworkFlow()
	}
	return udp, conv, true
}

func (r *Reader) decode(fr *Frame) {
	payload := fr.Payload
	if r.opts.RTP {
		var p rtp.Packet
		if err := p.Unmarshal(payload); err != nil {
			fr.Err = fmt.Errorf("%w: %v", ErrNotRTP, err)
			return
		}
		fr.RTP = &p.Header
		payload = p.Payload
		fr.Payload = payload
	}
	var sink iuup.Sink
	if r.opts.Tree {
		fr.Tree = tree.New()
		sink = fr.Tree
	}
	if r.opts.Heuristic {
		fr.Result, fr.Err = r.dec.DecodeHeuristic(payload, fr.Conversation, sink)
	} else {
		fr.Result, fr.Err = r.dec.Decode(payload, fr.Conversation, sink)
	}
}
