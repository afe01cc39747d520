package capture

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtp"
)

const snapLen = 65535

// Format is the on-disk capture format produced by Writer.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

// Endpoint is one side of a synthesized UDP datagram.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// Writer synthesizes Ethernet/IPv4/UDP packets around IuUP payloads.
type Writer struct {
	pcap *pcapgo.Writer
	ng   *pcapgo.NgWriter
	buf  gopacket.SerializeBuffer
	seq  uint16
}

func NewWriter(w io.Writer, format Format) (*Writer, error) {
	out := &Writer{buf: gopacket.NewSerializeBuffer()}
	switch format {
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(w, layers.LinkTypeEthernet)
		if err != nil {
			return nil, err
		}
		out.ng = ng
	default:
		pw := pcapgo.NewWriter(w)
		if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return nil, err
		}
		out.pcap = pw
	}
	return out, nil
}

// WriteDatagram writes payload as one UDP datagram from src to dst.
func (w *Writer) WriteDatagram(ts time.Time, src, dst Endpoint, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port), DstPort: layers.UDPPort(dst.Port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(w.buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := w.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if w.ng != nil {
		return w.ng.WritePacket(ci, data)
	}
	return w.pcap.WritePacket(ci, data)
}

// WriteRTP wraps payload in an RTP packet with the next sequence number.
func (w *Writer) WriteRTP(ts time.Time, src, dst Endpoint, payloadType uint8, rtpTimestamp uint32, payload []byte) error {
	w.seq++
	p := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: w.seq,
			Timestamp:      rtpTimestamp,
			SSRC:           0x1002,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	return w.WriteDatagram(ts, src, dst, raw)
}

// Flush completes buffered output. Plain pcap output is unbuffered.
func (w *Writer) Flush() error {
	if w.ng != nil {
		return w.ng.Flush()
	}
	return nil
}
