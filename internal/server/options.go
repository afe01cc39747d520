package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/metrics"
)

// Options configures server creation.
type Options struct {
	StorageDir string
	// Decoder configures the live session decoder. Its Registry is ignored.
	Decoder iuup.Options
	// Heuristic and RTP describe the framing of live datagrams.
	Heuristic bool
	RTP       bool
	Metrics   *metrics.Metrics
	// MetricsPath defaults to /metrics. Metrics are not served when nil.
	MetricsPath string
	// UploadLimit caps the size of an uploaded capture in bytes.
	UploadLimit int64
}

var errBadAddr = errors.New("invalid udp address")

// udpConversation derives the conversation of a datagram from its addresses
// the same way the capture reader derives it from packet flows.
func udpConversation(src, dst *net.UDPAddr) iuup.Conversation {
	if src == nil || dst == nil {
		return iuup.Conversation{}
	}
	netType := layers.EndpointIPv4
	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP == nil || dstIP == nil {
		netType = layers.EndpointIPv6
		srcIP, dstIP = src.IP.To16(), dst.IP.To16()
	}
	port := func(p int) []byte { return []byte{byte(p >> 8), byte(p)} }
	return iuup.Conversation{
		Network:   gopacket.NewFlow(netType, srcIP, dstIP),
		Transport: gopacket.NewFlow(layers.EndpointUDPPort, port(src.Port), port(dst.Port)),
	}
}

// parseConversation reads the src and dst query values ("ip:port").
// Both empty selects the default conversation.
func parseConversation(src, dst string) (iuup.Conversation, error) {
	src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
	if src == "" && dst == "" {
		return iuup.Conversation{}, nil
	}
	a, err := net.ResolveUDPAddr("udp", src)
	if err != nil || a.IP == nil {
		return iuup.Conversation{}, fmt.Errorf("%w: src %q", errBadAddr, src)
	}
	b, err := net.ResolveUDPAddr("udp", dst)
	if err != nil || b.IP == nil {
		return iuup.Conversation{}, fmt.Errorf("%w: dst %q", errBadAddr, dst)
	}
	return udpConversation(a, b), nil
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && v
}
