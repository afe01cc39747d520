package server

import (
	"errors"
	"net"
	"testing"

	"example.com/iuupgate/internal/iuup"
)

func TestParseConversation(t *testing.T) {
	conv, err := parseConversation("10.0.0.1:5000", "10.0.0.2:6000")
	if err != nil {
		t.Fatalf("parseConversation: %v", err)
	}
	rev, err := parseConversation("10.0.0.2:6000", "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("parseConversation: %v", err)
	}
	if conv.Canonical() != rev.Canonical() {
		t.Fatalf("directions differ: %v vs %v", conv.Canonical(), rev.Canonical())
	}
	if got, want := conv.String(), "10.0.0.1:5000 <-> 10.0.0.2:6000"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	if conv, err := parseConversation("", ""); err != nil || conv != (iuup.Conversation{}) {
		t.Fatalf("empty = %v, %v", conv, err)
	}
	if _, err := parseConversation("10.0.0.1:5000", ""); !errors.Is(err, errBadAddr) {
		t.Fatalf("missing dst error = %v", err)
	}
}

func TestUDPConversationIPv6(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1}
	b := &net.UDPAddr{IP: net.ParseIP("::2"), Port: 2}
	if udpConversation(a, b).Canonical() != udpConversation(b, a).Canonical() {
		t.Fatalf("ipv6 conversation not symmetric")
	}
	if udpConversation(nil, b) != (iuup.Conversation{}) {
		t.Fatalf("nil address should give the default conversation")
	}
}
