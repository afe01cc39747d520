package common

import (
	"bytes"
	"testing"
)

func TestParsePorts(t *testing.T) {
	got, err := ParsePorts(" 5000, 6000,,")
	if err != nil {
		t.Fatalf("ParsePorts: %v", err)
	}
	if len(got) != 2 || got[0] != 5000 || got[1] != 6000 {
		t.Fatalf("ParsePorts = %v", got)
	}
	if got, err := ParsePorts(""); err != nil || got != nil {
		t.Fatalf("ParsePorts(\"\") = %v, %v", got, err)
	}
	if _, err := ParsePorts("70000"); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
		ok   bool
	}{
		{in: "0x0102", want: []byte{1, 2}, ok: true},
		{in: "e0:00 2f-00\n", want: []byte{0xE0, 0x00, 0x2F, 0x00}, ok: true},
		{in: "\tAB\r\n", want: []byte{0xAB}, ok: true},
		{in: "  ", ok: false},
		{in: "abc", ok: false},
		{in: "zz", ok: false},
	}
	for _, tc := range tests {
		got, err := ParseHex(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseHex(%q) err = %v", tc.in, err)
		}
		if tc.ok && !bytes.Equal(got, tc.want) {
			t.Fatalf("ParseHex(%q) = %x, want %x", tc.in, got, tc.want)
		}
	}
}
