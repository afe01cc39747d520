package iuup

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestLocate(t *testing.T) {
	init, err := EncodeInit(&Circuit{SubflowCount: 1, RFCIs: []RFCI{{ID: 1, SubflowLengths: []int{8}}}}, 0, 0)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	junk := []byte{0xFF, 0xFF, 0xFF}
	tests := []struct {
		name   string
		buf    []byte
		offset int
		ok     bool
	}{
		{name: "frame at start", buf: init, offset: 0, ok: true},
		{name: "frame after junk", buf: append(append([]byte(nil), junk...), init...), offset: 3, ok: true},
		{name: "data with crc", buf: append(append([]byte(nil), junk...), EncodeData(DataHeader{HasCRC: true, RFCI: 2}, []byte{1, 2, 3})...), offset: 3, ok: true},
		{name: "all ones", buf: bytes.Repeat([]byte{0xFF}, 32)},
		{name: "too short", buf: []byte{0xE0, 0x00, 0x00}},
		{name: "empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			off, ok := Locate(tc.buf)
			if ok != tc.ok {
				t.Fatalf("Locate ok = %v, want %v", ok, tc.ok)
			}
			if ok && off != tc.offset {
				t.Fatalf("Locate offset = %d, want %d", off, tc.offset)
			}
		})
	}
}

func TestPlausibleFrame(t *testing.T) {
	goodData := EncodeData(DataHeader{HasCRC: true, RFCI: 2}, []byte{1, 2, 3})
	badData := append([]byte(nil), goodData...)
	badData[5] ^= 0x10
	badHeader := append([]byte(nil), goodData...)
	badHeader[2] ^= 0x80

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{name: "data with crc", buf: goodData, want: true},
		{name: "data with bad payload crc", buf: badData},
		{name: "bad header crc", buf: badHeader},
		{name: "data with crc too short", buf: EncodeData(DataHeader{HasCRC: true}, []byte{1, 2})},
		{name: "data without crc", buf: EncodeData(DataHeader{RFCI: 1}, []byte{1, 2}), want: true},
		{name: "data without crc too short", buf: EncodeData(DataHeader{RFCI: 1}, []byte{1})},
		{name: "time alignment", buf: EncodeTimeAlignment(10, false, 0), want: true},
		{name: "reserved procedure", buf: EncodeControl(ControlHeader{Procedure: 4}, []byte{0})},
		{name: "unknown pdu type", buf: []byte{0x20, 0x00, HeaderCRC6([2]byte{0x20, 0x00}) << 2, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := plausibleFrame(tc.buf); got != tc.want {
				t.Fatalf("plausibleFrame(% x) = %v, want %v", tc.buf, got, tc.want)
			}
		})
	}
}

func TestDecodeHeuristicNoMatch(t *testing.T) {
	buf := bytes.Repeat([]byte{0xFF}, 12)
	rec := &recorder{}
	d := NewDecoder(Options{})
	res, err := d.DecodeHeuristic(buf, Conversation{}, rec)
	if err != nil {
		t.Fatalf("DecodeHeuristic: %v", err)
	}
	if res.Located {
		t.Fatalf("Located = true for junk")
	}
	n := rec.find("Data")
	if n == nil || n.Start != 0 || n.Length != len(buf) {
		t.Fatalf("blob item = %+v", n)
	}
}

func TestDecodeHeuristicMatch(t *testing.T) {
	init, err := EncodeInit(&Circuit{SubflowCount: 1, RFCIs: []RFCI{{ID: 1, SubflowLengths: []int{8}}}}, 0, 0)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	buf := append([]byte{0xFF, 0xF0}, init...)
	rec := &recorder{}
	d := NewDecoder(Options{})
	res, err := d.DecodeHeuristic(buf, Conversation{}, rec)
	if err != nil {
		t.Fatalf("DecodeHeuristic: %v", err)
	}
	if !res.Located || res.Offset != 2 {
		t.Fatalf("Located = %v at %d, want offset 2", res.Located, res.Offset)
	}
	if res.Committed == nil {
		t.Fatalf("init not committed")
	}
	if n := rec.find("Header CRC"); n == nil || n.Start != 4 {
		t.Fatalf("header CRC item = %+v, want start 4", n)
	}
	if rec.find("Leading Data") == nil {
		t.Fatalf("leading bytes not emitted")
	}
}

func TestLocatorPayloadCRCMatchesPayloadCRC10(t *testing.T) {
	rng := rand.New(rand.NewSource(25415))
	for _, n := range []int{7, 8, 33, 257, 1024} {
		buf := make([]byte, n)
		rng.Read(buf)
		// a real frame at the tail covers the zero remainder
		frame := EncodeData(DataHeader{HasCRC: true, RFCI: 1}, buf[:3])
		if n >= len(frame) {
			copy(buf[n-len(frame):], frame)
		}
		l := locator{buf: buf}
		for off := 0; n-off >= 7; off++ {
			want := PayloadCRC10(buf[off:], 2, n-off-4)
			if got := l.payloadCRC(off); got != want {
				t.Fatalf("n=%d off=%d payloadCRC = 0x%03x, want 0x%03x", n, off, got, want)
			}
		}
	}
}

func TestLocateAdversarialBufferIsLinear(t *testing.T) {
	// Every offset of a zero buffer is a type 0 candidate with a valid
	// header CRC; the flipped last octet makes every payload CRC fail.
	buf := make([]byte, 64<<10)
	buf[len(buf)-1] ^= 0x5A
	for off := 0; off < 4096; off++ {
		b := buf[off:]
		if b[0]>>4 != 0 || HeaderCRC6([2]byte{b[0], b[1]}) != b[2]>>2 {
			t.Fatalf("offset %d is not a data-with-CRC candidate", off)
		}
	}

	start := time.Now()
	off, ok := Locate(buf)
	elapsed := time.Since(start)
	if ok {
		t.Fatalf("Locate = %d, true; want no match", off)
	}
	if elapsed > time.Second {
		t.Fatalf("Locate over %d octets took %v", len(buf), elapsed)
	}

	// the same buffer with an intact tail matches at the first offset
	buf[len(buf)-1] = 0
	if off, ok := Locate(buf); !ok || off != 0 {
		t.Fatalf("Locate = %d, %v; want 0, true", off, ok)
	}
}
