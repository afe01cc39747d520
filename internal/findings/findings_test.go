package findings

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/iuupgate/internal/iuup"
)

func TestRecordAnnotationsAndErrors(t *testing.T) {
	d := iuup.NewDecoder(iuup.Options{DecodeSubflows: true})
	c := NewCollector("capture.pcap")

	res, err := d.Decode(iuup.EncodeData(iuup.DataHeader{HasCRC: true, RFCI: 4}, []byte{1, 2}), iuup.Conversation{}, nil)
	got := c.Record(Frame{Index: 1, Timestamp: time.Unix(10, 5000), Result: res, Err: err})
	if len(got) != 1 || got[0].Kind != string(iuup.KindUndecodedPayload) || got[0].Offset != "0x4" {
		t.Fatalf("findings = %+v", got)
	}
	if got[0].TimestampUs == nil || *got[0].TimestampUs != 10_000_005 {
		t.Fatalf("timestamp_us = %v", got[0].TimestampUs)
	}

	res, err = d.Decode([]byte{0xE0}, iuup.Conversation{}, nil)
	got = c.Record(Frame{Index: 2, Result: res, Err: err})
	if len(got) != 1 || got[0].Kind != KindDecodeError || got[0].Severity != iuup.SeverityError {
		t.Fatalf("findings = %+v", got)
	}

	res, _ = d.DecodeHeuristic(bytes.Repeat([]byte{0xFF}, 8), iuup.Conversation{}, nil)
	got = c.Record(Frame{Index: 3, Heuristic: true, Result: res})
	if len(got) != 1 || got[0].Kind != KindNoFrame {
		t.Fatalf("findings = %+v", got)
	}

	s := c.Stats()
	if s.Frames != 3 || s.DataFrames != 1 || s.DecodeErrors != 1 || s.Unlocated != 1 {
		t.Fatalf("stats = %+v", s)
	}

	rep := c.MakeReport(CaptureInfo{File: "capture.pcap"}, nil)
	if rep.Summary.Total != 3 || rep.Summary.Errors != 1 || rep.Summary.Warnings != 2 || rep.Summary.Pass {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if len(rep.KindCounts) != 3 {
		t.Fatalf("kind counts = %+v", rep.KindCounts)
	}
}

func TestStatsCountProcedures(t *testing.T) {
	d := iuup.NewDecoder(iuup.Options{})
	c := NewCollector("x")
	for _, f := range [][]byte{iuup.EncodeInitAck(0, 0), iuup.EncodeInitAck(1, 0), iuup.EncodeTimeAlignment(3, false, 0)} {
		res, err := d.Decode(f, iuup.Conversation{}, nil)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		c.Record(Frame{Result: res})
	}
	s := c.Stats()
	if s.ControlFrames != 3 || s.Procedures["ACK Initialization"] != 2 || s.Procedures["Time Alignment"] != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if !c.MakeReport(CaptureInfo{}, nil).Summary.Pass {
		t.Fatalf("clean capture should pass")
	}
}

func TestNDJSONRoundTrip(t *testing.T) {
	c := NewCollector("in.pcap")
	c.Record(Frame{Index: 7, Err: errors.New("boom")})
	c.Record(Frame{Index: 8, Err: errors.New("bang")})
	path := filepath.Join(t.TempDir(), "findings.jsonl")
	if err := c.WriteNDJSON(path); err != nil {
		t.Fatalf("WriteNDJSON: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, err := ReadNDJSON(f)
	if err != nil {
		t.Fatalf("ReadNDJSON: %v", err)
	}
	if len(got) != 2 || got[0].FrameIndex != 7 || got[1].Message != "bang" {
		t.Fatalf("findings = %+v", got)
	}

	raw, _ := json.Marshal(got[0])
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := m["timestamp_us"]; !ok || v != nil {
		t.Fatalf("timestamp_us = %v, %v; want explicit null", v, ok)
	}
}
