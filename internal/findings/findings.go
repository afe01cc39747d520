// Package findings turns per-frame decode results into a flat list of
// findings and an acceptance-style report.
package findings

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"example.com/iuupgate/internal/iuup"
)

// Kinds recorded in addition to the decoder's annotation kinds.
const (
	KindDecodeError = "decode_error"
	KindNoFrame     = "no_frame"
)

// Finding is one annotation or error raised while decoding a capture.
type Finding struct {
	Ts           time.Time     `json:"ts"`
	File         string        `json:"file"`
	FrameIndex   int           `json:"frameIndex"`
	Offset       string        `json:"offset,omitempty"`
	Conversation string        `json:"conversation,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Kind         string        `json:"kind"`
	Detail       string        `json:"detail,omitempty"`
	Severity     iuup.Severity `json:"severity"`
	Message      string        `json:"message"`
	TimestampUs  *int64        `json:"timestamp_us"`
}

// Frame is what the caller knows about one decoded frame.
type Frame struct {
	Index        int
	Timestamp    time.Time
	Conversation string
	Heuristic    bool
	Result       *iuup.Result
	Err          error
}

// Stats counts frames by type and outcome.
type Stats struct {
	Frames        int            `json:"frames"`
	DataFrames    int            `json:"dataFrames"`
	ControlFrames int            `json:"controlFrames"`
	PayloadFrames int            `json:"payloadFrames"`
	Subflows      int            `json:"subflows"`
	Procedures    map[string]int `json:"procedures,omitempty"`
	DecodeErrors  int            `json:"decodeErrors"`
	Unlocated     int            `json:"unlocated"`
}

// KindCount is the number of findings sharing a kind and detail.
type KindCount struct {
	Kind     string        `json:"kind"`
	Detail   string        `json:"detail,omitempty"`
	Severity iuup.Severity `json:"severity"`
	Count    int           `json:"count"`
}

// CaptureInfo identifies the decoded capture file.
type CaptureInfo struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Report is the JSON document written for one capture.
type Report struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Infos    int  `json:"infos"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	Capture    CaptureInfo         `json:"capture"`
	Stats      Stats               `json:"stats"`
	KindCounts []KindCount         `json:"kindCounts"`
	Circuits   []iuup.CircuitEntry `json:"circuits,omitempty"`
	Findings   []Finding           `json:"findings,omitempty"`
}

// Collector accumulates findings for one capture.
type Collector struct {
	file     string
	findings []Finding
	stats    Stats
}

func NewCollector(file string) *Collector {
	return &Collector{file: file, stats: Stats{Procedures: make(map[string]int)}}
}

// Record converts one frame into findings and returns the ones it added.
func (c *Collector) Record(f Frame) []Finding {
	start := len(c.findings)
	c.stats.Frames++
	var tsUs *int64
	if !f.Timestamp.IsZero() {
		us := f.Timestamp.UnixMicro()
		tsUs = &us
	}
	base := Finding{
		Ts:           time.Now().UTC(),
		File:         c.file,
		FrameIndex:   f.Index,
		Conversation: f.Conversation,
		TimestampUs:  tsUs,
	}
	res := f.Result
	if res != nil {
		base.Summary = res.Summary
		c.count(res)
		for _, a := range res.Annotations {
			fd := base
			fd.Offset = fmt.Sprintf("0x%X", a.Offset)
			fd.Kind = string(a.Kind)
			fd.Detail = a.Detail
			fd.Severity = a.Severity
			fd.Message = a.Message
			c.findings = append(c.findings, fd)
		}
		if f.Heuristic && !res.Located {
			c.stats.Unlocated++
			fd := base
			fd.Kind = KindNoFrame
			fd.Severity = iuup.SeverityWarn
			fd.Message = "no IuUP frame found in payload"
			c.findings = append(c.findings, fd)
		}
	}
	if f.Err != nil {
		c.stats.DecodeErrors++
		fd := base
		fd.Kind = KindDecodeError
		fd.Severity = iuup.SeverityError
		fd.Message = f.Err.Error()
		c.findings = append(c.findings, fd)
	}
	return c.findings[start:]
}

func (c *Collector) count(res *iuup.Result) {
	if !res.Located {
		return
	}
	switch res.Frame.PDUType {
	case iuup.PDUDataWithCRC, iuup.PDUDataNoCRC:
		c.stats.DataFrames++
		c.stats.PayloadFrames += len(res.Frames)
		for _, pf := range res.Frames {
			c.stats.Subflows += len(pf.Subflows)
		}
	case iuup.PDUControl:
		c.stats.ControlFrames++
		if h := res.Frame.Control; h != nil {
			name := h.Procedure.String()
			if h.AckNack != iuup.AckNackProcedure {
				name = h.AckNack.String() + " " + name
			}
			c.stats.Procedures[name]++
		}
	}
}

func (c *Collector) Findings() []Finding {
	return c.findings
}

func (c *Collector) Stats() Stats {
	return c.stats
}

// WriteNDJSON writes one finding per line to path.
func (c *Collector) WriteNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, fd := range c.findings {
		b, err := json.Marshal(fd)
		if err != nil {
			return err
		}
		w.Write(b)
		w.WriteString("\n")
	}
	return w.Flush()
}

// ReadNDJSON parses findings written by WriteNDJSON.
func ReadNDJSON(r io.Reader) ([]Finding, error) {
	var out []Finding
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fd Finding
		if err := json.Unmarshal(sc.Bytes(), &fd); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, fd)
	}
	return out, sc.Err()
}

// MakeReport summarises the collected findings. The capture passes when no
// finding has error severity.
func (c *Collector) MakeReport(capture CaptureInfo, circuits []iuup.CircuitEntry) Report {
	rep := Summarize(c.findings)
	rep.Capture = capture
	rep.Stats = c.stats
	rep.Circuits = circuits
	return rep
}

// Summarize builds a report from findings alone.
func Summarize(fds []Finding) Report {
	var rep Report
	counts := make(map[KindCount]int)
	for _, fd := range fds {
		switch fd.Severity {
		case iuup.SeverityError:
			rep.Summary.Errors++
		case iuup.SeverityWarn:
			rep.Summary.Warnings++
		default:
			rep.Summary.Infos++
		}
		counts[KindCount{Kind: fd.Kind, Detail: fd.Detail, Severity: fd.Severity}]++
	}
	rep.Summary.Total = len(fds)
	rep.Summary.Pass = rep.Summary.Errors == 0
	rep.KindCounts = make([]KindCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		rep.KindCounts = append(rep.KindCounts, k)
	}
	sort.Slice(rep.KindCounts, func(i, j int) bool {
		a, b := rep.KindCounts[i], rep.KindCounts[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Detail < b.Detail
	})
	rep.Findings = fds
	return rep
}
