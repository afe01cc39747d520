package server

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/iuupgate/internal/capture"
	"example.com/iuupgate/internal/findings"
	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/metrics"
)

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	opts.StorageDir = t.TempDir()
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, NewRouter(srv)
}

func testInit(t *testing.T) []byte {
	t.Helper()
	f, err := iuup.EncodeInit(&iuup.Circuit{
		SubflowCount: 2,
		RFCIs:        []iuup.RFCI{{ID: 5, SubflowLengths: []int{4, 12}}},
	}, 0, 0)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	return f
}

func postHex(t *testing.T, h http.Handler, query string, frame []byte) (*httptest.ResponseRecorder, decodeResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/decode"+query, strings.NewReader(hex.EncodeToString(frame)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp decodeResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, resp
}

func TestDecodeSessionAcrossRequests(t *testing.T) {
	srv, h := newTestServer(t, Options{Decoder: iuup.Options{DecodeSubflows: true}})
	conv := "?src=10.0.0.1:5000&dst=10.0.0.2:6000"
	rev := "?src=10.0.0.2:6000&dst=10.0.0.1:5000"

	rec, resp := postHex(t, h, conv, testInit(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Summary != "Initialization" || resp.Committed == nil || resp.Procedure != "Initialization" {
		t.Fatalf("init response = %+v", resp)
	}
	if len(srv.Circuits()) != 1 {
		t.Fatalf("circuits = %d, want 1", len(srv.Circuits()))
	}

	data := iuup.EncodeData(iuup.DataHeader{HasCRC: true, RFCI: 5}, []byte{0xAB, 0xCD})
	rec, resp = postHex(t, h, rev, data)
	if rec.Code != http.StatusOK || len(resp.Annotations) != 0 {
		t.Fatalf("data response %d = %+v", rec.Code, resp)
	}
	if resp.Tree == nil || resp.Tree.Find("RFCI 5 Flow 1") == nil {
		t.Fatalf("tree missing subflow: %+v", resp.Tree)
	}

	// Another conversation has no circuit.
	_, resp = postHex(t, h, "", data)
	if len(resp.Annotations) != 1 || resp.Annotations[0].Detail != iuup.DetailUnknownCircuit {
		t.Fatalf("annotations = %+v", resp.Annotations)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/reset", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/circuits", nil))
	var list struct {
		Circuits []iuup.CircuitEntry `json:"circuits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("circuits json: %v", err)
	}
	if len(list.Circuits) != 0 {
		t.Fatalf("circuits after reset = %+v", list.Circuits)
	}
}

func TestDecodeErrorsAndFormats(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec, resp := postHex(t, h, "", []byte{0xE0, 0x00})
	if rec.Code != http.StatusUnprocessableEntity || resp.Error == "" {
		t.Fatalf("short frame: %d %+v", rec.Code, resp)
	}

	req := httptest.NewRequest(http.MethodPost, "/decode", strings.NewReader("zz"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad hex status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/decode?format=text", bytes.NewReader(iuup.EncodeTimeAlignment(3, false, 1)))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Time Align") {
		t.Fatalf("text output %d:\n%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decode", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /decode status = %d", rec.Code)
	}

	_, resp = postHex(t, h, "?heuristic=1", append([]byte{0xFF}, iuup.EncodeTimeAlignment(3, false, 1)...))
	if !resp.Located || resp.Offset != 1 {
		t.Fatalf("heuristic response = %+v", resp)
	}
}

func testCapture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, capture.FormatPcap)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	a := capture.Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	b := capture.Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 6000}
	ts := time.Unix(1700000000, 0)
	frames := [][]byte{
		testInit(t),
		iuup.EncodeData(iuup.DataHeader{HasCRC: true, RFCI: 5}, []byte{0xAB, 0xCD}),
		iuup.EncodeData(iuup.DataHeader{HasCRC: true, RFCI: 7}, []byte{0xAB, 0xCD}),
	}
	for i, f := range frames {
		if err := w.WriteDatagram(ts.Add(time.Duration(i)*time.Millisecond), a, b, f); err != nil {
			t.Fatalf("WriteDatagram: %v", err)
		}
	}
	return buf.Bytes()
}

func readNDJSON(t *testing.T, body []byte) ([]findings.Finding, findings.Report) {
	t.Helper()
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if len(lines) == 0 {
		t.Fatalf("empty ndjson body")
	}
	fds, err := findings.ReadNDJSON(bytes.NewReader(bytes.Join(lines[:len(lines)-1], []byte("\n"))))
	if err != nil {
		t.Fatalf("ReadNDJSON: %v", err)
	}
	var rep findings.Report
	if err := json.Unmarshal(lines[len(lines)-1], &rep); err != nil {
		t.Fatalf("report line: %v", err)
	}
	return fds, rep
}

func TestCaptureUpload(t *testing.T) {
	_, h := newTestServer(t, Options{Decoder: iuup.Options{DecodeSubflows: true}})
	pcap := testCapture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "session.pcap")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(pcap)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/capture?ports=6000", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	fds, rep := readNDJSON(t, rec.Body.Bytes())
	if len(fds) != 1 || fds[0].Detail != iuup.DetailUnknownRFCI || fds[0].FrameIndex != 3 {
		t.Fatalf("findings = %+v", fds)
	}
	if rep.Capture.File != "session.pcap" || rep.Capture.Size != int64(len(pcap)) || len(rep.Capture.SHA256) != 64 {
		t.Fatalf("capture info = %+v", rep.Capture)
	}
	if rep.Stats.Frames != 3 || len(rep.Circuits) != 1 || !rep.Summary.Pass {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCaptureRawBodyRejectsGarbage(t *testing.T) {
	_, h := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader("not a capture"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/capture", bytes.NewReader(testCapture(t)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("raw body status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, Options{})
	postHex(t, h, "", iuup.EncodeNack(iuup.ProcInit, 42, 0))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`iuup_frames_decoded_total{pdu_type="control"} 1`,
		`iuup_annotations_total{detail="cause",kind="error_response",severity="INFO"} 1`,
		`iuup_http_requests_total{endpoint="/decode",method="POST",status_code="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}
