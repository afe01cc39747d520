package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/iuup"
	"example.com/iuupgate/internal/metrics"
	"example.com/iuupgate/internal/tree"
)

const maxFrameBody = 64 << 10

// Server coordinates the HTTP handlers and the live decoding session shared
// with the UDP listener.
type Server struct {
	opts        Options
	workDir     string
	uploadsDir  string
	metrics     *metrics.Metrics
	uploadLimit int64

	// mu serializes the live session; the decoder is single-writer.
	mu  sync.Mutex
	dec *iuup.Decoder
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "iuupd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	limit := opts.UploadLimit
	if limit <= 0 {
		limit = 512 << 20
	}
	s := &Server{
		opts:        opts,
		workDir:     workDir,
		uploadsDir:  uploadsDir,
		metrics:     opts.Metrics,
		uploadLimit: limit,
	}
	s.dec = iuup.NewDecoder(s.decoderOptions(nil))
	return s, nil
}

// decoderOptions returns the configured decoder options with reporting wired
// to the logger and metrics. A nil registry gets a fresh one.
func (s *Server) decoderOptions(reg iuup.Registry) iuup.Options {
	o := s.opts.Decoder
	o.Registry = reg
	next := o.Reporter
	o.Reporter = func(a iuup.Annotation) {
		if s.metrics != nil {
			s.metrics.RecordAnnotation(a)
		}
		if a.Severity == iuup.SeverityError {
			common.Logf("iuup: %s", a)
		}
		if next != nil {
			next(a)
		}
	}
	return o
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

// Decode runs one frame through the live session.
func (s *Server) Decode(buf []byte, conv iuup.Conversation, heuristic bool, sink iuup.Sink) (*iuup.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		res *iuup.Result
		err error
	)
	if heuristic {
		res, err = s.dec.DecodeHeuristic(buf, conv, sink)
	} else {
		res, err = s.dec.Decode(buf, conv, sink)
	}
	if s.metrics != nil {
		s.metrics.RecordResult(res)
		if err != nil {
			s.metrics.RecordDecodeError(errors.Is(err, iuup.ErrBoundsViolation))
		}
		s.metrics.SetActiveCircuits(s.dec.Registry().Len())
	}
	return res, err
}

// Circuits returns the live session's circuits.
func (s *Server) Circuits() []iuup.CircuitEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Registry().Snapshot()
}

// Reset drops every circuit of the live session.
func (s *Server) Reset() {
	s.mu.Lock()
	s.dec.Reset()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordSessionReset()
	}
}

type decodeResponse struct {
	Summary     string            `json:"summary"`
	Located     bool              `json:"located"`
	Offset      int               `json:"offset"`
	Procedure   string            `json:"procedure,omitempty"`
	Annotations []iuup.Annotation `json:"annotations"`
	Committed   *iuup.Circuit     `json:"committed,omitempty"`
	Tree        *tree.Node        `json:"tree"`
	Error       string            `json:"error,omitempty"`
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buf, err := readFrameBody(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("read frame: %v", err), http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	conv, err := parseConversation(q.Get("src"), q.Get("dst"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	root := tree.New()
	res, derr := s.Decode(buf, conv, parseBool(q.Get("heuristic")), root)
	resp := decodeResponse{
		Summary:     res.Summary,
		Located:     res.Located,
		Offset:      res.Offset,
		Annotations: res.Annotations,
		Committed:   res.Committed,
		Tree:        root,
	}
	if resp.Annotations == nil {
		resp.Annotations = []iuup.Annotation{}
	}
	if res.Procedure != nil {
		resp.Procedure = res.Procedure.ProcedureID().String()
	}
	status := http.StatusOK
	if derr != nil {
		resp.Error = derr.Error()
		status = http.StatusUnprocessableEntity
	}
	if q.Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		tree.Fprint(w, root)
		if derr != nil {
			fmt.Fprintf(w, "error: %v\n", derr)
		}
		return
	}
	writeJSON(w, status, resp)
}

// readFrameBody accepts a raw octet-stream body or hex text. Hex text may
// contain whitespace, colons and a leading 0x.
func readFrameBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxFrameBody {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBody)
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
		return body, nil
	}
	return common.ParseHex(string(body))
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Circuits []iuup.CircuitEntry `json:"circuits"`
	}{Circuits: s.Circuits()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
