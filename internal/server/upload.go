package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/iuupgate/internal/capture"
	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/findings"
	"example.com/iuupgate/internal/iuup"
)

// handleCapture decodes an uploaded pcap or pcapng capture in a session of its
// own and streams the findings as NDJSON. The last record is the report
// without its findings.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ports, err := common.ParsePorts(q.Get("ports"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path, name, info, err := s.saveUpload(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("save upload: %v", err), http.StatusBadRequest)
		return
	}
	defer os.Remove(path)

	dec := iuup.NewDecoder(s.decoderOptions(nil))
	rd, err := capture.NewReader(path, dec, capture.Options{
		Ports:     ports,
		RTP:       parseBool(q.Get("rtp")),
		Heuristic: parseBool(q.Get("heuristic")),
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("open capture: %v", err), http.StatusBadRequest)
		return
	}
	defer rd.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	nd := NewNDJSONWriter(w)
	col := findings.NewCollector(name)
	for {
		fr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			common.Logf("capture %s: %v", name, err)
			nd.WriteObject(struct {
				Error string `json:"error"`
			}{Error: err.Error()})
			return
		}
		if s.metrics != nil {
			s.metrics.RecordResult(fr.Result)
			if fr.Err != nil {
				s.metrics.RecordDecodeError(errors.Is(fr.Err, iuup.ErrBoundsViolation))
			}
		}
		added := col.Record(findings.Frame{
			Index:        fr.Index,
			Timestamp:    fr.Timestamp,
			Conversation: fr.Conversation.String(),
			Heuristic:    fr.Heuristic,
			Result:       fr.Result,
			Err:          fr.Err,
		})
		for _, fd := range added {
			if err := nd.WriteFinding(fd); err != nil {
				return
			}
		}
	}
	rep := col.MakeReport(info, rd.Circuits())
	rep.Findings = nil
	nd.WriteObject(rep)
}

// saveUpload stores the capture from a multipart "file" field or the raw
// request body, hashing it on the way.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, string, findings.CaptureInfo, error) {
	var (
		src  io.Reader
		name = "upload.pcap"
	)
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		mr, err := r.MultipartReader()
		if err != nil {
			return "", "", findings.CaptureInfo{}, err
		}
		part, err := nextFilePart(mr)
		if err != nil {
			return "", "", findings.CaptureInfo{}, err
		}
		defer part.Close()
		name = part.FileName()
		src = part
	} else {
		src = r.Body
	}
	pattern := "upload-*"
	if ext := filepath.Ext(name); ext != "" {
		pattern = "upload-*" + ext
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return "", "", findings.CaptureInfo{}, err
	}
	h := common.NewHasher()
	if _, err := io.Copy(io.MultiWriter(dest, h), src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return "", "", findings.CaptureInfo{}, err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return "", "", findings.CaptureInfo{}, err
	}
	info := findings.CaptureInfo{File: filepath.Base(name), SHA256: h.Sum(), Size: h.Size()}
	return dest.Name(), info.File, info, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("no file provided")
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}
