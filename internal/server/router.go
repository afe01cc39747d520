package server

import (
	"net/http"
	"strconv"
	"time"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/decode", s.instrument("/decode", s.handleDecode))
	mux.HandleFunc("/capture", s.instrument("/capture", s.handleCapture))
	mux.HandleFunc("/circuits", s.instrument("/circuits", s.handleCircuits))
	mux.HandleFunc("/session/reset", s.instrument("/session/reset", s.handleReset))
	if s.metrics != nil {
		mux.Handle(s.opts.MetricsPath, s.metrics.Handler())
	}
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}
